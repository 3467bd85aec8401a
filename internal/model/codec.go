package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"stockwise-ml/internal/domain"
)

// ErrCorruptModel is returned when a serialized model cannot be restored.
var ErrCorruptModel = errors.New("corrupt model blob")

const blobVersion = 1

// blob is the serialized form of a Fitted model.
type blob struct {
	Version   int              `json:"version"`
	ProductID string           `json:"product_id"`
	Kind      domain.ModelKind `json:"kind"`
	Target    Target           `json:"target"`
	Params    map[string]any   `json:"params"`
	Metrics   Metrics          `json:"metrics"`
	TrainedAt time.Time        `json:"trained_at"`
	State     json.RawMessage  `json:"state"`
}

type ensembleState struct {
	Decomposition  *decompositionState         `json:"decomposition,omitempty"`
	Autoregressive *autoregressiveState        `json:"autoregressive,omitempty"`
	Errors         map[domain.ModelKind]string `json:"errors,omitempty"`
}

// Marshal encodes a fitted model. Unmarshal of the result forecasts identically.
func Marshal(f *Fitted) ([]byte, error) {
	state, err := stateOf(f.Model)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal %s state: %w", f.Kind, err)
	}

	data, err := json.Marshal(blob{
		Version:   blobVersion,
		ProductID: f.ProductID,
		Kind:      f.Kind,
		Target:    f.Target,
		Params:    f.Params,
		Metrics:   f.Metrics,
		TrainedAt: f.TrainedAt,
		State:     raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a model encoded by Marshal.
func Unmarshal(data []byte) (*Fitted, error) {
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if b.Version != blobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptModel, b.Version)
	}

	m, err := restore(b.Kind, b.State)
	if err != nil {
		return nil, err
	}

	return &Fitted{
		ProductID: b.ProductID,
		Kind:      b.Kind,
		Target:    b.Target,
		Params:    b.Params,
		Metrics:   b.Metrics,
		TrainedAt: b.TrainedAt,
		Model:     m,
	}, nil
}

func stateOf(m Model) (any, error) {
	switch v := m.(type) {
	case *Decomposition:
		return v.state, nil
	case *Autoregressive:
		return v.state, nil
	case *Ensemble:
		st := ensembleState{Errors: v.errs}
		for _, member := range v.members {
			switch mv := member.(type) {
			case *Decomposition:
				st.Decomposition = &mv.state
			case *Autoregressive:
				st.Autoregressive = &mv.state
			}
		}
		return st, nil
	default:
		return nil, fmt.Errorf("marshal: unsupported model %T", m)
	}
}

func restore(kind domain.ModelKind, raw json.RawMessage) (Model, error) {
	switch kind {
	case domain.ModelKindDecomposition:
		var st decompositionState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
		}
		return restoreDecomposition(st)
	case domain.ModelKindAutoregressive:
		var st autoregressiveState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
		}
		return restoreAutoregressive(st)
	case domain.ModelKindEnsemble:
		var st ensembleState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
		}
		return restoreEnsemble(st)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrCorruptModel, string(kind))
	}
}

func restoreDecomposition(st decompositionState) (*Decomposition, error) {
	if !slices.Equal(st.Holidays, holidayNames()) {
		return nil, fmt.Errorf("%w: holiday calendar mismatch", ErrCorruptModel)
	}
	if len(st.Coef) != st.width() || st.Span <= 0 || st.Scale == 0 {
		return nil, fmt.Errorf("%w: decomposition has %d coefficients, want %d", ErrCorruptModel, len(st.Coef), st.width())
	}
	return &Decomposition{state: st}, nil
}

func restoreAutoregressive(st autoregressiveState) (*Autoregressive, error) {
	if len(st.AR) != st.Order.P || len(st.MA) != st.Order.Q {
		return nil, fmt.Errorf("%w: coefficients do not match order %s", ErrCorruptModel, st.Order)
	}
	if len(difference(st.working(), st.Order.D)) <= st.Order.P {
		return nil, fmt.Errorf("%w: history too short for order %s", ErrCorruptModel, st.Order)
	}
	return newAutoregressive(st), nil
}

func restoreEnsemble(st ensembleState) (*Ensemble, error) {
	ens := &Ensemble{errs: st.Errors}
	if st.Decomposition != nil {
		m, err := restoreDecomposition(*st.Decomposition)
		if err != nil {
			return nil, err
		}
		ens.members = append(ens.members, m)
	}
	if st.Autoregressive != nil {
		m, err := restoreAutoregressive(*st.Autoregressive)
		if err != nil {
			return nil, err
		}
		ens.members = append(ens.members, m)
	}
	if len(ens.members) == 0 {
		return nil, fmt.Errorf("%w: ensemble has no members", ErrCorruptModel)
	}
	return ens, nil
}
