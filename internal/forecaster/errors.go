package forecaster

import (
	"errors"

	"stockwise-ml/internal/features"
	"stockwise-ml/internal/model"
	"stockwise-ml/internal/storage"
)

// Outcome classifies an error for callers of the request surface.
type Outcome int

// Outcomes, from success to internal failure.
// OutcomeUnprocessable is a well-formed request the product's data cannot support.
const (
	OutcomeOK Outcome = iota
	OutcomeInvalid
	OutcomeNotFound
	OutcomeUnprocessable
	OutcomeInternal
)

// KindOf maps an error from this package's operations to an Outcome.
func KindOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, model.ErrInvalidStrategy),
		errors.Is(err, model.ErrInvalidTarget),
		errors.Is(err, model.ErrInvalidHorizon),
		errors.Is(err, storage.ErrInvalidInput):
		return OutcomeInvalid
	case errors.Is(err, ErrModelNotFound):
		return OutcomeNotFound
	case errors.Is(err, features.ErrEmptyHistory),
		errors.Is(err, model.ErrInsufficientData),
		errors.Is(err, model.ErrNoViableModel):
		return OutcomeUnprocessable
	default:
		return OutcomeInternal
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUnprocessable:
		return "unprocessable"
	default:
		return "internal"
	}
}

func outcomeLabel(err error) string {
	return KindOf(err).String()
}
