package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/forecaster"
	"stockwise-ml/internal/model"
)

// ResponseError is the body of every error response.
type ResponseError struct {
	Message string `json:"message"`
}

// ForecastRequest is the body of POST /api/ml/forecast.
// Horizon is accepted as an alias of Periods.
type ForecastRequest struct {
	ProductID string `json:"product_id" validate:"required,product_id"`
	Periods   int    `json:"periods" validate:"gte=0"`
	Horizon   int    `json:"horizon" validate:"gte=0"`
	Retrain   bool   `json:"retrain"`
	ModelType string `json:"model_type" validate:"omitempty,oneof=prophet arima decomposition autoregressive ensemble"`
}

// TrainResponse is the body returned by POST /api/ml/train/:product_id.
type TrainResponse struct {
	Status    string           `json:"status"`
	ProductID string           `json:"product_id"`
	ModelType domain.ModelKind `json:"model_type"`
	TrainedAt time.Time        `json:"trained_at"`
	Metrics   model.Metrics    `json:"metrics"`
}

// newValidator returns a validator with the product_id tag registered.
// Product IDs are restricted to what every model store can key on.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("product_id", func(fl validator.FieldLevel) bool {
		return domain.ValidProductID(fl.Field().String())
	})
	return v
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) forecast(c echo.Context) error {
	var req ForecastRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	horizon := req.Periods
	if horizon == 0 {
		horizon = req.Horizon
	}
	if horizon == 0 {
		horizon = DefaultHorizon
	}
	if horizon > s.maxHorizon {
		return c.JSON(http.StatusBadRequest, ResponseError{
			Message: fmt.Sprintf("periods must not exceed %d", s.maxHorizon),
		})
	}

	kind, err := parseKind(req.ModelType)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.timeout)
	defer cancel()

	resp, err := s.forecaster.Handle(ctx, forecaster.ForecastRequest{
		ProductID: req.ProductID,
		Horizon:   horizon,
		Retrain:   req.Retrain,
		Kind:      kind,
	})
	if err != nil {
		return s.fail(c, "forecast", req.ProductID, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) train(c echo.Context) error {
	productID := c.Param("product_id")
	if err := s.validate.Var(productID, "required,product_id"); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid product_id"})
	}
	kind, err := parseKind(c.QueryParam("model_type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.timeout)
	defer cancel()

	fitted, err := s.forecaster.Retrain(ctx, productID, kind)
	if err != nil {
		return s.fail(c, "train", productID, err)
	}
	return c.JSON(http.StatusOK, TrainResponse{
		Status:    "success",
		ProductID: productID,
		ModelType: fitted.Kind,
		TrainedAt: fitted.TrainedAt,
		Metrics:   fitted.Metrics,
	})
}

func (s *Server) productFeatures(c echo.Context) error {
	productID := c.Param("product_id")
	if err := s.validate.Var(productID, "required,product_id"); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid product_id"})
	}

	vec, err := s.features.FeaturesForPrediction(c.Request().Context(), productID)
	if err != nil {
		return s.fail(c, "features", productID, err)
	}
	return c.JSON(http.StatusOK, vec)
}

func (s *Server) modelStatus(c echo.Context) error {
	productID := c.Param("product_id")
	if err := s.validate.Var(productID, "required,product_id"); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid product_id"})
	}

	status, err := s.forecaster.Status(c.Request().Context(), productID)
	if err != nil {
		return s.fail(c, "status", productID, err)
	}
	return c.JSON(http.StatusOK, status)
}

// fail writes the error response for err. Internal failures are logged and
// their detail withheld from the client.
func (s *Server) fail(c echo.Context, op, productID string, err error) error {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Printf("%s %s: %v", op, productID, err)
		return c.JSON(code, ResponseError{Message: "internal error"})
	}
	return c.JSON(code, ResponseError{Message: err.Error()})
}

// errorHandler renders errors returned by echo itself (unknown routes, panics).
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code)
	} else {
		s.logger.Printf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	if err := c.JSON(code, ResponseError{Message: msg}); err != nil {
		s.logger.Printf("write error response: %v", err)
	}
}

func statusOf(err error) int {
	switch forecaster.KindOf(err) {
	case forecaster.OutcomeOK:
		return http.StatusOK
	case forecaster.OutcomeInvalid:
		return http.StatusBadRequest
	case forecaster.OutcomeNotFound:
		return http.StatusNotFound
	case forecaster.OutcomeUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// parseKind resolves a request model name. Empty selects the server default.
func parseKind(name string) (domain.ModelKind, error) {
	if name == "" {
		return "", nil
	}
	kind, ok := domain.ParseModelKind(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidStrategy, name)
	}
	return kind, nil
}
