// Package api exposes the forecaster over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/forecaster"
	"stockwise-ml/internal/model"
	"stockwise-ml/internal/observability"
)

// DefaultHorizon is the number of days forecast when a request names none.
const DefaultHorizon = 30

// Forecaster is the part of forecaster.Forecaster the handlers use.
type Forecaster interface {
	Handle(ctx context.Context, req forecaster.ForecastRequest) (*forecaster.ForecastResponse, error)
	Retrain(ctx context.Context, productID string, kind domain.ModelKind) (*model.Fitted, error)
	Status(ctx context.Context, productID string) (*forecaster.Status, error)
}

// FeatureReader returns the prediction-time feature vector of a product.
type FeatureReader interface {
	FeaturesForPrediction(ctx context.Context, productID string) (domain.FeatureVector, error)
}

var (
	_ Forecaster    = (*forecaster.Forecaster)(nil)
	_ FeatureReader = (*features.Store)(nil)
)

// Options contains configuration for creating a Server.
type Options struct {
	Forecaster Forecaster
	Features   FeatureReader
	Timeout    time.Duration // per-request timeout for training calls (default: 2m)
	MaxHorizon int           // default: 365
	Logger     *log.Logger
}

// Server is the HTTP request surface.
type Server struct {
	echo       *echo.Echo
	forecaster Forecaster
	features   FeatureReader
	validate   *validator.Validate
	timeout    time.Duration
	maxHorizon int
	logger     *log.Logger
}

// New builds the router and registers all routes.
func New(opts Options) *Server {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	maxHorizon := opts.MaxHorizon
	if maxHorizon == 0 {
		maxHorizon = 365
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		forecaster: opts.Forecaster,
		features:   opts.Features,
		validate:   newValidator(),
		timeout:    timeout,
		maxHorizon: maxHorizon,
		logger:     logger,
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(echomiddleware.Recover())
	e.Use(metricsMiddleware)

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(observability.Handler()))

	ml := e.Group("/api/ml")
	ml.POST("/forecast", s.forecast)
	ml.POST("/train/:product_id", s.train)
	ml.GET("/features/:product_id", s.productFeatures)
	ml.GET("/models/:product_id", s.modelStatus)

	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Printf("HTTP server listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// metricsMiddleware records request latency by route template.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		observability.RecordHTTP(c.Request().Method, route, strconv.Itoa(status), time.Since(start).Seconds())
		return err
	}
}
