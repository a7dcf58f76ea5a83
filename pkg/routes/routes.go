// Package routes assembles the read API
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/customer"
	"github.com/Ramsey-B/fern/pkg/routes/mergereview"
	"github.com/Ramsey-B/fern/pkg/routes/run"
)

// Repositories is everything the API reads from
type Repositories struct {
	Customers   customer.CustomerRepository
	Links       customer.LinkRepository
	Events      customer.EventRepository
	Connections customer.ConnectionRepository
	Reviews     mergereview.Repository
	Runs        run.Repository
}

type Options struct {
	ServiceName string
	Logger      ectologger.Logger
	Health      *health.Checker
	// Verifier enables bearer auth on /api/v1 when set
	Verifier middleware.TokenVerifier
}

// NewServer builds the echo server with health checks, metrics and the v1 API
func NewServer(repos Repositories, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(opts.Logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(opts.ServiceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(opts.Logger))

	if opts.Health != nil {
		opts.Health.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if opts.Verifier != nil {
		api.Use(middleware.Authentication(opts.Logger, opts.Verifier))
	}

	customer.NewHandler(repos.Customers, repos.Links, repos.Events, repos.Connections).Register(api.Group("/customers"))
	mergereview.NewHandler(repos.Reviews, opts.Logger).Register(api.Group("/merge-reviews"))
	run.Register(api.Group("/runs"), repos.Runs)

	return e
}
