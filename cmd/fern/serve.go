package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API over the published tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			checker := health.NewChecker(a.cfg.App.Version)
			if err := a.connect(ctx, depPostgres, depRedis, depGraph); err != nil {
				return err
			}
			checker.Register(depPostgres, a.db.PingContext, true)
			if a.redis != nil {
				checker.Register(depRedis, a.redis.Ping, false)
			}
			if a.graph != nil {
				checker.Register(depGraph, a.graph.VerifyConnectivity, false)
			}

			var verifier middleware.TokenVerifier
			if a.cfg.Server.AuthEnabled {
				verifier, err = middleware.NewOIDCVerifier(ctx, a.cfg.Server.OIDCIssuer, a.cfg.Server.OIDCClientID)
				if err != nil {
					return fmt.Errorf("failed to set up oidc: %w", err)
				}
			}

			st := a.store()
			e := routes.NewServer(routes.Repositories{
				Customers:   st.Customers,
				Links:       st.Links,
				Events:      st.Events,
				Connections: st.Connections,
				Reviews:     st.Reviews,
				Runs:        st.Runs,
			}, routes.Options{
				ServiceName: a.cfg.App.Name,
				Logger:      a.logger,
				Health:      checker,
				Verifier:    verifier,
			})

			errCh := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
				a.logger.WithField("addr", addr).Info("Serving API")
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			checker.SetReady(true)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			checker.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			a.logger.Info("Shutting down API")
			return e.Shutdown(shutdownCtx)
		},
	}
}
