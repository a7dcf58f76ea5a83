// Package run serves pipeline run summaries
package run

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

type Repository interface {
	Latest(ctx context.Context) (*models.RunSummary, error)
}

// Register registers run routes
func Register(g *echo.Group, repo Repository) {
	g.GET("/latest", func(c echo.Context) error {
		summary, err := repo.Latest(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, summary)
	})
}
