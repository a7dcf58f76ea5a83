package pipelinerun

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type row struct {
	Summary database.JSONB[models.RunSummary] `db:"summary"`
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Save records a run summary, replacing an earlier record of the same run
func (r *Repository) Save(ctx context.Context, summary *models.RunSummary) error {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.Save")
	defer span.End()

	var finishedAt any
	if !summary.FinishedAt.IsZero() {
		finishedAt = summary.FinishedAt
	}

	ib := database.NewInsertBuilder("pipeline_runs", "run_id", "status", "started_at", "finished_at", "summary")
	ib.Values(summary.RunID, summary.Status, summary.StartedAt, finishedAt, database.NewJSONB(*summary))
	ib.OnConflictUpdate([]string{"run_id"}, "status", "finished_at", "summary")

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to save pipeline run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save pipeline run")
	}
	return nil
}

// Latest returns the most recently started run
func (r *Repository) Latest(ctx context.Context) (*models.RunSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.Latest")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("summary")
	sb.From("pipeline_runs")
	sb.OrderBy("started_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var out row
	if err := database.Conn(ctx, r.db).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "no pipeline runs recorded")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get latest pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest pipeline run")
	}
	summary := out.Summary.GetValue()
	return &summary, nil
}
