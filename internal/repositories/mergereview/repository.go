package mergereview

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id",
	"run_id",
	"survivor_customer_id",
	"absorbed_customer_ids",
	"bridging_identifiers",
	"status",
	"note",
	"created_at",
	"reviewed_at",
}

// Repository manages merge_reviews. Reviews are created by runs and decided through the API.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// InsertMany records new reviews; an existing review keeps its decision
func (r *Repository) InsertMany(ctx context.Context, reviews []models.MergeReview) error {
	ctx, span := tracing.StartSpan(ctx, "mergereview.Repository.InsertMany")
	defer span.End()

	if len(reviews) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder("merge_reviews", columns...)
	for _, m := range reviews {
		ib.Values(m.ID, m.RunID, m.SurvivorCustomerID, m.AbsorbedCustomerIDs, m.BridgingIdentifiers, m.Status, m.Note, m.CreatedAt, m.ReviewedAt)
	}
	ib.OnConflictDoNothing("id")

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert merge reviews")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert merge reviews")
	}
	return nil
}

// List returns reviews newest first, optionally filtered by status
func (r *Repository) List(ctx context.Context, status models.MergeReviewStatus, limit int) ([]models.MergeReview, error) {
	ctx, span := tracing.StartSpan(ctx, "mergereview.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("merge_reviews")
	if status != "" {
		sb.Where(sb.Equal("status", status))
	}
	sb.OrderBy("created_at DESC", "id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	out := []models.MergeReview{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge reviews")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge reviews")
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.MergeReview, error) {
	ctx, span := tracing.StartSpan(ctx, "mergereview.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("merge_reviews")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var out models.MergeReview
	if err := database.Conn(ctx, r.db).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "merge review %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get merge review")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge review")
	}
	return &out, nil
}

// Review records a decision on a pending review
func (r *Repository) Review(ctx context.Context, id string, req models.UpdateMergeReviewRequest) (*models.MergeReview, error) {
	ctx, span := tracing.StartSpan(ctx, "mergereview.Repository.Review")
	defer span.End()

	now := time.Now().UTC()
	ub := database.NewUpdateBuilder()
	ub.Update("merge_reviews")
	ub.Set(
		ub.Assign("status", req.Status),
		ub.Assign("note", req.Note),
		ub.Assign("reviewed_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.MergeReviewPending),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to review merge")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to review merge")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		existing, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "merge review %s is already %s", id, existing.Status)
	}
	return r.Get(ctx, id)
}
