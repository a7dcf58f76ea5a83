package customermerge

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{"run_id", "survivor_customer_id", "absorbed_customer_id", "created_at"}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// InsertMany appends merge records; a merge already recorded is left alone
func (r *Repository) InsertMany(ctx context.Context, merges []models.CustomerMerge) error {
	ctx, span := tracing.StartSpan(ctx, "customermerge.Repository.InsertMany")
	defer span.End()

	if len(merges) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder("customer_merges", columns...)
	for _, m := range merges {
		ib.Values(m.RunID, m.SurvivorID, m.AbsorbedID, m.CreatedAt)
	}
	ib.OnConflictDoNothing("absorbed_customer_id", "survivor_customer_id")

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert customer merges")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert customer merges")
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]models.CustomerMerge, error) {
	ctx, span := tracing.StartSpan(ctx, "customermerge.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("customer_merges")
	sb.OrderBy("id")

	query, args := sb.Build()
	var out []models.CustomerMerge
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list customer merges")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list customer merges")
	}
	return out, nil
}
