package interaction

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"interaction_id",
	"interaction_date",
	"interaction_type",
	"customer_id_1",
	"customer_id_2",
	"discriminator",
	"metadata",
	"run_id",
}

// Repository manages the append-only interaction log
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// InsertMany appends interactions. Rows already present by natural key are skipped, never updated.
func (r *Repository) InsertMany(ctx context.Context, interactions []models.Interaction) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "interaction.Repository.InsertMany")
	defer span.End()

	if len(interactions) == 0 {
		return 0, nil
	}

	ib := database.NewInsertBuilder("interactions", columns...)
	for _, i := range interactions {
		ib.Values(i.InteractionID, i.InteractionDate, i.InteractionType, i.CustomerID1, i.CustomerID2, i.Discriminator, i.Metadata, i.RunID)
	}
	ib.OnConflictDoNothing("interaction_id")

	query, args := ib.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert interactions")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert interactions")
	}
	inserted, _ := result.RowsAffected()
	return inserted, nil
}

// List reads the whole log in insertion order
func (r *Repository) List(ctx context.Context) ([]models.Interaction, error) {
	ctx, span := tracing.StartSpan(ctx, "interaction.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(append(columns, "created_at")...)
	sb.From("interactions")
	sb.OrderBy("created_at", "interaction_id")

	query, args := sb.Build()
	out := []models.Interaction{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list interactions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list interactions")
	}
	return out, nil
}
