package connection

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"customer_id_1",
	"customer_id_2",
	"interaction_count",
	"strength_score",
	"first_interaction_date",
	"last_interaction_date",
	"interaction_types",
	"metadata",
}

// Repository manages the connection table, which is always rebuilt whole
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DeleteAll empties the table ahead of a rebuild. Callers run it in the same transaction as the inserts.
func (r *Repository) DeleteAll(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.DeleteAll")
	defer span.End()

	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM connections"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear connections")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear connections")
	}
	return nil
}

func (r *Repository) InsertMany(ctx context.Context, connections []models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.InsertMany")
	defer span.End()

	if len(connections) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder("connections", columns...)
	for _, c := range connections {
		ib.Values(c.CustomerID1, c.CustomerID2, c.InteractionCount, c.StrengthScore, c.FirstInteractionDate, c.LastInteractionDate, c.InteractionTypes, c.Metadata)
	}

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert connections")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert connections")
	}
	return nil
}

// ListByCustomers returns every connection touching any of the given customers, strongest first
func (r *Repository) ListByCustomers(ctx context.Context, customerIDs []string, minStrength int) ([]models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.ListByCustomers")
	defer span.End()

	if len(customerIDs) == 0 {
		return []models.Connection{}, nil
	}

	ids := sqlbuilder.Flatten(customerIDs)
	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("connections")
	sb.Where(sb.Or(
		sb.In("customer_id_1", ids...),
		sb.In("customer_id_2", ids...),
	))
	if minStrength > 0 {
		sb.Where(sb.GreaterEqualThan("strength_score", minStrength))
	}
	sb.OrderBy("strength_score DESC", "interaction_count DESC", "customer_id_1", "customer_id_2")

	query, args := sb.Build()
	out := []models.Connection{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list connections")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}
	return out, nil
}

func (r *Repository) List(ctx context.Context) ([]models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("connections")
	sb.OrderBy("strength_score DESC", "interaction_count DESC", "customer_id_1", "customer_id_2")

	query, args := sb.Build()
	out := []models.Connection{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list connections")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}
	return out, nil
}
