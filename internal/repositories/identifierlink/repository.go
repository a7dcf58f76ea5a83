package identifierlink

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
	"identifier_type",
	"identifier_value",
	"customer_id",
	"confidence",
	"source_system",
	"first_seen_at",
	"last_seen_at",
}

// Repository manages identifier_links, the table that enforces one customer per identifier value
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// UpsertMany writes links keyed by (type, value). first_seen_at is never moved forward.
func (r *Repository) UpsertMany(ctx context.Context, links []models.IdentifierLink) error {
	ctx, span := tracing.StartSpan(ctx, "identifierlink.Repository.UpsertMany")
	defer span.End()

	if len(links) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder("identifier_links", columns...)
	for _, l := range links {
		ib.Values(l.IdentifierType, l.IdentifierValue, l.CustomerID, l.Confidence, l.SourceSystem, l.FirstSeenAt, l.LastSeenAt)
	}

	query, args := ib.Build()
	query += ` ON CONFLICT (identifier_type, identifier_value) DO UPDATE SET
		customer_id = EXCLUDED.customer_id,
		confidence = EXCLUDED.confidence,
		source_system = EXCLUDED.source_system,
		first_seen_at = LEAST(identifier_links.first_seen_at, EXCLUDED.first_seen_at),
		last_seen_at = EXCLUDED.last_seen_at`

	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert identifier links")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert identifier links")
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]models.IdentifierLink, error) {
	ctx, span := tracing.StartSpan(ctx, "identifierlink.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identifier_links")
	sb.OrderBy("identifier_type", "identifier_value")

	query, args := sb.Build()
	var out []models.IdentifierLink
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifier links")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifier links")
	}
	return out, nil
}

func (r *Repository) ListByCustomers(ctx context.Context, customerIDs []string) ([]models.IdentifierLink, error) {
	ctx, span := tracing.StartSpan(ctx, "identifierlink.Repository.ListByCustomers")
	defer span.End()

	if len(customerIDs) == 0 {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identifier_links")
	sb.Where(sb.In("customer_id", sqlbuilder.Flatten(customerIDs)...))
	sb.OrderBy("identifier_type", "identifier_value")

	query, args := sb.Build()
	var out []models.IdentifierLink
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifier links for customers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifier links")
	}
	return out, nil
}
