package customerevent

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
	"event_id",
	"customer_id",
	"event_date",
	"event_type",
	"event_source",
	"source_record_id",
	"source_confidence",
	"event_details",
	"run_id",
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// UpsertMany writes events keyed by event_id. A re-run re-attributes an event
// to the customer its record resolves to now.
func (r *Repository) UpsertMany(ctx context.Context, events []models.Event) error {
	ctx, span := tracing.StartSpan(ctx, "customerevent.Repository.UpsertMany")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder("customer_events", columns...)
	for _, e := range events {
		ib.Values(e.EventID, e.CustomerID, e.EventDate, e.EventType, e.EventSource, e.SourceRecordID, e.SourceConfidence, e.EventDetails, e.RunID)
	}
	ib.OnConflictUpdate([]string{"event_id"}, "customer_id", "event_date", "source_confidence", "event_details", "run_id")

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert customer events")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert customer events")
	}
	return nil
}

// ListByCustomers returns the timeline of every given customer in date order
func (r *Repository) ListByCustomers(ctx context.Context, customerIDs []string, limit int) ([]models.Event, error) {
	ctx, span := tracing.StartSpan(ctx, "customerevent.Repository.ListByCustomers")
	defer span.End()

	if len(customerIDs) == 0 {
		return []models.Event{}, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("customer_events")
	sb.Where(sb.In("customer_id", sqlbuilder.Flatten(customerIDs)...))
	sb.OrderBy("event_date", "event_type", "event_id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	out := []models.Event{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list customer events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list customer events")
	}
	return out, nil
}
