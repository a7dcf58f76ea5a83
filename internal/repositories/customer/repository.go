package customer

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

var columns = []string{"customer_id", "created_at", "merged_into", "merged_at"}

// Repository manages canonical customers
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// UpsertMany inserts new customers and records merges on existing ones
func (r *Repository) UpsertMany(ctx context.Context, customers []models.Customer) error {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.UpsertMany")
	defer span.End()

	if len(customers) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder("customers", columns...)
	for _, c := range customers {
		ib.Values(c.CustomerID, c.CreatedAt, c.MergedInto, c.MergedAt)
	}
	ib.OnConflictUpdate([]string{"customer_id"}, "merged_into", "merged_at")

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert customers")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert customers")
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("customers")
	sb.OrderBy("customer_id")

	query, args := sb.Build()
	var out []models.Customer
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list customers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list customers")
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("customers")
	sb.Where(sb.Equal("customer_id", customerID))

	query, args := sb.Build()
	var out models.Customer
	if err := database.Conn(ctx, r.db).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "customer %s not found", customerID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get customer")
	}
	return &out, nil
}

// ListMergedInto returns the customers absorbed into the given survivor
func (r *Repository) ListMergedInto(ctx context.Context, customerID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.ListMergedInto")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("customer_id")
	sb.From("customers")
	sb.Where(sb.Equal("merged_into", customerID))
	sb.OrderBy("customer_id")

	query, args := sb.Build()
	var out []string
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merged customers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merged customers")
	}
	return out, nil
}
