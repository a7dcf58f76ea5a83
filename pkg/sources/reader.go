package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Reader loads every extract listed in a manifest
type Reader struct {
	logger     ectologger.Logger
	workers    int
	defaultLoc *time.Location
}

// NewReader creates a reader. loc is used for entries without their own timezone.
func NewReader(logger ectologger.Logger, workers int, loc *time.Location) *Reader {
	if workers < 1 {
		workers = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Reader{logger: logger, workers: workers, defaultLoc: loc}
}

// Load reads every entry concurrently and merges them in manifest order
func (r *Reader) Load(ctx context.Context, manifest *Manifest) (*models.RawBatch, error) {
	ctx, span := tracing.StartSpan(ctx, "sources.Reader.Load")
	defer span.End()

	loc := r.defaultLoc
	if manifest.Timezone != "" {
		manifestLoc, err := time.LoadLocation(manifest.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest timezone %q: %w", manifest.Timezone, err)
		}
		loc = manifestLoc
	}

	results := make([]*models.RawBatch, len(manifest.Sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, entry := range manifest.Sources {
		g.Go(func() error {
			batch, err := r.loadEntry(gctx, entry, loc)
			if err != nil {
				r.logger.WithContext(gctx).WithError(err).WithFields(map[string]any{
					"kind": entry.Kind,
					"path": entry.Path,
				}).Error("Failed to load source")
				return fmt.Errorf("failed to load %s source %s: %w", entry.Kind, entry.Path, err)
			}
			results[i] = batch
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &models.RawBatch{}
	for _, result := range results {
		merged.Customers = append(merged.Customers, result.Customers...)
		merged.Transactions = append(merged.Transactions, result.Transactions...)
		merged.FacilityEntries = append(merged.FacilityEntries, result.FacilityEntries...)
		merged.Memberships = append(merged.Memberships, result.Memberships...)
		merged.MarketingSends = append(merged.MarketingSends, result.MarketingSends...)
		merged.CampaignOffers = append(merged.CampaignOffers, result.CampaignOffers...)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"sources": len(manifest.Sources),
		"records": merged.Size(),
	}).Info("Loaded raw sources")

	return merged, nil
}

func (r *Reader) loadEntry(ctx context.Context, entry Entry, loc *time.Location) (*models.RawBatch, error) {
	if entry.Timezone != "" {
		entryLoc, err := time.LoadLocation(entry.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", entry.Timezone, err)
		}
		loc = entryLoc
	}

	file, err := os.Open(entry.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Decode(ctx, entry, file, loc)
}

// Decode reads one extract from src into a batch holding only that entry's kind
func Decode(ctx context.Context, entry Entry, src io.Reader, loc *time.Location) (*models.RawBatch, error) {
	var (
		rows rowReader
		err  error
	)
	switch entry.Format {
	case FormatNDJSON:
		rows, err = newNDJSONReader(entry, src)
	default:
		rows, err = newCSVReader(entry, src)
	}
	if err != nil {
		return nil, err
	}

	layouts := entry.DateLayouts
	if len(layouts) == 0 {
		layouts = defaultLayouts(entry.Kind)
	}
	parse := func(value string) (time.Time, error) {
		return ParseTimestamp(value, layouts, loc)
	}

	batch := &models.RawBatch{}
	for n := 0; ; n++ {
		if n%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rec, err := rows.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		appendRow(batch, entry, rec, parse)
	}

	return batch, nil
}

func appendRow(batch *models.RawBatch, entry Entry, rec row, parse func(string) (time.Time, error)) {
	system := entry.SourceSystem

	switch entry.Kind {
	case KindCustomers:
		batch.Customers = append(batch.Customers, models.RawCustomer{
			SourceSystem: system,
			RecordID:     rec.get("record_id"),
			InternalID:   rec.get("internal_id"),
			FirstName:    rec.get("first_name"),
			LastName:     rec.get("last_name"),
			Email:        rec.get("email"),
			Phone:        rec.get("phone"),
		})
	case KindTransactions:
		occurredAt, dateErr := parse(rec.get("occurred_at"))
		batch.Transactions = append(batch.Transactions, models.RawTransaction{
			SourceSystem:  system,
			RecordID:      rec.get("record_id"),
			OccurredAt:    occurredAt,
			DateErr:       dateErr,
			Amount:        parseAmount(rec.get("amount")),
			Category:      rec.get("category"),
			Description:   rec.get("description"),
			CustomerName:  rec.get("customer_name"),
			CustomerEmail: rec.get("customer_email"),
		})
	case KindFacilityEntries:
		enteredAt, dateErr := parse(rec.get("entered_at"))
		batch.FacilityEntries = append(batch.FacilityEntries, models.RawFacilityEntry{
			SourceSystem:           system,
			RecordID:               rec.get("record_id"),
			InternalID:             rec.get("internal_id"),
			FirstName:              rec.get("first_name"),
			LastName:               rec.get("last_name"),
			EnteredAt:              enteredAt,
			DateErr:                dateErr,
			EntryMethod:            rec.get("entry_method"),
			EntryMethodDescription: rec.get("entry_method_description"),
			Location:               rec.get("location"),
			Association:            rec.get("association"),
		})
	case KindMemberships:
		startedAt, dateErr := parse(rec.get("started_at"))
		batch.Memberships = append(batch.Memberships, models.RawMembership{
			SourceSystem:      system,
			MembershipID:      rec.get("membership_id"),
			Name:              rec.get("name"),
			Size:              strings.ToLower(rec.get("size")),
			StartedAt:         startedAt,
			DateErr:           dateErr,
			MemberInternalIDs: splitList(rec.get("member_internal_ids")),
		})
	case KindMarketingSends:
		sentAt, dateErr := parse(rec.get("sent_at"))
		batch.MarketingSends = append(batch.MarketingSends, models.RawMarketingSend{
			SourceSystem: system,
			RecordID:     rec.get("record_id"),
			CampaignID:   rec.get("campaign_id"),
			TemplateID:   rec.get("template_id"),
			Channel:      strings.ToLower(rec.get("channel")),
			Recipient:    rec.get("recipient"),
			SentAt:       sentAt,
			DateErr:      dateErr,
		})
	case KindCampaignOffers:
		batch.CampaignOffers = append(batch.CampaignOffers, models.RawCampaignOffer{
			CampaignID:       rec.get("campaign_id"),
			TemplateID:       rec.get("template_id"),
			OfferCode:        rec.get("offer_code"),
			OfferDescription: rec.get("offer_description"),
			Discount:         rec.get("discount"),
		})
	}
}

func parseAmount(value string) float64 {
	value = strings.NewReplacer("$", "", ",", "", " ", "").Replace(value)
	if value == "" {
		return 0
	}
	amount, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return amount
}

func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ';' || r == ',' || r == '|'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
