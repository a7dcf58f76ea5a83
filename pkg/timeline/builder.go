// Package timeline normalizes raw activity records into one dated, typed event per record.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Stage is the stage name used on rejections
const Stage = "timeline"

var eventNamespace = uuid.MustParse("3c9e7d21-5b4a-4f08-8e6d-2a1b0c9f8e73")

// Result is the event log built for one run
type Result struct {
	Events     []models.Event
	Rejections []models.Rejection
}

type Builder struct {
	logger  ectologger.Logger
	mapping *Mapping
}

func NewBuilder(logger ectologger.Logger, mapping *Mapping) *Builder {
	return &Builder{logger: logger, mapping: mapping}
}

// EventID is the natural key of an event: one per source record and type
func EventID(source, recordID string, eventType models.EventType) string {
	return uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%s|%s|%s", source, recordID, eventType))).String()
}

// Build attributes every dated record to a customer and emits its event
func (b *Builder) Build(ctx context.Context, batch *models.RawBatch, index *identity.Index) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "timeline.Builder.Build")
	defer span.End()

	runID := fernctx.GetRunID(ctx)
	res := &Result{}

	reject := func(source, recordID string, reason models.RejectionReason, detail string) {
		res.Rejections = append(res.Rejections, models.Rejection{
			Stage:    Stage,
			Source:   source,
			RecordID: recordID,
			Reason:   reason,
			Detail:   detail,
		})
	}

	emit := func(source, recordID string, eventType models.EventType, customerID string, confidence models.Confidence, event models.Event) {
		event.EventID = EventID(source, recordID, eventType)
		event.CustomerID = customerID
		event.EventType = eventType
		event.EventSource = strings.ToLower(source)
		event.SourceRecordID = recordID
		event.SourceConfidence = confidence
		event.RunID = runID
		res.Events = append(res.Events, event)
	}

	for _, t := range batch.Transactions {
		if t.DateErr != nil {
			reject(t.SourceSystem, t.RecordID, models.RejectionUnparseableDate, t.DateErr.Error())
			continue
		}
		eventType, ok := b.mapping.TransactionType(t.Category)
		if !ok {
			reject(t.SourceSystem, t.RecordID, models.RejectionUnknownCategory, t.Category)
			continue
		}
		customerID, confidence, ok := b.attributeTransaction(t, index)
		if !ok {
			reject(t.SourceSystem, t.RecordID, models.RejectionUnresolvedCustomer, t.CustomerName)
			continue
		}
		emit(t.SourceSystem, t.RecordID, eventType, customerID, confidence, models.Event{
			EventDate: t.OccurredAt,
			EventDetails: models.Attributes{
				"transaction_id": t.RecordID,
				"amount":         t.Amount,
				"description":    t.Description,
				"category":       t.Category,
				"customer_name":  t.CustomerName,
			},
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, f := range batch.FacilityEntries {
		if f.DateErr != nil {
			reject(f.SourceSystem, f.RecordID, models.RejectionUnparseableDate, f.DateErr.Error())
			continue
		}
		customerID, confidence, ok := index.LookupEntrant(f.SourceSystem, f.InternalID, f.FirstName, f.LastName)
		if !ok {
			reject(f.SourceSystem, f.RecordID, models.RejectionUnresolvedCustomer, f.InternalID)
			continue
		}
		emit(f.SourceSystem, f.RecordID, b.mapping.FacilityEntries, customerID, confidence, models.Event{
			EventDate: f.EnteredAt,
			EventDetails: models.Attributes{
				"checkin_id":               f.RecordID,
				"entry_method":             f.EntryMethod,
				"entry_method_description": f.EntryMethodDescription,
				"location":                 f.Location,
				"association":              f.Association,
			},
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offers := indexOffers(batch.CampaignOffers)
	for _, s := range batch.MarketingSends {
		if s.DateErr != nil {
			reject(s.SourceSystem, s.RecordID, models.RejectionUnparseableDate, s.DateErr.Error())
			continue
		}
		eventType, ok := b.mapping.SendType(s.Channel)
		if !ok {
			reject(s.SourceSystem, s.RecordID, models.RejectionUnknownCategory, s.Channel)
			continue
		}
		link, ok := lookupRecipient(s.Recipient, index)
		if !ok {
			reject(s.SourceSystem, s.RecordID, models.RejectionUnresolvedCustomer, s.Recipient)
			continue
		}
		details := models.Attributes{
			"campaign_id": s.CampaignID,
			"template_id": s.TemplateID,
			"recipient":   s.Recipient,
		}
		if offer, ok := offers.find(s.CampaignID, s.TemplateID); ok {
			details["offer_code"] = offer.OfferCode
			details["offer_description"] = offer.OfferDescription
			details["discount"] = offer.Discount
		}
		emit(s.SourceSystem, s.RecordID, eventType, link.CustomerID, link.Confidence, models.Event{
			EventDate:    s.SentAt,
			EventDetails: details,
		})
	}

	SortEvents(res.Events)

	if len(res.Rejections) > 0 {
		b.logger.WithContext(ctx).WithField("rejected", len(res.Rejections)).Warn("Rejected activity records")
	}
	b.logger.WithContext(ctx).WithField("events", len(res.Events)).Info("Built event timeline")

	return res, nil
}

// attributeTransaction resolves by email, then by name with confidence capped at medium
func (b *Builder) attributeTransaction(t models.RawTransaction, index *identity.Index) (string, models.Confidence, bool) {
	if link, ok := index.Lookup(models.IdentifierTypeEmail, normalizers.NormalizeEmail(t.CustomerEmail)); ok {
		return link.CustomerID, link.Confidence, true
	}
	customerID, confidence, ok := index.LookupName(normalizers.NormalizeFullName(t.CustomerName, ""))
	if !ok {
		return "", "", false
	}
	return customerID, models.Weaker(confidence, models.ConfidenceMedium), true
}

func lookupRecipient(recipient string, index *identity.Index) (models.IdentifierLink, bool) {
	if strings.Contains(recipient, "@") {
		return index.Lookup(models.IdentifierTypeEmail, normalizers.NormalizeEmail(recipient))
	}
	return index.Lookup(models.IdentifierTypePhone, normalizers.NormalizePhone(recipient))
}

type offerIndex struct {
	byCampaign map[string]models.RawCampaignOffer
	byTemplate map[string]models.RawCampaignOffer
}

func indexOffers(offers []models.RawCampaignOffer) offerIndex {
	ix := offerIndex{
		byCampaign: make(map[string]models.RawCampaignOffer),
		byTemplate: make(map[string]models.RawCampaignOffer),
	}
	for _, o := range offers {
		if o.CampaignID != "" {
			ix.byCampaign[o.CampaignID] = o
		}
		if o.TemplateID != "" {
			ix.byTemplate[o.TemplateID] = o
		}
	}
	return ix
}

// find prefers the offer recorded for the campaign over the one for its template
func (ix offerIndex) find(campaignID, templateID string) (models.RawCampaignOffer, bool) {
	if o, ok := ix.byCampaign[campaignID]; ok && campaignID != "" {
		return o, true
	}
	if o, ok := ix.byTemplate[templateID]; ok && templateID != "" {
		return o, true
	}
	return models.RawCampaignOffer{}, false
}

// SortEvents orders events per customer by date, type, then id
func SortEvents(events []models.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.CustomerID != b.CustomerID {
			return a.CustomerID < b.CustomerID
		}
		if !a.EventDate.Equal(b.EventDate) {
			return a.EventDate.Before(b.EventDate)
		}
		if a.EventType != b.EventType {
			return a.EventType < b.EventType
		}
		return a.EventID < b.EventID
	})
}
