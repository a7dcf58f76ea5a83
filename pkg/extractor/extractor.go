// Package extractor turns raw source records into long-format identifier rows.
package extractor

import (
	"context"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Stage is the stage name used on rejections
const Stage = "extract"

// ExtractResult holds the identifier rows and the records that carried none
type ExtractResult struct {
	Identifiers []models.Identifier
	Rejections  []models.Rejection
	// Records is the number of person records scanned
	Records int
}

type Extractor struct {
	logger ectologger.Logger
}

func NewExtractor(logger ectologger.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// record is one raw record's candidate identifiers before normalization
type record struct {
	source     string
	recordID   string
	internalID string
	email      string
	phone      string
	name       string
}

// Extract scans every person-bearing table in the batch
func (e *Extractor) Extract(ctx context.Context, batch *models.RawBatch) (*ExtractResult, error) {
	ctx, span := tracing.StartSpan(ctx, "extractor.Extractor.Extract")
	defer span.End()

	memberships := membershipSignals(batch.Memberships)
	result := &ExtractResult{}
	seen := make(map[string]bool)

	emit := func(rec record) {
		if ctx.Err() != nil {
			return
		}
		result.Records++
		ids := e.identifiers(rec, memberships)
		if len(ids) == 0 {
			result.Rejections = append(result.Rejections, models.Rejection{
				Stage:    Stage,
				Source:   rec.source,
				RecordID: rec.recordID,
				Reason:   models.RejectionNoIdentifier,
			})
			return
		}
		for _, id := range ids {
			dedupe := id.RecordKey() + "|" + id.Key()
			if seen[dedupe] {
				continue
			}
			seen[dedupe] = true
			result.Identifiers = append(result.Identifiers, id)
		}
	}

	for _, c := range batch.Customers {
		recordID := c.RecordID
		if recordID == "" {
			recordID = c.InternalID
		}
		emit(record{
			source:     c.SourceSystem,
			recordID:   recordID,
			internalID: c.InternalID,
			email:      c.Email,
			phone:      c.Phone,
			name:       normalizers.NormalizeFullName(c.FirstName, c.LastName),
		})
	}

	for _, t := range batch.Transactions {
		emit(record{
			source:   t.SourceSystem,
			recordID: t.RecordID,
			email:    t.CustomerEmail,
			name:     normalizers.NormalizeFullName(t.CustomerName, ""),
		})
	}

	for _, f := range batch.FacilityEntries {
		emit(record{
			source:     f.SourceSystem,
			recordID:   f.RecordID,
			internalID: f.InternalID,
			name:       normalizers.NormalizeFullName(f.FirstName, f.LastName),
		})
	}

	for _, m := range batch.Memberships {
		for _, member := range m.MemberInternalIDs {
			// each roster member is its own record so household members are never exact-linked to each other
			emit(record{
				source:     m.SourceSystem,
				recordID:   m.MembershipID + "#" + member,
				internalID: member,
			})
		}
	}

	for _, s := range batch.MarketingSends {
		rec := record{source: s.SourceSystem, recordID: s.RecordID}
		if strings.Contains(s.Recipient, "@") {
			rec.email = s.Recipient
		} else {
			rec.phone = s.Recipient
		}
		emit(rec)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(result.Rejections) > 0 {
		e.logger.WithContext(ctx).WithField("rejected", len(result.Rejections)).Warn("Dropped records with no usable identifier")
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"records":     result.Records,
		"identifiers": len(result.Identifiers),
	}).Info("Extracted identifiers")

	return result, nil
}

func (e *Extractor) identifiers(rec record, memberships map[string][]string) []models.Identifier {
	internalID := normalizers.NormalizeInternalID(rec.source, rec.internalID)

	signals := []string{"source:" + strings.ToLower(rec.source)}
	if internalID != "" {
		signals = append(signals, memberships[internalID]...)
	}
	signals = uniqueSorted(signals)

	var ids []models.Identifier
	add := func(t models.IdentifierType, value string) {
		if value == "" {
			return
		}
		ids = append(ids, models.Identifier{
			Type:           t,
			Value:          value,
			SourceSystem:   rec.source,
			SourceRecordID: rec.recordID,
			Signals:        signals,
		})
	}

	add(models.IdentifierTypeInternalID, internalID)
	add(models.IdentifierTypeEmail, normalizers.NormalizeEmail(rec.email))
	add(models.IdentifierTypePhone, normalizers.NormalizePhone(rec.phone))
	add(models.IdentifierTypeNamePair, rec.name)

	return ids
}

// membershipSignals maps each rostered internal id to its membership signals
func membershipSignals(memberships []models.RawMembership) map[string][]string {
	out := make(map[string][]string)
	for _, m := range memberships {
		if m.MembershipID == "" {
			continue
		}
		signal := "membership:" + m.MembershipID
		for _, member := range m.MemberInternalIDs {
			id := normalizers.NormalizeInternalID(m.SourceSystem, member)
			if id == "" {
				continue
			}
			out[id] = append(out[id], signal)
		}
	}
	return out
}

func uniqueSorted(values []string) []string {
	set := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || set[v] {
			continue
		}
		set[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
