// Package interactions derives pairwise co-occurrence facts from independent signals.
package interactions

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Stage is the stage name used on rejections
const Stage = "interactions"

var interactionNamespace = uuid.MustParse("9a4f6c0e-2d7b-4b1a-8f35-c6e1d0b2a947")

// Strategy is one isolated interaction signal
type Strategy interface {
	Type() string
	Extract(ctx context.Context, in *Input) ([]models.Interaction, error)
}

type Options struct {
	CoPresenceWindow  time.Duration
	PurchaseLookback  time.Duration
	LookbackDays      int
	MembershipSizes   []string
	MaxMemberIDGap    int
	GuestEntryMethods []string
	Workers           int
}

// DefaultOptions mirrors the pipeline defaults
func DefaultOptions() Options {
	return Options{
		CoPresenceWindow:  30 * time.Minute,
		PurchaseLookback:  7 * 24 * time.Hour,
		MembershipSizes:   []string{"family", "duo"},
		MaxMemberIDGap:    3,
		GuestEntryMethods: []string{"GUE"},
		Workers:           4,
	}
}

// Result is the output of one extraction pass
type Result struct {
	Interactions []models.Interaction
	Rejections   []models.Rejection
	// ByStrategy counts interactions produced per strategy before deduplication
	ByStrategy map[string]int
}

// UnparsedTransfers counts descriptions that looked like a transfer but did not parse
func (r *Result) UnparsedTransfers() int {
	n := 0
	for _, rej := range r.Rejections {
		if rej.Reason == models.RejectionPassTransferUnparsed {
			n++
		}
	}
	return n
}

type Extractor struct {
	logger     ectologger.Logger
	opts       Options
	strategies []Strategy
}

// NewExtractor registers the default strategies
func NewExtractor(logger ectologger.Logger, opts Options) *Extractor {
	return &Extractor{
		logger: logger,
		opts:   opts,
		strategies: []Strategy{
			&PassSharing{Lookback: opts.PurchaseLookback},
			&PurchaseGroup{},
			&CoPresence{Window: opts.CoPresenceWindow, Workers: opts.Workers},
			&SharedMembership{MaxGap: opts.MaxMemberIDGap},
			&GuestUsage{},
		},
	}
}

// Register adds a strategy after the defaults
func (e *Extractor) Register(strategy Strategy) {
	e.strategies = append(e.strategies, strategy)
}

// Extract prepares the input once and runs every strategy over it
func (e *Extractor) Extract(ctx context.Context, batch *models.RawBatch, events []models.Event, index *identity.Index) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "interactions.Extractor.Extract")
	defer span.End()

	in, rejections := prepare(batch, events, index, e.opts)
	res := &Result{Rejections: rejections, ByStrategy: make(map[string]int)}

	runID := fernctx.GetRunID(ctx)
	var all []models.Interaction
	for _, strategy := range e.strategies {
		found, err := e.run(ctx, strategy, in)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithField("strategy", strategy.Type()).Error("Interaction strategy failed")
			return nil, fmt.Errorf("strategy %s: %w", strategy.Type(), err)
		}
		res.ByStrategy[strategy.Type()] = len(found)
		for i := range found {
			found[i].RunID = runID
		}
		all = append(all, found...)
	}

	res.Interactions = Dedupe(all)

	if n := res.UnparsedTransfers(); n > 0 {
		e.logger.WithContext(ctx).WithField("unparsed", n).Warn("Check-in descriptions referenced a purchaser but did not parse")
	}
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"interactions": len(res.Interactions),
		"by_strategy":  res.ByStrategy,
		"transfers":    len(in.Transfers),
	}).Info("Extracted interactions")

	return res, nil
}

// run isolates a strategy so a panic fails only this stage with an error
func (e *Extractor) run(ctx context.Context, strategy Strategy, in *Input) (found []models.Interaction, err error) {
	ctx, span := tracing.StartSpan(ctx, "interactions."+strategy.Type())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return strategy.Extract(ctx, in)
}

// New builds an interaction keyed by its natural key. For directed types from is
// the giver; undirected callers pass the pair in any order.
func New(t models.InteractionType, from, to string, at time.Time, discriminator string, metadata models.Attributes) models.Interaction {
	day := DayStart(at)
	return models.Interaction{
		InteractionID:   InteractionID(t, from, to, day, discriminator),
		InteractionDate: day,
		InteractionType: t,
		CustomerID1:     from,
		CustomerID2:     to,
		Discriminator:   discriminator,
		Metadata:        metadata,
	}
}

// InteractionID hashes (ordered pair, date, type, discriminator)
func InteractionID(t models.InteractionType, a, b string, day time.Time, discriminator string) string {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	key := fmt.Sprintf("%s|%s|%s|%s|%s", lo, hi, DayKey(day), t, discriminator)
	return uuid.NewSHA1(interactionNamespace, []byte(key)).String()
}

// NaturalKey recomputes an interaction's id after mapping both customers through canonical
func NaturalKey(i models.Interaction, canonical func(string) string) string {
	return InteractionID(i.InteractionType, canonical(i.CustomerID1), canonical(i.CustomerID2), i.InteractionDate, i.Discriminator)
}

// Dedupe keeps the first interaction per id, preserving order
func Dedupe(interactions []models.Interaction) []models.Interaction {
	seen := make(map[string]bool, len(interactions))
	out := make([]models.Interaction, 0, len(interactions))
	for _, i := range interactions {
		if seen[i.InteractionID] {
			continue
		}
		seen[i.InteractionID] = true
		out = append(out, i)
	}
	return out
}

// DayKey formats the calendar day of t in t's own location
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// DayStart truncates t to midnight in its own location
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
