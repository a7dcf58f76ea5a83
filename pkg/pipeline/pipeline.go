// Package pipeline runs the batch stages in dependency order and publishes their output atomically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/connections"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/extractor"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/interactions"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/sources"
	"github.com/Ramsey-B/fern/pkg/timeline"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	StageLoad         = "load"
	StageExtract      = "extract"
	StageResolve      = "resolve"
	StageTimeline     = "timeline"
	StageInteractions = "interactions"
	StageConnections  = "connections"
	StagePublish      = "publish"
)

type Options struct {
	LockName string
	Workers  int
	Location *time.Location
	// LowNameThreshold is the similarity that joins two names at low confidence while clustering
	LowNameThreshold float64
	// NameLookupThreshold is the similarity a free-text name needs to attribute a record
	NameLookupThreshold float64
	Interactions        interactions.Options
	Now                 func() time.Time
}

func DefaultOptions() Options {
	return Options{
		LockName:            "fern:pipeline",
		Workers:             4,
		Location:            time.UTC,
		LowNameThreshold:    resolver.DefaultLowNameThreshold,
		NameLookupThreshold: 0.9,
		Interactions:        interactions.DefaultOptions(),
		Now:                 time.Now,
	}
}

type Pipeline struct {
	logger       ectologger.Logger
	store        Store
	locker       Locker
	publishers   []Publisher
	opts         Options
	reader       *sources.Reader
	extractor    *extractor.Extractor
	resolver     *resolver.Resolver
	timeline     *timeline.Builder
	interactions *interactions.Extractor
}

func New(logger ectologger.Logger, store Store, locker Locker, mapping *timeline.Mapping, opts Options, publishers ...Publisher) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Pipeline{
		logger:       logger,
		store:        store,
		locker:       locker,
		publishers:   publishers,
		opts:         opts,
		reader:       sources.NewReader(logger, opts.Workers, opts.Location),
		extractor:    extractor.NewExtractor(logger),
		resolver:     resolver.NewResolver(logger, resolver.Options{LowNameThreshold: opts.LowNameThreshold, Now: opts.Now}),
		timeline:     timeline.NewBuilder(logger, mapping),
		interactions: interactions.NewExtractor(logger, opts.Interactions),
	}
}

// Run loads every source in the manifest and executes a full run
func (p *Pipeline) Run(ctx context.Context, manifest *sources.Manifest) (*models.RunSummary, error) {
	return p.execute(ctx, func(ctx context.Context) (*models.RawBatch, error) {
		return p.reader.Load(ctx, manifest)
	})
}

// RunBatch executes a full run over an already loaded batch
func (p *Pipeline) RunBatch(ctx context.Context, batch *models.RawBatch) (*models.RunSummary, error) {
	return p.execute(ctx, func(context.Context) (*models.RawBatch, error) {
		return batch, nil
	})
}

func (p *Pipeline) execute(ctx context.Context, load func(context.Context) (*models.RawBatch, error)) (*models.RunSummary, error) {
	runID := uuid.New().String()
	ctx = fernctx.SetRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Run")
	defer span.End()

	log := p.logger.WithContext(ctx).WithField("run_id", runID)

	lock, err := p.locker.Acquire(ctx, p.opts.LockName)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			log.Warn("Pipeline run refused: another run holds the lock")
			return nil, err
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	summary := models.NewRunSummary(runID, p.opts.Now().UTC())
	log.Info("Pipeline run started")

	out, err := p.stages(ctx, summary, load)
	summary.FinishedAt = p.opts.Now().UTC()
	duration := summary.FinishedAt.Sub(summary.StartedAt).Seconds()
	metrics.RecordRejections(summary.Rejections)

	if err != nil {
		summary.Status = models.RunStatusFailed
		summary.Error = err.Error()
		metrics.RecordRun(string(summary.Status), duration)
		log.WithError(err).WithField("stages", len(summary.Stages)).Error("Pipeline run failed; nothing was published")
		if saveErr := p.store.SaveRun(context.WithoutCancel(ctx), summary); saveErr != nil {
			log.WithError(saveErr).Error("Failed to record failed run")
		}
		return summary, err
	}

	metrics.RecordRun(string(summary.Status), duration)
	metrics.MergeReviewsTotal.Add(float64(len(summary.MergeReviews)))
	metrics.ConnectionsGauge.Set(float64(summary.Connections))
	for _, i := range out.Interactions {
		metrics.InteractionsTotal.WithLabelValues(string(i.InteractionType)).Inc()
	}

	p.fanOut(ctx, out)

	log.WithFields(map[string]any{
		"new_customers":    summary.NewCustomers,
		"events":           summary.Events,
		"new_interactions": summary.NewInteractions,
		"connections":      summary.Connections,
		"merge_reviews":    len(summary.MergeReviews),
		"rejections":       summary.TotalRejections(),
		"fingerprint":      summary.ConnectionFingerprint,
	}).Info("Pipeline run succeeded")

	return summary, nil
}

// stages computes every output table in memory and publishes them in one step
func (p *Pipeline) stages(ctx context.Context, summary *models.RunSummary, load func(context.Context) (*models.RawBatch, error)) (*models.RunOutput, error) {
	var batch *models.RawBatch
	if err := p.stage(ctx, summary, StageLoad, 0, func(ctx context.Context) (int, error) {
		var err error
		batch, err = load(ctx)
		if err != nil {
			return 0, err
		}
		return batch.Size(), nil
	}); err != nil {
		return nil, err
	}

	rejected := rejectedRecords{}

	var extracted *extractor.ExtractResult
	if err := p.stage(ctx, summary, StageExtract, batch.Size(), func(ctx context.Context) (int, error) {
		var err error
		extracted, err = p.extractor.Extract(ctx, batch)
		if err != nil {
			return 0, err
		}
		summary.AddRejections(rejected.first(extracted.Rejections))
		return len(extracted.Identifiers), nil
	}); err != nil {
		return nil, err
	}

	var resolution *resolver.Resolution
	if err := p.stage(ctx, summary, StageResolve, len(extracted.Identifiers), func(ctx context.Context) (int, error) {
		existing, err := p.store.LoadSnapshot(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to load identifier store: %w", err)
		}
		resolution, err = p.resolver.Resolve(ctx, extracted.Identifiers, existing)
		if err != nil {
			return 0, err
		}
		if err := resolution.Validate(); err != nil {
			return 0, err
		}
		return len(resolution.Links), nil
	}); err != nil {
		return nil, err
	}
	index := identity.NewIndex(resolution.Snapshot, p.opts.NameLookupThreshold)

	var built *timeline.Result
	if err := p.stage(ctx, summary, StageTimeline, batch.Size(), func(ctx context.Context) (int, error) {
		var err error
		built, err = p.timeline.Build(ctx, batch, index)
		if err != nil {
			return 0, err
		}
		summary.AddRejections(rejected.first(built.Rejections))
		return len(built.Events), nil
	}); err != nil {
		return nil, err
	}

	var stored, fresh []models.Interaction
	if err := p.stage(ctx, summary, StageInteractions, len(batch.FacilityEntries)+len(batch.Memberships), func(ctx context.Context) (int, error) {
		found, err := p.interactions.Extract(ctx, batch, built.Events, index)
		if err != nil {
			return 0, err
		}
		summary.AddRejections(rejected.first(found.Rejections))

		stored, err = p.store.LoadInteractions(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to load interactions: %w", err)
		}
		fresh = newInteractions(found.Interactions, stored, index.Canonical)
		return len(fresh), nil
	}); err != nil {
		return nil, err
	}

	var conns []models.Connection
	if err := p.stage(ctx, summary, StageConnections, len(stored)+len(fresh), func(ctx context.Context) (int, error) {
		_, span := tracing.StartSpan(ctx, "connections.Aggregate")
		defer span.End()

		all := make([]models.Interaction, 0, len(stored)+len(fresh))
		all = append(append(all, stored...), fresh...)
		conns = connections.Aggregate(all, index.Canonical)

		fp, err := connections.Fingerprint(conns)
		if err != nil {
			return 0, err
		}
		summary.ConnectionFingerprint = fp
		return len(conns), nil
	}); err != nil {
		return nil, err
	}

	summary.NewCustomers = resolution.NewCustomers
	summary.IdentifierLinks = len(resolution.Links)
	summary.Events = len(built.Events)
	summary.NewInteractions = len(fresh)
	summary.Connections = len(conns)
	summary.MergeReviews = append(summary.MergeReviews, resolution.Reviews...)
	summary.Status = models.RunStatusSucceeded

	out := &models.RunOutput{
		RunID:        summary.RunID,
		Customers:    resolution.Customers,
		Merges:       resolution.Merges,
		Links:        resolution.Links,
		MergeReviews: resolution.Reviews,
		Events:       built.Events,
		Interactions: fresh,
		Connections:  conns,
		Summary:      summary,
	}

	if err := p.stage(ctx, summary, StagePublish, len(conns), func(ctx context.Context) (int, error) {
		// the persisted summary is written inside this stage, so it never carries the publish timing
		return len(fresh), p.store.Publish(ctx, out)
	}); err != nil {
		summary.Status = models.RunStatusFailed
		return nil, err
	}
	return out, nil
}

// rejectedRecords counts each source record once, at the first stage that rejected it
type rejectedRecords map[string]bool

func (r rejectedRecords) first(rejections []models.Rejection) []models.Rejection {
	var out []models.Rejection
	for _, rej := range rejections {
		if !r[rej.Source+"|"+rej.RecordID] {
			out = append(out, rej)
		}
	}
	for _, rej := range out {
		r[rej.Source+"|"+rej.RecordID] = true
	}
	return out
}

// stage times one stage and records it on the summary
func (p *Pipeline) stage(ctx context.Context, summary *models.RunSummary, name string, input int, fn func(ctx context.Context) (int, error)) error {
	ctx = fernctx.SetStage(ctx, name)
	ctx, span := tracing.StartSpan(ctx, "pipeline.stage."+name)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	output, err := fn(ctx)
	elapsed := time.Since(start)

	summary.Stages = append(summary.Stages, models.StageSummary{
		Name:       name,
		DurationMS: elapsed.Milliseconds(),
		Input:      input,
		Output:     output,
	})
	metrics.RecordStage(name, elapsed.Seconds())

	if err != nil {
		tracing.Fail(span, err)
		return fmt.Errorf("stage %s: %w", name, err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"stage":       name,
		"input":       input,
		"output":      output,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Stage complete")
	return nil
}

// fanOut hands a committed run to every publisher. The output tables are
// already durable, so publisher failures are logged and never fail the run.
func (p *Pipeline) fanOut(ctx context.Context, out *models.RunOutput) {
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, out); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("publisher", pub.Name()).Error("Failed to publish run output")
		}
	}
}

// RebuildConnections recomputes only the connection table from the stored interaction log
func (p *Pipeline) RebuildConnections(ctx context.Context) (*models.RunSummary, error) {
	runID := uuid.New().String()
	ctx = fernctx.SetRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.RebuildConnections")
	defer span.End()

	lock, err := p.locker.Acquire(ctx, p.opts.LockName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to release run lock")
		}
	}()

	summary := models.NewRunSummary(runID, p.opts.Now().UTC())

	var conns []models.Connection
	err = p.stage(ctx, summary, StageConnections, 0, func(ctx context.Context) (int, error) {
		snapshot, err := p.store.LoadSnapshot(ctx)
		if err != nil {
			return 0, err
		}
		stored, err := p.store.LoadInteractions(ctx)
		if err != nil {
			return 0, err
		}
		index := identity.NewIndex(snapshot, p.opts.NameLookupThreshold)
		conns = connections.Aggregate(stored, index.Canonical)

		summary.ConnectionFingerprint, err = connections.Fingerprint(conns)
		if err != nil {
			return 0, err
		}
		if err := p.store.ReplaceConnections(ctx, conns); err != nil {
			return 0, err
		}
		return len(conns), nil
	})
	summary.FinishedAt = p.opts.Now().UTC()
	if err != nil {
		summary.Status = models.RunStatusFailed
		summary.Error = err.Error()
		return summary, err
	}

	summary.Status = models.RunStatusSucceeded
	summary.Connections = len(conns)
	metrics.ConnectionsGauge.Set(float64(len(conns)))

	p.fanOut(ctx, &models.RunOutput{RunID: runID, Connections: conns, Summary: summary})

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"connections": len(conns),
		"fingerprint": summary.ConnectionFingerprint,
	}).Info("Rebuilt connections")
	return summary, nil
}

// newInteractions drops interactions already in the log, comparing natural keys
// after mapping both sides through merged-forward customers
func newInteractions(found, stored []models.Interaction, canonical func(string) string) []models.Interaction {
	known := make(map[string]bool, len(stored)*2)
	for _, i := range stored {
		known[i.InteractionID] = true
		known[interactions.NaturalKey(i, canonical)] = true
	}

	out := make([]models.Interaction, 0, len(found))
	for _, i := range found {
		if known[i.InteractionID] || known[interactions.NaturalKey(i, canonical)] {
			continue
		}
		out = append(out, i)
	}
	return out
}
