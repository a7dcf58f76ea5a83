package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/interactions"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sources"
	"github.com/Ramsey-B/fern/pkg/timeline"
)

var morning = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func checkinBatch() *models.RawBatch {
	people := []struct{ id, first, last string }{
		{"1", "Alice", "Anders"},
		{"2", "Bob", "Brown"},
		{"3", "Carol", "Chen"},
	}
	batch := &models.RawBatch{}
	for _, p := range people {
		batch.Customers = append(batch.Customers, models.RawCustomer{
			SourceSystem: "capitan", RecordID: p.id, InternalID: p.id, FirstName: p.first, LastName: p.last,
		})
	}
	batch.FacilityEntries = []models.RawFacilityEntry{
		{SourceSystem: "capitan", RecordID: "c1", InternalID: "1", FirstName: "Alice", LastName: "Anders", EnteredAt: morning, EntryMethod: "PAS", Location: "Main"},
		{SourceSystem: "capitan", RecordID: "c2", InternalID: "2", FirstName: "Bob", LastName: "Brown", EnteredAt: morning.Add(22 * time.Second), EntryMethod: "ENT", EntryMethodDescription: "Day Pass from Alice Anders", Location: "Main"},
		{SourceSystem: "capitan", RecordID: "c3", InternalID: "3", FirstName: "Carol", LastName: "Chen", EnteredAt: morning.Add(41 * time.Second), EntryMethod: "ENT", EntryMethodDescription: "Day Pass from Alice Anders", Location: "Main"},
	}
	return batch
}

type recordingPublisher struct {
	runs []string
	err  error
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, out *models.RunOutput) error {
	p.runs = append(p.runs, out.RunID)
	return p.err
}

func newTestPipeline(t *testing.T, store Store, locker Locker, publishers ...Publisher) *Pipeline {
	t.Helper()
	mapping, err := timeline.LoadMapping("")
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Now = func() time.Time { return morning.Add(24 * time.Hour) }
	return New(logger.Noop(), store, locker, mapping, opts, publishers...)
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should turn three check-ins into six interactions and three connections", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &recordingPublisher{}
		p := newTestPipeline(t, store, NewLocalLocker(), pub)

		summary, err := p.RunBatch(ctx, checkinBatch())
		require.NoError(t, err)

		assert.Equal(t, models.RunStatusSucceeded, summary.Status)
		assert.Equal(t, 3, summary.NewCustomers)
		assert.Equal(t, 3, summary.Events)
		assert.Equal(t, 6, summary.NewInteractions)
		assert.Equal(t, 3, summary.Connections)
		assert.Zero(t, summary.TotalRejections())
		assert.NotEmpty(t, summary.ConnectionFingerprint)
		assert.Len(t, summary.Stages, 7)
		assert.Equal(t, []string{summary.RunID}, pub.runs)

		conns := store.Connections()
		require.Len(t, conns, 3)
		for _, c := range conns {
			assert.Less(t, c.CustomerID1, c.CustomerID2)
			assert.Equal(t, 2, c.InteractionCount)
			assert.Len(t, c.InteractionTypes, 2)
		}
		for _, e := range store.Events() {
			assert.False(t, e.EventDate.IsZero())
		}
	})

	t.Run("should be idempotent across repeated runs", func(t *testing.T) {
		store := NewMemoryStore()
		p := newTestPipeline(t, store, NewLocalLocker())

		first, err := p.RunBatch(ctx, checkinBatch())
		require.NoError(t, err)
		second, err := p.RunBatch(ctx, checkinBatch())
		require.NoError(t, err)

		assert.Zero(t, second.NewCustomers)
		assert.Zero(t, second.NewInteractions)
		assert.Empty(t, second.MergeReviews)
		assert.Equal(t, first.ConnectionFingerprint, second.ConnectionFingerprint)
		assert.Len(t, store.Runs(), 2)
	})

	t.Run("should refuse a concurrent run", func(t *testing.T) {
		locker := NewLocalLocker()
		held, err := locker.Acquire(ctx, DefaultOptions().LockName)
		require.NoError(t, err)
		defer held.Release(ctx)

		store := NewMemoryStore()
		_, err = newTestPipeline(t, store, locker).RunBatch(ctx, checkinBatch())
		assert.ErrorIs(t, err, ErrRunInProgress)
		assert.Empty(t, store.Runs())
	})

	t.Run("should publish nothing when publication fails", func(t *testing.T) {
		store := NewMemoryStore()
		store.FailPublish = errors.New("connection reset")
		pub := &recordingPublisher{}

		summary, err := newTestPipeline(t, store, NewLocalLocker(), pub).RunBatch(ctx, checkinBatch())
		require.Error(t, err)
		assert.Equal(t, models.RunStatusFailed, summary.Status)
		assert.Empty(t, store.Connections())
		assert.Empty(t, store.Events())
		assert.Empty(t, pub.runs)

		runs := store.Runs()
		require.Len(t, runs, 1)
		assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	})

	t.Run("should not fail the run when a publisher fails", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("broker down")}
		summary, err := newTestPipeline(t, NewMemoryStore(), NewLocalLocker(), pub).RunBatch(ctx, checkinBatch())
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusSucceeded, summary.Status)
	})

	t.Run("should release the lock after a run", func(t *testing.T) {
		locker := NewLocalLocker()
		p := newTestPipeline(t, NewMemoryStore(), locker)
		_, err := p.RunBatch(ctx, checkinBatch())
		require.NoError(t, err)

		lock, err := locker.Acquire(ctx, DefaultOptions().LockName)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))
	})
}

func TestAttribution(t *testing.T) {
	ctx := context.Background()

	t.Run("should attribute a check-in without an internal id by name", func(t *testing.T) {
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			{SourceSystem: "capitan", RecordID: "c9", FirstName: "Dana", LastName: "Diaz", EnteredAt: morning},
		}}

		summary, err := newTestPipeline(t, NewMemoryStore(), NewLocalLocker()).RunBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.NewCustomers)
		assert.Equal(t, 1, summary.Events)
		assert.Zero(t, summary.TotalRejections())
	})

	t.Run("should count an unattributable record once", func(t *testing.T) {
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			{SourceSystem: "capitan", RecordID: "c9", InternalID: "nan", FirstName: "Guest", EnteredAt: morning},
		}}

		summary, err := newTestPipeline(t, NewMemoryStore(), NewLocalLocker()).RunBatch(ctx, batch)
		require.NoError(t, err)
		assert.Zero(t, summary.Events)
		assert.Equal(t, 1, summary.TotalRejections())
		assert.Equal(t, map[string]map[string]int{
			"extract": {string(models.RejectionNoIdentifier): 1},
		}, summary.Rejections)
	})

	t.Run("should turn a column of mixed date formats into dated events", func(t *testing.T) {
		dir := t.TempDir()
		csv := "checkin_id,customer_id,customer_first_name,customer_last_name,checkin_datetime\n" +
			"c1,1,Alice,Anders,2025-03-01\n" +
			"c2,2,Bob,Brown,3/1/2025\n" +
			"c3,3,Carol,Chen,2025-03-01 10:00:22.123456\n" +
			"c4,1,Alice,Anders,2025-03-02 18:30:00.5\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "checkins.csv"), []byte(csv), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.yaml"), []byte(`
timezone: America/Chicago
sources:
  - kind: facility_entries
    path: checkins.csv
    source_system: capitan
`), 0o644))

		manifest, err := sources.LoadManifest(filepath.Join(dir, "sources.yaml"))
		require.NoError(t, err)

		store := NewMemoryStore()
		summary, err := newTestPipeline(t, store, NewLocalLocker()).Run(ctx, manifest)
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Events)
		assert.Zero(t, summary.TotalRejections())

		events := store.Events()
		require.Len(t, events, 4)
		for _, e := range events {
			assert.False(t, e.EventDate.IsZero(), e.SourceRecordID)
			assert.Equal(t, 2025, e.EventDate.Year())
		}
	})
}

func TestRebuildConnections(t *testing.T) {
	ctx := context.Background()

	t.Run("should rebuild the same table from the interaction log", func(t *testing.T) {
		store := NewMemoryStore()
		p := newTestPipeline(t, store, NewLocalLocker())
		run, err := p.RunBatch(ctx, checkinBatch())
		require.NoError(t, err)

		before := store.Connections()
		rebuilt, err := p.RebuildConnections(ctx)
		require.NoError(t, err)

		assert.Equal(t, run.ConnectionFingerprint, rebuilt.ConnectionFingerprint)
		assert.Equal(t, before, store.Connections())
	})
}

func TestNewInteractions(t *testing.T) {
	t.Run("should drop interactions already logged under a merged customer", func(t *testing.T) {
		old := models.Interaction{InteractionID: "old-id", InteractionType: models.InteractionSameDayCheckin, CustomerID1: "absorbed", CustomerID2: "b", InteractionDate: morning}
		canonical := func(id string) string {
			if id == "absorbed" {
				return "a"
			}
			return id
		}
		fresh := models.Interaction{InteractionType: models.InteractionSameDayCheckin, CustomerID1: "a", CustomerID2: "b", InteractionDate: morning}
		fresh.InteractionID = interactions.InteractionID(fresh.InteractionType, "a", "b", morning, "")
		other := models.Interaction{InteractionType: models.InteractionSameDayCheckin, CustomerID1: "a", CustomerID2: "c", InteractionDate: morning}
		other.InteractionID = interactions.InteractionID(other.InteractionType, "a", "c", morning, "")

		out := newInteractions([]models.Interaction{fresh, other}, []models.Interaction{old}, canonical)
		require.Len(t, out, 1)
		assert.Equal(t, "c", out[0].CustomerID2)
	})
}
