package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeProducer struct {
	err   error
	calls int
	sent  []kafka.Message
}

func (f *fakeProducer) Publish(_ context.Context, messages ...kafka.Message) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func runOutput() *models.RunOutput {
	return &models.RunOutput{
		RunID: "run-1",
		MergeReviews: []models.MergeReview{
			{ID: "r1", SurvivorCustomerID: "cust-a", AbsorbedCustomerIDs: []string{"cust-b"}, Status: models.MergeReviewPending},
		},
		Summary: &models.RunSummary{RunID: "run-1", Status: models.RunStatusSucceeded},
	}
}

func TestEmitter(t *testing.T) {
	ctx := context.Background()

	t.Run("should emit reviews then the run summary", func(t *testing.T) {
		producer := &fakeProducer{}
		e := NewEmitter(producer, DefaultBreakerConfig(), logger.Noop())
		e.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

		require.NoError(t, e.Publish(ctx, runOutput()))
		require.Len(t, producer.sent, 2)

		assert.Equal(t, EventMergeReviewRequested, producer.sent[0].EventType)
		assert.Equal(t, "cust-a", producer.sent[0].Key)
		assert.Equal(t, EventRunCompleted, producer.sent[1].EventType)
		assert.Equal(t, "run-1", producer.sent[1].Key)

		event, ok := producer.sent[1].Value.(Event)
		require.True(t, ok)
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, 2025, event.Timestamp.Year())
	})

	t.Run("should skip an empty output", func(t *testing.T) {
		producer := &fakeProducer{}
		e := NewEmitter(producer, DefaultBreakerConfig(), logger.Noop())

		require.NoError(t, e.Publish(ctx, &models.RunOutput{RunID: "run-2"}))
		assert.Zero(t, producer.calls)
	})

	t.Run("should open the breaker after consecutive failures", func(t *testing.T) {
		producer := &fakeProducer{err: errors.New("broker down")}
		cfg := DefaultBreakerConfig()
		cfg.FailureThreshold = 2
		e := NewEmitter(producer, cfg, logger.Noop())

		assert.Error(t, e.Publish(ctx, runOutput()))
		assert.Error(t, e.Publish(ctx, runOutput()))
		assert.Equal(t, gobreaker.StateOpen.String(), e.State())

		err := e.Publish(ctx, runOutput())
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 2, producer.calls)
	})

	t.Run("should name itself", func(t *testing.T) {
		assert.Equal(t, "events", NewEmitter(&fakeProducer{}, DefaultBreakerConfig(), logger.Noop()).Name())
	})
}
