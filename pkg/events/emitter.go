// Package events emits run lifecycle events for downstream consumers
package events

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/sony/gobreaker/v2"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	EventMergeReviewRequested = "merge.review_requested"
	EventRunCompleted         = "pipeline.run_completed"
)

// Producer is the subset of the Kafka producer the emitter writes through
type Producer interface {
	Publish(ctx context.Context, messages ...kafka.Message) error
}

// Event is the envelope every message value carries
type Event struct {
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// BreakerConfig tunes the circuit breaker around the producer
type BreakerConfig struct {
	FailureThreshold uint32
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
	}
}

// Emitter publishes run output as events. It implements pipeline.Publisher.
type Emitter struct {
	producer Producer
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   ectologger.Logger
	now      func() time.Time
}

func NewEmitter(producer Producer, cfg BreakerConfig, logger ectologger.Logger) *Emitter {
	settings := gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Event breaker changed state")
		},
	}

	return &Emitter{
		producer: producer,
		breaker:  gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:   logger,
		now:      time.Now,
	}
}

func (e *Emitter) Name() string {
	return "events"
}

// State reports the breaker state, for health checks
func (e *Emitter) State() string {
	return e.breaker.State().String()
}

// Publish emits one merge.review_requested per review, then pipeline.run_completed
func (e *Emitter) Publish(ctx context.Context, out *models.RunOutput) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Publish")
	defer span.End()

	messages := e.messages(out)
	if len(messages) == 0 {
		return nil
	}

	_, err := e.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, e.producer.Publish(ctx, messages...)
	})
	if err != nil {
		log := e.logger.WithContext(ctx).WithError(err).WithField("run_id", out.RunID)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn("Event breaker open, dropping run events")
		} else {
			log.Error("Failed to emit run events")
		}
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": out.RunID,
		"events": len(messages),
	}).Debug("Emitted run events")
	return nil
}

func (e *Emitter) messages(out *models.RunOutput) []kafka.Message {
	now := e.now().UTC()
	messages := make([]kafka.Message, 0, len(out.MergeReviews)+1)
	for _, review := range out.MergeReviews {
		messages = append(messages, kafka.Message{
			Key:       review.SurvivorCustomerID,
			EventType: EventMergeReviewRequested,
			RunID:     out.RunID,
			Value: Event{
				EventType: EventMergeReviewRequested,
				RunID:     out.RunID,
				Timestamp: now,
				Data:      review,
			},
		})
	}
	if out.Summary != nil {
		messages = append(messages, kafka.Message{
			Key:       out.RunID,
			EventType: EventRunCompleted,
			RunID:     out.RunID,
			Value: Event{
				EventType: EventRunCompleted,
				RunID:     out.RunID,
				Timestamp: now,
				Data:      out.Summary,
			},
		})
	}
	return messages
}
