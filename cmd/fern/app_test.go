package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/testinfra"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
)

func TestPipelineOptions(t *testing.T) {
	cfg := &config.Config{Pipeline: config.PipelineConfig{
		Timezone:            "America/Chicago",
		LockName:            "fern:pipeline",
		Workers:             8,
		LowNameThreshold:    0.95,
		NameLookupThreshold: 0.85,
		CoPresenceWindow:    20 * time.Minute,
		PurchaseLookback:    72 * time.Hour,
		LookbackDays:        30,
		MembershipSizes:     []string{"family"},
		MaxMemberIDGap:      2,
		GuestEntryMethods:   []string{"GUE", "GST"},
	}}

	t.Run("should carry every pipeline setting", func(t *testing.T) {
		opts, err := pipelineOptions(cfg)
		require.NoError(t, err)

		assert.Equal(t, "America/Chicago", opts.Location.String())
		assert.Equal(t, 8, opts.Workers)
		assert.Equal(t, 0.95, opts.LowNameThreshold)
		assert.Equal(t, 0.85, opts.NameLookupThreshold)
		assert.Equal(t, 20*time.Minute, opts.Interactions.CoPresenceWindow)
		assert.Equal(t, 72*time.Hour, opts.Interactions.PurchaseLookback)
		assert.Equal(t, 30, opts.Interactions.LookbackDays)
		assert.Equal(t, []string{"family"}, opts.Interactions.MembershipSizes)
		assert.Equal(t, 2, opts.Interactions.MaxMemberIDGap)
		assert.Equal(t, []string{"GUE", "GST"}, opts.Interactions.GuestEntryMethods)
		assert.NotNil(t, opts.Now)
	})

	t.Run("should reject an unknown timezone", func(t *testing.T) {
		bad := *cfg
		bad.Pipeline.Timezone = "Mars/Olympus"
		_, err := pipelineOptions(&bad)
		assert.Error(t, err)
	})
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, &models.RunSummary{RunID: "run-1", Status: models.RunStatusSucceeded}))

	var out models.RunSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "run-1", out.RunID)
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "connections", "migrate", "serve"} {
		assert.True(t, names[want], want)
	}
}

func TestRedisRunLocker(t *testing.T) {
	testinfra.SkipShort(t)

	ctx := context.Background()
	host, port := testinfra.StartRedis(ctx, t)
	client, err := redis.NewClient(ctx, redis.Config{Host: host, Port: port}, logger.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := newRedisRunLocker(redis.NewLocker(client, "test:", time.Minute), logger.Noop())

	t.Run("should refuse a second run while the lock is held", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "pipeline")
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "pipeline")
		assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

		require.NoError(t, lock.Release(ctx))

		again, err := locker.Acquire(ctx, "pipeline")
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})
}
