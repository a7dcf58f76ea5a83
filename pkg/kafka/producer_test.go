package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompression(t *testing.T) {
	assert.Equal(t, kafka.Gzip, compression("gzip"))
	assert.Equal(t, kafka.Lz4, compression("lz4"))
	assert.Equal(t, kafka.Zstd, compression("zstd"))
	assert.Equal(t, kafka.Compression(0), compression("none"))
	assert.Equal(t, kafka.Snappy, compression(""))
}

func TestEncode(t *testing.T) {
	t.Run("should encode value and headers", func(t *testing.T) {
		out, err := encode(context.Background(), "fern.events", []Message{
			{Key: "cust-1", EventType: "merge.review_requested", RunID: "run-1", Value: map[string]string{"id": "r1"}},
		})
		require.NoError(t, err)
		require.Len(t, out, 1)

		assert.Equal(t, "fern.events", out[0].Topic)
		assert.Equal(t, []byte("cust-1"), out[0].Key)

		var body map[string]string
		require.NoError(t, json.Unmarshal(out[0].Value, &body))
		assert.Equal(t, "r1", body["id"])

		headers := map[string]string{}
		for _, h := range out[0].Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "merge.review_requested", headers["event_type"])
		assert.Equal(t, "run-1", headers["run_id"])
		assert.Equal(t, SchemaVersion, headers["schema_version"])
		assert.NotContains(t, headers, "traceparent")
	})

	t.Run("should fail on an unencodable value", func(t *testing.T) {
		_, err := encode(context.Background(), "t", []Message{{Value: make(chan int)}})
		assert.Error(t, err)
	})
}
