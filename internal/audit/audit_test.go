package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	ev := Event{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UserID:    "alice",
		Phase:     "pre",
		Policy:    "api_limit",
		Allowed:   false,
		Reason:    "Rate limit exceeded",
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "alice", decoded["user_id"])
	assert.Equal(t, "pre", decoded["phase"])
	assert.Equal(t, "api_limit", decoded["policy"])
	assert.Equal(t, false, decoded["allowed"])
	assert.Equal(t, "Rate limit exceeded", decoded["reason"])
	// Empty optional fields are omitted entirely.
	assert.NotContains(t, decoded, "endpoint")
}

func TestNopSink(t *testing.T) {
	var sink Sink = NopSink{}

	assert.NoError(t, sink.Publish(context.Background(), Event{UserID: "bob"}))
	assert.NoError(t, sink.Close())
}
