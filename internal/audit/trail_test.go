package audit

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solflow/solflow/internal/bus"
	"github.com/solflow/solflow/internal/risk"
)

func TestTrailRecordsAndPublishes(t *testing.T) {
	producer := bus.NewStubProducer()
	trail := NewTrail(producer, 100)

	event := bus.SwapRequested{
		BaseEvent: bus.NewBaseEvent("test", "1.0.0"),
		IntentID:  "intent-1",
	}
	trail.RecordSwapRequested("trace-1", event)
	trail.RecordRiskCheck("trace-1", risk.Decision{
		IntentID:  "intent-1",
		Allowed:   true,
		Timestamp: time.Now().UnixMicro(),
	})
	trail.RecordSubmit("trace-1", "intent-1", "sig-abc")
	trail.RecordConfirm("trace-1", "intent-1", "sig-abc", "confirmed")

	assert.Equal(t, 4, trail.Len())

	chain := trail.Query("trace-1")
	require.Len(t, chain, 4)
	assert.Equal(t, EventSwapRequested, chain[0].EventType)
	assert.Equal(t, EventRiskCheck, chain[1].EventType)
	assert.Equal(t, "allow", chain[1].Decision)
	assert.Equal(t, EventConfirm, chain[3].EventType)
	assert.Equal(t, "sig-abc", chain[3].Signature)

	// Every entry went to the audit topic.
	msgs := producer.MessagesFor(bus.TopicAudit)
	require.Len(t, msgs, 4)

	var entry Entry
	require.NoError(t, json.Unmarshal(msgs[0].Value, &entry))
	assert.Equal(t, "intent-1", entry.IntentID)
}

func TestTrailQueryIntent(t *testing.T) {
	trail := NewTrail(nil, 100)
	trail.RecordSubmit("trace-a", "intent-a", "sig-1")
	trail.RecordSubmit("trace-b", "intent-b", "sig-2")
	trail.RecordConfirm("trace-a", "intent-a", "sig-1", "finalized")

	assert.Len(t, trail.QueryIntent("intent-a"), 2)
	assert.Len(t, trail.QueryIntent("intent-b"), 1)
	assert.Empty(t, trail.QueryIntent("intent-c"))
}

func TestTrailFIFOEviction(t *testing.T) {
	trail := NewTrail(nil, 3)
	for i := 0; i < 5; i++ {
		trail.RecordSubmit("trace", fmt.Sprintf("intent-%d", i), "sig")
	}

	entries := trail.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "intent-2", entries[0].IntentID)
	assert.Equal(t, "intent-4", entries[2].IntentID)
}

func TestTrailFailureEntry(t *testing.T) {
	trail := NewTrail(nil, 10)
	trail.RecordFailure("trace-x", bus.SwapFailed{
		BaseEvent: bus.NewBaseEvent("test", "1.0.0"),
		IntentID:  "intent-x",
		Stage:     "confirm",
		Kind:      "SLIPPAGE_EXCEEDED",
		Reason:    "custom program error 0x1771",
	})

	entries := trail.Query("trace-x")
	require.Len(t, entries, 1)
	assert.Equal(t, EventFailure, entries[0].EventType)
	assert.Equal(t, "SLIPPAGE_EXCEEDED", entries[0].Decision)
	assert.Contains(t, entries[0].Payload, "0x1771")
}

func TestTrailZeroBuffer(t *testing.T) {
	producer := bus.NewStubProducer()
	trail := NewTrail(producer, 0)
	trail.RecordControl("pause", "http")

	assert.Equal(t, 0, trail.Len())
	assert.Len(t, producer.MessagesFor(bus.TopicAudit), 1)
}
