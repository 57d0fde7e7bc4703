package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solflow/solflow/internal/bus"
	"github.com/solflow/solflow/internal/risk"
)

// Entry event types.
const (
	EventSwapRequested = "swap_requested"
	EventRiskCheck     = "risk_check"
	EventSubmit        = "submit"
	EventConfirm       = "confirm"
	EventFailure       = "failure"
	EventControl       = "control" // pause/resume/kill
)

// Entry is a single audit trail entry. Every decision the executor
// makes gets recorded, creating a log for replay and debugging.
type Entry struct {
	TraceID     string    `json:"trace_id"`
	CausationID string    `json:"causation_id,omitempty"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"ts"`
	IntentID    string    `json:"intent_id,omitempty"`
	StrategyID  string    `json:"strategy_id,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	Decision    string    `json:"decision,omitempty"` // for risk checks: allow|deny
	Payload     string    `json:"payload"`            // JSON of the full event
}

// Trail records the decision chain of every swap. It keeps a bounded
// in-memory buffer for querying and publishes each entry to the audit
// topic via the producer.
type Trail struct {
	mu       sync.Mutex
	producer bus.Producer
	entries  []Entry
	maxBuf   int
}

// NewTrail creates an audit trail. maxBuf bounds the in-memory buffer;
// once full, the oldest entries are discarded (FIFO). Zero disables
// buffering, entries are only published.
func NewTrail(producer bus.Producer, maxBuf int) *Trail {
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Trail{
		producer: producer,
		entries:  make([]Entry, 0, maxBuf),
		maxBuf:   maxBuf,
	}
}

// RecordSwapRequested logs a swap entering the pipeline.
func (t *Trail) RecordSwapRequested(traceID string, event bus.SwapRequested) {
	t.record(Entry{
		TraceID:    traceID,
		EventType:  EventSwapRequested,
		Timestamp:  event.Timestamp,
		IntentID:   event.IntentID,
		StrategyID: event.StrategyID,
		Payload:    mustMarshal(event),
	})
}

// RecordRiskCheck logs a risk decision.
func (t *Trail) RecordRiskCheck(traceID string, decision risk.Decision) {
	decisionStr := "deny"
	if decision.Allowed {
		decisionStr = "allow"
	}

	t.record(Entry{
		TraceID:     traceID,
		CausationID: decision.IntentID,
		EventType:   EventRiskCheck,
		Timestamp:   time.Unix(0, decision.Timestamp*1000), // Timestamp is in microseconds.
		IntentID:    decision.IntentID,
		Decision:    decisionStr,
		Payload:     mustMarshal(decision),
	})
}

// RecordSubmit logs a transaction submission.
func (t *Trail) RecordSubmit(traceID, intentID, signature string) {
	t.record(Entry{
		TraceID:   traceID,
		EventType: EventSubmit,
		Timestamp: time.Now(),
		IntentID:  intentID,
		Signature: signature,
		Payload:   "{}",
	})
}

// RecordConfirm logs a terminal confirmation.
func (t *Trail) RecordConfirm(traceID, intentID, signature, status string) {
	t.record(Entry{
		TraceID:   traceID,
		EventType: EventConfirm,
		Timestamp: time.Now(),
		IntentID:  intentID,
		Signature: signature,
		Decision:  status,
		Payload:   "{}",
	})
}

// RecordFailure logs a terminal failure with its stage and kind.
func (t *Trail) RecordFailure(traceID string, event bus.SwapFailed) {
	t.record(Entry{
		TraceID:   traceID,
		EventType: EventFailure,
		Timestamp: event.Timestamp,
		IntentID:  event.IntentID,
		Signature: event.Signature,
		Decision:  event.Kind,
		Payload:   mustMarshal(event),
	})
}

// RecordControl logs an operator control action (pause/resume/kill).
func (t *Trail) RecordControl(action, source string) {
	t.record(Entry{
		TraceID:   action,
		EventType: EventControl,
		Timestamp: time.Now(),
		Decision:  action,
		Payload:   mustMarshal(map[string]string{"action": action, "source": source}),
	})
}

// Query returns all entries matching a trace ID. Searches the
// in-memory buffer only.
func (t *Trail) Query(traceID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for _, e := range t.entries {
		if e.TraceID == traceID {
			result = append(result, e)
		}
	}
	return result
}

// QueryIntent returns all entries for an intent ID.
func (t *Trail) QueryIntent(intentID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for _, e := range t.entries {
		if e.IntentID == intentID {
			result = append(result, e)
		}
	}
	return result
}

// Entries returns a copy of the in-memory buffer.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// record adds an entry to the buffer and publishes it to the bus.
func (t *Trail) record(entry Entry) {
	t.mu.Lock()
	if t.maxBuf > 0 {
		if len(t.entries) >= t.maxBuf {
			// Shift left: discard oldest entry.
			copy(t.entries, t.entries[1:])
			t.entries[len(t.entries)-1] = entry
		} else {
			t.entries = append(t.entries, entry)
		}
	}
	t.mu.Unlock()

	// Publish outside the lock.
	if t.producer != nil {
		key := entry.EventType
		if entry.TraceID != "" {
			key = entry.TraceID
		}
		if err := t.producer.PublishJSON(context.Background(), bus.TopicAudit, key, entry); err != nil {
			log.Error().Err(err).
				Str("event_type", entry.EventType).
				Str("trace_id", entry.TraceID).
				Msg("failed to publish audit entry")
		}
	}
}

// mustMarshal marshals v to JSON, returning "{}" on error.
func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal audit payload")
		return "{}"
	}
	return string(data)
}
