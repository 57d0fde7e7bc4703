package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topics published by the daemon.
const (
	TopicSwaps     = "solflow.swaps"
	TopicRisk      = "solflow.risk"
	TopicAudit     = "solflow.audit"
	TopicHeartbeat = "solflow.heartbeat"
)

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
	TraceID       string    `json:"trace_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with generated IDs.
func NewBaseEvent(producer, schemaVersion string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Producer:      producer,
		TraceID:       uuid.New().String()[:16],
	}
}

// --- Swap lifecycle events ---

// SwapRequested is emitted when a swap enters the pipeline.
type SwapRequested struct {
	BaseEvent
	IntentID    string          `json:"intent_id"`
	StrategyID  string          `json:"strategy_id,omitempty"`
	InputMint   string          `json:"input_mint"`
	OutputMint  string          `json:"output_mint"`
	AmountRaw   uint64          `json:"amount_raw"`
	NotionalSOL decimal.Decimal `json:"notional_sol"`
	SlippageBps int             `json:"slippage_bps"`
	DryRun      bool            `json:"dry_run"`
}

// SwapExecuted is emitted when a swap reaches a terminal success state.
type SwapExecuted struct {
	BaseEvent
	IntentID     string   `json:"intent_id"`
	Signature    string   `json:"signature,omitempty"` // empty on dry-run
	InputMint    string   `json:"input_mint"`
	OutputMint   string   `json:"output_mint"`
	InAmountRaw  uint64   `json:"in_amount_raw"`
	OutAmountRaw uint64   `json:"out_amount_raw"`
	Route        []string `json:"route,omitempty"`
	Status       string   `json:"status"` // confirmed|finalized|dry_run
	ElapsedMs    int64    `json:"elapsed_ms"`
}

// SwapFailed is emitted when a swap reaches a terminal failure state.
type SwapFailed struct {
	BaseEvent
	IntentID  string `json:"intent_id"`
	Signature string `json:"signature,omitempty"` // set when the tx was submitted
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

// --- Risk events ---

// RiskDecision mirrors the in-process decision onto the bus for audit.
type RiskDecision struct {
	BaseEvent
	IntentID    string   `json:"intent_id"`
	Decision    string   `json:"decision"` // allow|deny
	ReasonCodes []string `json:"reason_codes,omitempty"`
	DailySpent  string   `json:"daily_spent_sol"`
	DailyPnL    string   `json:"daily_pnl_sol"`
}

// --- Heartbeat ---

// Heartbeat is the daemon liveness event.
type Heartbeat struct {
	BaseEvent
	Component string             `json:"component"`
	Status    string             `json:"status"` // healthy|degraded|unhealthy
	Uptime    time.Duration      `json:"uptime_seconds"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}
