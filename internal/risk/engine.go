package risk

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Engine is the pre-trade risk gate. Every swap passes through Check
// before any quote is requested.
//
// Hardcoded minimums (not configurable, not disableable):
// - max_daily_spend: ALWAYS active
// - max_daily_loss: ALWAYS active
// - kill_switch: ALWAYS responsive (in-process, no broker round-trip)
type Engine struct {
	config Config

	// State, guarded by mu. Daily counters reset on UTC day rollover.
	mu         sync.RWMutex
	day        string // UTC date the counters belong to
	dailySpent decimal.Decimal
	dailyPnL   decimal.Decimal
	inFlight   int

	// Kill switch - atomic for lock-free check.
	killed atomic.Bool
	frozen atomic.Bool

	// Metrics.
	allowed atomic.Int64
	denied  atomic.Int64
	freezes atomic.Int64
}

// Config holds risk engine limits. Amounts are denominated in SOL.
type Config struct {
	MaxNotionalSOL   decimal.Decimal // per swap
	MaxDailySpendSOL decimal.Decimal
	MaxDailyLossSOL  decimal.Decimal
	MaxInFlight      int
	MaxSlippageBps   int
}

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		MaxNotionalSOL:   decimal.NewFromFloat(1.0),
		MaxDailySpendSOL: decimal.NewFromFloat(5.0),
		MaxDailyLossSOL:  decimal.NewFromFloat(0.5),
		MaxInFlight:      4,
		MaxSlippageBps:   500,
	}
}

// Intent is what the engine evaluates: a proposed swap spend.
type Intent struct {
	IntentID    string
	InputMint   string
	OutputMint  string
	NotionalSOL decimal.Decimal
	SlippageBps int
}

// Decision is the outcome of a risk check.
type Decision struct {
	IntentID    string   `json:"intent_id"`
	Allowed     bool     `json:"allowed"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
	Timestamp   int64    `json:"ts"`
}

// New creates a risk engine.
func New(cfg Config) *Engine {
	return &Engine{
		config: cfg,
		day:    utcDay(time.Now()),
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Check evaluates a swap intent against all policies.
func (e *Engine) Check(intent Intent) Decision {
	d := Decision{
		IntentID:  intent.IntentID,
		Allowed:   true,
		Timestamp: time.Now().UnixMicro(),
	}

	// Kill switch check - ALWAYS first, atomic, no lock needed.
	if e.killed.Load() {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes, "KILL_SWITCH_ACTIVE")
		return d
	}

	if e.frozen.Load() {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes, "SYSTEM_FROZEN")
		return d
	}

	e.mu.Lock()
	e.rolloverLocked()

	// Max notional per swap.
	if e.config.MaxNotionalSOL.IsPositive() && intent.NotionalSOL.GreaterThan(e.config.MaxNotionalSOL) {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes,
			fmt.Sprintf("SWAP_TOO_LARGE:notional=%s,limit=%s", intent.NotionalSOL, e.config.MaxNotionalSOL))
	}

	// Daily spend cap (HARDCODED - NOT DISABLEABLE).
	if e.config.MaxDailySpendSOL.IsPositive() &&
		e.dailySpent.Add(intent.NotionalSOL).GreaterThan(e.config.MaxDailySpendSOL) {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes,
			fmt.Sprintf("DAILY_SPEND_EXCEEDED:spent=%s,order=%s,limit=%s",
				e.dailySpent, intent.NotionalSOL, e.config.MaxDailySpendSOL))
	}

	// Daily loss cap (HARDCODED - NOT DISABLEABLE).
	if e.config.MaxDailyLossSOL.IsPositive() &&
		e.dailyPnL.LessThan(e.config.MaxDailyLossSOL.Neg()) {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes,
			fmt.Sprintf("DAILY_LOSS_EXCEEDED:pnl=%s,limit=%s", e.dailyPnL, e.config.MaxDailyLossSOL.Neg()))
	}

	// In-flight swap limit.
	if e.config.MaxInFlight > 0 && e.inFlight >= e.config.MaxInFlight {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes,
			fmt.Sprintf("TOO_MANY_IN_FLIGHT:current=%d,limit=%d", e.inFlight, e.config.MaxInFlight))
	}

	// Slippage ceiling.
	if e.config.MaxSlippageBps > 0 && intent.SlippageBps > e.config.MaxSlippageBps {
		d.Allowed = false
		d.ReasonCodes = append(d.ReasonCodes,
			fmt.Sprintf("SLIPPAGE_TOO_HIGH:bps=%d,limit=%d", intent.SlippageBps, e.config.MaxSlippageBps))
	}

	if d.Allowed {
		// Reserve spend and a slot up front. Release returns them on
		// failure so a denied swap never burns budget.
		e.dailySpent = e.dailySpent.Add(intent.NotionalSOL)
		e.inFlight++
	}
	e.mu.Unlock()

	if d.Allowed {
		e.allowed.Add(1)
		log.Debug().Str("intent_id", intent.IntentID).Msg("risk: ALLOW")
	} else {
		e.denied.Add(1)
		log.Warn().Str("intent_id", intent.IntentID).Strs("reasons", d.ReasonCodes).Msg("risk: DENY")
	}

	return d
}

// Release marks an allowed swap as finished. refund returns the
// reserved notional to the daily budget, used when the swap never
// spent anything (validation failure, no route, pre-submit error).
func (e *Engine) Release(notionalSOL decimal.Decimal, refund bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight > 0 {
		e.inFlight--
	}
	if refund {
		e.dailySpent = e.dailySpent.Sub(notionalSOL)
		if e.dailySpent.IsNegative() {
			e.dailySpent = decimal.Zero
		}
	}
}

// Restore seeds the daily counters from a saved checkpoint. Counters
// for a different UTC day are stale and ignored.
func (e *Engine) Restore(day string, spentSOL, pnlSOL decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if day != utcDay(time.Now()) {
		log.Info().Str("day", day).Msg("risk: stale checkpoint ignored")
		return
	}
	e.day = day
	e.dailySpent = spentSOL
	e.dailyPnL = pnlSOL
	log.Info().
		Str("spent", spentSOL.String()).
		Str("pnl", pnlSOL.String()).
		Msg("risk: daily counters restored")
}

// rolloverLocked resets daily counters when the UTC day changes.
func (e *Engine) rolloverLocked() {
	today := utcDay(time.Now())
	if today != e.day {
		log.Info().
			Str("prev_day", e.day).
			Str("spent", e.dailySpent.String()).
			Str("pnl", e.dailyPnL.String()).
			Msg("risk: daily counters reset")
		e.day = today
		e.dailySpent = decimal.Zero
		e.dailyPnL = decimal.Zero
	}
}

// Kill activates the kill switch. Immediate, in-process, irreversible
// without a restart.
func (e *Engine) Kill() {
	e.killed.Store(true)
	log.Error().Msg("KILL SWITCH ACTIVATED - all swaps stopped")
}

// Freeze halts new swaps (can be resumed, unlike kill).
func (e *Engine) Freeze(reason string) {
	e.frozen.Store(true)
	e.freezes.Add(1)
	log.Warn().Str("reason", reason).Msg("SYSTEM FROZEN")
}

// Resume unfreezes the system.
func (e *Engine) Resume() {
	if e.killed.Load() {
		log.Warn().Msg("cannot resume: kill switch is active (requires restart)")
		return
	}
	e.frozen.Store(false)
	log.Info().Msg("system resumed")
}

// RecordPnL adds realized PnL from a settled swap. Auto-freezes when
// the daily loss cap is breached.
func (e *Engine) RecordPnL(pnlSOL decimal.Decimal) {
	e.mu.Lock()
	e.rolloverLocked()
	e.dailyPnL = e.dailyPnL.Add(pnlSOL)
	breached := e.config.MaxDailyLossSOL.IsPositive() &&
		e.dailyPnL.LessThan(e.config.MaxDailyLossSOL.Neg())
	pnl := e.dailyPnL
	e.mu.Unlock()

	if breached && !e.frozen.Load() {
		e.frozen.Store(true)
		e.freezes.Add(1)
		log.Error().
			Str("pnl", pnl.String()).
			Str("limit", e.config.MaxDailyLossSOL.Neg().String()).
			Msg("AUTO-FREEZE: daily loss limit breached")
	}
}

// IsActive returns true if the system is not killed or frozen.
func (e *Engine) IsActive() bool {
	return !e.killed.Load() && !e.frozen.Load()
}

// Snapshot is the observable state of the engine.
type Snapshot struct {
	Day          string          `json:"day"`
	DailySpent   decimal.Decimal `json:"daily_spent_sol"`
	DailyPnL     decimal.Decimal `json:"daily_pnl_sol"`
	InFlight     int             `json:"in_flight"`
	Killed       bool            `json:"killed"`
	Frozen       bool            `json:"frozen"`
	AllowedTotal int64           `json:"allowed_total"`
	DeniedTotal  int64           `json:"denied_total"`
	FreezesTotal int64           `json:"freezes_total"`
}

// Stats returns risk engine state for the control plane.
func (e *Engine) Stats() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Day:          e.day,
		DailySpent:   e.dailySpent,
		DailyPnL:     e.dailyPnL,
		InFlight:     e.inFlight,
		Killed:       e.killed.Load(),
		Frozen:       e.frozen.Load(),
		AllowedTotal: e.allowed.Load(),
		DeniedTotal:  e.denied.Load(),
		FreezesTotal: e.freezes.Load(),
	}
}
