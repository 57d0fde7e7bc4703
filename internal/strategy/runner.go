package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/solflow/solflow/internal/solana"
	"github.com/solflow/solflow/internal/swap"
)

// ---------------------------------------------------------------------------
// Strategy Runner — drives recurring swaps through the executor
// ---------------------------------------------------------------------------

// Executor is the surface the runner needs from the swap pipeline.
// *swap.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, req swap.Request) (*swap.Outcome, error)
}

// BalanceSource provides the wallet balance for percentage-sized
// specs. solana.RPCClient satisfies it.
type BalanceSource interface {
	GetWalletBalance(ctx context.Context, wallet solana.Pubkey) (*solana.WalletBalance, error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBalanceSource enables position_size_pct sizing. Without it,
// percentage-sized specs skip every tick with an error log.
func WithBalanceSource(src BalanceSource, wallet solana.Pubkey) RunnerOption {
	return func(r *Runner) {
		r.balances = src
		r.wallet = wallet
	}
}

// Runner schedules enabled specs on independent tickers. Each tick
// produces a deterministic intent ID, so a restarted daemon inside the
// same tick window dedupes against the executor instead of double
// spending.
type Runner struct {
	exec     Executor
	specs    []*Spec
	balances BalanceSource
	wallet   solana.Pubkey

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	ticks    atomic.Int64
	executed atomic.Int64
	denied   atomic.Int64
	failed   atomic.Int64
}

// NewRunner builds a runner over the given specs. Disabled specs are
// kept for Stats visibility but never scheduled.
func NewRunner(exec Executor, specs []*Spec, opts ...RunnerOption) *Runner {
	r := &Runner{exec: exec, specs: specs}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches one goroutine per enabled spec. Calling Start twice
// is a no-op.
func (r *Runner) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	enabled := 0
	for _, spec := range r.specs {
		if !spec.Enabled {
			continue
		}
		enabled++
		r.wg.Add(1)
		go r.runSpec(ctx, spec)
	}

	log.Info().
		Int("specs", len(r.specs)).
		Int("enabled", enabled).
		Msg("strategy: runner started")
}

// Stop cancels all schedules and waits for in-progress ticks.
func (r *Runner) Stop() {
	if !r.started.CompareAndSwap(true, false) {
		return
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
	log.Info().Msg("strategy: runner stopped")
}

func (r *Runner) runSpec(ctx context.Context, spec *Spec) {
	defer r.wg.Done()

	interval := time.Duration(spec.IntervalS) * time.Second

	// Stagger startup so every schedule does not hit the aggregator at
	// the same instant.
	if spec.JitterS > 0 {
		jitter := time.Duration(rand.Int63n(int64(spec.JitterS)+1)) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runs := 0
	r.tick(ctx, spec, interval)
	runs++

	for {
		if spec.MaxRuns > 0 && runs >= spec.MaxRuns {
			log.Info().
				Str("strategy_id", spec.StrategyID).
				Int("runs", runs).
				Msg("strategy: max runs reached")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, spec, interval)
			runs++
		}
	}
}

func (r *Runner) tick(ctx context.Context, spec *Spec, interval time.Duration) {
	r.ticks.Add(1)

	amountRaw := spec.AmountRaw
	notional := spec.NotionalSOL
	if spec.PositionSizePct.IsPositive() {
		var err error
		amountRaw, err = r.sizeFromBalance(ctx, spec)
		if err != nil {
			r.failed.Add(1)
			log.Error().
				Str("strategy_id", spec.StrategyID).
				Err(err).
				Msg("strategy: sizing failed, tick skipped")
			return
		}
		if amountRaw == 0 {
			log.Warn().
				Str("strategy_id", spec.StrategyID).
				Msg("strategy: sized amount is zero, tick skipped")
			return
		}
		notional = solana.LamportsToSOL(amountRaw)
	}

	req := swap.Request{
		IntentID:          intentID(spec, time.Now(), interval),
		StrategyID:        spec.StrategyID,
		InputMint:         spec.InputMint,
		OutputMint:        spec.OutputMint,
		AmountRaw:         amountRaw,
		NotionalSOL:       notional,
		SlippageBps:       spec.SlippageBps,
		MinOutRaw:         spec.MinOutLamports,
		MaxPriceImpactPct: spec.MaxPriceImpactPct,
	}

	outcome, err := r.exec.Execute(ctx, req)
	if err != nil {
		if se, ok := swap.AsError(err); ok && se.Kind == swap.KindRiskDenied {
			r.denied.Add(1)
			log.Warn().
				Str("strategy_id", spec.StrategyID).
				Str("intent_id", req.IntentID).
				Err(err).
				Msg("strategy: swap denied")
			return
		}
		r.failed.Add(1)
		log.Error().
			Str("strategy_id", spec.StrategyID).
			Str("intent_id", req.IntentID).
			Err(err).
			Msg("strategy: swap failed")
		return
	}

	r.executed.Add(1)
	log.Info().
		Str("strategy_id", spec.StrategyID).
		Str("intent_id", req.IntentID).
		Str("signature", string(outcome.Signature)).
		Str("status", outcome.Status).
		Msg("strategy: swap settled")
}

// sizeFromBalance converts a percentage-of-balance spec into a raw
// lamport amount from the wallet's current SOL balance.
func (r *Runner) sizeFromBalance(ctx context.Context, spec *Spec) (uint64, error) {
	if r.balances == nil || r.wallet == "" {
		return 0, fmt.Errorf("no balance source configured for %s", spec.StrategyID)
	}
	bal, err := r.balances.GetWalletBalance(ctx, r.wallet)
	if err != nil {
		return 0, fmt.Errorf("balance lookup: %w", err)
	}
	size := decimal.NewFromUint64(bal.Lamports).
		Mul(spec.PositionSizePct).
		Div(decimal.NewFromInt(100)).
		IntPart()
	if size < 0 {
		return 0, nil
	}
	return uint64(size), nil
}

// intentID is stable within one tick window for a given spec, which is
// what makes restart dedupe work.
func intentID(spec *Spec, now time.Time, interval time.Duration) string {
	window := now.UTC().Truncate(interval).Unix()
	raw := fmt.Sprintf("%s|%s>%s|%d", spec.StrategyID, spec.InputMint, spec.OutputMint, window)
	sum := sha256.Sum256([]byte(raw))
	return "strat-" + hex.EncodeToString(sum[:12])
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

type RunnerStats struct {
	Specs    int   `json:"specs"`
	Enabled  int   `json:"enabled"`
	Running  bool  `json:"running"`
	Ticks    int64 `json:"ticks"`
	Executed int64 `json:"executed"`
	Denied   int64 `json:"denied"`
	Failed   int64 `json:"failed"`
}

func (r *Runner) Stats() RunnerStats {
	enabled := 0
	for _, spec := range r.specs {
		if spec.Enabled {
			enabled++
		}
	}
	return RunnerStats{
		Specs:    len(r.specs),
		Enabled:  enabled,
		Running:  r.started.Load(),
		Ticks:    r.ticks.Load(),
		Executed: r.executed.Load(),
		Denied:   r.denied.Load(),
		Failed:   r.failed.Load(),
	}
}
