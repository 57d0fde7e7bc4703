package swap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/solflow/solflow/internal/audit"
	"github.com/solflow/solflow/internal/bus"
	"github.com/solflow/solflow/internal/jupiter"
	"github.com/solflow/solflow/internal/ledger"
	"github.com/solflow/solflow/internal/risk"
	"github.com/solflow/solflow/internal/solana"
	"github.com/solflow/solflow/internal/wallet"
)

// ---------------------------------------------------------------------------
// Swap Executor — quote, build, sign, submit, confirm
// ---------------------------------------------------------------------------

// Config tunes the executor.
type Config struct {
	DefaultSlippageBps int
	QuoteTimeout       time.Duration
	SubmitTimeout      time.Duration
	// CompletedRetention bounds how many finished outcomes are kept
	// for idempotent replay of the same intent ID.
	CompletedRetention int
	DryRun             bool // global, forces every request to dry-run
	Producer           string
}

// DefaultConfig returns executor defaults.
func DefaultConfig() Config {
	return Config{
		DefaultSlippageBps: 100,
		QuoteTimeout:       10 * time.Second,
		SubmitTimeout:      15 * time.Second,
		CompletedRetention: 4096,
		Producer:           "solflow-executor",
	}
}

// Request is one swap to execute. IntentID is the idempotency key:
// executing the same ID twice returns the first outcome instead of
// swapping again.
type Request struct {
	IntentID    string
	StrategyID  string
	InputMint   solana.Pubkey
	OutputMint  solana.Pubkey
	AmountRaw   uint64          // input amount in the mint's smallest unit
	NotionalSOL decimal.Decimal // SOL-denominated spend, for risk accounting
	SlippageBps int
	// MinOutRaw rejects the quote before any transaction is built when
	// the quoted output falls below this floor. Zero disables it.
	MinOutRaw uint64
	// MaxPriceImpactPct rejects quotes whose price impact exceeds this
	// percentage. Zero disables it.
	MaxPriceImpactPct decimal.Decimal
	// PriorityFeeLamports pins the priority fee; zero uses the
	// estimator (or lets the aggregator choose when there is none).
	PriorityFeeLamports uint64
	DryRun              bool
	Urgent              bool
}

// Outcome is the terminal result of a successful (or dry-run) swap.
type Outcome struct {
	IntentID        string           `json:"intent_id"`
	TraceID         string           `json:"trace_id"`
	Signature       solana.Signature `json:"signature,omitempty"`
	InAmountRaw     uint64           `json:"in_amount_raw"`
	OutAmountRaw    uint64           `json:"out_amount_raw"`
	MinOutAmountRaw uint64           `json:"min_out_amount_raw,omitempty"`
	Route           []string         `json:"route,omitempty"`
	PriceImpactPct  string           `json:"price_impact_pct,omitempty"`
	Slot            uint64           `json:"slot,omitempty"`
	Status          string           `json:"status"` // confirmed|finalized|dry_run
	Elapsed         time.Duration    `json:"elapsed"`
	QuoteMs         int64            `json:"quote_ms"`
	BuildMs         int64            `json:"build_ms"`
	SubmitMs        int64            `json:"submit_ms"`
	ConfirmMs       int64            `json:"confirm_ms"`
	DryRun          bool             `json:"dry_run"`
}

// Executor drives the swap pipeline. All external seams are injected.
type Executor struct {
	rpc       solana.RPCClient
	jup       jupiter.API
	signer    wallet.Signer
	risk      *risk.Engine
	confirmer *solana.Confirmer
	fees      *solana.PriorityFeeEstimator // optional
	producer  bus.Producer
	trail     *audit.Trail
	ledger    *ledger.Writer // optional
	config    Config

	// Idempotency state. inflight holds intent IDs currently being
	// executed; completed maps finished IDs to their outcome with FIFO
	// retention.
	mu             sync.RWMutex
	inflight       map[string]struct{}
	completed      map[string]*Outcome
	completedOrder []string

	executed atomic.Int64
	failed   atomic.Int64
	dryRuns  atomic.Int64
}

// Deps bundles the executor's collaborators.
type Deps struct {
	RPC       solana.RPCClient
	Jupiter   jupiter.API
	Signer    wallet.Signer
	Risk      *risk.Engine
	Confirmer *solana.Confirmer
	Fees      *solana.PriorityFeeEstimator
	Producer  bus.Producer
	Trail     *audit.Trail
	Ledger    *ledger.Writer
}

// NewExecutor creates a swap executor.
func NewExecutor(deps Deps, config Config) *Executor {
	if config.DefaultSlippageBps == 0 {
		config.DefaultSlippageBps = 100
	}
	if config.QuoteTimeout == 0 {
		config.QuoteTimeout = 10 * time.Second
	}
	if config.SubmitTimeout == 0 {
		config.SubmitTimeout = 15 * time.Second
	}
	if config.CompletedRetention == 0 {
		config.CompletedRetention = 4096
	}
	if config.Producer == "" {
		config.Producer = "solflow-executor"
	}
	return &Executor{
		rpc:       deps.RPC,
		jup:       deps.Jupiter,
		signer:    deps.Signer,
		risk:      deps.Risk,
		confirmer: deps.Confirmer,
		fees:      deps.Fees,
		producer:  deps.Producer,
		trail:     deps.Trail,
		ledger:    deps.Ledger,
		config:    config,
		inflight:  make(map[string]struct{}),
		completed: make(map[string]*Outcome),
	}
}

// Execute runs the full pipeline for one request. On failure the
// returned error is always a *Error; callers inspect Retryable() to
// decide whether re-executing the same intent is safe.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()

	// --- validate ---
	if req.IntentID == "" {
		req.IntentID = uuid.New().String()
	}
	if req.SlippageBps == 0 {
		req.SlippageBps = e.config.DefaultSlippageBps
	}
	if err := e.validate(req); err != nil {
		return nil, err
	}
	dryRun := req.DryRun || e.config.DryRun

	// --- idempotency ---
	// Fast path: already completed.
	e.mu.RLock()
	if prev, ok := e.completed[req.IntentID]; ok {
		e.mu.RUnlock()
		log.Info().Str("intent_id", req.IntentID).Msg("executor: duplicate intent, returning prior outcome")
		return prev, nil
	}
	e.mu.RUnlock()

	// Double-check under write lock before registering in-flight.
	e.mu.Lock()
	if prev, ok := e.completed[req.IntentID]; ok {
		e.mu.Unlock()
		return prev, nil
	}
	if _, ok := e.inflight[req.IntentID]; ok {
		e.mu.Unlock()
		return nil, newError(KindValidation, StageValidate,
			fmt.Errorf("%w: %s is in flight", ErrDuplicateIntent, req.IntentID))
	}
	e.inflight[req.IntentID] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, req.IntentID)
		e.mu.Unlock()
	}()

	traceID := uuid.New().String()[:16]

	// --- risk ---
	notional := e.notionalSOL(req)
	decision := e.risk.Check(risk.Intent{
		IntentID:    req.IntentID,
		InputMint:   string(req.InputMint),
		OutputMint:  string(req.OutputMint),
		NotionalSOL: notional,
		SlippageBps: req.SlippageBps,
	})
	if e.trail != nil {
		e.trail.RecordRiskCheck(traceID, decision)
	}
	e.publishRiskDecision(ctx, traceID, decision)
	if !decision.Allowed {
		return nil, e.fail(ctx, req, traceID, notional, start, &Error{
			Kind:  KindRiskDenied,
			Stage: StageRisk,
			Err:   fmt.Errorf("denied: %v", decision.ReasonCodes),
		}, true)
	}

	e.publishRequested(ctx, traceID, req, notional, dryRun)

	// --- quote ---
	quoteStart := time.Now()
	quoteCtx, cancelQuote := context.WithTimeout(ctx, e.config.QuoteTimeout)
	quote, err := e.jup.GetQuote(quoteCtx, jupiter.QuoteParams{
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		AmountRaw:   req.AmountRaw,
		SlippageBps: req.SlippageBps,
	})
	cancelQuote()
	if err != nil {
		return nil, e.fail(ctx, req, traceID, notional, start, classifyQuoteErr(StageQuote, err), true)
	}

	outAmount, err := quote.OutAmountRaw()
	if err != nil {
		return nil, e.fail(ctx, req, traceID, notional, start, newError(KindInternal, StageQuote, err), true)
	}
	if gerr := checkQuoteGuards(req, quote, outAmount); gerr != nil {
		return nil, e.fail(ctx, req, traceID, notional, start, gerr, true)
	}

	outcome := &Outcome{
		IntentID:       req.IntentID,
		TraceID:        traceID,
		InAmountRaw:    req.AmountRaw,
		OutAmountRaw:   outAmount,
		Route:          quote.RouteLabels(),
		PriceImpactPct: quote.PriceImpactPct,
		QuoteMs:        time.Since(quoteStart).Milliseconds(),
		DryRun:         dryRun,
	}
	if minOut, err := quote.MinOutAmountRaw(); err == nil {
		outcome.MinOutAmountRaw = minOut
	}

	// --- dry-run short-circuit ---
	if dryRun {
		outcome.Status = "dry_run"
		outcome.Elapsed = time.Since(start)
		e.risk.Release(notional, true)
		e.dryRuns.Add(1)
		e.storeCompleted(outcome)
		e.publishExecuted(ctx, req, outcome)
		log.Info().
			Str("intent_id", req.IntentID).
			Uint64("in", req.AmountRaw).
			Uint64("out", outAmount).
			Strs("route", outcome.Route).
			Msg("executor: dry-run complete")
		return outcome, nil
	}

	// --- build ---
	buildStart := time.Now()
	priorityFee := req.PriorityFeeLamports
	if priorityFee == 0 && e.fees != nil {
		priorityFee = e.fees.EstimateFee(req.Urgent)
	}
	buildCtx, cancelBuild := context.WithTimeout(ctx, e.config.QuoteTimeout)
	swapTx, err := e.jup.BuildSwapTx(buildCtx, quote, jupiter.BuildOptions{
		UserPublicKey:            e.signer.PublicKey(),
		PriorityFeeMicroLamports: priorityFee,
	})
	cancelBuild()
	if err != nil {
		return nil, e.fail(ctx, req, traceID, notional, start, classifyQuoteErr(StageBuild, err), true)
	}
	if ferr := e.checkBlockhashFresh(ctx, swapTx.LastValidBlockHeight); ferr != nil {
		return nil, e.fail(ctx, req, traceID, notional, start, ferr, true)
	}
	outcome.BuildMs = time.Since(buildStart).Milliseconds()

	// --- sign ---
	signedTx, err := e.signer.SignTransaction(swapTx.SwapTransaction)
	if err != nil {
		return nil, e.fail(ctx, req, traceID, notional, start, newError(KindInternal, StageSign, err), true)
	}

	// --- submit ---
	// Exactly one attempt. After this point the transaction may be on
	// chain, so failures are not retryable and budget is not refunded.
	submitStart := time.Now()
	submitCtx, cancelSubmit := context.WithTimeout(ctx, e.config.SubmitTimeout)
	sig, err := e.rpc.SendTransaction(submitCtx, signedTx)
	cancelSubmit()
	if err != nil {
		sendErr := classifySendErr(err)
		// A clean preflight rejection never reached the chain, so the
		// budget comes back. A transport failure is ambiguous and the
		// reservation stands.
		refund := sendErr.Kind == KindRejected ||
			sendErr.Kind == KindInsufficientFunds ||
			sendErr.Kind == KindSlippageExceeded
		return nil, e.fail(ctx, req, traceID, notional, start, sendErr, refund)
	}
	outcome.Signature = sig
	outcome.SubmitMs = time.Since(submitStart).Milliseconds()
	if e.trail != nil {
		e.trail.RecordSubmit(traceID, req.IntentID, string(sig))
	}
	log.Info().
		Str("intent_id", req.IntentID).
		Str("sig", string(sig)).
		Uint64("priority_fee", priorityFee).
		Msg("executor: transaction submitted")

	// --- confirm ---
	confirmStart := time.Now()
	result, err := e.confirmer.Wait(ctx, sig)
	if err != nil {
		// Unknown terminal state: the transaction may still land.
		// Budget stays reserved; the intent is not retryable.
		swapErr := &Error{Kind: KindTimeout, Stage: StageConfirm, Signature: string(sig), Err: err}
		return nil, e.fail(ctx, req, traceID, notional, start, swapErr, false)
	}
	if result.Status.Failed() {
		kind := classifyOnChainErr(result.Status.ErrString)
		swapErr := &Error{
			Kind:      kind,
			Stage:     StageConfirm,
			Signature: string(sig),
			Err:       fmt.Errorf("on-chain failure: %s", result.Status.ErrString),
		}
		// The swap did not execute; only the fee is lost. Refund the
		// notional so the budget reflects actual spend.
		return nil, e.fail(ctx, req, traceID, notional, start, swapErr, true)
	}

	outcome.Status = result.Status.Status
	outcome.Slot = result.Status.Slot
	outcome.ConfirmMs = time.Since(confirmStart).Milliseconds()
	outcome.Elapsed = time.Since(start)

	if e.trail != nil {
		e.trail.RecordConfirm(traceID, req.IntentID, string(sig), outcome.Status)
	}

	// --- record ---
	e.risk.Release(notional, false)
	e.recordRealizedPnL(req, notional, outcome)
	e.executed.Add(1)
	e.storeCompleted(outcome)
	e.appendLedger(req, traceID, notional, outcome, nil)
	e.publishExecuted(ctx, req, outcome)

	log.Info().
		Str("intent_id", req.IntentID).
		Str("sig", string(sig)).
		Str("status", outcome.Status).
		Uint64("out", outcome.OutAmountRaw).
		Dur("elapsed", outcome.Elapsed).
		Msg("executor: swap confirmed")

	return outcome, nil
}

func (e *Executor) validate(req Request) error {
	switch {
	case req.InputMint == "":
		return newError(KindValidation, StageValidate, fmt.Errorf("input mint required"))
	case req.OutputMint == "":
		return newError(KindValidation, StageValidate, fmt.Errorf("output mint required"))
	case req.InputMint == req.OutputMint:
		return newError(KindValidation, StageValidate, fmt.Errorf("input and output mint are identical"))
	case req.AmountRaw == 0:
		return newError(KindValidation, StageValidate, fmt.Errorf("amount must be positive"))
	case req.SlippageBps < 0 || req.SlippageBps > 10000:
		return newError(KindValidation, StageValidate, fmt.Errorf("slippage %d bps out of range", req.SlippageBps))
	}
	return nil
}

// notionalSOL derives the SOL spend for risk accounting. For SOL input
// it is exact; otherwise the caller-provided notional is used.
func (e *Executor) notionalSOL(req Request) decimal.Decimal {
	if req.NotionalSOL.IsPositive() {
		return req.NotionalSOL
	}
	if req.InputMint == solana.SOLMint {
		return solana.LamportsToSOL(req.AmountRaw)
	}
	return decimal.Zero
}

// checkQuoteGuards applies the request's optional pre-trade guards to
// the quote. Both fail before any transaction exists.
func checkQuoteGuards(req Request, quote *jupiter.Quote, outAmount uint64) *Error {
	if req.MinOutRaw > 0 && outAmount < req.MinOutRaw {
		return newError(KindSlippageExceeded, StageQuote,
			fmt.Errorf("quoted out %d below floor %d", outAmount, req.MinOutRaw))
	}
	if req.MaxPriceImpactPct.IsPositive() {
		impact, err := decimal.NewFromString(quote.PriceImpactPct)
		if err == nil && impact.GreaterThan(req.MaxPriceImpactPct) {
			return newError(KindSlippageExceeded, StageQuote,
				fmt.Errorf("price impact %s%% above limit %s%%", quote.PriceImpactPct, req.MaxPriceImpactPct))
		}
	}
	return nil
}

// blockhashValidityBlocks is how long a Solana blockhash stays valid.
const blockhashValidityBlocks = 150

// checkBlockhashFresh rejects a built transaction whose blockhash has
// already expired; submitting it would only burn a preflight round
// trip. The failure happens pre-submit, so it is retryable. A failed
// freshness probe is non-fatal: preflight catches expiry anyway.
func (e *Executor) checkBlockhashFresh(ctx context.Context, lastValidHeight uint64) *Error {
	if lastValidHeight == 0 {
		return nil
	}
	latest, err := e.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("executor: blockhash freshness check skipped")
		return nil
	}
	if latest.LastValidBlockHeight < blockhashValidityBlocks {
		return nil
	}
	currentHeight := latest.LastValidBlockHeight - blockhashValidityBlocks
	if lastValidHeight <= currentHeight {
		return newError(KindTimeout, StageBuild,
			fmt.Errorf("transaction blockhash expired (valid until %d, chain at ~%d)", lastValidHeight, currentHeight))
	}
	return nil
}

// recordRealizedPnL feeds the risk engine's daily loss cap. A swap
// back into SOL realizes the difference between the proceeds and the
// entry notional; everything else stays unrealized.
func (e *Executor) recordRealizedPnL(req Request, notional decimal.Decimal, outcome *Outcome) {
	if req.OutputMint != solana.SOLMint || !notional.IsPositive() {
		return
	}
	pnl := solana.LamportsToSOL(outcome.OutAmountRaw).Sub(notional)
	e.risk.RecordPnL(pnl)
}

// fail releases risk reservations, records the failure, and returns
// the typed error.
func (e *Executor) fail(ctx context.Context, req Request, traceID string, notional decimal.Decimal, start time.Time, swapErr *Error, refund bool) error {
	if swapErr.Stage != StageRisk {
		// Risk denial never reserved anything.
		e.risk.Release(notional, refund)
	}
	e.failed.Add(1)

	event := bus.SwapFailed{
		BaseEvent: e.baseEvent(traceID),
		IntentID:  req.IntentID,
		Signature: swapErr.Signature,
		Stage:     string(swapErr.Stage),
		Kind:      string(swapErr.Kind),
		Reason:    swapErr.Error(),
	}
	if e.trail != nil {
		e.trail.RecordFailure(traceID, event)
	}
	if e.producer != nil {
		if err := e.producer.PublishJSON(ctx, bus.TopicSwaps, req.IntentID, event); err != nil {
			log.Warn().Err(err).Msg("executor: publish swap_failed")
		}
	}

	// Submitted transactions leave a trace in the ledger even when
	// they fail; pre-submit failures do not.
	if swapErr.Signature != "" || swapErr.Stage == StageConfirm {
		status := "failed"
		if swapErr.Kind == KindTimeout {
			// May still land after we stopped watching.
			status = "unknown"
		}
		e.appendLedger(req, traceID, notional, &Outcome{
			IntentID:    req.IntentID,
			TraceID:     traceID,
			Signature:   solana.Signature(swapErr.Signature),
			InAmountRaw: req.AmountRaw,
			Status:      status,
			Elapsed:     time.Since(start),
		}, swapErr)
	}

	log.Warn().
		Str("intent_id", req.IntentID).
		Str("stage", string(swapErr.Stage)).
		Str("kind", string(swapErr.Kind)).
		Bool("retryable", swapErr.Retryable()).
		Err(swapErr.Err).
		Msg("executor: swap failed")

	return swapErr
}

func (e *Executor) storeCompleted(outcome *Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.completed[outcome.IntentID]; ok {
		return
	}
	e.completed[outcome.IntentID] = outcome
	e.completedOrder = append(e.completedOrder, outcome.IntentID)
	for len(e.completedOrder) > e.config.CompletedRetention {
		oldest := e.completedOrder[0]
		e.completedOrder = e.completedOrder[1:]
		delete(e.completed, oldest)
	}
}

func (e *Executor) appendLedger(req Request, traceID string, notional decimal.Decimal, outcome *Outcome, swapErr *Error) {
	if e.ledger == nil {
		return
	}
	rec := ledger.Record{
		IntentID:     req.IntentID,
		TraceID:      traceID,
		StrategyID:   req.StrategyID,
		Timestamp:    time.Now(),
		InputMint:    string(req.InputMint),
		OutputMint:   string(req.OutputMint),
		InAmountRaw:  req.AmountRaw,
		OutAmountRaw: outcome.OutAmountRaw,
		NotionalSOL:  notional,
		SlippageBps:  req.SlippageBps,
		Signature:    string(outcome.Signature),
		Status:       outcome.Status,
		ElapsedMs:    outcome.Elapsed.Milliseconds(),
	}
	if swapErr != nil {
		rec.FailStage = string(swapErr.Stage)
		rec.FailKind = string(swapErr.Kind)
		rec.FailReason = swapErr.Error()
	}
	if err := e.ledger.Append(rec); err != nil {
		log.Error().Err(err).Str("intent_id", req.IntentID).Msg("executor: ledger append failed")
	}
}

func (e *Executor) baseEvent(traceID string) bus.BaseEvent {
	be := bus.NewBaseEvent(e.config.Producer, "1.0.0")
	be.TraceID = traceID
	return be
}

func (e *Executor) publishRequested(ctx context.Context, traceID string, req Request, notional decimal.Decimal, dryRun bool) {
	event := bus.SwapRequested{
		BaseEvent:   e.baseEvent(traceID),
		IntentID:    req.IntentID,
		StrategyID:  req.StrategyID,
		InputMint:   string(req.InputMint),
		OutputMint:  string(req.OutputMint),
		AmountRaw:   req.AmountRaw,
		NotionalSOL: notional,
		SlippageBps: req.SlippageBps,
		DryRun:      dryRun,
	}
	if e.trail != nil {
		e.trail.RecordSwapRequested(traceID, event)
	}
	if e.producer != nil {
		if err := e.producer.PublishJSON(ctx, bus.TopicSwaps, req.IntentID, event); err != nil {
			log.Warn().Err(err).Msg("executor: publish swap_requested")
		}
	}
}

func (e *Executor) publishExecuted(ctx context.Context, req Request, outcome *Outcome) {
	if e.producer == nil {
		return
	}
	event := bus.SwapExecuted{
		BaseEvent:    e.baseEvent(outcome.TraceID),
		IntentID:     outcome.IntentID,
		Signature:    string(outcome.Signature),
		InputMint:    string(req.InputMint),
		OutputMint:   string(req.OutputMint),
		InAmountRaw:  outcome.InAmountRaw,
		OutAmountRaw: outcome.OutAmountRaw,
		Route:        outcome.Route,
		Status:       outcome.Status,
		ElapsedMs:    outcome.Elapsed.Milliseconds(),
	}
	if err := e.producer.PublishJSON(ctx, bus.TopicSwaps, outcome.IntentID, event); err != nil {
		log.Warn().Err(err).Msg("executor: publish swap_executed")
	}
}

func (e *Executor) publishRiskDecision(ctx context.Context, traceID string, decision risk.Decision) {
	if e.producer == nil {
		return
	}
	snap := e.risk.Stats()
	decisionStr := "deny"
	if decision.Allowed {
		decisionStr = "allow"
	}
	event := bus.RiskDecision{
		BaseEvent:   e.baseEvent(traceID),
		IntentID:    decision.IntentID,
		Decision:    decisionStr,
		ReasonCodes: decision.ReasonCodes,
		DailySpent:  snap.DailySpent.String(),
		DailyPnL:    snap.DailyPnL.String(),
	}
	if err := e.producer.PublishJSON(ctx, bus.TopicRisk, decision.IntentID, event); err != nil {
		log.Warn().Err(err).Msg("executor: publish risk_decision")
	}
}

// ExecutorStats is the executor's counters for the control plane.
type ExecutorStats struct {
	Executed  int64 `json:"executed"`
	Failed    int64 `json:"failed"`
	DryRuns   int64 `json:"dry_runs"`
	InFlight  int   `json:"in_flight"`
	Completed int   `json:"completed_retained"`
}

// Stats returns executor counters.
func (e *Executor) Stats() ExecutorStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ExecutorStats{
		Executed:  e.executed.Load(),
		Failed:    e.failed.Load(),
		DryRuns:   e.dryRuns.Load(),
		InFlight:  len(e.inflight),
		Completed: len(e.completed),
	}
}

// Lookup returns the stored outcome for an intent ID, if retained.
func (e *Executor) Lookup(intentID string) (*Outcome, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.completed[intentID]
	return o, ok
}
