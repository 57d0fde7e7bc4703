package swap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solflow/solflow/internal/audit"
	"github.com/solflow/solflow/internal/bus"
	"github.com/solflow/solflow/internal/jupiter"
	"github.com/solflow/solflow/internal/ledger"
	"github.com/solflow/solflow/internal/risk"
	"github.com/solflow/solflow/internal/solana"
	"github.com/solflow/solflow/internal/wallet"
)

type testHarness struct {
	rpc      *solana.StubRPCClient
	jup      *jupiter.StubClient
	producer *bus.StubProducer
	trail    *audit.Trail
	risk     *risk.Engine
	ledger   *ledger.Writer
	exec     *Executor
}

func newHarness(t *testing.T, riskCfg risk.Config, cfg Config) *testHarness {
	t.Helper()

	h := &testHarness{
		rpc:      solana.NewStubRPCClient(),
		jup:      jupiter.NewStubClient(),
		producer: bus.NewStubProducer(),
		risk:     risk.New(riskCfg),
		ledger:   ledger.NewWriter(filepath.Join(t.TempDir(), "trades.jsonl")),
	}
	h.trail = audit.NewTrail(h.producer, 100)
	t.Cleanup(func() { h.ledger.Close() })

	confirmer := solana.NewConfirmer(h.rpc, solana.ConfirmConfig{
		PollInterval: 2 * time.Millisecond,
		MaxWait:      time.Second,
	})

	h.exec = NewExecutor(Deps{
		RPC:       h.rpc,
		Jupiter:   h.jup,
		Signer:    wallet.NewStubSigner(),
		Risk:      h.risk,
		Confirmer: confirmer,
		Producer:  h.producer,
		Trail:     h.trail,
		Ledger:    h.ledger,
	}, cfg)
	return h
}

func permissiveRiskConfig() risk.Config {
	return risk.Config{
		MaxNotionalSOL:   decimal.NewFromInt(100),
		MaxDailySpendSOL: decimal.NewFromInt(1000),
		MaxDailyLossSOL:  decimal.NewFromInt(100),
		MaxInFlight:      10,
		MaxSlippageBps:   1000,
	}
}

func solToUSDC(intentID string, sol float64) Request {
	return Request{
		IntentID:    intentID,
		InputMint:   solana.SOLMint,
		OutputMint:  solana.USDCMint,
		AmountRaw:   uint64(sol * 1e9),
		SlippageBps: 100,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	h.jup.SetRoute(solana.SOLMint, solana.USDCMint, 150_000_000)

	outcome, err := h.exec.Execute(context.Background(), solToUSDC("intent-1", 1.0))
	require.NoError(t, err)

	assert.Equal(t, "confirmed", outcome.Status)
	assert.NotEmpty(t, outcome.Signature)
	assert.Equal(t, uint64(1_000_000_000), outcome.InAmountRaw)
	assert.Equal(t, uint64(150_000_000), outcome.OutAmountRaw)
	assert.Equal(t, uint64(148_500_000), outcome.MinOutAmountRaw)
	assert.False(t, outcome.DryRun)

	// The signed payload reached the RPC.
	sent := h.rpc.SentTransactions()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "signed:")

	// Risk slot released, budget consumed.
	snap := h.risk.Stats()
	assert.Equal(t, 0, snap.InFlight)
	assert.Equal(t, "1", snap.DailySpent.String())

	// Events on the bus: risk decision + requested + executed.
	assert.Len(t, h.producer.MessagesFor(bus.TopicRisk), 1)
	swapMsgs := h.producer.MessagesFor(bus.TopicSwaps)
	assert.Len(t, swapMsgs, 2)

	// Ledger has the settled record.
	assert.Equal(t, int64(1), h.ledger.Written())

	// Audit chain is queryable by trace.
	assert.NotEmpty(t, h.trail.Query(outcome.TraceID))

	stats := h.exec.Stats()
	assert.Equal(t, int64(1), stats.Executed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestExecuteDryRun(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	req := solToUSDC("intent-dry", 1.0)
	req.DryRun = true

	outcome, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "dry_run", outcome.Status)
	assert.Empty(t, outcome.Signature)
	assert.True(t, outcome.DryRun)

	// Nothing sent, nothing on the ledger, budget refunded.
	assert.Empty(t, h.rpc.SentTransactions())
	assert.Equal(t, int64(0), h.ledger.Written())
	assert.Equal(t, "0", h.risk.Stats().DailySpent.String())
	assert.Equal(t, int64(1), h.exec.Stats().DryRuns)
}

func TestExecuteGlobalDryRun(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{DryRun: true})

	outcome, err := h.exec.Execute(context.Background(), solToUSDC("intent-g", 0.5))
	require.NoError(t, err)
	assert.Equal(t, "dry_run", outcome.Status)
	assert.Empty(t, h.rpc.SentTransactions())
}

func TestExecuteIdempotent(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})

	first, err := h.exec.Execute(context.Background(), solToUSDC("intent-dup", 1.0))
	require.NoError(t, err)

	second, err := h.exec.Execute(context.Background(), solToUSDC("intent-dup", 1.0))
	require.NoError(t, err)

	assert.Same(t, first, second, "duplicate intent must return the stored outcome")
	assert.Len(t, h.rpc.SentTransactions(), 1, "no second transaction")
	assert.Equal(t, "1", h.risk.Stats().DailySpent.String(), "no double spend")
}

func TestExecuteInFlightDuplicate(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	h.exec.inflight["intent-busy"] = struct{}{}

	_, err := h.exec.Execute(context.Background(), solToUSDC("intent-busy", 1.0))
	require.True(t, errors.Is(err, ErrDuplicateIntent))

	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, se.Kind)
	assert.Equal(t, StageValidate, se.Stage)
	assert.Empty(t, h.rpc.SentTransactions())
}

func TestExecuteMinOutFloor(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	h.jup.SetRoute(solana.SOLMint, solana.USDCMint, 150_000_000)

	req := solToUSDC("intent-floor", 1.0)
	req.MinOutRaw = 200_000_000

	_, err := h.exec.Execute(context.Background(), req)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindSlippageExceeded, se.Kind)
	assert.Equal(t, StageQuote, se.Stage)

	// Rejected before any transaction existed: budget refunded.
	assert.Empty(t, h.rpc.SentTransactions())
	assert.Equal(t, "0", h.risk.Stats().DailySpent.String())
}

func TestExecutePriceImpactGuard(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})

	req := solToUSDC("intent-impact", 1.0)
	req.MaxPriceImpactPct = decimal.NewFromFloat(0.001) // stub quotes 0.01

	_, err := h.exec.Execute(context.Background(), req)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindSlippageExceeded, se.Kind)
	assert.Equal(t, StageQuote, se.Stage)
	assert.Empty(t, h.rpc.SentTransactions())
}

// staleChainRPC reports a chain far past any built transaction's
// blockhash horizon.
type staleChainRPC struct {
	*solana.StubRPCClient
}

func (s *staleChainRPC) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	return &solana.Blockhash{Hash: "stale", LastValidBlockHeight: 2_000_000}, nil
}

func TestExecuteStaleBlockhash(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	h.exec.rpc = &staleChainRPC{StubRPCClient: h.rpc}

	_, err := h.exec.Execute(context.Background(), solToUSDC("intent-stale", 1.0))
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, se.Kind)
	assert.Equal(t, StageBuild, se.Stage)
	assert.True(t, se.Retryable(), "nothing was submitted, a retry is safe")

	assert.Empty(t, h.rpc.SentTransactions())
	assert.Equal(t, "0", h.risk.Stats().DailySpent.String())
}

func TestExecutePinnedPriorityFee(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})

	req := solToUSDC("intent-fee", 1.0)
	req.PriorityFeeLamports = 7777

	_, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(7777), h.jup.LastBuildOpts().PriorityFeeMicroLamports)
}

func TestRealizedLossFreezesEngine(t *testing.T) {
	riskCfg := permissiveRiskConfig()
	riskCfg.MaxDailyLossSOL = decimal.NewFromFloat(0.5)
	h := newHarness(t, riskCfg, Config{})

	// Sell 1 SOL worth of USDC back into 0.1 SOL: realizes -0.9 SOL.
	h.jup.SetRoute(solana.USDCMint, solana.SOLMint, 100_000_000)
	req := Request{
		IntentID:    "intent-loss",
		InputMint:   solana.USDCMint,
		OutputMint:  solana.SOLMint,
		AmountRaw:   1_000_000,
		NotionalSOL: decimal.NewFromInt(1),
		SlippageBps: 100,
	}
	_, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	snap := h.risk.Stats()
	assert.Equal(t, "-0.9", snap.DailyPnL.String())
	assert.True(t, snap.Frozen, "loss past the daily cap freezes the engine")

	_, err = h.exec.Execute(context.Background(), solToUSDC("intent-after", 0.1))
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindRiskDenied, se.Kind)
}

func TestExecuteValidation(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})

	cases := []Request{
		{OutputMint: solana.USDCMint, AmountRaw: 1},
		{InputMint: solana.SOLMint, AmountRaw: 1},
		{InputMint: solana.SOLMint, OutputMint: solana.SOLMint, AmountRaw: 1},
		{InputMint: solana.SOLMint, OutputMint: solana.USDCMint, AmountRaw: 0},
		{InputMint: solana.SOLMint, OutputMint: solana.USDCMint, AmountRaw: 1, SlippageBps: 20000},
	}
	for i, req := range cases {
		_, err := h.exec.Execute(context.Background(), req)
		se, ok := AsError(err)
		require.True(t, ok, "case %d", i)
		assert.Equal(t, KindValidation, se.Kind, "case %d", i)
		assert.False(t, se.Retryable())
	}
	assert.Empty(t, h.rpc.SentTransactions())
}

func TestExecuteRiskDenied(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	h.risk.Kill()

	_, err := h.exec.Execute(context.Background(), solToUSDC("intent-k", 0.1))
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindRiskDenied, se.Kind)
	assert.Equal(t, StageRisk, se.Stage)
	assert.False(t, se.Retryable())

	// Denial is published and audited.
	assert.Len(t, h.producer.MessagesFor(bus.TopicRisk), 1)
}

func TestExecuteNoRoute(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	h.jup.SetNoRoute(solana.SOLMint, solana.BONKMint)

	req := Request{
		IntentID:    "intent-nr",
		InputMint:   solana.SOLMint,
		OutputMint:  solana.BONKMint,
		AmountRaw:   1_000_000,
		SlippageBps: 100,
	}
	_, err := h.exec.Execute(context.Background(), req)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNoRoute, se.Kind)
	assert.False(t, se.Retryable())

	// Budget refunded: nothing was spent.
	snap := h.risk.Stats()
	assert.Equal(t, "0", snap.DailySpent.String())
	assert.Equal(t, 0, snap.InFlight)

	// Failed intents are not cached; a retry with a fixed route works.
	h.jup.NoRoutePairs = map[string]bool{}
	outcome, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", outcome.Status)
}

func TestExecuteSubmitFailure(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	h.rpc.SetSendError(assertErr("Blockhash not found"))

	_, err := h.exec.Execute(context.Background(), solToUSDC("intent-sf", 1.0))
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, StageSubmit, se.Stage)
	assert.Equal(t, KindRejected, se.Kind)
	assert.False(t, se.Retryable())
	assert.Equal(t, int64(1), h.exec.Stats().Failed)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

// failingStatusRPC reports every submitted transaction as failed on
// chain with a slippage error.
type failingStatusRPC struct {
	*solana.StubRPCClient
	errString string
}

func (f *failingStatusRPC) GetSignatureStatus(_ context.Context, sig solana.Signature) (*solana.TxStatus, error) {
	return &solana.TxStatus{
		Signature: sig,
		Status:    "failed",
		ErrString: f.errString,
	}, nil
}

func TestExecuteOnChainSlippageFailure(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	rpc := &failingStatusRPC{
		StubRPCClient: h.rpc,
		errString:     `{"InstructionError":[3,{"Custom":6001}]}`,
	}
	h.exec.rpc = rpc
	h.exec.confirmer = solana.NewConfirmer(rpc, solana.ConfirmConfig{
		PollInterval: 2 * time.Millisecond,
		MaxWait:      time.Second,
	})

	_, err := h.exec.Execute(context.Background(), solToUSDC("intent-slip", 1.0))
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindSlippageExceeded, se.Kind)
	assert.Equal(t, StageConfirm, se.Stage)
	assert.NotEmpty(t, se.Signature)
	assert.False(t, se.Retryable())

	// The failed attempt is on the ledger; the notional was refunded.
	assert.Equal(t, int64(1), h.ledger.Written())
	assert.Equal(t, "0", h.risk.Stats().DailySpent.String())
}

// pendingStatusRPC never confirms anything.
type pendingStatusRPC struct {
	*solana.StubRPCClient
}

func (p *pendingStatusRPC) GetSignatureStatus(_ context.Context, sig solana.Signature) (*solana.TxStatus, error) {
	return &solana.TxStatus{Signature: sig, Status: "pending"}, nil
}

func TestExecuteConfirmTimeout(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{})
	rpc := &pendingStatusRPC{StubRPCClient: h.rpc}
	h.exec.rpc = rpc
	h.exec.confirmer = solana.NewConfirmer(rpc, solana.ConfirmConfig{
		PollInterval: 2 * time.Millisecond,
		MaxWait:      20 * time.Millisecond,
	})

	_, err := h.exec.Execute(context.Background(), solToUSDC("intent-to", 1.0))
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, se.Kind)
	assert.Equal(t, StageConfirm, se.Stage)
	assert.False(t, se.Retryable(), "possibly-landed transaction must not be retried")

	// Unknown outcome: budget stays reserved.
	assert.Equal(t, "1", h.risk.Stats().DailySpent.String())
}

func TestNotionalDerivedFromSOLInput(t *testing.T) {
	cfg := permissiveRiskConfig()
	cfg.MaxDailySpendSOL = decimal.NewFromFloat(1.5)
	h := newHarness(t, cfg, Config{})

	_, err := h.exec.Execute(context.Background(), solToUSDC("intent-a", 1.0))
	require.NoError(t, err)

	// Second 1-SOL swap would exceed the 1.5 SOL daily cap.
	_, err = h.exec.Execute(context.Background(), solToUSDC("intent-b", 1.0))
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindRiskDenied, se.Kind)
}

func TestCompletedRetentionEviction(t *testing.T) {
	h := newHarness(t, permissiveRiskConfig(), Config{CompletedRetention: 2})

	for _, id := range []string{"a", "b", "c"} {
		_, err := h.exec.Execute(context.Background(), solToUSDC(id, 0.1))
		require.NoError(t, err)
	}

	_, ok := h.exec.Lookup("a")
	assert.False(t, ok, "oldest outcome evicted")
	_, ok = h.exec.Lookup("c")
	assert.True(t, ok)
	assert.Equal(t, 2, h.exec.Stats().Completed)
}
