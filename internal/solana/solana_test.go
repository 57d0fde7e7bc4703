package solana

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLamportsConversion(t *testing.T) {
	assert.Equal(t, "1", LamportsToSOL(LamportsPerSOL).String())
	assert.Equal(t, "0.5", LamportsToSOL(500_000_000).String())
	assert.Equal(t, "0.000000001", LamportsToSOL(1).String())

	assert.Equal(t, uint64(LamportsPerSOL), SOLToLamports(decimal.NewFromInt(1)))
	assert.Equal(t, uint64(250_000_000), SOLToLamports(decimal.NewFromFloat(0.25)))

	// Negative amounts clamp to zero.
	assert.Equal(t, uint64(0), SOLToLamports(decimal.NewFromInt(-3)))

	// Sub-lamport precision truncates.
	half := decimal.NewFromFloat(0.0000000015)
	assert.Equal(t, uint64(1), SOLToLamports(half))
}

func TestMintForSymbol(t *testing.T) {
	assert.Equal(t, SOLMint, MintForSymbol("SOL"))
	assert.Equal(t, SOLMint, MintForSymbol("sol"))
	assert.Equal(t, USDCMint, MintForSymbol("USDC"))
	assert.Equal(t, USDTMint, MintForSymbol("usdt"))
	assert.Equal(t, BONKMint, MintForSymbol("BONK"))
	assert.Equal(t, Pubkey(""), MintForSymbol("DOGE"))
}

func TestTxStatusPredicates(t *testing.T) {
	assert.True(t, TxStatus{Status: "confirmed"}.Confirmed())
	assert.True(t, TxStatus{Status: "finalized"}.Confirmed())
	assert.False(t, TxStatus{Status: "processed"}.Confirmed())
	assert.False(t, TxStatus{Status: "pending"}.Confirmed())

	assert.True(t, TxStatus{Status: "failed"}.Failed())
	assert.False(t, TxStatus{Status: "confirmed"}.Failed())
}

func TestStubRPCClient(t *testing.T) {
	ctx := context.Background()
	stub := NewStubRPCClient()

	// Pre-seeded tokens.
	info, err := stub.GetTokenInfo(ctx, SOLMint)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), info.Decimals)

	_, err = stub.GetTokenInfo(ctx, Pubkey("UnknownMint111"))
	assert.Error(t, err)

	// Balance.
	bal, err := stub.GetWalletBalance(ctx, Pubkey("wallet"))
	require.NoError(t, err)
	assert.Equal(t, "10", bal.SOL.String())

	stub.SetBalance(WalletBalance{
		SOL:      decimal.NewFromFloat(2.5),
		Lamports: 2_500_000_000,
		Tokens:   map[Pubkey]decimal.Decimal{USDCMint: decimal.NewFromInt(100)},
	})
	bal, err = stub.GetWalletBalance(ctx, Pubkey("wallet"))
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.SOL.String())
	assert.Equal(t, "100", bal.Tokens[USDCMint].String())

	// Send records payloads and mints unique signatures.
	sig1, err := stub.SendTransaction(ctx, "dHgtb25l")
	require.NoError(t, err)
	sig2, err := stub.SendTransaction(ctx, "dHgtdHdv")
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig2)
	assert.Equal(t, []string{"dHgtb25l", "dHgtdHdv"}, stub.SentTransactions())

	// Default status is confirmed; overrides stick.
	st, err := stub.GetSignatureStatus(ctx, sig1)
	require.NoError(t, err)
	assert.True(t, st.Confirmed())

	stub.SetStatus(sig2, TxStatus{Status: "failed", ErrString: `{"InstructionError":[3,{"Custom":6001}]}`})
	st, err = stub.GetSignatureStatus(ctx, sig2)
	require.NoError(t, err)
	assert.True(t, st.Failed())
	assert.Contains(t, st.ErrString, "6001")
}

func TestStubRPCClientFailNext(t *testing.T) {
	ctx := context.Background()
	stub := NewStubRPCClient()

	stub.SetFailNext()
	_, err := stub.GetWalletBalance(ctx, Pubkey("wallet"))
	assert.Error(t, err)

	// Only the next call fails.
	_, err = stub.GetWalletBalance(ctx, Pubkey("wallet"))
	assert.NoError(t, err)
}

func TestConfirmerWaitConfirmed(t *testing.T) {
	stub := NewStubRPCClient()
	confirmer := NewConfirmer(stub, ConfirmConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Second,
		Commitment:   "confirmed",
	})

	result, err := confirmer.Wait(context.Background(), Signature("sig-ok"))
	require.NoError(t, err)
	assert.True(t, result.Status.Confirmed())
	assert.GreaterOrEqual(t, result.PollCount, 1)
}

func TestConfirmerWaitFailed(t *testing.T) {
	stub := NewStubRPCClient()
	stub.SetStatus(Signature("sig-bad"), TxStatus{
		Status:    "failed",
		ErrString: `{"InstructionError":[5,{"Custom":6001}]}`,
	})

	confirmer := NewConfirmer(stub, ConfirmConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Second,
	})

	result, err := confirmer.Wait(context.Background(), Signature("sig-bad"))
	require.NoError(t, err)
	assert.True(t, result.Status.Failed())
	assert.Contains(t, result.Status.ErrString, "Custom")
}

func TestConfirmerTimeout(t *testing.T) {
	stub := NewStubRPCClient()
	stub.SetStatus(Signature("sig-slow"), TxStatus{Status: "pending"})

	confirmer := NewConfirmer(stub, ConfirmConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      30 * time.Millisecond,
	})

	result, err := confirmer.Wait(context.Background(), Signature("sig-slow"))
	require.ErrorIs(t, err, ErrConfirmTimeout)
	assert.Equal(t, "pending", result.Status.Status)
}

func TestConfirmerFinalizedCommitment(t *testing.T) {
	stub := NewStubRPCClient()
	// Default stub status is confirmed, which does not satisfy finalized.
	stub.SetStatus(Signature("sig-f"), TxStatus{Status: "confirmed"})

	confirmer := NewConfirmer(stub, ConfirmConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      30 * time.Millisecond,
		Commitment:   "finalized",
	})

	_, err := confirmer.Wait(context.Background(), Signature("sig-f"))
	require.ErrorIs(t, err, ErrConfirmTimeout)

	stub.SetStatus(Signature("sig-f"), TxStatus{Status: "finalized"})
	result, err := confirmer.Wait(context.Background(), Signature("sig-f"))
	require.NoError(t, err)
	assert.Equal(t, "finalized", result.Status.Status)
}

func TestConfirmerTolleratesPollErrors(t *testing.T) {
	stub := NewStubRPCClient()
	stub.SetFailNext()

	confirmer := NewConfirmer(stub, ConfirmConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Second,
	})

	// First poll errors, second succeeds with the default confirmed status.
	result, err := confirmer.Wait(context.Background(), Signature("sig-retry"))
	require.NoError(t, err)
	assert.True(t, result.Status.Confirmed())
}

func TestPercentile(t *testing.T) {
	values := []uint64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	assert.Equal(t, uint64(600), percentile(values, 50))
	assert.Equal(t, uint64(800), percentile(values, 75))
	assert.Equal(t, uint64(1000), percentile(values, 90))
	assert.Equal(t, uint64(0), percentile(nil, 50))
	assert.Equal(t, uint64(42), percentile([]uint64{42}, 99))
}

func TestEstimateFeeFallback(t *testing.T) {
	e := NewPriorityFeeEstimator(nil)
	assert.Equal(t, uint64(DefaultPriorityFeeLamports), e.EstimateFee(false))

	e.mu.Lock()
	e.feeP75 = 20_000
	e.mu.Unlock()

	assert.Equal(t, uint64(20_000), e.EstimateFee(false))
	assert.Equal(t, uint64(40_000), e.EstimateFee(true))

	// Ceiling applies.
	e.mu.Lock()
	e.feeP75 = MaxPriorityFeeLamports
	e.mu.Unlock()
	assert.Equal(t, uint64(MaxPriorityFeeLamports), e.EstimateFee(true))
}

func TestStubSendError(t *testing.T) {
	stub := NewStubRPCClient()
	stub.SetSendError(fmt.Errorf("blockhash not found"))

	_, err := stub.SendTransaction(context.Background(), "cGF5bG9hZA==")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockhash")
	assert.Empty(t, stub.SentTransactions())
}
