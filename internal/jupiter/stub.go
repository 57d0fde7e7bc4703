package jupiter

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/solflow/solflow/internal/solana"
)

// ---------------------------------------------------------------------------
// Stub client (for testing and dry-run)
// ---------------------------------------------------------------------------

// StubClient is a canned-response Jupiter client.
type StubClient struct {
	mu sync.Mutex

	// OutAmountFor maps "inputMint->outputMint" to the quoted output.
	// Pairs not present quote at 1:1.
	OutAmountFor map[string]uint64

	// NoRoutePairs lists "inputMint->outputMint" pairs with no route.
	NoRoutePairs map[string]bool

	QuoteErr error
	SwapErr  error
	Prices   map[solana.Pubkey]decimal.Decimal

	quoteCalls    int
	swapCalls     int
	lastBuildOpts BuildOptions
}

// NewStubClient creates a stub that quotes everything 1:1.
func NewStubClient() *StubClient {
	return &StubClient{
		OutAmountFor: make(map[string]uint64),
		NoRoutePairs: make(map[string]bool),
		Prices:       make(map[solana.Pubkey]decimal.Decimal),
	}
}

func pairKey(in, out solana.Pubkey) string {
	return string(in) + "->" + string(out)
}

// SetRoute fixes the quoted output for a pair.
func (s *StubClient) SetRoute(in, out solana.Pubkey, outAmount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OutAmountFor[pairKey(in, out)] = outAmount
}

// SetNoRoute marks a pair as unroutable.
func (s *StubClient) SetNoRoute(in, out solana.Pubkey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NoRoutePairs[pairKey(in, out)] = true
}

// QuoteCalls returns how many quotes were requested.
func (s *StubClient) QuoteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteCalls
}

// SwapCalls returns how many swap builds were requested.
func (s *StubClient) SwapCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swapCalls
}

// LastBuildOpts returns the options passed to the most recent build.
func (s *StubClient) LastBuildOpts() BuildOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBuildOpts
}

func (s *StubClient) GetQuote(_ context.Context, params QuoteParams) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteCalls++

	if s.QuoteErr != nil {
		return nil, s.QuoteErr
	}
	key := pairKey(params.InputMint, params.OutputMint)
	if s.NoRoutePairs[key] {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, key)
	}

	outAmount := params.AmountRaw
	if v, ok := s.OutAmountFor[key]; ok {
		outAmount = v
	}

	return &Quote{
		InputMint:            string(params.InputMint),
		OutputMint:           string(params.OutputMint),
		InAmount:             fmt.Sprintf("%d", params.AmountRaw),
		OutAmount:            fmt.Sprintf("%d", outAmount),
		OtherAmountThreshold: fmt.Sprintf("%d", outAmount*uint64(10000-params.SlippageBps)/10000),
		PriceImpactPct:       "0.01",
		SlippageBps:          params.SlippageBps,
	}, nil
}

func (s *StubClient) BuildSwapTx(_ context.Context, quote *Quote, opts BuildOptions) (*SwapTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapCalls++
	s.lastBuildOpts = opts

	if s.SwapErr != nil {
		return nil, s.SwapErr
	}
	return &SwapTx{
		SwapTransaction:      fmt.Sprintf("stub-tx:%s->%s", quote.InputMint, quote.OutputMint),
		LastValidBlockHeight: 1_000_100,
	}, nil
}

func (s *StubClient) GetPrice(_ context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.Prices[mint]; ok {
		return p, nil
	}
	return decimal.NewFromInt(1), nil
}
