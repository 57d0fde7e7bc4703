package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetTokenInfo fetches mint metadata (decimals, supply, authorities).
	GetTokenInfo(ctx context.Context, mint Pubkey) (*TokenInfo, error)

	// GetWalletBalance returns SOL + SPL token balances for a wallet.
	GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error)

	// GetLatestBlockhash returns a recent blockhash and its validity horizon.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SendTransaction submits a signed, base64-encoded transaction.
	// The RPC layer never retries a send; whether a transaction is safe
	// to re-submit is the caller's decision.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetSignatureStatus checks the confirmation status of a transaction,
	// surfacing the on-chain error when the transaction failed.
	GetSignatureStatus(ctx context.Context, sig Signature) (*TxStatus, error)

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string // e.g. https://api.mainnet-beta.solana.com
	WSEndpoint   string // e.g. wss://api.mainnet-beta.solana.com
	Timeout      time.Duration
	MaxRetries   int
	RateLimitRPS float64 // requests per second limit
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a mock RPC client for testing.
type StubRPCClient struct {
	mu           sync.Mutex
	tokens       map[Pubkey]*TokenInfo
	balance      *WalletBalance
	statuses     map[Signature]*TxStatus
	sentTxs      []string
	sendErr      error
	failNext     bool
	sendCount    int
	statusePolls int
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		tokens: map[Pubkey]*TokenInfo{
			SOLMint:  {Mint: SOLMint, Symbol: "SOL", Decimals: 9},
			USDCMint: {Mint: USDCMint, Symbol: "USDC", Decimals: 6},
		},
		balance: &WalletBalance{
			SOL:      decimal.NewFromFloat(10.0),
			Lamports: 10 * LamportsPerSOL,
			Tokens:   make(map[Pubkey]decimal.Decimal),
		},
		statuses: make(map[Signature]*TxStatus),
	}
}

// AddToken registers a token for the stub to return.
func (s *StubRPCClient) AddToken(info TokenInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[info.Mint] = &info
}

// SetBalance sets the stub wallet balance.
func (s *StubRPCClient) SetBalance(bal WalletBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = &bal
}

// SetStatus sets the status returned for a signature.
func (s *StubRPCClient) SetStatus(sig Signature, status TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status.Signature = sig
	s.statuses[sig] = &status
}

// SetSendError makes SendTransaction return err.
func (s *StubRPCClient) SetSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SentTransactions returns the base64 payloads passed to SendTransaction.
func (s *StubRPCClient) SentTransactions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sentTxs))
	copy(out, s.sentTxs)
	return out
}

func (s *StubRPCClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetTokenInfo(_ context.Context, mint Pubkey) (*TokenInfo, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.tokens[mint]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("stub: token %s not found", mint)
}

func (s *StubRPCClient) GetWalletBalance(_ context.Context, _ Pubkey) (*WalletBalance, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *StubRPCClient) GetLatestBlockhash(_ context.Context) (*Blockhash, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	return &Blockhash{
		Hash:                 "StubB1ockhash1111111111111111111111111111111",
		LastValidBlockHeight: 1_000_000,
	}, nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sendCount++
	s.sentTxs = append(s.sentTxs, txBase64)
	return Signature(fmt.Sprintf("stub-sig-%d-%d", s.sendCount, time.Now().UnixNano())), nil
}

func (s *StubRPCClient) GetSignatureStatus(_ context.Context, sig Signature) (*TxStatus, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusePolls++
	if st, ok := s.statuses[sig]; ok {
		return st, nil
	}
	return &TxStatus{Signature: sig, Status: "confirmed"}, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
