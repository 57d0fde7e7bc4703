package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client — Solana JSON-RPC with rate limiting, retry and breaker
// ---------------------------------------------------------------------------

const (
	breakerThreshold = 10 // consecutive transport errors before opening
	breakerCooldown  = 30 * time.Second
	splTokenProgram  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

// LiveRPCClient talks to a real Solana RPC endpoint. Requests pass a
// token-bucket rate limiter; transport failures retry with exponential
// backoff except for sendTransaction, which is always a single attempt.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	tokens     chan struct{}
	stopRefill context.CancelFunc

	nextID atomic.Int64

	// Breaker state. Only transport-level failures count; a structured
	// node error proves the endpoint is alive.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	requestCount  atomic.Int64
	errorCount    atomic.Int64
	latencySum    atomic.Int64 // microseconds
	lastRequestAt atomic.Int64
}

// NewLiveRPCClient creates a live Solana RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}

	burst := int(config.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}
	tokens := make(chan struct{}, burst)
	for i := 0; i < burst; i++ {
		tokens <- struct{}{}
	}

	refillCtx, stopRefill := context.WithCancel(context.Background())
	c := &LiveRPCClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		tokens:     tokens,
		stopRefill: stopRefill,
	}
	go c.refill(refillCtx)
	return c
}

// refill feeds the token bucket at the configured rate.
func (c *LiveRPCClient) refill(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / c.config.RateLimitRPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case c.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops the rate limiter refill goroutine.
func (c *LiveRPCClient) Close() {
	c.stopRefill()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call is the standard path: rate-limited with retries.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return c.callN(ctx, method, params, c.config.MaxRetries)
}

// callOnce never retries. sendTransaction goes through here: a
// transport-level re-send of a signed transaction can double-spend.
func (c *LiveRPCClient) callOnce(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return c.callN(ctx, method, params, 0)
}

func (c *LiveRPCClient) callN(ctx context.Context, method string, params []any, maxRetries int) (json.RawMessage, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s (too many consecutive errors)", method)
	}

	select {
	case <-c.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
		}

		result, retryIn, err := c.post(ctx, method, body)
		if err == nil {
			return result, nil
		}
		if retryIn < 0 {
			// Terminal: either a node error or the request itself is bad.
			return nil, err
		}
		lastErr = err
		if retryIn > 0 {
			// 429: the extra wait replaces breaker accounting.
			if err := sleepCtx(ctx, retryIn<<uint(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, maxRetries+1, lastErr)
}

// post performs one HTTP round trip. retryIn reports how the caller
// should proceed on error: negative means do not retry, zero means
// retry after normal backoff, positive is an extra rate-limit delay.
func (c *LiveRPCClient) post(ctx context.Context, method string, body []byte) (result json.RawMessage, retryIn time.Duration, err error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, -1, fmt.Errorf("rpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.noteTransportError()
		return nil, 0, fmt.Errorf("rpc: %s http error: %w", method, err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.noteTransportError()
		return nil, 0, fmt.Errorf("rpc: %s read response: %w", method, err)
	}

	c.requestCount.Add(1)
	c.latencySum.Add(time.Since(start).Microseconds())
	c.lastRequestAt.Store(time.Now().UnixMilli())

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.errorCount.Add(1)
		return nil, 2 * time.Second, fmt.Errorf("rpc: %s rate limited (429)", method)
	case resp.StatusCode != http.StatusOK:
		c.noteTransportError()
		return nil, 0, fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.noteTransportError()
		return nil, 0, fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
	}

	if rpcResp.Error != nil {
		c.consecutiveErrors.Store(0)
		return nil, -1, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	c.consecutiveErrors.Store(0)
	return rpcResp.Result, 0, nil
}

// noteTransportError counts toward the breaker and opens it at the
// threshold, scheduling an automatic reset after the cooldown.
func (c *LiveRPCClient) noteTransportError() {
	c.errorCount.Add(1)
	if c.consecutiveErrors.Add(1) < breakerThreshold {
		return
	}
	if c.circuitOpen.CompareAndSwap(false, true) {
		log.Error().Msg("rpc: CIRCUIT BREAKER OPEN - too many consecutive errors")
		go func() {
			time.Sleep(breakerCooldown)
			c.consecutiveErrors.Store(0)
			c.circuitOpen.Store(false)
			log.Info().Msg("rpc: circuit breaker reset")
		}()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// RPCClient interface implementation
// ---------------------------------------------------------------------------

// GetTokenInfo fetches mint metadata via getAccountInfo(jsonParsed).
func (c *LiveRPCClient) GetTokenInfo(ctx context.Context, mint Pubkey) (*TokenInfo, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		string(mint),
		map[string]any{"encoding": "jsonParsed"},
	})
	if err != nil {
		return nil, err
	}

	var accountResp struct {
		Value *struct {
			Data struct {
				Parsed struct {
					Info struct {
						Decimals        uint8  `json:"decimals"`
						Supply          string `json:"supply"`
						MintAuthority   string `json:"mintAuthority"`
						FreezeAuthority string `json:"freezeAuthority"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &accountResp); err != nil {
		return nil, fmt.Errorf("rpc: parse token info: %w", err)
	}
	if accountResp.Value == nil {
		return nil, fmt.Errorf("rpc: mint %s not found", mint)
	}

	info := accountResp.Value.Data.Parsed.Info
	supply, _ := decimal.NewFromString(info.Supply)

	return &TokenInfo{
		Mint:            mint,
		Decimals:        info.Decimals,
		Supply:          supply,
		MintAuthority:   Pubkey(info.MintAuthority),
		FreezeAuthority: Pubkey(info.FreezeAuthority),
	}, nil
}

// GetWalletBalance fetches the SOL balance plus SPL token accounts.
// Token account failures are non-fatal; the SOL balance still returns.
func (c *LiveRPCClient) GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error) {
	solResult, err := c.call(ctx, "getBalance", []any{string(wallet)})
	if err != nil {
		return nil, err
	}

	var balResp struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(solResult, &balResp); err != nil {
		return nil, fmt.Errorf("rpc: parse balance: %w", err)
	}

	bal := &WalletBalance{
		SOL:      LamportsToSOL(balResp.Value),
		Lamports: balResp.Value,
		Tokens:   make(map[Pubkey]decimal.Decimal),
	}

	tokenResult, err := c.call(ctx, "getTokenAccountsByOwner", []any{
		string(wallet),
		map[string]any{"programId": splTokenProgram},
		map[string]any{"encoding": "jsonParsed"},
	})
	if err != nil {
		return bal, nil
	}

	var tokenResp struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								UIAmountString string `json:"uiAmountString"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(tokenResult, &tokenResp); err == nil {
		for _, ta := range tokenResp.Value {
			amount, _ := decimal.NewFromString(ta.Account.Data.Parsed.Info.TokenAmount.UIAmountString)
			if amount.IsPositive() {
				bal.Tokens[Pubkey(ta.Account.Data.Parsed.Info.Mint)] = amount
			}
		}
	}

	return bal, nil
}

// GetLatestBlockhash fetches a recent blockhash at confirmed commitment.
func (c *LiveRPCClient) GetLatestBlockhash(ctx context.Context) (*Blockhash, error) {
	result, err := c.call(ctx, "getLatestBlockhash", []any{
		map[string]any{"commitment": "confirmed"},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse blockhash: %w", err)
	}

	return &Blockhash{
		Hash:                 resp.Value.Blockhash,
		LastValidBlockHeight: resp.Value.LastValidBlockHeight,
	}, nil
}

// SendTransaction submits a signed transaction. Exactly one attempt:
// re-sending after an ambiguous failure could double-spend.
func (c *LiveRPCClient) SendTransaction(ctx context.Context, txBase64 string) (Signature, error) {
	result, err := c.callOnce(ctx, "sendTransaction", []any{
		txBase64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": "confirmed",
		},
	})
	if err != nil {
		return "", err
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("rpc: parse signature: %w", err)
	}
	return Signature(sig), nil
}

// GetSignatureStatus checks a transaction's confirmation status. An
// unknown signature reports pending, never an error.
func (c *LiveRPCClient) GetSignatureStatus(ctx context.Context, sig Signature) (*TxStatus, error) {
	result, err := c.call(ctx, "getSignatureStatuses", []any{
		[]string{string(sig)},
		map[string]any{"searchTransactionHistory": true},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse status: %w", err)
	}

	status := &TxStatus{Signature: sig, Status: "pending"}
	if len(resp.Value) == 0 || resp.Value[0] == nil {
		return status, nil
	}

	entry := resp.Value[0]
	status.Slot = entry.Slot

	if len(entry.Err) > 0 && string(entry.Err) != "null" {
		status.Status = "failed"
		status.ErrString = string(entry.Err)
		return status, nil
	}
	if entry.ConfirmationStatus != "" {
		status.Status = entry.ConfirmationStatus
	}
	return status, nil
}

// Health probes the endpoint with a short deadline.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(healthCtx, "getHealth", nil)
	return err
}

// RPCStats is the client's counters for the control plane.
type RPCStats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"`
	CircuitOpen   bool  `json:"circuit_open"`
	ConsecErrors  int64 `json:"consecutive_errors"`
}

func (c *LiveRPCClient) Stats() RPCStats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return RPCStats{
		RequestCount:  reqCount,
		ErrorCount:    c.errorCount.Load(),
		AvgLatencyUs:  avgLatency,
		LastRequestAt: c.lastRequestAt.Load(),
		CircuitOpen:   c.circuitOpen.Load(),
		ConsecErrors:  c.consecutiveErrors.Load(),
	}
}
