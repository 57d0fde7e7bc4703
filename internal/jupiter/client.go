package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/solflow/solflow/internal/solana"
)

// ---------------------------------------------------------------------------
// Jupiter V6 API Client — quote + swap + price endpoints
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

const (
	DefaultQuoteURL = "https://quote-api.jup.ag/v6/quote"
	DefaultSwapURL  = "https://quote-api.jup.ag/v6/swap"
	DefaultPriceURL = "https://price.jup.ag/v6/price"
)

// Sentinel errors callers classify with errors.Is.
var (
	// ErrNoRoute means Jupiter found no route for the pair/amount.
	// Not transient: retrying the same request will not help.
	ErrNoRoute = errors.New("jupiter: no route found")

	// ErrRateLimited means the API returned 429 on every attempt.
	ErrRateLimited = errors.New("jupiter: rate limited")

	// ErrCircuitOpen means the client is refusing requests after
	// consecutive failures.
	ErrCircuitOpen = errors.New("jupiter: circuit breaker open")
)

// Config configures the Jupiter client. URLs are overridable for tests.
type Config struct {
	QuoteURL     string
	SwapURL      string
	PriceURL     string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns production endpoints with conservative retries.
func DefaultConfig() Config {
	return Config{
		QuoteURL:     DefaultQuoteURL,
		SwapURL:      DefaultSwapURL,
		PriceURL:     DefaultPriceURL,
		Timeout:      10 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// API is the surface the swap executor depends on.
// Implementations: Client (real), StubClient (testing).
type API interface {
	GetQuote(ctx context.Context, params QuoteParams) (*Quote, error)
	BuildSwapTx(ctx context.Context, quote *Quote, opts BuildOptions) (*SwapTx, error)
	GetPrice(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error)
}

// QuoteParams identifies the swap to quote. Amount is in the input
// mint's smallest unit; decimal conversion is the caller's concern.
type QuoteParams struct {
	InputMint        solana.Pubkey
	OutputMint       solana.Pubkey
	AmountRaw        uint64
	SlippageBps      int
	OnlyDirectRoutes bool
}

// Quote is the response from the /quote endpoint.
type Quote struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
	RoutePlan            []struct {
		Percent  int `json:"percent"`
		SwapInfo struct {
			AmmKey    string `json:"ammKey"`
			Label     string `json:"label"`
			FeeAmount string `json:"feeAmount"`
			FeeMint   string `json:"feeMint"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
	ContextSlot uint64  `json:"contextSlot"`
	TimeTaken   float64 `json:"timeTaken"`
}

// OutAmountRaw parses the quoted output amount.
func (q *Quote) OutAmountRaw() (uint64, error) {
	var v uint64
	if _, err := fmt.Sscanf(q.OutAmount, "%d", &v); err != nil {
		return 0, fmt.Errorf("jupiter: bad outAmount %q", q.OutAmount)
	}
	return v, nil
}

// MinOutAmountRaw parses the slippage-adjusted worst-case output.
func (q *Quote) MinOutAmountRaw() (uint64, error) {
	var v uint64
	if _, err := fmt.Sscanf(q.OtherAmountThreshold, "%d", &v); err != nil {
		return 0, fmt.Errorf("jupiter: bad otherAmountThreshold %q", q.OtherAmountThreshold)
	}
	return v, nil
}

// RouteLabels lists the AMMs on the route, in hop order.
func (q *Quote) RouteLabels() []string {
	labels := make([]string, 0, len(q.RoutePlan))
	for _, hop := range q.RoutePlan {
		labels = append(labels, hop.SwapInfo.Label)
	}
	return labels
}

// BuildOptions tunes the /swap transaction build.
type BuildOptions struct {
	UserPublicKey solana.Pubkey
	// PriorityFeeMicroLamports is the compute unit price; zero lets
	// Jupiter choose.
	PriorityFeeMicroLamports uint64
}

// SwapTx is the unsigned transaction from the /swap endpoint.
type SwapTx struct {
	SwapTransaction      string `json:"swapTransaction"` // base64
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// Client is the real Jupiter V6 API client. The HTTP client is
// injected so tests and callers control transport behavior.
type Client struct {
	config     Config
	httpClient *http.Client

	quoteCount   atomic.Int64
	swapCount    atomic.Int64
	errorCount   atomic.Int64
	avgLatencyMs atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
}

// NewClient creates a Jupiter client. A nil httpClient gets a default
// with the configured timeout.
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.QuoteURL == "" {
		config.QuoteURL = DefaultQuoteURL
	}
	if config.SwapURL == "" {
		config.SwapURL = DefaultSwapURL
	}
	if config.PriceURL == "" {
		config.PriceURL = DefaultPriceURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{config: config, httpClient: httpClient}
}

// ---------------------------------------------------------------------------
// Quote API
// ---------------------------------------------------------------------------

// GetQuote fetches the best swap route.
func (c *Client) GetQuote(ctx context.Context, params QuoteParams) (*Quote, error) {
	if c.circuitOpen.Load() {
		return nil, ErrCircuitOpen
	}

	start := time.Now()

	queryURL, err := url.Parse(c.config.QuoteURL)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(params.InputMint))
	q.Set("outputMint", string(params.OutputMint))
	q.Set("amount", fmt.Sprintf("%d", params.AmountRaw))
	q.Set("slippageBps", fmt.Sprintf("%d", params.SlippageBps))
	q.Set("onlyDirectRoutes", fmt.Sprintf("%t", params.OnlyDirectRoutes))
	queryURL.RawQuery = q.Encode()

	body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	}, "quote")
	if err != nil {
		return nil, err
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}

	latency := time.Since(start).Milliseconds()
	c.quoteCount.Add(1)
	c.avgLatencyMs.Store(latency)

	log.Debug().
		Str("in", shortMint(quote.InputMint)).
		Str("out", shortMint(quote.OutputMint)).
		Str("in_amount", quote.InAmount).
		Str("out_amount", quote.OutAmount).
		Str("price_impact", quote.PriceImpactPct).
		Int64("latency_ms", latency).
		Msg("jupiter: quote received")

	return &quote, nil
}

// ---------------------------------------------------------------------------
// Swap API
// ---------------------------------------------------------------------------

// swapRequest is the request to the /swap endpoint.
type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction           bool            `json:"asLegacyTransaction"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

// BuildSwapTx builds an unsigned swap transaction from a quote.
func (c *Client) BuildSwapTx(ctx context.Context, quote *Quote, opts BuildOptions) (*SwapTx, error) {
	if c.circuitOpen.Load() {
		return nil, ErrCircuitOpen
	}
	if opts.UserPublicKey == "" {
		return nil, fmt.Errorf("jupiter: user public key required")
	}

	quoteJSON, err := json.Marshal(quote)
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal quote: %w", err)
	}

	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:                 quoteJSON,
		UserPublicKey:                 string(opts.UserPublicKey),
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: opts.PriorityFeeMicroLamports,
		AsLegacyTransaction:           false,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.config.SwapURL, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, "swap")
	if err != nil {
		return nil, err
	}

	var swapResp SwapTx
	if err := json.Unmarshal(body, &swapResp); err != nil {
		return nil, fmt.Errorf("jupiter: parse swap response: %w", err)
	}
	if swapResp.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter: empty swap transaction")
	}

	c.swapCount.Add(1)
	return &swapResp, nil
}

// ---------------------------------------------------------------------------
// Price API
// ---------------------------------------------------------------------------

// priceResponse is the response from the price endpoint.
type priceResponse struct {
	Data map[string]struct {
		ID         string  `json:"id"`
		MintSymbol string  `json:"mintSymbol"`
		VSToken    string  `json:"vsToken"`
		Price      float64 `json:"price"`
	} `json:"data"`
	TimeTaken float64 `json:"timeTaken"`
}

// GetPrice fetches the current USDC price for a token.
func (c *Client) GetPrice(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	queryURL, err := url.Parse(c.config.PriceURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("ids", string(mint))
	q.Set("vsToken", string(solana.USDCMint))
	queryURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: create price request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: price HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: read price response: %w", err)
	}

	if resp.StatusCode != 200 {
		return decimal.Zero, fmt.Errorf("jupiter: price HTTP %d", resp.StatusCode)
	}

	var priceResp priceResponse
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: parse price: %w", err)
	}

	data, ok := priceResp.Data[string(mint)]
	if !ok {
		return decimal.Zero, fmt.Errorf("jupiter: price not found for %s", mint)
	}

	price := decimal.NewFromFloat(data.Price)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("jupiter: zero/negative price for %s", mint)
	}

	return price, nil
}

// ---------------------------------------------------------------------------
// Retry + circuit breaker
// ---------------------------------------------------------------------------

// doWithRetry runs the request with exponential backoff. 4xx responses
// other than 429 do not retry; the API already gave its answer.
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error), op string) ([]byte, error) {
	var lastErr error
	rateLimited := false

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.config.RetryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("jupiter: create %s request: %w", op, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("jupiter: %s HTTP error: %w", op, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("jupiter: read %s response: %w", op, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		switch {
		case resp.StatusCode == 200:
			c.resetErrors()
			return body, nil

		case resp.StatusCode == 429:
			rateLimited = true
			lastErr = fmt.Errorf("%w: %s", ErrRateLimited, op)
			c.errorCount.Add(1)
			// 429 is load shedding, not endpoint failure: wait well
			// beyond the standard schedule and skip the breaker.
			select {
			case <-time.After(c.config.RetryBackoff * time.Duration(4<<uint(attempt))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			c.errorCount.Add(1)
			if isNoRouteBody(body) {
				c.resetErrors()
				return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, op, string(body))
			}
			c.recordError()
			return nil, fmt.Errorf("jupiter: %s HTTP %d: %s", op, resp.StatusCode, string(body))

		default:
			lastErr = fmt.Errorf("jupiter: %s HTTP %d: %s", op, resp.StatusCode, string(body))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}
	}

	if rateLimited {
		return nil, fmt.Errorf("%w: %s failed after %d attempts", ErrRateLimited, op, c.config.MaxRetries+1)
	}
	return nil, fmt.Errorf("jupiter: %s failed after %d attempts: %w", op, c.config.MaxRetries+1, lastErr)
}

// isNoRouteBody detects the no-route error shapes the quote API returns.
func isNoRouteBody(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "COULD_NOT_FIND_ANY_ROUTE") ||
		strings.Contains(s, "No routes found") ||
		strings.Contains(s, "TOKEN_NOT_TRADABLE")
}

// recordError increments consecutive errors and opens circuit breaker.
func (c *Client) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= 5 {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("jupiter: CIRCUIT BREAKER OPEN")
			go func() {
				time.Sleep(30 * time.Second)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("jupiter: circuit breaker reset")
			}()
		}
	}
}

// resetErrors resets the consecutive error counter.
func (c *Client) resetErrors() {
	c.consecutiveErrors.Store(0)
}

func shortMint(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}

// Stats returns Jupiter API client stats.
type Stats struct {
	QuoteCount   int64 `json:"quote_count"`
	SwapCount    int64 `json:"swap_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
	CircuitOpen  bool  `json:"circuit_open"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount:   c.quoteCount.Load(),
		SwapCount:    c.swapCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyMs: c.avgLatencyMs.Load(),
		CircuitOpen:  c.circuitOpen.Load(),
	}
}
