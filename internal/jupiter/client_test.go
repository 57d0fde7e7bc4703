package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solflow/solflow/internal/solana"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		QuoteURL:     server.URL + "/quote",
		SwapURL:      server.URL + "/swap",
		PriceURL:     server.URL + "/price",
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RetryBackoff: 5 * time.Millisecond,
	}, nil)
}

func validQuoteJSON() map[string]any {
	return map[string]any{
		"inputMint":            string(solana.SOLMint),
		"outputMint":           string(solana.USDCMint),
		"inAmount":             "1000000000",
		"outAmount":            "150000000",
		"otherAmountThreshold": "148500000",
		"priceImpactPct":       "0.002",
		"slippageBps":          100,
		"routePlan": []map[string]any{
			{
				"percent": 100,
				"swapInfo": map[string]any{
					"ammKey": "amm-key", "label": "Orca",
					"feeAmount": "1000", "feeMint": string(solana.SOLMint),
				},
			},
		},
	}
}

func TestGetQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, string(solana.SOLMint), r.URL.Query().Get("inputMint"))
		assert.Equal(t, "1000000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "100", r.URL.Query().Get("slippageBps"))
		json.NewEncoder(w).Encode(validQuoteJSON())
	})

	quote, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:   solana.SOLMint,
		OutputMint:  solana.USDCMint,
		AmountRaw:   1_000_000_000,
		SlippageBps: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "150000000", quote.OutAmount)

	out, err := quote.OutAmountRaw()
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000), out)
	assert.Equal(t, []string{"Orca"}, quote.RouteLabels())
}

func TestGetQuoteNoRoute(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"errorCode":"COULD_NOT_FIND_ANY_ROUTE","error":"Could not find any route"}`))
	})

	_, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:  solana.SOLMint,
		OutputMint: solana.Pubkey("ObscureMint111"),
		AmountRaw:  1000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestGetQuoteNoRouteDoesNotRetry(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(400)
		w.Write([]byte(`{"error":"No routes found"}`))
	})

	_, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:  solana.SOLMint,
		OutputMint: solana.USDCMint,
		AmountRaw:  1,
	})
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, 1, calls)
}

func TestGetQuoteRetriesServerError(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(500)
			return
		}
		json.NewEncoder(w).Encode(validQuoteJSON())
	})

	quote, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:  solana.SOLMint,
		OutputMint: solana.USDCMint,
		AmountRaw:  1_000_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotEmpty(t, quote.OutAmount)
}

func TestGetQuoteRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	})

	_, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:  solana.SOLMint,
		OutputMint: solana.USDCMint,
		AmountRaw:  1,
	})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRateLimitBackoffLongerThanServerError(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(429)
			return
		}
		json.NewEncoder(w).Encode(validQuoteJSON())
	})

	start := time.Now()
	quote, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:  solana.SOLMint,
		OutputMint: solana.USDCMint,
		AmountRaw:  1,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotEmpty(t, quote.OutAmount)
	// 429 waits 4x the base backoff (5ms), well above the standard
	// first-retry wait.
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

func TestRateLimitDoesNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	})

	for i := 0; i < 4; i++ {
		client.GetQuote(context.Background(), QuoteParams{
			InputMint:  solana.SOLMint,
			OutputMint: solana.USDCMint,
			AmountRaw:  1,
		})
	}
	assert.False(t, client.Stats().CircuitOpen)
}

func TestQuoteMinOutAmountRaw(t *testing.T) {
	quote := &Quote{OtherAmountThreshold: "148500000"}
	minOut, err := quote.MinOutAmountRaw()
	require.NoError(t, err)
	assert.Equal(t, uint64(148_500_000), minOut)

	quote.OtherAmountThreshold = "junk"
	_, err = quote.MinOutAmountRaw()
	assert.Error(t, err)
}

func TestBuildSwapTx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)

		var req swapRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-pubkey", req.UserPublicKey)
		assert.True(t, req.WrapAndUnwrapSOL)
		assert.Equal(t, uint64(10_000), req.ComputeUnitPriceMicroLamports)

		json.NewEncoder(w).Encode(map[string]any{
			"swapTransaction":      "c2lnbmVkLXR4LWJhc2U2NA==",
			"lastValidBlockHeight": 250000123,
		})
	})

	quote := &Quote{InputMint: string(solana.SOLMint), OutputMint: string(solana.USDCMint)}
	tx, err := client.BuildSwapTx(context.Background(), quote, BuildOptions{
		UserPublicKey:            solana.Pubkey("user-pubkey"),
		PriorityFeeMicroLamports: 10_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmVkLXR4LWJhc2U2NA==", tx.SwapTransaction)
	assert.Equal(t, uint64(250000123), tx.LastValidBlockHeight)
}

func TestBuildSwapTxRequiresPubkey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.BuildSwapTx(context.Background(), &Quote{}, BuildOptions{})
	assert.Error(t, err)
}

func TestBuildSwapTxEmptyTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"swapTransaction": ""})
	})

	_, err := client.BuildSwapTx(context.Background(), &Quote{}, BuildOptions{
		UserPublicKey: solana.Pubkey("user-pubkey"),
	})
	assert.Error(t, err)
}

func TestGetPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		mint := r.URL.Query().Get("ids")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				mint: map[string]any{"id": mint, "price": 153.42},
			},
		})
	})

	price, err := client.GetPrice(context.Background(), solana.SOLMint)
	require.NoError(t, err)
	assert.Equal(t, "153.42", price.String())
}

func TestGetPriceMissing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	})

	_, err := client.GetPrice(context.Background(), solana.BONKMint)
	assert.Error(t, err)
}

func TestCircuitBreakerOpens(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	})

	// MaxRetries=1 means 2 failures per call; 3 calls cross the threshold of 5.
	for i := 0; i < 3; i++ {
		client.GetQuote(context.Background(), QuoteParams{
			InputMint:  solana.SOLMint,
			OutputMint: solana.USDCMint,
			AmountRaw:  1,
		})
	}

	assert.True(t, client.Stats().CircuitOpen)

	_, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:  solana.SOLMint,
		OutputMint: solana.USDCMint,
		AmountRaw:  1,
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestStubClient(t *testing.T) {
	stub := NewStubClient()
	stub.SetRoute(solana.SOLMint, solana.USDCMint, 42_000_000)
	stub.SetNoRoute(solana.SOLMint, solana.BONKMint)

	quote, err := stub.GetQuote(context.Background(), QuoteParams{
		InputMint:   solana.SOLMint,
		OutputMint:  solana.USDCMint,
		AmountRaw:   1_000_000_000,
		SlippageBps: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "42000000", quote.OutAmount)

	_, err = stub.GetQuote(context.Background(), QuoteParams{
		InputMint:  solana.SOLMint,
		OutputMint: solana.BONKMint,
		AmountRaw:  1,
	})
	assert.ErrorIs(t, err, ErrNoRoute)

	tx, err := stub.BuildSwapTx(context.Background(), quote, BuildOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.SwapTransaction)

	assert.Equal(t, 2, stub.QuoteCalls())
	assert.Equal(t, 1, stub.SwapCalls())
}
