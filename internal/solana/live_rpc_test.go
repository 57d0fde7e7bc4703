package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRPCServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *LiveRPCClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	config := RPCConfig{
		Endpoint:     server.URL,
		WSEndpoint:   "ws://localhost:0", // not used in HTTP tests
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RateLimitRPS: 100,
	}
	client := NewLiveRPCClient(config)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}

func TestLiveRPC_Health(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "ok",
		})
	})

	err := client.Health(context.Background())
	assert.NoError(t, err)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.RequestCount)
}

func TestLiveRPC_GetTokenInfo(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": map[string]any{
					"data": map[string]any{
						"parsed": map[string]any{
							"info": map[string]any{
								"decimals":        9,
								"supply":          "1000000000000000",
								"mintAuthority":   "",
								"freezeAuthority": "",
							},
						},
					},
				},
			},
		})
	})

	info, err := client.GetTokenInfo(context.Background(), Pubkey("test-mint"))
	require.NoError(t, err)
	assert.Equal(t, uint8(9), info.Decimals)
	assert.Equal(t, "1000000000000000", info.Supply.String())
}

func TestLiveRPC_GetWalletBalance(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		switch req.Method {
		case "getBalance":
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      1,
				"result":  map[string]any{"value": 5000000000}, // 5 SOL
			})
		case "getTokenAccountsByOwner":
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      1,
				"result": map[string]any{"value": []map[string]any{
					{
						"account": map[string]any{
							"data": map[string]any{
								"parsed": map[string]any{
									"info": map[string]any{
										"mint": string(USDCMint),
										"tokenAmount": map[string]any{
											"uiAmountString": "123.45",
										},
									},
								},
							},
						},
					},
				}},
			})
		}
	})

	bal, err := client.GetWalletBalance(context.Background(), Pubkey("test-wallet"))
	require.NoError(t, err)
	assert.Equal(t, "5", bal.SOL.String())
	assert.Equal(t, uint64(5000000000), bal.Lamports)
	assert.Equal(t, "123.45", bal.Tokens[USDCMint].String())
}

func TestLiveRPC_GetLatestBlockhash(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": map[string]any{
					"blockhash":            "9sHcv6xwn9YPYsQsCJoqvwuQf2AdTQHCJPXSLiZh1x2F",
					"lastValidBlockHeight": 250000000,
				},
			},
		})
	})

	bh, err := client.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9sHcv6xwn9YPYsQsCJoqvwuQf2AdTQHCJPXSLiZh1x2F", bh.Hash)
	assert.Equal(t, uint64(250000000), bh.LastValidBlockHeight)
}

func TestLiveRPC_SendTransaction(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		})
	})

	sig, err := client.SendTransaction(context.Background(), "base64-tx")
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestLiveRPC_SendTransactionNeverRetries(t *testing.T) {
	callCount := 0
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(500)
		w.Write([]byte("internal error"))
	})

	_, err := client.SendTransaction(context.Background(), "base64-tx")
	assert.Error(t, err)
	assert.Equal(t, 1, callCount, "sendTransaction must make exactly one attempt")
}

func TestLiveRPC_GetSignatureStatus(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": []map[string]any{
					{"slot": 123456, "confirmationStatus": "confirmed", "err": nil},
				},
			},
		})
	})

	status, err := client.GetSignatureStatus(context.Background(), Signature("test-sig"))
	require.NoError(t, err)
	assert.Equal(t, "confirmed", status.Status)
	assert.Equal(t, uint64(123456), status.Slot)
	assert.True(t, status.Confirmed())
}

func TestLiveRPC_GetSignatureStatusFailed(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": []map[string]any{
					{
						"slot":               123457,
						"confirmationStatus": "confirmed",
						"err":                map[string]any{"InstructionError": []any{3, map[string]any{"Custom": 6001}}},
					},
				},
			},
		})
	})

	status, err := client.GetSignatureStatus(context.Background(), Signature("test-sig"))
	require.NoError(t, err)
	assert.True(t, status.Failed())
	assert.Contains(t, status.ErrString, "6001")
}

func TestLiveRPC_GetSignatureStatusUnknown(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"value": []any{nil}},
		})
	})

	status, err := client.GetSignatureStatus(context.Background(), Signature("unknown-sig"))
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
}

func TestLiveRPC_RetryOnError(t *testing.T) {
	callCount := 0
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			w.WriteHeader(500)
			w.Write([]byte("internal error"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "ok",
		})
	})

	err := client.Health(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, callCount, "Should retry once after failure")
}

func TestLiveRPC_RPCError(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error": map[string]any{
				"code":    -32600,
				"message": "Invalid request",
			},
		})
	})

	err := client.Health(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid request")
}

func TestLiveRPC_ContextCancellation(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second) // simulate slow response
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.Health(ctx)
	assert.Error(t, err)
}

func TestLiveRPC_RateLimiting(t *testing.T) {
	callCount := 0
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		callCount++
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "ok",
		})
	})

	// Rapid fire 5 calls. Rate limiter should allow the initial bucket.
	for i := 0; i < 5; i++ {
		client.Health(context.Background())
	}

	assert.GreaterOrEqual(t, callCount, 3, "Should handle burst within bucket")
}
