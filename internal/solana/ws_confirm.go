package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Confirmer — push-based signature confirmation via signatureSubscribe
// Falls back to polling when the socket is unavailable
// ---------------------------------------------------------------------------

// WSConfirmConfig configures the WebSocket confirmer.
type WSConfirmConfig struct {
	WSEndpoint       string
	ReconnectDelayMs int
	PingIntervalS    int
}

// DefaultWSConfirmConfig returns defaults for mainnet.
func DefaultWSConfirmConfig() WSConfirmConfig {
	return WSConfirmConfig{
		WSEndpoint:       "wss://api.mainnet-beta.solana.com",
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
	}
}

// wsWaiter is a registered signature waiting for a notification.
type wsWaiter struct {
	sig    Signature
	result chan TxStatus
}

// WSConfirmer subscribes to signature notifications over WebSocket.
// One connection serves all in-flight signatures; each Wait registers
// a subscription and blocks on its private channel.
type WSConfirmer struct {
	config WSConfirmConfig

	mu      sync.RWMutex
	conn    *websocket.Conn
	waiters map[int64]*wsWaiter // request ID -> waiter
	subToID map[int64]int64     // server subscription ID -> request ID

	nextID atomic.Int64

	// Stats.
	connected    atomic.Bool
	confirmsRecv atomic.Int64
	reconnects   atomic.Int64
}

// NewWSConfirmer creates a WebSocket confirmer. Start must be called
// before Wait.
func NewWSConfirmer(config WSConfirmConfig) *WSConfirmer {
	if config.ReconnectDelayMs == 0 {
		config.ReconnectDelayMs = 1000
	}
	if config.PingIntervalS == 0 {
		config.PingIntervalS = 30
	}
	return &WSConfirmer{
		config:  config,
		waiters: make(map[int64]*wsWaiter),
		subToID: make(map[int64]int64),
	}
}

// Start runs the connection loop until ctx is cancelled.
func (w *WSConfirmer) Start(ctx context.Context) {
	go w.runLoop(ctx)
}

func (w *WSConfirmer) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws_confirm: runLoop panic recovered")
		}
		w.disconnect()
	}()

	reconnectDelay := time.Duration(w.config.ReconnectDelayMs) * time.Millisecond
	maxDelay := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			log.Warn().Err(err).Msg("ws_confirm: connection failed")
			w.reconnects.Add(1)
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay *= 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		reconnectDelay = time.Duration(w.config.ReconnectDelayMs) * time.Millisecond
		w.readLoop(ctx)
	}
}

func (w *WSConfirmer) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws_confirm: dial: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.subToID = make(map[int64]int64)
	w.mu.Unlock()
	w.connected.Store(true)

	log.Info().Str("endpoint", w.config.WSEndpoint).Msg("ws_confirm: connected")
	return nil
}

func (w *WSConfirmer) disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected.Store(false)
}

// Connected reports whether the socket is currently up. Callers use
// this to decide between push confirmation and polling fallback.
func (w *WSConfirmer) Connected() bool {
	return w.connected.Load()
}

// Wait subscribes to the signature and blocks until a notification
// arrives or ctx expires. signatureSubscribe fires once and the node
// tears the subscription down afterwards.
func (w *WSConfirmer) Wait(ctx context.Context, sig Signature, commitment string) (*TxStatus, error) {
	if commitment == "" {
		commitment = "confirmed"
	}

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("ws_confirm: not connected")
	}

	reqID := w.nextID.Add(1)
	waiter := &wsWaiter{sig: sig, result: make(chan TxStatus, 1)}

	w.mu.Lock()
	w.waiters[reqID] = waiter
	err := w.conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  "signatureSubscribe",
		"params": []any{
			string(sig),
			map[string]any{"commitment": commitment},
		},
	})
	w.mu.Unlock()

	if err != nil {
		w.removeWaiter(reqID)
		return nil, fmt.Errorf("ws_confirm: write subscribe: %w", err)
	}

	defer w.removeWaiter(reqID)

	select {
	case status := <-waiter.result:
		return &status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *WSConfirmer) removeWaiter(reqID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiters, reqID)
	for subID, id := range w.subToID {
		if id == reqID {
			delete(w.subToID, subID)
		}
	}
}

func (w *WSConfirmer) readLoop(ctx context.Context) {
	pingTicker := time.NewTicker(time.Duration(w.config.PingIntervalS) * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("ws_confirm: ping failed")
					return
				}
			}
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws_confirm: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws_confirm: read error, reconnecting")
			}
			w.connected.Store(false)
			return
		}

		w.handleMessage(message)
	}
}

func (w *WSConfirmer) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws_confirm: handleMessage panic recovered")
		}
	}()

	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Err json.RawMessage `json:"err"`
				} `json:"value"`
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
			} `json:"result"`
			Subscription int64 `json:"subscription"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}

	if notification.Method != "signatureNotification" {
		// Subscription confirmation: {"id": reqID, "result": subID}.
		var subResp struct {
			ID     int64 `json:"id"`
			Result int64 `json:"result"`
		}
		if json.Unmarshal(data, &subResp) == nil && subResp.Result > 0 {
			w.mu.Lock()
			if _, ok := w.waiters[subResp.ID]; ok {
				w.subToID[subResp.Result] = subResp.ID
			}
			w.mu.Unlock()
		}
		return
	}

	subID := notification.Params.Subscription

	w.mu.Lock()
	reqID, ok := w.subToID[subID]
	var waiter *wsWaiter
	if ok {
		waiter = w.waiters[reqID]
	}
	w.mu.Unlock()

	if waiter == nil {
		return
	}

	status := TxStatus{
		Signature: waiter.sig,
		Status:    "confirmed",
		Slot:      notification.Params.Result.Context.Slot,
	}
	if errJSON := notification.Params.Result.Value.Err; len(errJSON) > 0 && string(errJSON) != "null" {
		status.Status = "failed"
		status.ErrString = string(errJSON)
	}

	w.confirmsRecv.Add(1)

	select {
	case waiter.result <- status:
	default:
	}
}

// WSConfirmStats returns confirmer statistics.
type WSConfirmStats struct {
	Connected    bool  `json:"connected"`
	ConfirmsRecv int64 `json:"confirms_recv"`
	Reconnects   int64 `json:"reconnects"`
}

func (w *WSConfirmer) Stats() WSConfirmStats {
	return WSConfirmStats{
		Connected:    w.connected.Load(),
		ConfirmsRecv: w.confirmsRecv.Load(),
		Reconnects:   w.reconnects.Load(),
	}
}
