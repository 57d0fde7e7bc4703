package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Confirmer — bounded polling of signature status
// ---------------------------------------------------------------------------

// ConfirmConfig bounds how long we wait for a transaction to land.
type ConfirmConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	// Commitment is the level that counts as landed: confirmed or finalized.
	Commitment string
}

// DefaultConfirmConfig returns mainnet-reasonable defaults.
func DefaultConfirmConfig() ConfirmConfig {
	return ConfirmConfig{
		PollInterval: 2 * time.Second,
		MaxWait:      60 * time.Second,
		Commitment:   "confirmed",
	}
}

// Confirmer waits for submitted transactions to reach a commitment level.
type Confirmer struct {
	rpc    RPCClient
	config ConfirmConfig
	ws     *WSConfirmer // optional push fast path
}

// NewConfirmer creates a confirmer over the given RPC client.
func NewConfirmer(rpc RPCClient, config ConfirmConfig) *Confirmer {
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.MaxWait == 0 {
		config.MaxWait = 60 * time.Second
	}
	if config.Commitment == "" {
		config.Commitment = "confirmed"
	}
	return &Confirmer{rpc: rpc, config: config}
}

// SetWS attaches a WebSocket confirmer. When the socket is up, Wait
// blocks on a push notification instead of polling; on any socket
// failure it falls back to the poll loop for the remaining budget.
func (c *Confirmer) SetWS(ws *WSConfirmer) {
	c.ws = ws
}

// ErrConfirmTimeout is returned when a transaction does not land within
// MaxWait. The transaction may still land later; callers must treat the
// outcome as unknown, not failed.
var ErrConfirmTimeout = fmt.Errorf("confirm: timed out waiting for signature")

// Wait polls the signature until it is confirmed, failed, or MaxWait
// elapses. Transient status-poll errors are tolerated; the poll loop
// only gives up on timeout or context cancellation.
func (c *Confirmer) Wait(ctx context.Context, sig Signature) (*ConfirmResult, error) {
	start := time.Now()
	deadline := start.Add(c.config.MaxWait)

	result := &ConfirmResult{
		Status: TxStatus{Signature: sig, Status: "pending"},
	}

	if c.ws != nil && c.ws.Connected() {
		wsCtx, cancel := context.WithDeadline(ctx, deadline)
		status, err := c.ws.Wait(wsCtx, sig, c.config.Commitment)
		cancel()
		switch {
		case err == nil:
			result.Status = *status
			result.Elapsed = time.Since(start)
			if status.Failed() {
				log.Warn().
					Str("sig", truncateSig(sig)).
					Str("err", status.ErrString).
					Msg("confirm: transaction failed on chain")
			} else {
				log.Info().
					Str("sig", truncateSig(sig)).
					Dur("elapsed", result.Elapsed).
					Msg("confirm: transaction landed (ws)")
			}
			return result, nil
		case ctx.Err() != nil:
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			result.Elapsed = time.Since(start)
			return result, ErrConfirmTimeout
		default:
			log.Debug().Err(err).Str("sig", truncateSig(sig)).
				Msg("confirm: ws wait failed, polling")
		}
	}

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		case <-ticker.C:
		}

		result.PollCount++

		status, err := c.rpc.GetSignatureStatus(ctx, sig)
		if err != nil {
			log.Debug().Err(err).Str("sig", truncateSig(sig)).Msg("confirm: status poll failed")
		} else {
			result.Status = *status

			if status.Failed() {
				result.Elapsed = time.Since(start)
				log.Warn().
					Str("sig", truncateSig(sig)).
					Str("err", status.ErrString).
					Msg("confirm: transaction failed on chain")
				return result, nil
			}

			if c.reached(status.Status) {
				result.Elapsed = time.Since(start)
				log.Info().
					Str("sig", truncateSig(sig)).
					Str("status", status.Status).
					Int("polls", result.PollCount).
					Dur("elapsed", result.Elapsed).
					Msg("confirm: transaction landed")
				return result, nil
			}
		}

		if time.Now().After(deadline) {
			result.Elapsed = time.Since(start)
			return result, ErrConfirmTimeout
		}
	}
}

// reached reports whether the observed status satisfies the configured
// commitment level.
func (c *Confirmer) reached(status string) bool {
	switch c.config.Commitment {
	case "finalized":
		return status == "finalized"
	default:
		return status == "confirmed" || status == "finalized"
	}
}

func truncateSig(sig Signature) string {
	s := string(sig)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
