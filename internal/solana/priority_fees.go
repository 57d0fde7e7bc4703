package solana

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Priority fee estimation
// ---------------------------------------------------------------------------

const (
	// MaxPriorityFeeLamports caps any estimate at 0.05 SOL.
	MaxPriorityFeeLamports = 50_000_000

	// DefaultPriorityFeeLamports is used until the first refresh lands.
	DefaultPriorityFeeLamports = 10_000

	// FeeRefreshInterval is the polling cadence for recent fee samples.
	FeeRefreshInterval = 15 * time.Second
)

// PriorityFeeEstimator polls getRecentPrioritizationFees and tracks
// fee percentiles over the sampled slots. Swaps pay p75, urgent swaps
// pay double, never above MaxPriorityFeeLamports.
type PriorityFeeEstimator struct {
	rpc *LiveRPCClient

	mu        sync.RWMutex
	feeP50    uint64
	feeP75    uint64
	feeP90    uint64
	lastFetch time.Time
	samples   int

	stopCh chan struct{}
}

func NewPriorityFeeEstimator(rpc *LiveRPCClient) *PriorityFeeEstimator {
	return &PriorityFeeEstimator{
		rpc:    rpc,
		stopCh: make(chan struct{}),
	}
}

// Start refreshes once immediately, then on every tick. Blocks until
// the context is cancelled or Stop is called.
func (e *PriorityFeeEstimator) Start(ctx context.Context) {
	e.refresh(ctx)

	ticker := time.NewTicker(FeeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

// Stop terminates the refresh loop. Safe to call more than once.
func (e *PriorityFeeEstimator) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

// EstimateFee returns the priority fee in lamports for the next
// submission. Falls back to the default until samples exist.
func (e *PriorityFeeEstimator) EstimateFee(urgent bool) uint64 {
	e.mu.RLock()
	p75 := e.feeP75
	e.mu.RUnlock()

	if p75 == 0 {
		return DefaultPriorityFeeLamports
	}

	fee := p75
	if urgent {
		fee *= 2
	}
	return min(fee, uint64(MaxPriorityFeeLamports))
}

// FeeStats reports the current estimates for the control plane.
type FeeStats struct {
	P50Lamports uint64    `json:"p50_lamports"`
	P75Lamports uint64    `json:"p75_lamports"`
	P90Lamports uint64    `json:"p90_lamports"`
	Samples     int       `json:"samples"`
	LastFetch   time.Time `json:"last_fetch"`
}

func (e *PriorityFeeEstimator) Stats() FeeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return FeeStats{
		P50Lamports: e.feeP50,
		P75Lamports: e.feeP75,
		P90Lamports: e.feeP90,
		Samples:     e.samples,
		LastFetch:   e.lastFetch,
	}
}

func (e *PriorityFeeEstimator) refresh(ctx context.Context) {
	values, err := e.fetchSamples(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("priority_fees: refresh failed")
		return
	}
	if len(values) == 0 {
		// All-zero samples mean an idle network; keep prior estimates.
		return
	}

	slices.Sort(values)

	e.mu.Lock()
	e.feeP50 = percentile(values, 50)
	e.feeP75 = percentile(values, 75)
	e.feeP90 = percentile(values, 90)
	e.samples = len(values)
	e.lastFetch = time.Now()
	e.mu.Unlock()

	log.Debug().
		Uint64("p50", e.feeP50).
		Uint64("p75", e.feeP75).
		Uint64("p90", e.feeP90).
		Int("samples", len(values)).
		Msg("priority_fees: updated estimates")
}

// fetchSamples returns the non-zero prioritization fees from the most
// recent slots.
func (e *PriorityFeeEstimator) fetchSamples(ctx context.Context) ([]uint64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := e.rpc.call(fetchCtx, "getRecentPrioritizationFees", nil)
	if err != nil {
		return nil, err
	}

	var fees []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := json.Unmarshal(result, &fees); err != nil {
		return nil, err
	}

	values := make([]uint64, 0, len(fees))
	for _, f := range fees {
		if f.PrioritizationFee > 0 {
			values = append(values, f.PrioritizationFee)
		}
	}
	return values, nil
}

// percentile computes the p-th percentile of an ascending-sorted slice.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
