package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func permissiveConfig() Config {
	return Config{
		MaxNotionalSOL:   decimal.NewFromInt(100),
		MaxDailySpendSOL: decimal.NewFromInt(1000),
		MaxDailyLossSOL:  decimal.NewFromInt(100),
		MaxInFlight:      10,
		MaxSlippageBps:   1000,
	}
}

func intentFor(notional float64) Intent {
	return Intent{
		IntentID:    "intent-1",
		InputMint:   "So11111111111111111111111111111111111111112",
		OutputMint:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		NotionalSOL: decimal.NewFromFloat(notional),
		SlippageBps: 100,
	}
}

func TestCheckAllows(t *testing.T) {
	e := New(permissiveConfig())
	d := e.Check(intentFor(1.0))
	assert.True(t, d.Allowed)
	assert.Empty(t, d.ReasonCodes)

	stats := e.Stats()
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, "1", stats.DailySpent.String())
	assert.Equal(t, int64(1), stats.AllowedTotal)
}

func TestKillSwitchDeniesEverything(t *testing.T) {
	e := New(permissiveConfig())
	e.Kill()

	d := e.Check(intentFor(0.001))
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes, "KILL_SWITCH_ACTIVE")

	// Kill cannot be resumed.
	e.Resume()
	d = e.Check(intentFor(0.001))
	assert.False(t, d.Allowed)
}

func TestFreezeAndResume(t *testing.T) {
	e := New(permissiveConfig())
	e.Freeze("manual")

	d := e.Check(intentFor(0.001))
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes, "SYSTEM_FROZEN")

	e.Resume()
	d = e.Check(intentFor(0.001))
	assert.True(t, d.Allowed)
}

func TestMaxNotional(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxNotionalSOL = decimal.NewFromFloat(0.5)
	e := New(cfg)

	d := e.Check(intentFor(0.6))
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "SWAP_TOO_LARGE")
	assert.Equal(t, 0, e.Stats().InFlight, "denied swap must not reserve a slot")
}

func TestDailySpendCap(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxDailySpendSOL = decimal.NewFromFloat(2.0)
	e := New(cfg)

	assert.True(t, e.Check(intentFor(1.0)).Allowed)
	assert.True(t, e.Check(intentFor(1.0)).Allowed)

	d := e.Check(intentFor(0.5))
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "DAILY_SPEND_EXCEEDED")
}

func TestReleaseRefundsBudget(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxDailySpendSOL = decimal.NewFromFloat(1.0)
	e := New(cfg)

	require.True(t, e.Check(intentFor(1.0)).Allowed)
	require.False(t, e.Check(intentFor(1.0)).Allowed)

	// Failed before spending: budget comes back.
	e.Release(decimal.NewFromFloat(1.0), true)
	assert.True(t, e.Check(intentFor(1.0)).Allowed)

	// Settled: budget stays consumed.
	e.Release(decimal.NewFromFloat(1.0), false)
	assert.False(t, e.Check(intentFor(1.0)).Allowed)
}

func TestMaxInFlight(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxInFlight = 2
	e := New(cfg)

	for i := 0; i < 2; i++ {
		d := e.Check(Intent{IntentID: fmt.Sprintf("i-%d", i), NotionalSOL: decimal.NewFromFloat(0.1), SlippageBps: 100})
		require.True(t, d.Allowed)
	}

	d := e.Check(intentFor(0.1))
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "TOO_MANY_IN_FLIGHT")

	e.Release(decimal.NewFromFloat(0.1), false)
	assert.True(t, e.Check(intentFor(0.1)).Allowed)
}

func TestSlippageCeiling(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxSlippageBps = 300
	e := New(cfg)

	intent := intentFor(0.1)
	intent.SlippageBps = 500
	d := e.Check(intent)
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "SLIPPAGE_TOO_HIGH")
}

func TestDailyLossAutoFreeze(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxDailyLossSOL = decimal.NewFromFloat(0.5)
	e := New(cfg)

	e.RecordPnL(decimal.NewFromFloat(-0.3))
	assert.True(t, e.IsActive())

	e.RecordPnL(decimal.NewFromFloat(-0.3))
	assert.False(t, e.IsActive(), "loss cap breach should auto-freeze")

	d := e.Check(intentFor(0.01))
	assert.False(t, d.Allowed)

	// Operator resume works, but loss cap denies again.
	e.Resume()
	d = e.Check(intentFor(0.01))
	require.False(t, d.Allowed)
	assert.Contains(t, d.ReasonCodes[0], "DAILY_LOSS_EXCEEDED")
}

func TestMultipleReasonCodes(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxNotionalSOL = decimal.NewFromFloat(0.1)
	cfg.MaxSlippageBps = 100
	e := New(cfg)

	intent := intentFor(5.0)
	intent.SlippageBps = 9999
	d := e.Check(intent)
	require.False(t, d.Allowed)
	assert.GreaterOrEqual(t, len(d.ReasonCodes), 2)
}

func TestRestoreSeedsCounters(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxDailySpendSOL = decimal.NewFromInt(10)
	e := New(cfg)

	day := time.Now().UTC().Format("2006-01-02")
	e.Restore(day, decimal.NewFromInt(9), decimal.NewFromFloat(-0.2))

	stats := e.Stats()
	assert.Equal(t, "9", stats.DailySpent.String())
	assert.Equal(t, "-0.2", stats.DailyPnL.String())

	// Only 1 SOL of budget remains after restore.
	require.True(t, e.Check(intentFor(1.0)).Allowed)
	assert.False(t, e.Check(intentFor(1.0)).Allowed)
}

func TestRestoreIgnoresStaleDay(t *testing.T) {
	e := New(permissiveConfig())
	e.Restore("2001-01-01", decimal.NewFromInt(999), decimal.Zero)
	assert.True(t, e.Stats().DailySpent.IsZero())
}
