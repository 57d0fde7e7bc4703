package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/solflow/solflow/internal/solana"
)

// ---------------------------------------------------------------------------
// Strategy specs — declarative recurring swaps loaded from JSON files
// ---------------------------------------------------------------------------

// Spec describes one recurring swap schedule. Files are validated on
// load; a bad spec fails the whole directory rather than silently
// running with defaults.
type Spec struct {
	StrategyID string        `json:"strategy_id"`
	Enabled    bool          `json:"enabled"`
	InputMint  solana.Pubkey `json:"input_mint"`
	OutputMint solana.Pubkey `json:"output_mint"`
	// AmountRaw is a fixed input amount in the mint's smallest unit.
	// Mutually exclusive with PositionSizePct.
	AmountRaw uint64 `json:"amount_raw,omitempty"`
	// PositionSizePct sizes each tick as a percentage of the wallet's
	// SOL balance at tick time. Requires SOL input.
	PositionSizePct decimal.Decimal `json:"position_size_pct,omitempty"`
	NotionalSOL     decimal.Decimal `json:"notional_sol,omitempty"`
	SlippageBps     int             `json:"slippage_bps"`
	// MinOutLamports rejects quotes whose output falls below this
	// floor, in the output mint's smallest unit. Zero disables it.
	MinOutLamports uint64 `json:"min_out_lamports,omitempty"`
	// MaxPriceImpactPct rejects quotes with higher price impact.
	MaxPriceImpactPct decimal.Decimal `json:"max_price_impact_pct,omitempty"`
	IntervalS         int             `json:"interval_s"`
	JitterS           int             `json:"jitter_s"`
	// MaxRuns stops the schedule after N executions; zero means run
	// until shutdown.
	MaxRuns int `json:"max_runs,omitempty"`
}

// Validate checks a spec for structural problems.
func (s *Spec) Validate() error {
	switch {
	case s.StrategyID == "":
		return fmt.Errorf("strategy_id required")
	case s.InputMint == "":
		return fmt.Errorf("input_mint required")
	case s.OutputMint == "":
		return fmt.Errorf("output_mint required")
	case s.InputMint == s.OutputMint:
		return fmt.Errorf("input_mint and output_mint are identical")
	case s.AmountRaw == 0 && !s.PositionSizePct.IsPositive():
		return fmt.Errorf("one of amount_raw or position_size_pct required")
	case s.AmountRaw > 0 && !s.PositionSizePct.IsZero():
		return fmt.Errorf("amount_raw and position_size_pct are mutually exclusive")
	case s.PositionSizePct.IsNegative():
		return fmt.Errorf("position_size_pct must be positive")
	case s.PositionSizePct.GreaterThan(decimal.NewFromInt(100)):
		return fmt.Errorf("position_size_pct %s out of range (0, 100]", s.PositionSizePct)
	case s.PositionSizePct.IsPositive() && s.InputMint != solana.SOLMint:
		return fmt.Errorf("position_size_pct requires SOL input")
	case s.MaxPriceImpactPct.IsNegative():
		return fmt.Errorf("max_price_impact_pct must be non-negative")
	case s.SlippageBps <= 0 || s.SlippageBps > 10000:
		return fmt.Errorf("slippage_bps %d out of range (0, 10000]", s.SlippageBps)
	case s.IntervalS <= 0:
		return fmt.Errorf("interval_s must be positive")
	case s.JitterS < 0:
		return fmt.Errorf("jitter_s must be non-negative")
	case s.JitterS >= s.IntervalS:
		return fmt.Errorf("jitter_s must be smaller than interval_s")
	case s.MaxRuns < 0:
		return fmt.Errorf("max_runs must be non-negative")
	}
	return nil
}

// Load reads and validates a single spec file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: read %s: %w", path, err)
	}

	var spec Spec
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("strategy: parse %s: %w", path, err)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %s: %w", path, err)
	}
	return &spec, nil
}

// LoadDir loads every *.json spec in dir, sorted by filename for
// deterministic ordering. Duplicate strategy IDs are an error.
func LoadDir(dir string) ([]*Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("strategy: read dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	specs := make([]*Spec, 0, len(files))
	seen := make(map[string]string)
	for _, name := range files {
		spec, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[spec.StrategyID]; dup {
			return nil, fmt.Errorf("strategy: duplicate strategy_id %q in %s and %s", spec.StrategyID, prev, name)
		}
		seen[spec.StrategyID] = name
		specs = append(specs, spec)

		log.Info().
			Str("strategy_id", spec.StrategyID).
			Bool("enabled", spec.Enabled).
			Int("interval_s", spec.IntervalS).
			Msg("strategy: spec loaded")
	}
	return specs, nil
}
