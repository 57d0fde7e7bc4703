package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Trade Ledger — append-only JSONL of settled swaps
// ---------------------------------------------------------------------------

// SchemaVersion is bumped when Record gains or changes fields.
const SchemaVersion = 1

// Record is one settled swap, terminal success or failure. Only real
// outcomes are written; a dry-run never reaches the ledger.
type Record struct {
	Schema       int             `json:"schema"`
	IntentID     string          `json:"intent_id"`
	TraceID      string          `json:"trace_id,omitempty"`
	StrategyID   string          `json:"strategy_id,omitempty"`
	Timestamp    time.Time       `json:"ts"`
	InputMint    string          `json:"input_mint"`
	OutputMint   string          `json:"output_mint"`
	InAmountRaw  uint64          `json:"in_amount_raw"`
	OutAmountRaw uint64          `json:"out_amount_raw,omitempty"`
	NotionalSOL  decimal.Decimal `json:"notional_sol"`
	SlippageBps  int             `json:"slippage_bps"`
	Signature    string          `json:"signature,omitempty"`
	Status       string          `json:"status"` // confirmed|finalized|failed|unknown
	FailStage    string          `json:"fail_stage,omitempty"`
	FailKind     string          `json:"fail_kind,omitempty"`
	FailReason   string          `json:"fail_reason,omitempty"`
	ElapsedMs    int64           `json:"elapsed_ms"`
}

// Writer appends records to a JSONL file. Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer

	written int64
}

// NewWriter returns a ledger writer appending to path. An empty path
// returns nil; a nil *Writer silently drops records, so a daemon
// without a ledger configured still runs.
func NewWriter(path string) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Writer{path: path}
}

func (w *Writer) ensureOpenLocked() error {
	if w.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	w.file = f
	w.w = bufio.NewWriterSize(f, 256*1024)
	return nil
}

// Append writes one record followed by '\n' and flushes, so tailers
// see it immediately.
func (w *Writer) Append(rec Record) error {
	if w == nil {
		return nil
	}
	if rec.Schema == 0 {
		rec.Schema = SchemaVersion
	}
	if rec.IntentID == "" {
		return fmt.Errorf("ledger: record without intent_id")
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpenLocked(); err != nil {
		return err
	}

	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	w.written++
	return nil
}

// Written returns the number of records appended by this writer.
func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes buffered data and closes the file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.w != nil {
		if err := w.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.w = nil
	w.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// Replay reads a ledger file and invokes fn per record, oldest first.
// Malformed lines are skipped and counted; a partially written final
// line from a crash must not poison the whole file.
func Replay(path string, fn func(Record) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil || rec.IntentID == "" {
			skipped++
			continue
		}
		if err := fn(rec); err != nil {
			return skipped, err
		}
	}
	return skipped, scanner.Err()
}

// Summary aggregates a replayed ledger.
type Summary struct {
	Total     int             `json:"total"`
	Confirmed int             `json:"confirmed"`
	Failed    int             `json:"failed"`
	SpentSOL  decimal.Decimal `json:"spent_sol"`
	Skipped   int             `json:"skipped_lines"`
}

// Summarize replays a ledger into aggregate counts. Spend counts only
// swaps that actually landed.
func Summarize(path string) (Summary, error) {
	s := Summary{SpentSOL: decimal.Zero}
	skipped, err := Replay(path, func(rec Record) error {
		s.Total++
		switch rec.Status {
		case "confirmed", "finalized":
			s.Confirmed++
			s.SpentSOL = s.SpentSOL.Add(rec.NotionalSOL)
		case "failed":
			s.Failed++
		}
		return nil
	})
	s.Skipped = skipped
	return s, err
}

// ---------------------------------------------------------------------------
// Checkpoint — crash-safe daemon state
// ---------------------------------------------------------------------------

// Checkpoint is the durable daemon state, written atomically so a
// crash mid-write leaves the previous checkpoint intact.
type Checkpoint struct {
	Day           string          `json:"day"` // UTC date of the counters
	DailySpentSOL decimal.Decimal `json:"daily_spent_sol"`
	DailyPnLSOL   decimal.Decimal `json:"daily_pnl_sol"`
	LastIntentID  string          `json:"last_intent_id,omitempty"`
	LastSignature string          `json:"last_signature,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LoadCheckpoint reads a checkpoint. The bool reports whether one
// existed; a missing file is not an error.
func LoadCheckpoint(path string) (Checkpoint, bool, error) {
	if path == "" {
		return Checkpoint{}, false, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return ckpt, true, nil
}

// SaveCheckpoint writes a checkpoint via tmp file + rename.
func SaveCheckpoint(path string, ckpt Checkpoint) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	ckpt.UpdatedAt = time.Now()
	b, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
