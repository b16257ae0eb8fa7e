// Package journal persists every advisor outcome and circuit-breaker firing
// as one JSON line, idempotent on a per-tick fingerprint.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YoByron/Bijaz/internal/observ"
)

const (
	KindHeartbeat      = "position_heartbeat"
	KindCircuitBreaker = "circuit_breaker"
)

const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
	OutcomeInfo     = "info"
)

// Decision is the advisor's validated (or rejected) action.
type Decision struct {
	Action string             `json:"action"`
	Params map[string]float64 `json:"params,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// Snapshot is the compact tick form stored with each record.
type Snapshot struct {
	Timestamp            int64    `json:"timestamp"`
	Symbol               string   `json:"symbol"`
	Side                 string   `json:"side"`
	Size                 float64  `json:"size"`
	EntryPrice           float64  `json:"entry_price"`
	MarkPrice            float64  `json:"mark_price"`
	UnrealizedPnl        float64  `json:"unrealized_pnl"`
	PnlPctOfEquity       float64  `json:"pnl_pct_of_equity"`
	AccountEquity        float64  `json:"account_equity"`
	LiquidationPrice     float64  `json:"liquidation_price"`
	DistToLiquidationPct float64  `json:"dist_to_liquidation_pct"`
	FundingRate          float64  `json:"funding_rate"`
	StopLossPrice        *float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice      *float64 `json:"take_profit_price,omitempty"`
}

// AdvisoryDecision is one journal record.
type AdvisoryDecision struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Symbol      string    `json:"symbol"`
	Timestamp   int64     `json:"timestamp"` // ms, tick time
	Triggers    []string  `json:"triggers,omitempty"`
	Decision    *Decision `json:"decision,omitempty"`
	Outcome     string    `json:"outcome"`
	Snapshot    *Snapshot `json:"snapshot,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Fingerprint is the idempotency key: one record per symbol per tick.
func Fingerprint(symbol string, timestampMs int64) string {
	return fmt.Sprintf("heartbeat:%s:%d", symbol, timestampMs)
}

// Journal appends records to a JSONL file. Safe for concurrent use by
// multiple Watchers; writes are serialized internally.
type Journal struct {
	mu           sync.Mutex
	path         string
	dedupeWindow time.Duration
	seen         map[string]time.Time
}

func New(path string, dedupeWindowSecs int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	observ.SetGauge("journal_writable", 1, nil)
	return &Journal{
		path:         path,
		dedupeWindow: time.Duration(dedupeWindowSecs) * time.Second,
		seen:         map[string]time.Time{},
	}, nil
}

// Record writes the artifact unless its fingerprint was already recorded
// within the dedupe window. Missing ID and fingerprint are filled in.
func (j *Journal) Record(artifact AdvisoryDecision) error {
	if artifact.Fingerprint == "" {
		artifact.Fingerprint = Fingerprint(artifact.Symbol, artifact.Timestamp)
	}
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.RecordedAt.IsZero() {
		artifact.RecordedAt = time.Now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	if at, ok := j.seen[artifact.Fingerprint]; ok && now.Sub(at) < j.dedupeWindow {
		return nil
	}

	b, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		observ.SetGauge("journal_writable", 0, nil)
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		observ.SetGauge("journal_writable", 0, nil)
		return err
	}

	j.seen[artifact.Fingerprint] = now
	j.pruneLocked(now)
	observ.IncCounter("journal_records_total", map[string]string{"kind": artifact.Kind})
	observ.SetGauge("journal_writable", 1, nil)
	return nil
}

// Seen reports whether the fingerprint was recorded within the dedupe window.
func (j *Journal) Seen(fingerprint string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	at, ok := j.seen[fingerprint]
	return ok && time.Since(at) < j.dedupeWindow
}

// Tail returns the last n records, oldest first.
func (j *Journal) Tail(n int) ([]AdvisoryDecision, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AdvisoryDecision
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec AdvisoryDecision
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
		if len(out) > n {
			out = out[1:]
		}
	}
	return out, sc.Err()
}

func (j *Journal) pruneLocked(now time.Time) {
	if len(j.seen) < 4096 {
		return
	}
	for k, at := range j.seen {
		if now.Sub(at) >= j.dedupeWindow {
			delete(j.seen, k)
		}
	}
}
