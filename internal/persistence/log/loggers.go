package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/plan"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named <prefix>-<hour>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

const (
	KindAction = "action"
	KindNeed   = "need"
)

// Record is one journal line.
type Record struct {
	Kind   string             `json:"kind"`
	Agent  string             `json:"agent"`
	At     time.Time          `json:"at"`
	Action *plan.HistoryEntry `json:"action,omitempty"`
	Need   *NeedRecord        `json:"need,omitempty"`
}

// NeedRecord is the outcome of a closed need.
type NeedRecord struct {
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt"`
	Offers    int       `json:"offers"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at"`
	Reason    string    `json:"reason,omitempty"`
}

func NewNeedRecord(r blackboard.NeedRequest) NeedRecord {
	n := NeedRecord{
		Kind:      r.Kind,
		Status:    r.Status.String(),
		Attempt:   r.Attempt,
		Offers:    len(r.Offers),
		CreatedAt: r.CreatedAt,
		ClosedAt:  r.ClosedAt,
		Reason:    r.Reason,
	}
	if r.Accepted != nil {
		n.Provider = r.Accepted.ProviderID
	}
	return n
}

// Journal writes agent actions and closed needs as compressed JSONL. It satisfies
// agent.Journal; write failures are logged, never returned to the agent.
type Journal struct {
	w      *JSONLZstdWriter
	logger *stdlog.Logger
}

func NewJournal(dir string, logger *stdlog.Logger) *Journal {
	return &Journal{w: NewJSONLZstdWriter(filepath.Join(dir, "journal"), "journal"), logger: logger}
}

func (j *Journal) RecordAction(agentID string, e plan.HistoryEntry) {
	j.write(Record{Kind: KindAction, Agent: agentID, At: e.At, Action: &e})
}

func (j *Journal) RecordNeed(agentID string, r blackboard.NeedRequest) {
	n := NewNeedRecord(r)
	j.write(Record{Kind: KindNeed, Agent: agentID, At: r.ClosedAt, Need: &n})
}

func (j *Journal) write(r Record) {
	if err := j.w.Write(r); err != nil && j.logger != nil {
		j.logger.Printf("journal: %v", err)
	}
}

func (j *Journal) Close() error { return j.w.Close() }
