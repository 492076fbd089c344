package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/reconcile"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
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
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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

type AuditEntry struct {
	Tick   uint64    `json:"tick"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Pos    [3]int    `json:"pos"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// AuditLogger records every block change made by a builder. Write errors
// are logged and otherwise dropped; the simulation does not stop for them.
type AuditLogger struct {
	w   *JSONLZstdWriter
	log *zap.Logger
}

func NewAuditLogger(dataDir string, log *zap.Logger) *AuditLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit"), log: log}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error { return l.w.Write(v) }

// AuditSetBlock implements executor.Auditor.
func (l *AuditLogger) AuditSetBlock(tick uint64, actor string, pos geom.Vec3i, from, to, reason string) {
	err := l.w.Write(AuditEntry{
		Tick:   tick,
		Actor:  actor,
		Action: "SET_BLOCK",
		Pos:    [3]int{pos.X, pos.Y, pos.Z},
		From:   from,
		To:     to,
		Reason: reason,
		Time:   l.w.now().UTC(),
	})
	if err != nil {
		l.log.Warn("audit write", zap.Error(err))
	}
}

func (l *AuditLogger) Close() error { return l.w.Close() }

// ReconcileEntry is one reconciler sweep.
type ReconcileEntry struct {
	Tick      uint64   `json:"tick"`
	Restored  int      `json:"restored"`
	Completed int      `json:"completed"`
	Dropped   int      `json:"dropped"`
	Pending   int      `json:"pending"`
	Finished  [][3]int `json:"finished,omitempty"`
}

// TickLogger writes one entry per reconciler sweep.
type TickLogger struct {
	w   *JSONLZstdWriter
	log *zap.Logger
}

func NewTickLogger(dataDir string, log *zap.Logger) *TickLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events"), log: log}
}

func (l *TickLogger) WriteReconcile(tick uint64, rep reconcile.Report) {
	e := ReconcileEntry{
		Tick:      tick,
		Restored:  rep.Restored,
		Completed: rep.Completed,
		Dropped:   rep.Dropped,
		Pending:   rep.Pending,
	}
	for _, p := range rep.Finished {
		e.Finished = append(e.Finished, [3]int{p.X, p.Y, p.Z})
	}
	if err := l.w.Write(e); err != nil {
		l.log.Warn("event write", zap.Error(err))
	}
}

func (l *TickLogger) Close() error { return l.w.Close() }
