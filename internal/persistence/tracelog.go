package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/macro-immunet/internal/engine"
)

// TraceLog writes one compressed JSON line per tick report, rotating to a
// new file every UTC hour.
type TraceLog struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewTraceLog creates a trace log under dir. Files are opened lazily.
func NewTraceLog(dir string) *TraceLog {
	return &TraceLog{dir: dir, prefix: "ticks", now: time.Now}
}

// WriteReport appends a tick report.
func (t *TraceLog) WriteReport(r engine.TickReport) error {
	return t.write(r)
}

// Close flushes and closes the current file.
func (t *TraceLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TraceLog) write(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	hour := t.now().UTC().Format("2006-01-02-15")
	if hour != t.curHour {
		if err := t.rotateLocked(hour); err != nil {
			return fmt.Errorf("rotate trace: %w", err)
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *TraceLog) rotateLocked(hour string) error {
	if err := t.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	t.f = f
	t.enc = enc
	t.w = bufio.NewWriterSize(enc, 64*1024)
	t.curHour = hour
	return nil
}

func (t *TraceLog) closeLocked() error {
	var err error
	if t.w != nil {
		_ = t.w.Flush()
	}
	if t.enc != nil {
		err = t.enc.Close()
		t.enc = nil
	}
	if t.f != nil {
		_ = t.f.Close()
		t.f = nil
	}
	t.w = nil
	t.curHour = ""
	return err
}

func (t *TraceLog) pathForHour(hour string) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s-%s.jsonl.zst", t.prefix, hour))
}

// ReadTrace decodes every report in a trace file, in write order.
func ReadTrace(path string) ([]engine.TickReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []engine.TickReport
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var r engine.TickReport
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return out, fmt.Errorf("decode trace line %d: %w", len(out)+1, err)
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
