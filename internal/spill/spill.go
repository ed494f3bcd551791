// Package spill implements the append-only NDJSON handoff files that
// carry records and transformed output between activities (§4.3, §6.5).
package spill

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// RawPath returns the deterministic extract-output path for a run
// (§6.5): "{dir}/etl-{runID}-raw.ndjson".
func RawPath(dir, runID string) string {
	return fmt.Sprintf("%s/etl-%s-raw.ndjson", dir, runID)
}

// TransformedPath returns the deterministic transform-output path for
// a run (§6.5): "{dir}/etl-{runID}-transformed.json".
func TransformedPath(dir, runID string) string {
	return fmt.Sprintf("%s/etl-%s-transformed.json", dir, runID)
}

// Writer is an append-only NDJSON spill file writer (§4.3). Not safe
// for concurrent use; the extractor writes from a single goroutine.
type Writer struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// NewWriter creates (or truncates) the spill file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("op=spill.NewWriter path=%s: %w", path, err)
	}
	return &Writer{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// WriteRecord appends one tagged record as a single NDJSON line.
func (w *Writer) WriteRecord(resource string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("op=spill.Writer.WriteRecord resource=%s: %w", resource, err)
	}
	rec := domain.SpillRecord{Resource: resource, Data: payload}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("op=spill.Writer.WriteRecord resource=%s: %w", resource, err)
	}
	if _, err := w.w.Write(line); err != nil {
		return fmt.Errorf("op=spill.Writer.WriteRecord resource=%s: %w", resource, err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("op=spill.Writer.WriteRecord resource=%s: %w", resource, err)
	}
	return nil
}

// Flush forces buffered writes to disk. The extract activity MUST
// call this before returning successfully (§4.3).
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("op=spill.Writer.Flush path=%s: %w", w.path, err)
	}
	return w.f.Sync()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// Path returns the spill file's path.
func (w *Writer) Path() string { return w.path }

var _ domain.SpillWriter = (*Writer)(nil)

// Reader performs a lenient, forward-only scan of a spill file,
// skipping malformed lines instead of failing the whole scan (§4.3).
type Reader struct {
	f *os.File
}

// NewReader opens the spill file at path for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("op=spill.NewReader path=%s: %w", path, err)
	}
	return &Reader{f: f}, nil
}

const maxLineSize = 8 * 1024 * 1024

// Each invokes fn once per well-formed line, in file order. Malformed
// lines are skipped silently; fn's own errors propagate immediately.
func (r *Reader) Each(fn func(rec domain.SpillRecord) error) error {
	sc := bufio.NewScanner(r.f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.SpillRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("op=spill.Reader.Each: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

var _ domain.SpillReader = (*Reader)(nil)
