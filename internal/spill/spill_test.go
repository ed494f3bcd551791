package spill

import (
	"path/filepath"
	"testing"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.ndjson")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRecord(domain.ResourceUsers, map[string]int{"id": 1}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.WriteRecord(domain.ResourceChats, map[string]int{"id": 2}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var seen []string
	err = r.Each(func(rec domain.SpillRecord) error {
		seen = append(seen, rec.Resource)
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(seen) != 2 || seen[0] != domain.ResourceUsers || seen[1] != domain.ResourceChats {
		t.Fatalf("seen = %v", seen)
	}
}

func TestReaderSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.ndjson")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRecord(domain.ResourceUsers, map[string]int{"id": 1}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if _, err := w.f.WriteString("not json at all\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := w.WriteRecord(domain.ResourceChats, map[string]int{"id": 2}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var count int
	err = r.Each(func(rec domain.SpillRecord) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2 (garbage line skipped)", count)
	}
}

func TestPathHelpers(t *testing.T) {
	if got := RawPath("/tmp", "abc"); got != "/tmp/etl-abc-raw.ndjson" {
		t.Fatalf("RawPath = %s", got)
	}
	if got := TransformedPath("/tmp", "abc"); got != "/tmp/etl-abc-transformed.json" {
		t.Fatalf("TransformedPath = %s", got)
	}
}
