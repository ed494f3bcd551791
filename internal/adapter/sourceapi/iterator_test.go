package sourceapi

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// fakeSourceClient serves a fixed number of pages in memory, one item
// per page, optionally failing a specific page number.
type fakeSourceClient struct {
	mu         sync.Mutex
	totalPages int
	failPages  map[int]bool
	calls      []int
}

func (f *fakeSourceClient) HealthCheck(domain.Context) error { return nil }

func (f *fakeSourceClient) FetchPage(_ domain.Context, _ string, page, _ int, includeTotal bool) (domain.PageResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()

	if f.failPages[page] {
		return domain.PageResponse{}, errors.New("boom")
	}
	item, _ := json.Marshal(map[string]int{"page": page})
	resp := domain.PageResponse{Items: []json.RawMessage{item}, Page: page}
	if includeTotal {
		tp := f.totalPages
		resp.TotalPages = &tp
	}
	return resp, nil
}

func TestPageIteratorWalkInOrder(t *testing.T) {
	fc := &fakeSourceClient{totalPages: 4}
	it := NewPageIterator(fc, 50)

	var seen []int
	skipped, err := it.Walk(t.Context(), "/users", false, func(p Page) error {
		seen = append(seen, p.Number)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	want := []int{1, 2, 3, 4}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v", seen)
	}
	for i, v := range want {
		if seen[i] != v {
			t.Fatalf("seen[%d] = %d, want %d (order not preserved)", i, seen[i], v)
		}
	}
}

func TestPageIteratorFirstPageFailureIsFatal(t *testing.T) {
	fc := &fakeSourceClient{totalPages: 3, failPages: map[int]bool{1: true}}
	it := NewPageIterator(fc, 50)

	_, err := it.Walk(t.Context(), "/users", false, func(Page) error { return nil })
	if err == nil {
		t.Fatal("expected error when page 1 fails")
	}
}

func TestPageIteratorGlobalTailFailureIsFatal(t *testing.T) {
	fc := &fakeSourceClient{totalPages: 3, failPages: map[int]bool{2: true}}
	it := NewPageIterator(fc, 50)

	_, err := it.Walk(t.Context(), "/messages", false, func(Page) error { return nil })
	if err == nil {
		t.Fatal("expected error when a global-resource tail page fails")
	}
}

func TestPageIteratorPerChatTailFailureIsSkippedNotFatal(t *testing.T) {
	fc := &fakeSourceClient{totalPages: 3, failPages: map[int]bool{2: true}}
	it := NewPageIterator(fc, 50)

	var seen []int
	skipped, err := it.Walk(t.Context(), "/chats/1/messages", true, func(p Page) error {
		seen = append(seen, p.Number)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != 2 {
		t.Fatalf("skipped = %v, want [2]", skipped)
	}
	if len(seen) != 2 {
		t.Fatalf("seen = %v, want pages 1 and 3", seen)
	}
}

func TestPageIteratorSinglePage(t *testing.T) {
	fc := &fakeSourceClient{totalPages: 1}
	it := NewPageIterator(fc, 50)

	var seen []int
	_, err := it.Walk(t.Context(), "/categories", false, func(p Page) error {
		seen = append(seen, p.Number)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("seen = %v, want [1]", seen)
	}
}
