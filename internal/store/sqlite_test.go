package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLastHashUnknownURL(t *testing.T) {
	s := newTestStore(t)
	hash, err := s.LastHash(context.Background(), "https://example.com/x")
	if err != nil {
		t.Fatalf("last hash: %v", err)
	}
	if hash != "" {
		t.Errorf("hash = %q, want empty for unseen url", hash)
	}
}

func TestRecordSuccessRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/flats"
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.RecordSuccess(ctx, url, "h1", false, at); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := s.RecordSuccess(ctx, url, "h2", true, at.Add(time.Hour)); err != nil {
		t.Fatalf("record success: %v", err)
	}

	hash, err := s.LastHash(ctx, url)
	if err != nil {
		t.Fatalf("last hash: %v", err)
	}
	if hash != "h2" {
		t.Errorf("hash = %q, want h2", hash)
	}

	st, err := s.Stats(ctx, url)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalChecks != 2 {
		t.Errorf("total checks = %d, want 2", st.TotalChecks)
	}
	if st.NewListings != 1 {
		t.Errorf("new listings = %d, want 1", st.NewListings)
	}
	if st.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0", st.ErrorCount)
	}
	if !st.LastCheckedAt.Equal(at.Add(time.Hour)) {
		t.Errorf("last checked at = %v, want %v", st.LastCheckedAt, at.Add(time.Hour))
	}
}

func TestRecordFailureKeepsHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/flats"

	if err := s.RecordSuccess(ctx, url, "h1", false, time.Now()); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := s.RecordFailure(ctx, url, time.Now()); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	st, err := s.Stats(ctx, url)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.LastHash != "h1" {
		t.Errorf("last hash = %q, failure must not clear it", st.LastHash)
	}
	if st.ErrorCount != 1 || st.TotalChecks != 2 {
		t.Errorf("counters = %d errors / %d checks, want 1/2", st.ErrorCount, st.TotalChecks)
	}
}

func TestStatsUnknownURLIsZeroed(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Stats(context.Background(), "https://example.com/none")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalChecks != 0 || st.LastHash != "" {
		t.Errorf("expected zeroed stats, got %+v", st)
	}
}

func TestAllStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordSuccess(ctx, "https://b.example.com", "hb", false, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, "https://a.example.com", time.Now()); err != nil {
		t.Fatal(err)
	}

	all, err := s.AllStats(ctx)
	if err != nil {
		t.Fatalf("all stats: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d rows, want 2", len(all))
	}
	if all[0].URL != "https://a.example.com" || all[1].URL != "https://b.example.com" {
		t.Errorf("rows not ordered by url: %q, %q", all[0].URL, all[1].URL)
	}
}
