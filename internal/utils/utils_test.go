package utils

import (
	"strings"
	"testing"
	"time"
)

func TestHashContentRoundTrip(t *testing.T) {
	if HashContent("abc") != HashContent("abc") {
		t.Error("same content must produce the same hash")
	}
	if HashContent("abc") == HashContent("abd") {
		t.Error("different content must produce different hashes")
	}
	if len(HashContent("")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(HashContent("")))
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HTTPS://Example.COM/listings", "https://example.com/listings"},
		{"https://example.com:443/listings", "https://example.com/listings"},
		{"http://example.com:80/a#frag", "http://example.com/a"},
		{"https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"https://example.com", "https://example.com/"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.input)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("NormalizeURL(%q) = %q; want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeURLStable(t *testing.T) {
	a, _ := NormalizeURL("https://example.com/l?x=1&y=2")
	b, _ := NormalizeURL("https://EXAMPLE.com/l?y=2&x=1")
	if a != b {
		t.Errorf("equivalent URLs normalized differently: %q vs %q", a, b)
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://Example.com:8080/path", "example.com"},
		{"http://sub.example.test/a?b=c", "sub.example.test"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := Domain(tt.input); got != tt.expected {
			t.Errorf("Domain(%q) = %q; want %q", tt.input, got, tt.expected)
		}
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	base := 10 * time.Second
	for range 100 {
		j := Jitter(base, 0.2)
		if j < 8*time.Second || j > 12*time.Second {
			t.Fatalf("jitter out of bounds: %v", j)
		}
	}
}

func TestExpBackoffCapped(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	if d := ExpBackoff(base, 0, max); d != base {
		t.Errorf("attempt 0: got %v, want %v", d, base)
	}
	if d := ExpBackoff(base, 2, max); d != 400*time.Millisecond {
		t.Errorf("attempt 2: got %v, want 400ms", d)
	}
	if d := ExpBackoff(base, 20, max); d != max {
		t.Errorf("attempt 20: got %v, want cap %v", d, max)
	}
}

func TestRandomStringSanitizes(t *testing.T) {
	s, err := RandomString("https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(s, "/:") {
		t.Errorf("unsanitized characters in %q", s)
	}
}
