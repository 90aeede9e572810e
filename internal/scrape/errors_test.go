package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/flatwatch/flatwatch/internal/browser"
	"github.com/flatwatch/flatwatch/internal/fetch"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		kind        Kind
		subkind     string
		recoverable bool
	}{
		{
			name:        "selector not found is terminal",
			err:         fmt.Errorf("fetch http://x: %w", fetch.ErrSelectorNotFound),
			kind:        KindContentMismatch,
			recoverable: false,
		},
		{
			name:        "empty body is terminal",
			err:         fetch.ErrEmptyBody,
			kind:        KindContentMismatch,
			recoverable: false,
		},
		{
			name:        "pool exhausted",
			err:         browser.ErrPoolExhausted,
			kind:        KindResourceLimit,
			subkind:     SubkindPool,
			recoverable: true,
		},
		{
			name:        "deadline exceeded",
			err:         context.DeadlineExceeded,
			kind:        KindTimeout,
			recoverable: true,
		},
		{
			name:        "dns error is terminal",
			err:         &net.DNSError{Err: "no such host", Name: "nowhere.invalid"},
			kind:        KindNetwork,
			subkind:     SubkindDNS,
			recoverable: false,
		},
		{
			name:        "op error",
			err:         &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			kind:        KindNetwork,
			recoverable: true,
		},
		{
			name:        "timeout by message",
			err:         errors.New("navigation timed out after 25s"),
			kind:        KindTimeout,
			recoverable: true,
		},
		{
			name:        "connection reset by message",
			err:         errors.New("read tcp: connection reset by peer"),
			kind:        KindNetwork,
			recoverable: true,
		},
		{
			name:        "captcha",
			err:         errors.New("page contains a CAPTCHA widget"),
			kind:        KindBotDetected,
			subkind:     SubkindCaptcha,
			recoverable: true,
		},
		{
			name:        "challenge page",
			err:         errors.New("redirected to /sorry/index"),
			kind:        KindBotDetected,
			subkind:     SubkindChallenge,
			recoverable: true,
		},
		{
			name:        "hard block stays recoverable for one stealth retry",
			err:         errors.New("blocked: 403 forbidden"),
			kind:        KindBotDetected,
			subkind:     SubkindBlock,
			recoverable: true,
		},
		{
			name:        "browser context gone",
			err:         errors.New("browser context destroyed"),
			kind:        KindBrowser,
			subkind:     SubkindContext,
			recoverable: true,
		},
		{
			name:        "chrome crash",
			err:         errors.New("chrome target crashed"),
			kind:        KindBrowser,
			subkind:     SubkindCrash,
			recoverable: true,
		},
		{
			name:        "oom",
			err:         errors.New("cannot allocate memory"),
			kind:        KindResourceLimit,
			subkind:     SubkindMemory,
			recoverable: true,
		},
		{
			name:        "server rate limit",
			err:         errors.New("429 too many requests"),
			kind:        KindResourceLimit,
			subkind:     SubkindRateLimit,
			recoverable: true,
		},
		{
			name:        "parse failure is terminal",
			err:         errors.New("parse error: unexpected token"),
			kind:        KindContentMismatch,
			recoverable: false,
		},
		{
			name:        "anything else is unknown but retryable",
			err:         errors.New("weird one-off condition"),
			kind:        KindUnknown,
			recoverable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			if ce.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", ce.Kind, tt.kind)
			}
			if ce.Subkind != tt.subkind {
				t.Errorf("subkind = %q, want %q", ce.Subkind, tt.subkind)
			}
			if ce.Recoverable != tt.recoverable {
				t.Errorf("recoverable = %v, want %v", ce.Recoverable, tt.recoverable)
			}
			if !errors.Is(ce, tt.err) && ce.Err != tt.err {
				t.Errorf("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := ClassifiedError{Kind: KindBotDetected, Subkind: SubkindCaptcha, Recoverable: true, Err: errors.New("x")}
	got := Classify(fmt.Errorf("attempt 2: %w", orig))
	if got.Kind != orig.Kind || got.Subkind != orig.Subkind {
		t.Errorf("got %v/%v, want %v/%v", got.Kind, got.Subkind, orig.Kind, orig.Subkind)
	}
}

func TestClassifyTypedBeforeText(t *testing.T) {
	// the message mentions a captcha, but the typed DNS error must win
	err := &net.DNSError{Err: "captcha", Name: "example.com"}
	ce := Classify(err)
	if ce.Kind != KindNetwork || ce.Subkind != SubkindDNS {
		t.Errorf("got %v/%v, want network/dns", ce.Kind, ce.Subkind)
	}
}
