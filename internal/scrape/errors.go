// Package scrape coordinates the tiered fetch pipeline: it classifies
// failures, plans recovery, escalates through the fetch strategies and fans
// batches out across workers.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/flatwatch/flatwatch/internal/browser"
	"github.com/flatwatch/flatwatch/internal/fetch"
)

// Kind is the error taxonomy every raw failure is mapped into before any
// retry decision is made.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindBotDetected     Kind = "bot_detected"
	KindBrowser         Kind = "browser"
	KindResourceLimit   Kind = "resource_limit"
	KindContentMismatch Kind = "content_mismatch"
	KindUnknown         Kind = "unknown"
)

// Subkinds refine a Kind where the recovery strategy differs.
const (
	SubkindDNS       = "dns"
	SubkindCaptcha   = "captcha"
	SubkindChallenge = "challenge"
	SubkindBlock     = "block"
	SubkindCrash     = "crash"
	SubkindContext   = "context"
	SubkindMemory    = "memory"
	SubkindCPU       = "cpu"
	SubkindPool      = "pool"
	SubkindRateLimit = "rate_limit"
)

// ClassifiedError is a raw failure tagged with its kind and whether
// retrying can help at all.
type ClassifiedError struct {
	Kind        Kind
	Subkind     string
	Recoverable bool
	Err         error
}

func (e ClassifiedError) Error() string {
	if e.Subkind != "" {
		return fmt.Sprintf("%s/%s: %v", e.Kind, e.Subkind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e ClassifiedError) Unwrap() error { return e.Err }

// Classify maps a raw failure into the taxonomy. Typed errors are checked
// first; everything else falls back to message matching, in the priority
// order timeout > network > bot detection > browser > resource limits >
// content mismatch.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Kind: KindUnknown, Recoverable: true, Err: errors.New("classify called without error")}
	}

	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	// typed checks before any text matching
	if errors.Is(err, fetch.ErrSelectorNotFound) || errors.Is(err, fetch.ErrEmptyBody) {
		return ClassifiedError{Kind: KindContentMismatch, Recoverable: false, Err: err}
	}
	if errors.Is(err, browser.ErrPoolExhausted) {
		return ClassifiedError{Kind: KindResourceLimit, Subkind: SubkindPool, Recoverable: true, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifiedError{Kind: KindTimeout, Recoverable: true, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassifiedError{Kind: KindNetwork, Subkind: SubkindDNS, Recoverable: false, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassifiedError{Kind: KindTimeout, Recoverable: true, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassifiedError{Kind: KindNetwork, Recoverable: true, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ClassifiedError{Kind: KindTimeout, Recoverable: true, Err: err}

	case containsAny(msg, "no such host", "dns"):
		return ClassifiedError{Kind: KindNetwork, Subkind: SubkindDNS, Recoverable: false, Err: err}
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "network is unreachable", "unexpected eof"):
		return ClassifiedError{Kind: KindNetwork, Recoverable: true, Err: err}

	case containsAny(msg, "captcha"):
		return ClassifiedError{Kind: KindBotDetected, Subkind: SubkindCaptcha, Recoverable: true, Err: err}
	case containsAny(msg, "challenge", "/sorry"):
		return ClassifiedError{Kind: KindBotDetected, Subkind: SubkindChallenge, Recoverable: true, Err: err}
	case containsAny(msg, "403", "forbidden", "blocked", "access denied"):
		// hard blocks get exactly one stealth retry from the planner
		return ClassifiedError{Kind: KindBotDetected, Subkind: SubkindBlock, Recoverable: true, Err: err}

	case containsAny(msg, "browser context", "new context", "context destroyed"):
		return ClassifiedError{Kind: KindBrowser, Subkind: SubkindContext, Recoverable: true, Err: err}
	case containsAny(msg, "browser", "chrome", "target crashed", "target closed", "page crashed", "session closed", "websocket"):
		return ClassifiedError{Kind: KindBrowser, Subkind: SubkindCrash, Recoverable: true, Err: err}

	case containsAny(msg, "out of memory", "cannot allocate", "memory"):
		return ClassifiedError{Kind: KindResourceLimit, Subkind: SubkindMemory, Recoverable: true, Err: err}
	case containsAny(msg, "too many requests", "429", "rate limit"):
		return ClassifiedError{Kind: KindResourceLimit, Subkind: SubkindRateLimit, Recoverable: true, Err: err}
	case containsAny(msg, "cpu"):
		return ClassifiedError{Kind: KindResourceLimit, Subkind: SubkindCPU, Recoverable: true, Err: err}

	case containsAny(msg, "selector", "parse error", "no such element", "not found in document"):
		return ClassifiedError{Kind: KindContentMismatch, Recoverable: false, Err: err}
	}

	return ClassifiedError{Kind: KindUnknown, Recoverable: true, Err: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
