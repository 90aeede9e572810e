// Package fetch contains the tiered fetch strategies, ordered by cost:
// plain HTTP, a resource-blocked browser tab, a stealth browser and
// finally a browser that approaches the target through a referral chain.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/jsonquery"

	"github.com/flatwatch/flatwatch/internal/types"
	"github.com/flatwatch/flatwatch/internal/utils"
)

var (
	// ErrSelectorNotFound means the page loaded but the expected element is
	// missing. Retrying won't help; the site structure changed.
	ErrSelectorNotFound = errors.New("selector not found in document")
	// ErrEmptyBody means the server answered with no usable content.
	ErrEmptyBody = errors.New("empty response body")
)

// Opts carries the recovery overrides a strategy may honor.
type Opts struct {
	EnhancedStealth bool
	ExtendedTimeout bool
	MemoryOptimized bool
}

// A Strategy fetches the content selected by task.Selector from task.URL.
// The context deadline is the strategy's hard budget; implementations must
// not outlive it.
type Strategy interface {
	Name() types.Method
	Fetch(ctx context.Context, task *types.ScrapeTask, opts Opts) (*types.ScrapeResult, error)
}

// extractHTML pulls the outer HTML of every node matching selector. The
// concatenation is what gets hashed for change detection, so its order is
// the document order and therefore stable for unchanged pages. An empty
// selector watches the whole page body.
func extractHTML(body, selector string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	if strings.TrimSpace(selector) == "" {
		selector = "body"
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse error: %w", err)
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	var b strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			b.WriteString(strings.TrimSpace(h))
			b.WriteByte('\n')
		}
	})
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", fmt.Errorf("%w: matched nodes were empty", ErrSelectorNotFound)
	}
	return content, nil
}

// extractJSON handles API-style listing endpoints: selector is interpreted
// as a jsonquery path (e.g. "//results/*"). An empty selector watches the
// whole document.
func extractJSON(body, selector string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	if strings.TrimSpace(selector) == "" {
		selector = "*"
	}
	doc, err := jsonquery.Parse(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse error: %w", err)
	}
	nodes, err := jsonquery.QueryAll(doc, selector)
	if err != nil {
		return "", fmt.Errorf("parse error: invalid json selector %q: %v", selector, err)
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.OutputXML())
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

// newResult assembles the immutable success result of one tier attempt.
func newResult(method types.Method, content, finalURL string, start time.Time) *types.ScrapeResult {
	return &types.ScrapeResult{
		Success:       true,
		Content:       content,
		ContentHash:   utils.HashContent(content),
		Method:        method,
		ExecutionTime: time.Since(start),
		FinalURL:      finalURL,
		UsedReferral:  method == types.MethodHeadlessReferral,
	}
}
