package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/types"
)

// DirectHTTP is the cheapest tier: a plain GET with browser-like headers.
// It handles static pages and JSON listing APIs, and fails fast on
// anything that needs client-side rendering.
type DirectHTTP struct {
	UserAgent string
	client    *http.Client
}

func NewDirectHTTP(userAgent string) *DirectHTTP {
	return &DirectHTTP{
		UserAgent: userAgent,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (d *DirectHTTP) Name() types.Method { return types.MethodDirectHTTP }

func (d *DirectHTTP) Fetch(ctx context.Context, task *types.ScrapeTask, _ Opts) (*types.ScrapeResult, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "direct_http"), slog.String("url", task.URL))
	logger.Debug("fetching page", slog.String("user-agent", d.UserAgent))
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("blocked: status code 403 %s", res.Status)
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("too many requests: %s", res.Status)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status code error: %d %s", res.StatusCode, res.Status)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var content string
	if strings.Contains(res.Header.Get("Content-Type"), "application/json") {
		content, err = extractJSON(string(body), task.Selector)
	} else {
		content, err = extractHTML(string(body), task.Selector)
	}
	if err != nil {
		return nil, err
	}

	finalURL := task.URL
	if res.Request != nil && res.Request.URL != nil {
		finalURL = res.Request.URL.String()
	}
	logger.Debug("fetch succeeded", slog.Duration("took", time.Since(start)))
	return newResult(types.MethodDirectHTTP, content, finalURL, start), nil
}
