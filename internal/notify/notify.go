// Package notify delivers new-listing signals. The telegram notifier is
// used when a bot token is configured; otherwise signals only reach the log.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/types"
)

// Notifier delivers one detection to the user.
type Notifier interface {
	Notify(ctx context.Context, d types.DetectionContext) error
}

// Log writes detections to the structured log. It is the fallback when no
// external channel is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, d types.DetectionContext) error {
	log.LoggerFromContext(ctx).Info("new listing activity",
		slog.String("url", d.URL),
		slog.String("hash", d.CurrentHash),
		slog.String("method", string(d.Method)),
		slog.String("confidence", d.Confidence),
		slog.Int64("total_checks", d.TotalChecks))
	return nil
}

// Telegram sends detections through the bot API.
type Telegram struct {
	token  string
	chatID string
	apiURL string
	client *http.Client
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		apiURL: "https://api.telegram.org",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Notify(ctx context.Context, d types.DetectionContext) error {
	text := fmt.Sprintf("New listing activity on %s\nconfidence: %s, checked %d times, via %s",
		d.URL, d.Confidence, d.TotalChecks, d.Method)

	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram api status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
