package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/flatwatch/flatwatch/internal/types"
)

func detection() types.DetectionContext {
	return types.DetectionContext{
		URL:          "https://example.com/flats",
		PreviousHash: "h1",
		CurrentHash:  "h2",
		Method:       types.MethodDirectHTTP,
		CheckedAt:    time.Now(),
		TotalChecks:  25,
		Confidence:   "high",
	}
}

func TestTelegramNotify(t *testing.T) {
	tg := NewTelegram("token123", "chat42")
	transport := httpmock.NewMockTransport()
	tg.client.Transport = transport

	var got map[string]string
	transport.RegisterResponder(http.MethodPost, "https://api.telegram.org/bottoken123/sendMessage",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
		})

	if err := tg.Notify(context.Background(), detection()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["chat_id"] != "chat42" {
		t.Errorf("chat_id = %q, want chat42", got["chat_id"])
	}
	if got["text"] == "" {
		t.Error("message text is empty")
	}
}

func TestTelegramNotifyAPIError(t *testing.T) {
	tg := NewTelegram("token123", "chat42")
	transport := httpmock.NewMockTransport()
	tg.client.Transport = transport

	transport.RegisterResponder(http.MethodPost, "https://api.telegram.org/bottoken123/sendMessage",
		httpmock.NewStringResponder(http.StatusForbidden, `{"ok":false}`))

	if err := tg.Notify(context.Background(), detection()); err == nil {
		t.Fatal("expected an error on a non-200 response")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	if err := (Log{}).Notify(context.Background(), detection()); err != nil {
		t.Fatalf("log notifier returned %v", err)
	}
}
