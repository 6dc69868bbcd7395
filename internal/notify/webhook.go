package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/events"
)

// EventHeader carries the event type so receivers can route a delivery
// without decoding it.
const EventHeader = "X-Site-Sentinel-Event"

// maxErrorBody caps how much of a rejected delivery's response is kept.
const maxErrorBody = 512

// Webhook delivers component and core changes to an HTTP endpoint, one JSON
// event per POST.
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhook creates a Webhook. headers, typically Authorization, go out
// with every delivery.
func NewWebhook(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Send fails on any non-2xx response, quoting the start of its body.
func (w *Webhook) Send(ctx context.Context, evt events.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "site-sentinel")
	req.Header.Set(EventHeader, string(evt.Type))
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s event: %w", evt.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			return fmt.Errorf("webhook rejected %s event: %s: %s", evt.Type, resp.Status, msg)
		}
		return fmt.Errorf("webhook rejected %s event: %s", evt.Type, resp.Status)
	}
	return nil
}
