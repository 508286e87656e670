package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client calls the Evolution API REST endpoints for one instance.
type Client struct {
	apiURL   string
	apiKey   string
	instance string
	http     *http.Client
	// limiter paces outbound sends; WhatsApp blocks numbers that blast
	// messages.
	limiter *rate.Limiter
}

// NewClient creates a REST client for an Evolution API instance.
func NewClient(apiURL, apiKey, instance string, sendRate float64, sendBurst int) *Client {
	if sendRate <= 0 {
		sendRate = 1
	}
	if sendBurst <= 0 {
		sendBurst = 1
	}
	return &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		apiKey:   apiKey,
		instance: instance,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(sendRate), sendBurst),
	}
}

// SendText delivers a WhatsApp text message.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limiter: %w", err)
	}
	return c.post(ctx, "/message/sendText/"+c.instance, map[string]any{
		"number": phone,
		"text":   text,
	}, nil)
}

// SendPresence shows a presence indicator ("composing" = typing) in the chat.
func (c *Client) SendPresence(ctx context.Context, phone, presence string, delay time.Duration) error {
	return c.post(ctx, "/chat/sendPresence/"+c.instance, map[string]any{
		"number":   phone,
		"presence": presence,
		"delay":    delay.Milliseconds(),
	}, nil)
}

// FetchProfile looks up the WhatsApp display name for a phone.
// Returns "" when the profile has no name; errors only on transport failure.
func (c *Client) FetchProfile(ctx context.Context, phone string) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.post(ctx, "/chat/fetchProfile/"+c.instance, map[string]any{
		"number": phone,
	}, &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("evolution %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("evolution %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("evolution %s: decode response: %w", path, err)
		}
	}
	return nil
}
