// Package discord is a minimal Discord REST client covering what the sync
// engine needs: send text/embed/file messages, delete, pin, and a bounded
// channel history scan. Calls share a token-bucket rate limiter so bursts of
// detail messages stay under the platform's global limit.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://discord.com/api/v10"

// ErrForbidden marks a permission failure (the bot lacks manage/pin rights).
// Callers degrade instead of aborting when they see it.
var ErrForbidden = errors.New("discord: missing permission")

// APIError is a non-2xx Discord response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord request failed: %d: %s", e.StatusCode, e.Body)
}

// IsPermission reports whether err is a permission failure.
func IsPermission(err error) bool {
	if errors.Is(err, ErrForbidden) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// User is the minimal author shape returned by the API.
type User struct {
	ID  string `json:"id"`
	Bot bool   `json:"bot"`
}

// Message is one channel message as the API returns it.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    User   `json:"author"`
	Pinned    bool   `json:"pinned"`
}

// MessagePayload is the JSON body for message creation.
type MessagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Client talks to the Discord REST API with a bot token.
type Client struct {
	BotToken   string
	BaseURL    string // defaults to the production API endpoint
	HTTPClient *http.Client
	Limiter    *rate.Limiter

	mu     sync.Mutex
	selfID string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultBaseURL
}

func (c *Client) limiter() *rate.Limiter {
	if c.Limiter != nil {
		return c.Limiter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Limiter == nil {
		// ~3 requests/second with a small burst; well under the global limit.
		c.Limiter = rate.NewLimiter(rate.Every(350*time.Millisecond), 2)
	}
	return c.Limiter
}

// do performs one authenticated request. A 429 is retried once after the
// advertised retry_after delay.
func (c *Client) do(ctx context.Context, method, path string, contentType string, body []byte, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter().Wait(ctx); err != nil {
			return err
		}
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base()+path, rdr)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+c.BotToken)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.http().Do(req)
		if err != nil {
			return err
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := retryAfter(resp, respBody)
			slog.Warn("discord rate limited, backing off", slog.Duration("retry_after", wait), slog.String("path", path))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %d: %s", ErrForbidden, resp.StatusCode, string(respBody))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		if out != nil && len(respBody) > 0 {
			return json.Unmarshal(respBody, out)
		}
		return nil
	}
}

func retryAfter(resp *http.Response, body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 5 * time.Second
}

// Me returns the bot's own user id, cached after the first call. The purge
// phase uses it to recognize the engine's previous output.
func (c *Client) Me(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.selfID != "" {
		id := c.selfID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/@me", "", nil, &u); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.selfID = u.ID
	c.mu.Unlock()
	return u.ID, nil
}

// SendMessage posts a text and/or embed message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID string, payload MessagePayload) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", "application/json", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendFile posts a file attachment (with optional text content) to a channel.
func (c *Client) SendFile(ctx context.Context, channelID, filename string, data []byte, content string) (*Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if content != "" {
		meta, err := json.Marshal(MessagePayload{Content: content})
		if err != nil {
			return nil, err
		}
		if err := w.WriteField("payload_json", string(meta)); err != nil {
			return nil, err
		}
	}
	fw, err := w.CreateFormFile("files[0]", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	var msg Message
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", w.FormDataContentType(), buf.Bytes(), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes a message by id.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, "", nil, nil)
}

// PinMessage pins a message by id.
func (c *Client) PinMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodPut, "/channels/"+channelID+"/pins/"+messageID, "", nil, nil)
}

// Messages lists up to limit recent messages, newest first.
func (c *Client) Messages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var msgs []Message
	path := fmt.Sprintf("/channels/%s/messages?limit=%d", channelID, limit)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
