package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const defaultHelixURL = "https://api.twitch.tv/helix"

// ErrUserNotFound is returned when a login cannot be resolved to a broadcaster.
var ErrUserNotFound = errors.New("twitch user not found")

// APIError is a non-200 Helix response after the single token-refresh retry.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix request failed: %d: %s", e.StatusCode, e.Body)
}

// User is a resolved broadcaster identity.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// ScheduleSegment is one raw schedule entry as Helix returns it. Times are
// ISO-8601 strings; normalization happens in the schedule package.
type ScheduleSegment struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Title     string `json:"title"`
	Category  *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"category"`
}

// Video is one archived broadcast.
type Video struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// Client provides the Helix methods the sync engine needs.
type Client struct {
	Tokens     *TokenSource
	ClientID   string
	BaseURL    string // defaults to the production Helix endpoint
	HTTPClient *http.Client
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
	return defaultHelixURL
}

// getJSON performs an authenticated GET. On a 401 it invalidates the cached
// token, acquires exactly one fresh token, and retries the call once.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	tok, err := c.Tokens.Get(ctx)
	if err != nil {
		return err
	}
	resp, err := c.doGet(ctx, path, q, tok)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.Tokens.Invalidate(tok)
		tok, err = c.Tokens.Get(ctx)
		if err != nil {
			return fmt.Errorf("token refresh after 401: %w", err)
		}
		resp, err = c.doGet(ctx, path, q, tok)
		if err != nil {
			return err
		}
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doGet(ctx context.Context, path string, q url.Values, tok string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+path, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	return c.http().Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// ResolveUser resolves a login name to a broadcaster identity.
func (c *Client) ResolveUser(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", strings.ToLower(strings.TrimSpace(login)))
	var body struct {
		Data []User `json:"data"`
	}
	if err := c.getJSON(ctx, "/users", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrUserNotFound
	}
	return &body.Data[0], nil
}

// GetSchedule lists the broadcaster's scheduled segments. A 404 means the
// broadcaster has no schedule configured and yields an empty list, which
// callers must treat differently from a hard failure.
func (c *Client) GetSchedule(ctx context.Context, broadcasterID string) ([]ScheduleSegment, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data struct {
			Segments []ScheduleSegment `json:"segments"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/schedule", q, &body); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return []ScheduleSegment{}, nil
		}
		return nil, err
	}
	return body.Data.Segments, nil
}

// GetCategoryBoxArt resolves a category id to a box-art URL at the given size.
// Returns "" when the category is unknown.
func (c *Client) GetCategoryBoxArt(ctx context.Context, categoryID string, width, height int) (string, error) {
	if categoryID == "" {
		return "", nil
	}
	q := url.Values{}
	q.Set("id", categoryID)
	var body struct {
		Data []struct {
			BoxArtURL string `json:"box_art_url"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/games", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 || body.Data[0].BoxArtURL == "" {
		return "", nil
	}
	u := body.Data[0].BoxArtURL
	u = strings.ReplaceAll(u, "{width}", fmt.Sprintf("%d", width))
	u = strings.ReplaceAll(u, "{height}", fmt.Sprintf("%d", height))
	return u, nil
}

// ListVideos lists the user's most recent archive videos from the last month.
func (c *Client) ListVideos(ctx context.Context, userID string, first int) ([]Video, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	if first <= 0 {
		first = 5
	}
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("type", "archive")
	q.Set("period", "month")
	q.Set("first", fmt.Sprintf("%d", first))
	var body struct {
		Data []Video `json:"data"`
	}
	if err := c.getJSON(ctx, "/videos", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
