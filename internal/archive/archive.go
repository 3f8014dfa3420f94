// Package archive publishes bulk delete transcripts to the external log
// service and returns their public URL.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("archive publisher not configured")

type Author struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
}

type Entry struct {
	ID        string          `json:"id"`
	Author    Author          `json:"author"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Embeds    json.RawMessage `json:"embeds,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, entries []Entry, expires time.Time) (string, int, error)
}

type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

func New(endpoint, token string, httpClient *http.Client) *Client {
	return &Client{endpoint: endpoint, token: token, http: httpClient}
}

type response struct {
	URL string `json:"url"`
}

// Publish posts the transcript and returns the bundle URL and the encoded
// payload size.
func (c *Client) Publish(ctx context.Context, entries []Entry, expires time.Time) (string, int, error) {
	if c == nil || c.endpoint == "" {
		return "", 0, ErrNotConfigured
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", 0, err
	}
	form := url.Values{}
	form.Set("type", "chat-log")
	form.Set("messages", string(payload))
	form.Set("expires", strconv.FormatInt(expires.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("archive returned status %d", resp.StatusCode)
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, fmt.Errorf("decode archive response: %w", err)
	}
	if out.URL == "" {
		return "", 0, errors.New("archive response missing url")
	}
	link := out.URL
	if strings.HasPrefix(link, "http://") {
		link = "https://" + strings.TrimPrefix(link, "http://")
	}
	return link, len(payload), nil
}
