// Package discord contains a minimal REST client for the few message
// operations this service needs: send, edit, and list recent channel messages.
// No gateway connection is opened; notifications are plain channel messages.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Embed colors double as session markers: a live color on a message in channel
// history means the session was still open when the process last ran.
const (
	ColorTwitchLive  = 0x9146FF
	ColorYouTubeLive = 0xFF0000
	ColorMembersOnly = 0xFFD700
	ColorEnded       = 0x2C2F33
)

// LiveColor reports whether an embed color is one of the reserved live markers.
func LiveColor(c int) bool {
	return c == ColorTwitchLive || c == ColorYouTubeLive || c == ColorMembersOnly
}

type EmbedImage struct {
	URL string `json:"url,omitempty"`
}

// Embed is the structured portion of a notification message.
type Embed struct {
	Title       string      `json:"title,omitempty"`
	URL         string      `json:"url,omitempty"`
	Description string      `json:"description,omitempty"`
	Color       int         `json:"color,omitempty"`
	Image       *EmbedImage `json:"image,omitempty"`
	Timestamp   string      `json:"timestamp,omitempty"` // RFC3339
}

// Message is the subset of a channel message this service reads back.
type Message struct {
	ID     string `json:"id"`
	Author struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds"`
}

// Client talks to the Discord REST API for a single notification channel.
type Client struct {
	Token      string
	ChannelID  string
	BaseURL    string
	HTTPClient *http.Client

	botUserID string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

// Connect verifies the token by fetching the bot's own user and records its id
// for reconciliation. This is the one call whose failure is fatal at startup:
// nothing can be delivered without the messaging connection.
func (c *Client) Connect(ctx context.Context) error {
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, &me); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	if me.ID == "" {
		return fmt.Errorf("discord connect: empty user id in response")
	}
	c.botUserID = me.ID
	slog.Info("discord connected", slog.String("bot_user", me.Username))
	return nil
}

// BotUserID returns the id recorded by Connect.
func (c *Client) BotUserID() string { return c.botUserID }

type messagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// SendMessage posts a message with an optional embed to the notification
// channel and returns its id.
func (c *Client) SendMessage(ctx context.Context, content string, embed *Embed) (string, error) {
	payload := messagePayload{Content: content}
	if embed != nil {
		payload.Embeds = []Embed{*embed}
	}
	var msg Message
	path := "/channels/" + c.ChannelID + "/messages"
	if err := c.do(ctx, http.MethodPost, path, payload, &msg); err != nil {
		return "", fmt.Errorf("discord send: %w", err)
	}
	if msg.ID == "" {
		return "", fmt.Errorf("discord send: empty message id")
	}
	return msg.ID, nil
}

// EditMessage replaces the content and embed of an existing message in place.
func (c *Client) EditMessage(ctx context.Context, messageID, content string, embed *Embed) error {
	payload := messagePayload{Content: content}
	if embed != nil {
		payload.Embeds = []Embed{*embed}
	}
	path := "/channels/" + c.ChannelID + "/messages/" + messageID
	if err := c.do(ctx, http.MethodPatch, path, payload, nil); err != nil {
		return fmt.Errorf("discord edit %s: %w", messageID, err)
	}
	return nil
}

// ListMessages fetches up to limit recent messages from the notification
// channel, newest first.
func (c *Client) ListMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var msgs []Message
	path := fmt.Sprintf("/channels/%s/messages?limit=%d", c.ChannelID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("discord list: %w", err)
	}
	return msgs, nil
}

const maxAttempts = 4

// do executes one API call with bounded retries on 429 (honoring retry_after)
// and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base()+path, rd)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+c.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http().Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		retryAfter, done, err := c.handleResponse(resp, out)
		if done {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

// handleResponse consumes resp and reports (retry delay, finished, error).
func (c *Client) handleResponse(resp *http.Response, out any) (time.Duration, bool, error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay := time.Second
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rl); err == nil && rl.RetryAfter > 0 {
			delay = time.Duration(rl.RetryAfter * float64(time.Second))
		} else if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.ParseFloat(s, 64); err == nil {
				delay = time.Duration(secs * float64(time.Second))
			}
		}
		return delay, false, fmt.Errorf("rate limited: %s", resp.Status)
	case resp.StatusCode >= 500:
		return time.Second, false, fmt.Errorf("server error: %s", resp.Status)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, true, fmt.Errorf("request failed: %s: %s", resp.Status, string(b))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, true, fmt.Errorf("decode response: %w", err)
	}
	return 0, true, nil
}
