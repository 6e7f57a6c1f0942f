// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for stream status, user resolution, and EventSub subscription management,
// using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const defaultHelixURL = "https://api.twitch.tv/helix"

// HelixClient provides the few Helix methods this service needs.
type HelixClient struct {
	TokenSource oauth2.TokenSource
	ClientID    string
	BaseURL     string
	HTTPClient  *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultHelixURL
}

func (hc *HelixClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	tok, err := hc.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("twitch app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.base()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return req, nil
}

// Stream is the subset of Helix stream data the resolver renders from.
type Stream struct {
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	UserName  string    `json:"user_name"`
	GameName  string    `json:"game_name"`
	Title     string    `json:"title"`
	Thumbnail string    `json:"thumbnail_url"`
	StartedAt time.Time `json:"started_at"`
}

// GetStreams returns the active stream for a broadcaster, or an empty slice
// when the broadcaster is offline. Absence of data is a valid, non-error
// outcome.
func (hc *HelixClient) GetStreams(ctx context.Context, userID string) ([]Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	req, err := hc.newRequest(ctx, http.MethodGet, "/streams", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("user_id", userID)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch streams request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUsers resolves up to 100 user ids to login/display names. Used at startup
// to build the login index for artifact reverse-mapping.
func (hc *HelixClient) GetUsers(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	req, err := hc.newRequest(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for _, id := range ids {
		q.Add("id", id)
	}
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch users request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
