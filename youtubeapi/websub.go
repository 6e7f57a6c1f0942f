package youtubeapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultHubURL is Google's public WebSub hub for YouTube channel feeds.
	DefaultHubURL = "https://pubsubhubbub.appspot.com/subscribe"

	// LeaseSeconds is the subscription lease requested from the hub (5 days).
	// Renewal runs well inside this window so pushes never lapse.
	LeaseSeconds = 432000
)

// TopicURL returns the Atom feed topic the hub associates with a channel.
func TopicURL(channelID string) string {
	return "https://www.youtube.com/xml/feeds/videos.xml?channel_id=" + channelID
}

// Subscriber maintains WebSub leases for a set of channels against one
// callback endpoint.
type Subscriber struct {
	HubURL     string
	Callback   string
	HTTPClient *http.Client
}

func NewSubscriber(callback string) *Subscriber {
	return &Subscriber{HubURL: DefaultHubURL, Callback: callback}
}

func (s *Subscriber) http() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// Subscribe requests (or renews, the hub treats them identically) a push lease
// for one channel. The hub replies 202 and verifies the callback out of band.
func (s *Subscriber) Subscribe(ctx context.Context, channelID string) error {
	return s.request(ctx, "subscribe", channelID)
}

// Unsubscribe drops the lease for one channel.
func (s *Subscriber) Unsubscribe(ctx context.Context, channelID string) error {
	return s.request(ctx, "unsubscribe", channelID)
}

func (s *Subscriber) request(ctx context.Context, mode, channelID string) error {
	hub := s.HubURL
	if hub == "" {
		hub = DefaultHubURL
	}
	form := url.Values{
		"hub.mode":          {mode},
		"hub.topic":         {TopicURL(channelID)},
		"hub.callback":      {s.Callback},
		"hub.lease_seconds": {strconv.Itoa(LeaseSeconds)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hub, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.http().Do(req)
	if err != nil {
		return fmt.Errorf("websub %s %s: %w", mode, channelID, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("websub %s %s: hub returned %s", mode, channelID, resp.Status)
	}
	return nil
}
