package twitchapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// EventSub subscription types this service manages.
const (
	SubStreamOnline  = "stream.online"
	SubStreamOffline = "stream.offline"
)

// EventSub webhook request headers.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// EventSub webhook message types.
const (
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"
)

// Envelope is the body of an EventSub webhook delivery. Challenge is only set
// on verification messages.
type Envelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"subscription"`
	Event struct {
		BroadcasterUserID    string `json:"broadcaster_user_id"`
		BroadcasterUserLogin string `json:"broadcaster_user_login"`
		BroadcasterUserName  string `json:"broadcaster_user_name"`
		StartedAt            string `json:"started_at"`
	} `json:"event"`
}

// VerifySignature checks the HMAC-SHA256 delivery signature
// (sha256=hex(HMAC(secret, id+timestamp+body))).
func VerifySignature(secret, messageID, timestamp string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Subscription is one registered EventSub subscription.
type Subscription struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Condition struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"condition"`
}

// CreateSubscription registers a webhook-transport EventSub subscription for a
// broadcaster.
func (hc *HelixClient) CreateSubscription(ctx context.Context, subType, broadcasterID, callbackURL, secret string) error {
	payload := map[string]any{
		"type":    subType,
		"version": "1",
		"condition": map[string]string{
			"broadcaster_user_id": broadcasterID,
		},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": callbackURL,
			"secret":   secret,
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := hc.newRequest(ctx, http.MethodPost, "/eventsub/subscriptions", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("eventsub create %s/%s failed: %s: %s", subType, broadcasterID, resp.Status, string(body))
	}
	return nil
}

// ListSubscriptions returns all registered subscriptions (first page; this
// service never has more than two per tracked broadcaster).
func (hc *HelixClient) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	req, err := hc.newRequest(ctx, http.MethodGet, "/eventsub/subscriptions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("eventsub list failed: %s: %s", resp.Status, string(body))
	}
	var out struct {
		Data []Subscription `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DeleteSubscription removes one subscription by id.
func (hc *HelixClient) DeleteSubscription(ctx context.Context, id string) error {
	req, err := hc.newRequest(ctx, http.MethodDelete, "/eventsub/subscriptions", nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("id", id)
	req.URL.RawQuery = q.Encode()
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("eventsub delete %s failed: %s: %s", id, resp.Status, string(body))
	}
	return nil
}

// DeleteAllSubscriptions clears every registered subscription so startup can
// re-subscribe from a clean slate.
func (hc *HelixClient) DeleteAllSubscriptions(ctx context.Context) error {
	subs, err := hc.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if err := hc.DeleteSubscription(ctx, s.ID); err != nil {
			return err
		}
	}
	return nil
}
