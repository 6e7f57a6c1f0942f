package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(srvURL string) *Client {
	return &Client{Token: "test-token", ChannelID: "chan-1", BaseURL: srvURL}
}

func TestConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "bot-42", "username": "herald"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.BotUserID() != "bot-42" {
		t.Errorf("BotUserID() = %q, want bot-42", c.BotUserID())
	}
}

func TestConnectBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"401: Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() with 401 succeeded, want error")
	}
}

func TestSendMessage(t *testing.T) {
	var gotBody messagePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/channels/chan-1/messages" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "msg-7"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	embed := &Embed{Title: "Live", URL: "https://twitch.tv/someone", Color: ColorTwitchLive}
	id, err := c.SendMessage(context.Background(), "hey", embed)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if id != "msg-7" {
		t.Errorf("id = %q, want msg-7", id)
	}
	if len(gotBody.Embeds) != 1 || gotBody.Embeds[0].Color != ColorTwitchLive {
		t.Errorf("sent embeds = %+v", gotBody.Embeds)
	}
}

func TestSendMessageRetriesOn429(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"retry_after": 0.01})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "msg-8"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	id, err := c.SendMessage(context.Background(), "hey", nil)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if id != "msg-8" || attempts != 2 {
		t.Errorf("id=%q attempts=%d", id, attempts)
	}
}

func TestEditMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || !strings.HasSuffix(r.URL.Path, "/messages/msg-7") {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "msg-7"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.EditMessage(context.Background(), "msg-7", "", &Embed{Title: "was live", Color: ColorEnded})
	if err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
}

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "m1", "author": map[string]any{"id": "bot-42", "bot": true}, "embeds": []map[string]any{{"color": ColorTwitchLive, "url": "https://twitch.tv/someone"}}},
			{"id": "m2", "author": map[string]any{"id": "human"}, "content": "hi"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	msgs, err := c.ListMessages(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Author.ID != "bot-42" || !msgs[0].Author.Bot {
		t.Errorf("author = %+v", msgs[0].Author)
	}
	if len(msgs[0].Embeds) != 1 || !LiveColor(msgs[0].Embeds[0].Color) {
		t.Errorf("embeds = %+v", msgs[0].Embeds)
	}
}

func TestLiveColor(t *testing.T) {
	for _, c := range []int{ColorTwitchLive, ColorYouTubeLive, ColorMembersOnly} {
		if !LiveColor(c) {
			t.Errorf("LiveColor(%#x) = false", c)
		}
	}
	if LiveColor(ColorEnded) {
		t.Error("LiveColor(ended) = true")
	}
	if LiveColor(0) {
		t.Error("LiveColor(0) = true")
	}
}
