package notify

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/stream-herald/config"
	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/sched"
)

type fakeYTSource struct {
	fakeSource
	owners map[string]string // videoID -> channelID
}

func (f *fakeYTSource) ChannelForVideo(_ context.Context, videoID string) (string, error) {
	return f.owners[videoID], nil
}

func botMessage(id string, em discord.Embed) discord.Message {
	var m discord.Message
	m.ID = id
	m.Author.ID = "bot-1"
	m.Author.Bot = true
	m.Embeds = []discord.Embed{em}
	return m
}

func TestReconcileRecoversLiveSessions(t *testing.T) {
	set := NewSet(
		[]config.Streamer{{ID: "1001", DisplayName: "TwitchStreamer"}},
		[]config.Streamer{{ID: "UCabc", DisplayName: "TubeStreamer"}},
	)
	set.SetTwitchLogin("1001", "twitchstreamer")
	fm := &fakeMessenger{}
	sch := sched.New(nil)

	ytSrc := &fakeYTSource{
		fakeSource: fakeSource{fetch: offlineInfo()},
		owners:     map[string]string{"vid42": "UCabc"},
	}
	r := NewResolver(set, fm, map[Platform]Source{PlatformYouTube: ytSrc}, sch, time.Hour)

	other := discord.Message{ID: "m-other"}
	other.Author.ID = "someone-else"
	other.Embeds = []discord.Embed{{Color: discord.ColorTwitchLive, URL: "https://www.twitch.tv/twitchstreamer"}}

	fm.listResp = []discord.Message{
		// Newest first, the way the channel history endpoint returns them.
		botMessage("m-ended", discord.Embed{Color: discord.ColorEnded, URL: "https://www.twitch.tv/twitchstreamer"}),
		botMessage("m-live-twitch", discord.Embed{Color: discord.ColorTwitchLive, URL: "https://www.twitch.tv/twitchstreamer", Title: "Old title"}),
		botMessage("m-live-yt", discord.Embed{Color: discord.ColorYouTubeLive, URL: "https://www.youtube.com/watch?v=vid42"}),
		botMessage("m-unknown", discord.Embed{Color: discord.ColorTwitchLive, URL: "https://www.twitch.tv/stranger"}),
		other,
	}

	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	recs := r.Records()
	if len(recs) != 2 {
		t.Fatalf("recovered %d sessions, want 2 (%+v)", len(recs), recs)
	}
	if rec, ok := recs["twitch:1001"]; !ok || rec.MessageID != "m-live-twitch" {
		t.Errorf("twitch record = %+v ok=%v", rec, ok)
	}
	rec, ok := recs["youtube:UCabc"]
	if !ok || rec.MessageID != "m-live-yt" || rec.StreamRef != "vid42" {
		t.Errorf("youtube record = %+v ok=%v", rec, ok)
	}

	// Each recovered session gets an early health check.
	for _, key := range []string{"twitch:1001", "youtube:UCabc"} {
		c, ok := sch.Pending(key)
		if !ok || c.Kind != sched.KindHealth {
			t.Errorf("pending for %s = %+v ok=%v, want health", key, c, ok)
			continue
		}
		want := time.Now().UTC().Add(sched.RestoreHealthDelay)
		if d := c.TargetTime.Sub(want); d < -time.Second || d > time.Second {
			t.Errorf("health target for %s = %v, want ~%v", key, c.TargetTime, want)
		}
	}
}

func TestReconcileKeepsNewestMessagePerEntity(t *testing.T) {
	set := NewSet([]config.Streamer{{ID: "1001", DisplayName: "TwitchStreamer"}}, nil)
	set.SetTwitchLogin("1001", "twitchstreamer")
	fm := &fakeMessenger{}
	sch := sched.New(nil)
	r := NewResolver(set, fm, nil, sch, time.Hour)

	fm.listResp = []discord.Message{
		botMessage("m-new", discord.Embed{Color: discord.ColorTwitchLive, URL: "https://www.twitch.tv/twitchstreamer"}),
		botMessage("m-old", discord.Embed{Color: discord.ColorTwitchLive, URL: "https://www.twitch.tv/twitchstreamer"}),
	}
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	recs := r.Records()
	if len(recs) != 1 || recs["twitch:1001"].MessageID != "m-new" {
		t.Fatalf("records = %+v, want only m-new", recs)
	}
}

// Checks scheduled before Start are armed but held, so a restored check whose
// target has already passed cannot outrun the channel-history scan and
// re-announce a session reconciliation is about to recover.
func TestReconcileRunsBeforeRestoredChecksFire(t *testing.T) {
	set := NewSet([]config.Streamer{{ID: "1001", DisplayName: "TwitchStreamer"}}, nil)
	set.SetTwitchLogin("1001", "twitchstreamer")
	fm := &fakeMessenger{}
	fm.listResp = []discord.Message{
		botMessage("m-hist", discord.Embed{Color: discord.ColorTwitchLive, URL: "https://www.twitch.tv/twitchstreamer"}),
	}
	src := &fakeSource{fetch: liveInfo("Back again")}
	sch := sched.New(nil)
	r := NewResolver(set, fm, map[Platform]Source{PlatformTwitch: src}, sch, time.Hour)

	now := time.Now().UTC()
	sch.Schedule(sched.Check{
		EntityID:      "twitch:1001",
		Kind:          sched.KindSniper,
		TargetTime:    now.Add(-time.Minute),
		ReferenceTime: now,
	})

	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sch.Start(ctx, r.OnCheck)

	// Give a wrongly armed timer every chance to fire.
	time.Sleep(50 * time.Millisecond)

	if sent, _ := fm.counts(); sent != 0 {
		t.Errorf("sent %d new messages, want 0", sent)
	}
	recs := r.Records()
	if rec, ok := recs["twitch:1001"]; !ok || rec.MessageID != "m-hist" {
		t.Errorf("record = %+v ok=%v, want recovered m-hist", rec, ok)
	}
	if c, ok := sch.Pending("twitch:1001"); !ok || c.Kind != sched.KindHealth {
		t.Errorf("pending = %+v ok=%v, want health check", c, ok)
	}
}

// A check holding the entity lock when reconciliation reaches the same entity
// finishes first; reconciliation then observes its outcome instead of seeding
// a record underneath it.
func TestReconcileWaitsForInFlightCheck(t *testing.T) {
	set := NewSet([]config.Streamer{{ID: "1001", DisplayName: "TwitchStreamer"}}, nil)
	set.SetTwitchLogin("1001", "twitchstreamer")
	fm := &fakeMessenger{}
	fm.listResp = []discord.Message{
		botMessage("m-hist", discord.Embed{Color: discord.ColorTwitchLive, URL: "https://www.twitch.tv/twitchstreamer"}),
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{fetch: func(Entity, string) (*StreamInfo, error) {
		close(entered)
		<-release
		return &StreamInfo{}, nil
	}}
	sch := sched.New(nil)
	r := NewResolver(set, fm, map[Platform]Source{PlatformTwitch: src}, sch, time.Hour)

	now := time.Now().UTC()
	checkDone := make(chan struct{})
	go func() {
		defer close(checkDone)
		r.OnCheck(context.Background(), sched.Check{
			EntityID:      "twitch:1001",
			Kind:          sched.KindSniper,
			TargetTime:    now,
			ReferenceTime: now,
		})
	}()
	<-entered

	recDone := make(chan error, 1)
	go func() { recDone <- r.Reconcile(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-checkDone
	if err := <-recDone; err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if sent, _ := fm.counts(); sent != 0 {
		t.Errorf("sent %d messages, want 0", sent)
	}
	recs := r.Records()
	if rec, ok := recs["twitch:1001"]; !ok || rec.MessageID != "m-hist" {
		t.Errorf("record = %+v ok=%v, want recovered m-hist", rec, ok)
	}
	if c, ok := sch.Pending("twitch:1001"); !ok || c.Kind != sched.KindHealth {
		t.Errorf("pending = %+v ok=%v, want health check replacing the sniper retry", c, ok)
	}
}

func TestTwitchLoginFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://www.twitch.tv/Streamer", "streamer", true},
		{"https://twitch.tv/streamer?sr=a", "streamer", true},
		{"https://www.youtube.com/watch?v=abc", "", false},
		{"https://www.twitch.tv/", "", false},
	}
	for _, c := range cases {
		got, ok := twitchLoginFromURL(c.url)
		if got != c.want || ok != c.ok {
			t.Errorf("twitchLoginFromURL(%q) = %q,%v want %q,%v", c.url, got, ok, c.want, c.ok)
		}
	}
}
