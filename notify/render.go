package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/onnwee/stream-herald/discord"
)

// liveContent is the plain-text line above the embed while a stream is open.
func liveContent(e Entity, info *StreamInfo) string {
	switch {
	case info.MembersOnly:
		return "🔴 **" + e.DisplayName + "** is live (members only)!"
	case e.Platform == PlatformTwitch:
		return "🔴 **" + e.DisplayName + "** is live on Twitch!"
	default:
		return "🔴 **" + e.DisplayName + "** is live on YouTube!"
	}
}

func endedContent(e Entity) string {
	return "**" + e.DisplayName + "** was live."
}

// liveEmbed renders the structured notification for an open session.
func liveEmbed(info *StreamInfo, now time.Time) *discord.Embed {
	em := &discord.Embed{
		Title:       info.Title,
		URL:         info.URL,
		Description: info.Description,
		Color:       info.Color,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if !info.StartedAt.IsZero() {
		em.Timestamp = info.StartedAt.UTC().Format(time.RFC3339)
	}
	if info.ThumbnailURL != "" {
		em.Image = &discord.EmbedImage{URL: info.ThumbnailURL}
	}
	return em
}

// placeholderInfo renders when metadata is not yet available after a live
// signal: the link still works, the rest fills in on the enrichment pass.
func placeholderInfo(e Entity, ref string) *StreamInfo {
	info := &StreamInfo{Live: true, Title: e.DisplayName + " is live"}
	switch e.Platform {
	case PlatformTwitch:
		info.Color = discord.ColorTwitchLive
		if e.Login != "" {
			info.URL = "https://www.twitch.tv/" + e.Login
		}
	case PlatformYouTube:
		info.Color = discord.ColorYouTubeLive
		if ref != "" {
			info.URL = "https://www.youtube.com/watch?v=" + ref
		}
	}
	return info
}

// endedEmbed rewrites a session's embed into its closed form. Title and link
// survive so the message stays a useful pointer to the VOD.
func endedEmbed(prev *discord.Embed, now time.Time) *discord.Embed {
	em := &discord.Embed{
		Title:       prev.Title,
		URL:         prev.URL,
		Description: "Stream has ended.",
		Color:       discord.ColorEnded,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	return em
}

// renderDigest fingerprints the semantic fields of a rendered message so
// health refreshes skip no-op edits. The image URL is excluded: it carries a
// cache-buster that would make every render look new.
func renderDigest(content string, em *discord.Embed) string {
	h := sha256.New()
	h.Write([]byte(content))
	if em != nil {
		b, _ := json.Marshal(struct {
			Title string `json:"t"`
			URL   string `json:"u"`
			Desc  string `json:"d"`
			Color int    `json:"c"`
		}{em.Title, em.URL, em.Description, em.Color})
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}
