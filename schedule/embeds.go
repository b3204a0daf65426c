package schedule

import (
	"fmt"
	"time"

	"github.com/onnwee/stream-herald/discord"
)

const (
	boxArtWidth  = 285
	boxArtHeight = 380
)

func channelURL(login string) string { return "https://twitch.tv/" + login }

// markPreview restyles an embed so dry-run output cannot be mistaken for live
// output.
func markPreview(e *discord.Embed) {
	e.Author = &discord.EmbedAuthor{Name: "DRY RUN PREVIEW"}
	e.Color = discord.ColorDarkGrey
}

// detailEmbed builds the per-segment message. The single next-up segment gets
// distinguished styling: green accent, a relative countdown instead of a
// literal start-time field.
func detailEmbed(seg Segment, isNextUp bool, login string, boxArtURL, vodURL string, dryRun bool) discord.Embed {
	title := seg.Title
	if title == "" {
		title = seg.Category.Name
	}
	if title == "" {
		title = "Untitled Stream"
	}
	game := seg.Category.Name
	if game == "" {
		game = "No Category"
	}
	duration := formatDuration(seg)
	url := channelURL(login)

	var e discord.Embed
	if isNextUp {
		e = discord.Embed{
			Title: "📣 NEXT UP: " + title,
			URL:   url,
			Description: fmt.Sprintf("**[Watch Live Here!](%s)**\n\nStarting %s on %s",
				url, discord.TimestampRelative(seg.Start), discord.TimestampFull(seg.Start)),
			Color:     discord.ColorGreen,
			Timestamp: seg.Start.UTC().Format(time.RFC3339),
		}
		e.AddField("🎮 Game", game, true)
		e.AddField("⏳ Expected Duration", duration, true)
	} else {
		e = discord.Embed{
			Title:       title,
			URL:         url,
			Description: fmt.Sprintf("**[Watch Live Here](%s)**", url),
			Color:       discord.ColorPurple,
			Timestamp:   seg.Start.UTC().Format(time.RFC3339),
		}
		e.AddField("🕒 Start Time", discord.TimestampFull(seg.Start), true)
		e.AddField("⏳ Duration", duration, true)
		e.AddField("🎮 Game", game, true)
	}
	e.Footer = &discord.EmbedFooter{Text: "Twitch Stream • " + login}
	if boxArtURL != "" {
		e.Thumbnail = &discord.EmbedThumbnail{URL: boxArtURL}
	}
	if vodURL != "" {
		e.AddField("🎥 Watch VOD", fmt.Sprintf("[Click Here](%s)", vodURL), false)
	}
	if dryRun {
		markPreview(&e)
	}
	return e
}

// emptyWindowEmbed is the per-window "nothing this week" notice, used when a
// sibling window still has content.
func emptyWindowEmbed(w Window, dryRun bool) discord.Embed {
	e := discord.Embed{
		Title:       "No Streams Scheduled - Week of " + w.Start.Format("January 02"),
		Description: "No streams currently scheduled for this week on Twitch.",
		Color:       discord.ColorOrange,
	}
	if dryRun {
		markPreview(&e)
	}
	return e
}

// noStreamsEmbed is the single global notice posted when every window in the
// run came up empty.
func noStreamsEmbed(weeks int, dryRun bool) discord.Embed {
	span := "week"
	if weeks > 1 {
		span = fmt.Sprintf("%d weeks", weeks)
	}
	e := discord.Embed{
		Title:       "No Upcoming Streams",
		Description: fmt.Sprintf("No streams currently scheduled on Twitch for the next %s.", span),
		Color:       discord.ColorRed,
	}
	if dryRun {
		markPreview(&e)
	}
	return e
}

// renderFallbackEmbed replaces a window image when rendering fails; the
// window's detail messages still follow it.
func renderFallbackEmbed(w Window, dryRun bool) discord.Embed {
	e := discord.Embed{
		Title:       fmt.Sprintf("Week %d Schedule", w.Index+1),
		Description: "Image generation failed, but streams are listed below.",
		Color:       discord.ColorOrange,
	}
	if dryRun {
		markPreview(&e)
	}
	return e
}

// failureEmbed is the user-visible notice for an unexpected error inside a
// run, worded distinctly for dry runs.
func failureEmbed(dryRun bool) discord.Embed {
	if dryRun {
		return discord.Embed{
			Title:       "Dry Run Failed",
			Description: "❌ Dry run failed. Check logs for details.",
			Color:       discord.ColorRed,
		}
	}
	return discord.Embed{
		Title:       "Schedule Update Failed",
		Description: "❌ Error occurred while posting schedule. Check logs for details.",
		Color:       discord.ColorRed,
	}
}

func formatDuration(seg Segment) string {
	if seg.End.IsZero() || !seg.End.After(seg.Start) {
		return "Unknown"
	}
	d := seg.End.Sub(seg.Start)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
