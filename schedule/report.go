package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/stream-herald/discord"
)

// maxReportLen keeps error reports inside embed description limits.
const maxReportLen = 1900

// Reporter posts operator-facing error reports to a guild's configured log
// channel. Every method is best-effort: a reporter failure is logged and
// swallowed, never surfaced to the run.
type Reporter struct {
	Chat         Messenger
	LogChannelID string
	GuildID      string
}

// Report logs the message and, when a log channel is configured, mirrors it
// there as a red embed.
func (r *Reporter) Report(ctx context.Context, msg string) {
	if r == nil {
		slog.Error("sync error", slog.String("msg", msg))
		return
	}
	slog.Error("sync error", slog.String("guild", r.GuildID), slog.String("msg", msg))
	if r.Chat == nil || r.LogChannelID == "" {
		return
	}
	if len(msg) > maxReportLen {
		msg = msg[:maxReportLen] + "... (truncated)"
	}
	embed := discord.Embed{
		Title:       "Schedule Sync Error",
		Description: "```\n" + msg + "\n```",
		Color:       discord.ColorRed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      &discord.EmbedFooter{Text: "Guild: " + r.GuildID},
	}
	if _, err := r.Chat.SendMessage(ctx, r.LogChannelID, discord.MessagePayload{Embeds: []discord.Embed{embed}}); err != nil {
		slog.Warn("failed to deliver error report", slog.String("guild", r.GuildID), slog.Any("err", err))
	}
}
