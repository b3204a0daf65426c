package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/render"
	"github.com/onnwee/stream-herald/telemetry"
)

// Messenger is the chat-platform surface the engine writes through.
type Messenger interface {
	Me(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, channelID string, payload discord.MessagePayload) (*discord.Message, error)
	SendFile(ctx context.Context, channelID, filename string, data []byte, content string) (*discord.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	PinMessage(ctx context.Context, channelID, messageID string) error
	Messages(ctx context.Context, channelID string, limit int) ([]discord.Message, error)
}

// Renderer produces the per-window raster.
type Renderer interface {
	Render(items []render.Item, limit int, opts render.Options) (*render.Image, error)
}

// BoxArtResolver resolves a category id to thumbnail art. Optional.
type BoxArtResolver interface {
	GetCategoryBoxArt(ctx context.Context, categoryID string, width, height int) (string, error)
}

// PinStore persists the pinned-message reference between runs.
type PinStore interface {
	SetPinnedMessage(ctx context.Context, guildID, messageID string) error
}

// RunOptions select a reconciliation variant.
type RunOptions struct {
	// DryRun renders and emits preview output without warning, purging, or
	// pinning.
	DryRun bool
	// PreviewNext anchors the windows at next week's start instead of the
	// current week.
	PreviewNext bool
	// ChannelOverride posts to a different channel (the "test post" path).
	ChannelOverride string
	// Trigger names what started the run, for logs and run records.
	Trigger string
}

// RunResult summarizes one completed reconciliation.
type RunResult struct {
	RunID           string
	Segments        int
	MessagesPosted  int
	MessagesDeleted int
	PinnedMessageID string
}

// Reconciler drives one reconciliation run through its phases:
// warn-and-wait, purge, emit, pin. Delay fields exist so tests can zero them;
// zero values fall back to the production defaults.
type Reconciler struct {
	Chat       Messenger
	Source     Source
	Renderer   Renderer
	Recordings RecordingFinder
	BoxArt     BoxArtResolver
	Pins       PinStore
	Reporter   *Reporter

	WarnDelay    time.Duration // grace before purge, default 10s
	DeleteDelay  time.Duration // between deletes, default 1.5s
	EmbedDelay   time.Duration // between detail messages, default 500ms
	HistoryLimit int           // bounded purge scan, default 50

	Now func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Delay accessors: zero means "use the production default"; a negative value
// disables the delay entirely (tests).
func (r *Reconciler) warnDelay() time.Duration {
	if r.WarnDelay != 0 {
		return r.WarnDelay
	}
	return 10 * time.Second
}

func (r *Reconciler) deleteDelay() time.Duration {
	if r.DeleteDelay != 0 {
		return r.DeleteDelay
	}
	return 1500 * time.Millisecond
}

func (r *Reconciler) embedDelay() time.Duration {
	if r.EmbedDelay != 0 {
		return r.EmbedDelay
	}
	return 500 * time.Millisecond
}

func (r *Reconciler) historyLimit() int {
	if r.HistoryLimit > 0 {
		return r.HistoryLimit
	}
	return 50
}

// Run executes one full reconciliation for the guild described by snap.
// A fetch failure aborts before any channel mutation. Unexpected panics are
// recovered, reported, and surfaced as a channel failure notice so the
// scheduler loop never dies.
func (r *Reconciler) Run(ctx context.Context, snap *Snapshot, opts RunOptions) (result *RunResult, err error) {
	runID := uuid.NewString()
	channelID := snap.ChannelID
	if opts.ChannelOverride != "" {
		channelID = opts.ChannelOverride
	}
	log := slog.With(
		slog.String("run_id", runID),
		slog.String("guild", snap.GuildID),
		slog.String("trigger", opts.Trigger),
		slog.Bool("dry_run", opts.DryRun),
	)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in reconciliation: %v", rec)
			log.Error("reconciliation panicked", slog.Any("panic", rec))
			r.Reporter.Report(ctx, fmt.Sprintf("Unexpected error in reconciliation: %v", rec))
			r.postFailureNotice(ctx, channelID, opts.DryRun)
		}
	}()

	now := r.now()
	loc := snap.Location
	if loc == nil {
		loc = time.UTC
	}
	anchor := WeekAnchor(now, loc)
	if opts.PreviewNext {
		anchor = NextWeekAnchor(now, loc)
	}

	// Fetch a range wide enough to cover every requested window plus slack,
	// matching the partitioner's expectations.
	fetchStart := now.Add(-startGrace)
	fetchEnd := anchor.AddDate(0, 0, snap.Weeks*7+7)
	fetchBegan := time.Now()
	segments, err := r.Source.Fetch(ctx, snap.TwitchLogin, fetchStart, fetchEnd)
	telemetry.ObserveFetchDuration(time.Since(fetchBegan))
	if err != nil {
		// Hard failure: abort without modifying channel state.
		r.Reporter.Report(ctx, fmt.Sprintf("Failed to fetch schedule for %s: %v", snap.TwitchLogin, err))
		return nil, fmt.Errorf("fetch: %w", err)
	}

	windows := Partition(segments, anchor, snap.Weeks, now)
	next := NextUp(windows)
	total := TotalSegments(windows)
	log.Info("schedule fetched",
		slog.Int("segments", total),
		slog.Int("windows", len(windows)),
		slog.Time("anchor", anchor))

	result = &RunResult{RunID: runID, Segments: total}

	if !opts.DryRun {
		if err := r.warnAndWait(ctx, channelID, snap); err != nil {
			r.Reporter.Report(ctx, fmt.Sprintf("Cannot post in channel %s: %v", channelID, err))
			return nil, fmt.Errorf("warn: %w", err)
		}
		result.MessagesDeleted = r.purge(ctx, channelID, log)
	}

	pinCandidates := r.emit(ctx, channelID, windows, next, snap, opts, now, log, result)

	if !opts.DryRun && len(pinCandidates) > 0 {
		// Deterministic pin selection: the first emitted message, whatever
		// shape it had.
		first := pinCandidates[0]
		if err := r.Chat.PinMessage(ctx, channelID, first); err != nil {
			if discord.IsPermission(err) {
				r.Reporter.Report(ctx, fmt.Sprintf("Cannot pin messages in channel %s", channelID))
			} else {
				r.Reporter.Report(ctx, fmt.Sprintf("Error pinning message: %v", err))
			}
		} else {
			result.PinnedMessageID = first
			if r.Pins != nil {
				if err := r.Pins.SetPinnedMessage(ctx, snap.GuildID, first); err != nil {
					log.Warn("failed to persist pinned message id", slog.Any("err", err))
				}
			}
		}
	}

	log.Info("reconciliation finished",
		slog.Int("posted", result.MessagesPosted),
		slog.Int("deleted", result.MessagesDeleted),
		slog.String("pinned", result.PinnedMessageID))
	return result, nil
}

// warnAndWait posts the pre-purge warning, waits the grace delay so humans can
// notice, then removes the warning.
func (r *Reconciler) warnAndWait(ctx context.Context, channelID string, snap *Snapshot) error {
	content := "⚠️ Updating schedule - previous messages will be deleted in 10 seconds..."
	if snap.NotifyRoleID != "" {
		content = discord.RoleMention(snap.NotifyRoleID) + "\n" + content
	}
	warning, err := r.Chat.SendMessage(ctx, channelID, discord.MessagePayload{Content: content})
	if err != nil {
		return err
	}
	if err := sleep(ctx, r.warnDelay()); err != nil {
		return err
	}
	if err := r.Chat.DeleteMessage(ctx, channelID, warning.ID); err != nil {
		slog.Warn("failed to delete warning message", slog.Any("err", err))
	}
	return nil
}

// purge deletes the engine's own prior output from a bounded history scan.
// A permission failure abandons the remaining deletions; the run continues in
// a degraded state. Returns the number of messages deleted.
func (r *Reconciler) purge(ctx context.Context, channelID string, log *slog.Logger) int {
	me, err := r.Chat.Me(ctx)
	if err != nil {
		r.Reporter.Report(ctx, fmt.Sprintf("Cannot resolve own identity for purge: %v", err))
		return 0
	}
	history, err := r.Chat.Messages(ctx, channelID, r.historyLimit())
	if err != nil {
		r.Reporter.Report(ctx, fmt.Sprintf("Error scanning channel history: %v", err))
		return 0
	}
	deleted := 0
	for _, m := range history {
		if m.Author.ID != me {
			continue
		}
		if err := r.Chat.DeleteMessage(ctx, channelID, m.ID); err != nil {
			if discord.IsPermission(err) {
				r.Reporter.Report(ctx, fmt.Sprintf("Cannot delete messages in channel %s", channelID))
			} else {
				r.Reporter.Report(ctx, fmt.Sprintf("Error deleting message: %v", err))
			}
			break
		}
		deleted++
		if err := sleep(ctx, r.deleteDelay()); err != nil {
			break
		}
	}
	log.Info("purge complete", slog.Int("deleted", deleted))
	return deleted
}

// emit posts window images (or empty notices) and per-segment detail messages
// in ascending window order, collecting pin candidates as it goes.
func (r *Reconciler) emit(ctx context.Context, channelID string, windows []Window, next *Segment, snap *Snapshot, opts RunOptions, now time.Time, log *slog.Logger, result *RunResult) []string {
	var pinCandidates []string
	record := func(m *discord.Message, err error, what string) {
		if err != nil {
			r.Reporter.Report(ctx, fmt.Sprintf("Failed to send %s: %v", what, err))
			return
		}
		result.MessagesPosted++
		pinCandidates = append(pinCandidates, m.ID)
	}

	if TotalSegments(windows) == 0 {
		// Nothing anywhere: one global notice instead of a string of
		// per-window ones.
		e := noStreamsEmbed(snap.Weeks, opts.DryRun)
		m, err := r.Chat.SendMessage(ctx, channelID, discord.MessagePayload{Embeds: []discord.Embed{e}})
		record(m, err, "no-streams notice")
		return pinCandidates
	}

	for _, w := range windows {
		if len(w.Segments) == 0 {
			e := emptyWindowEmbed(w, opts.DryRun)
			m, err := r.Chat.SendMessage(ctx, channelID, discord.MessagePayload{Embeds: []discord.Embed{e}})
			record(m, err, "empty-window notice")
			continue
		}

		renderBegan := time.Now()
		img, err := r.Renderer.Render(renderItems(w), snap.EventCount, render.Options{
			WindowStart: w.Start,
			Weeks:       snap.Weeks,
			Location:    snap.Location,
		})
		telemetry.ObserveRenderDuration(time.Since(renderBegan))
		if err != nil {
			// Resources not ready or a draw failure: the raster is skipped
			// but the window's text output still goes out.
			r.Reporter.Report(ctx, fmt.Sprintf("Error generating schedule image: %v", err))
			e := renderFallbackEmbed(w, opts.DryRun)
			m, serr := r.Chat.SendMessage(ctx, channelID, discord.MessagePayload{Embeds: []discord.Embed{e}})
			record(m, serr, "render fallback")
		} else {
			content := ""
			if opts.DryRun {
				content = "🧪 Dry run preview"
			}
			filename := fmt.Sprintf("schedule_week_%d.png", w.Index+1)
			m, serr := r.Chat.SendFile(ctx, channelID, filename, img.PNG, content)
			record(m, serr, "schedule image")
		}

		for _, seg := range w.Segments {
			isNext := next != nil && seg.ID == next.ID
			e := r.buildDetail(ctx, seg, isNext, snap, opts.DryRun, now)
			if _, serr := r.Chat.SendMessage(ctx, channelID, discord.MessagePayload{Embeds: []discord.Embed{e}}); serr != nil {
				r.Reporter.Report(ctx, fmt.Sprintf("Error posting stream embed: %v", serr))
				continue
			}
			result.MessagesPosted++
			if err := sleep(ctx, r.embedDelay()); err != nil {
				log.Warn("emit interrupted", slog.Any("err", err))
				return pinCandidates
			}
		}
	}
	return pinCandidates
}

// buildDetail assembles one segment's embed, decorating it with box art and a
// recording link when those lookups succeed. Both lookups are best-effort.
func (r *Reconciler) buildDetail(ctx context.Context, seg Segment, isNext bool, snap *Snapshot, dryRun bool, now time.Time) discord.Embed {
	boxArt := ""
	if r.BoxArt != nil && seg.Category.ID != "" {
		if u, err := r.BoxArt.GetCategoryBoxArt(ctx, seg.Category.ID, boxArtWidth, boxArtHeight); err == nil {
			boxArt = u
		}
	}
	vodURL := ""
	if r.Recordings != nil && seg.Ended(now) {
		vodURL = r.Recordings.FindRecording(ctx, snap.TwitchLogin, seg.Start, seg.End)
	}
	return detailEmbed(seg, isNext, snap.TwitchLogin, boxArt, vodURL, dryRun)
}

func (r *Reconciler) postFailureNotice(ctx context.Context, channelID string, dryRun bool) {
	e := failureEmbed(dryRun)
	if _, err := r.Chat.SendMessage(ctx, channelID, discord.MessagePayload{Embeds: []discord.Embed{e}}); err != nil {
		slog.Warn("failed to post failure notice", slog.Any("err", err))
	}
}

func renderItems(w Window) []render.Item {
	items := make([]render.Item, 0, len(w.Segments))
	for _, s := range w.Segments {
		title := s.Title
		if title == "" {
			title = s.Category.Name
		}
		if title == "" {
			title = "Untitled Stream"
		}
		items = append(items, render.Item{Start: s.Start, Title: title})
	}
	return items
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrRunInFlight is returned when a reconciliation is requested for a guild
// that already has one running.
var ErrRunInFlight = errors.New("schedule: reconciliation already in flight for guild")
