package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/onnwee/stream-herald/assets"
	"github.com/onnwee/stream-herald/db"
	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/render"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/twitchapi"
)

// Engine binds the reconciler to its live collaborators and guards against
// overlapping runs for the same guild. It is the single entry point for both
// the scheduler clock and the manual/administrative trigger paths.
type Engine struct {
	DB     *sql.DB
	Chat   *discord.Client
	Twitch *twitchapi.Client

	DataDir            string
	DefaultFontURL     string
	DefaultTemplateURL string
	DefaultLocation    *time.Location

	// Delay overrides passed through to the reconciler; zero keeps defaults.
	WarnDelay   time.Duration
	DeleteDelay time.Duration
	EmbedDelay  time.Duration

	mu       sync.Mutex
	inflight map[string]bool
}

type dbPinStore struct{ db *sql.DB }

func (p dbPinStore) SetPinnedMessage(ctx context.Context, guildID, messageID string) error {
	return db.SetPinnedMessage(ctx, p.db, guildID, messageID)
}

func (e *Engine) acquire(guildID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight == nil {
		e.inflight = make(map[string]bool)
	}
	if e.inflight[guildID] {
		return false
	}
	e.inflight[guildID] = true
	return true
}

func (e *Engine) release(guildID string) {
	e.mu.Lock()
	delete(e.inflight, guildID)
	e.mu.Unlock()
}

// SyncGuild runs one reconciliation for a guild. Returns ErrRunInFlight when
// a run for the same guild is already active.
func (e *Engine) SyncGuild(ctx context.Context, guildID string, opts RunOptions) error {
	if !e.acquire(guildID) {
		return fmt.Errorf("%w: %s", ErrRunInFlight, guildID)
	}
	defer e.release(guildID)

	started := time.Now()
	telemetry.IncRunsStarted()

	tracer := otel.Tracer("stream-herald/schedule")
	ctx, span := tracer.Start(ctx, "reconcile")
	span.SetAttributes(
		attribute.String("guild.id", guildID),
		attribute.String("run.trigger", opts.Trigger),
		attribute.Bool("run.dry_run", opts.DryRun),
	)
	defer span.End()

	settings, err := db.GetGuildSettings(ctx, e.DB, guildID)
	if err != nil {
		telemetry.IncRunsFailed()
		span.SetStatus(codes.Error, "settings load failed")
		return fmt.Errorf("load settings for %s: %w", guildID, err)
	}
	snap := SnapshotFrom(settings, e.DefaultLocation)
	reporter := &Reporter{Chat: e.Chat, LogChannelID: settings.LogChannelID, GuildID: guildID}

	store := &assets.Store{
		Dir:         filepath.Join(e.DataDir, guildID),
		FontURL:     settings.FontURL,
		TemplateURL: settings.TemplateURL,
	}
	if store.FontURL == "" {
		store.FontURL = e.DefaultFontURL
	}
	if store.TemplateURL == "" {
		store.TemplateURL = e.DefaultTemplateURL
	}
	// Asset trouble only degrades rendering; text output still proceeds, so
	// report and carry on.
	if err := store.Ensure(ctx); err != nil {
		reporter.Report(ctx, fmt.Sprintf("Error ensuring image resources: %v", err))
	}

	rec := &Reconciler{
		Chat:        e.Chat,
		Source:      &HelixSource{Client: e.Twitch},
		Renderer:    &render.Compositor{Assets: store},
		Recordings:  &HelixRecordings{Client: e.Twitch},
		BoxArt:      e.Twitch,
		Pins:        dbPinStore{db: e.DB},
		Reporter:    reporter,
		WarnDelay:   e.WarnDelay,
		DeleteDelay: e.DeleteDelay,
		EmbedDelay:  e.EmbedDelay,
	}

	result, err := rec.Run(ctx, snap, opts)
	elapsed := time.Since(started)
	record := &db.RunRecord{
		GuildID:    guildID,
		Trigger:    opts.Trigger,
		DryRun:     opts.DryRun,
		StartedAt:  started.UTC(),
		FinishedAt: started.Add(elapsed).UTC(),
	}
	if err != nil {
		telemetry.IncRunsFailed()
		span.SetStatus(codes.Error, err.Error())
		record.Outcome = "failed"
		record.Error = err.Error()
	} else {
		telemetry.IncRunsSucceeded()
		telemetry.AddMessagesPosted(result.MessagesPosted)
		telemetry.AddMessagesDeleted(result.MessagesDeleted)
		record.RunID = result.RunID
		record.Segments = result.Segments
		record.MessagesPosted = result.MessagesPosted
		record.Outcome = "ok"
	}
	telemetry.ObserveRunDuration(elapsed)
	// Run bookkeeping must never fail a reconciliation.
	if dbErr := db.RecordRun(ctx, e.DB, record); dbErr != nil {
		slog.Warn("failed to record run", slog.String("guild", guildID), slog.Any("err", dbErr))
	}
	return err
}
