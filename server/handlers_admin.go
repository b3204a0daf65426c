package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dbpkg "github.com/onnwee/stream-herald/db"
	"github.com/onnwee/stream-herald/schedule"
)

// startRun validates the guild and launches a reconciliation in the
// background. Runs detach from the request context so a disconnecting client
// does not abort a half-finished channel update.
func (h *Handlers) startRun(w http.ResponseWriter, r *http.Request, opts schedule.RunOptions) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	guildID := r.URL.Query().Get("guild")
	if guildID == "" {
		http.Error(w, "guild required", http.StatusBadRequest)
		return
	}
	settings, err := dbpkg.GetGuildSettings(r.Context(), h.db, guildID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "guild not configured", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !settings.Configured() {
		http.Error(w, "guild not configured", http.StatusNotFound)
		return
	}

	go func() {
		ctx := context.WithoutCancel(h.ctx)
		if err := h.engine.SyncGuild(ctx, guildID, opts); err != nil {
			level := slog.LevelError
			if errors.Is(err, schedule.ErrRunInFlight) {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "admin-triggered run failed",
				slog.String("guild_id", guildID),
				slog.String("trigger", opts.Trigger),
				slog.Any("err", err))
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "started",
		"guild":   guildID,
		"trigger": opts.Trigger,
		"dry_run": opts.DryRun,
	})
}

// HandleAdminSync forces an immediate full reconciliation for a guild.
// ?preview=next anchors the windows at next week's start.
func (h *Handlers) HandleAdminSync(w http.ResponseWriter, r *http.Request) {
	opts := schedule.RunOptions{Trigger: "admin_sync"}
	if r.URL.Query().Get("preview") == "next" {
		opts.PreviewNext = true
	}
	h.startRun(w, r, opts)
}

// HandleAdminDryRun posts a preview to the guild's log channel without
// warning, purging, or pinning.
func (h *Handlers) HandleAdminDryRun(w http.ResponseWriter, r *http.Request) {
	h.startRun(w, r, schedule.RunOptions{DryRun: true, Trigger: "admin_dryrun"})
}

// HandleAdminTest runs a dry-run posting into an arbitrary channel, so
// operators can check rendering without touching the live schedule channel.
func (h *Handlers) HandleAdminTest(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}
	h.startRun(w, r, schedule.RunOptions{
		DryRun:          true,
		ChannelOverride: channel,
		Trigger:         "admin_test",
	})
}
