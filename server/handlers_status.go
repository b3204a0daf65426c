package server

import (
	"encoding/json"
	"net/http"

	dbpkg "github.com/onnwee/stream-herald/db"
)

// HandleStatus returns the configured guilds together with their most recent
// run outcome.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	guilds, err := dbpkg.ListConfiguredGuilds(ctx, h.db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type guildStatus struct {
		GuildID     string `json:"guild_id"`
		ChannelID   string `json:"channel_id"`
		TwitchLogin string `json:"twitch_login"`
		UpdateTime  string `json:"update_time"`
		Timezone    string `json:"timezone,omitempty"`
		LastRun     any    `json:"last_run,omitempty"`
	}

	out := make([]guildStatus, 0, len(guilds))
	for _, g := range guilds {
		gs := guildStatus{
			GuildID:     g.GuildID,
			ChannelID:   g.ChannelID,
			TwitchLogin: g.TwitchLogin,
			UpdateTime:  g.UpdateTime,
			Timezone:    g.Timezone,
		}
		if run, err := dbpkg.LastRun(ctx, h.db, g.GuildID); err == nil && run != nil {
			gs.LastRun = map[string]any{
				"run_id":          run.RunID,
				"trigger":         run.Trigger,
				"outcome":         run.Outcome,
				"segments":        run.Segments,
				"messages_posted": run.MessagesPosted,
				"started_at":      run.StartedAt,
				"finished_at":     run.FinishedAt,
			}
		}
		out = append(out, gs)
	}

	payload := map[string]any{
		"configured_guilds": len(out),
		"guilds":            out,
	}
	if tick, err := dbpkg.GetKV(ctx, h.db, "clock_last_tick"); err == nil && tick != "" {
		payload["clock_last_tick"] = tick
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
