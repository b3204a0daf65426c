package schedule

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/stream-herald/db"
	"github.com/onnwee/stream-herald/telemetry"
)

// Clock decides when to trigger reconciliations. It ticks on a fixed interval
// and fires a guild when its configured update day + "HH:MM" matches the local
// wall clock. A per-guild last-fired-minute guard prevents a delayed tick from
// double-firing inside the same minute.
type Clock struct {
	DB              *sql.DB
	Engine          *Engine
	Interval        time.Duration
	DefaultLocation *time.Location
	Now             func() time.Time

	mu        sync.Mutex
	lastFired map[string]string // guild id -> minute key of the last trigger
}

func (c *Clock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Clock) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return 60 * time.Second
}

// RunLoop ticks until ctx is cancelled. A failing guild never stops the loop.
func (c *Clock) RunLoop(ctx context.Context) {
	slog.Info("scheduler clock started", slog.Duration("interval", c.interval()))
	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler clock stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick checks every configured guild once and fires due reconciliations.
func (c *Clock) Tick(ctx context.Context) {
	guilds, err := db.ListConfiguredGuilds(ctx, c.DB)
	if err != nil {
		slog.Error("failed to list configured guilds", slog.Any("err", err))
		return
	}
	telemetry.SetConfiguredGuilds(len(guilds))
	now := c.now()
	if err := db.SetKV(ctx, c.DB, "clock_last_tick", now.UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record clock tick", slog.Any("err", err))
	}
	for _, g := range guilds {
		fire, key := ShouldFire(g, now, c.DefaultLocation, c.last(g.GuildID))
		if !fire {
			continue
		}
		c.setLast(g.GuildID, key)
		c.runGuild(ctx, g.GuildID)
	}
}

// runGuild isolates one guild's reconciliation so a panic or error cannot
// take down the clock loop.
func (c *Clock) runGuild(ctx context.Context, guildID string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("guild reconciliation panicked", slog.String("guild", guildID), slog.Any("panic", rec))
		}
	}()
	if err := c.Engine.SyncGuild(ctx, guildID, RunOptions{Trigger: "clock"}); err != nil {
		slog.Error("scheduled reconciliation failed", slog.String("guild", guildID), slog.Any("err", err))
	}
}

func (c *Clock) last(guildID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFired[guildID]
}

func (c *Clock) setLast(guildID, key string) {
	c.mu.Lock()
	if c.lastFired == nil {
		c.lastFired = make(map[string]string)
	}
	c.lastFired[guildID] = key
	c.mu.Unlock()
}

// ShouldFire reports whether a guild's configured update time matches now in
// its local timezone, and returns the minute key identifying this match.
// lastKey is the minute key of the guild's previous trigger; an equal key
// means this minute already fired.
func ShouldFire(s *db.GuildSettings, now time.Time, defLoc *time.Location, lastKey string) (bool, string) {
	loc := s.Location(defLoc)
	local := now.In(loc)
	key := local.Format("2006-01-02T15:04")
	if key == lastKey {
		return false, key
	}
	if local.Format("15:04") != s.UpdateTime {
		return false, key
	}
	day := (int(local.Weekday()) + 6) % 7 // stored days are Monday=0..Sunday=6
	for _, d := range s.UpdateDays {
		if d == day {
			return true, key
		}
	}
	return false, key
}
