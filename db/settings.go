package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// GuildSettings is one guild's sync configuration. The engine treats this as
// read-only; the setup surface (out of process) writes it.
type GuildSettings struct {
	GuildID         string
	ChannelID       string
	TwitchLogin     string
	UpdateDays      []int // 0=Monday .. 6=Sunday
	UpdateTime      string
	NotifyRoleID    string
	EventCount      int
	WeeksToShow     int
	TemplateURL     string
	FontURL         string
	LogChannelID    string
	PinnedMessageID string
	Timezone        string
}

var updateTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate enforces the bounds the engine assumes. Invalid event or week counts
// must never reach the image compositor.
func (s *GuildSettings) Validate() error {
	if s.EventCount < 1 || s.EventCount > 10 {
		return fmt.Errorf("event_count %d out of range 1-10", s.EventCount)
	}
	if s.WeeksToShow < 1 || s.WeeksToShow > 2 {
		return fmt.Errorf("weeks_to_show %d out of range 1-2", s.WeeksToShow)
	}
	if s.UpdateTime != "" && !updateTimeRe.MatchString(s.UpdateTime) {
		return fmt.Errorf("update_time %q not HH:MM", s.UpdateTime)
	}
	for _, d := range s.UpdateDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("update day %d out of range 0-6", d)
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}
	return nil
}

// Configured reports whether the guild has everything the scheduler clock needs.
func (s *GuildSettings) Configured() bool {
	return s.ChannelID != "" && s.TwitchLogin != "" && len(s.UpdateDays) > 0 && s.UpdateTime != ""
}

// Location resolves the guild's display timezone, falling back to def.
func (s *GuildSettings) Location(def *time.Location) *time.Location {
	if s.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return def
	}
	return loc
}

func encodeDays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad update_days entry %q: %w", p, err)
		}
		out = append(out, d)
	}
	return out, nil
}

const settingsCols = `guild_id, channel_id, twitch_login, update_days, update_time, notify_role_id,
	event_count, weeks_to_show, template_url, font_url, log_channel_id, pinned_message_id, timezone`

func scanSettings(row interface{ Scan(...any) error }) (*GuildSettings, error) {
	var s GuildSettings
	var days string
	if err := row.Scan(&s.GuildID, &s.ChannelID, &s.TwitchLogin, &days, &s.UpdateTime,
		&s.NotifyRoleID, &s.EventCount, &s.WeeksToShow, &s.TemplateURL, &s.FontURL,
		&s.LogChannelID, &s.PinnedMessageID, &s.Timezone); err != nil {
		return nil, err
	}
	var err error
	if s.UpdateDays, err = decodeDays(days); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetGuildSettings loads one guild's settings and validates the bounds the
// engine relies on. Returns sql.ErrNoRows when the guild is unknown.
func GetGuildSettings(ctx context.Context, db *sql.DB, guildID string) (*GuildSettings, error) {
	row := db.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM guild_settings WHERE guild_id=$1`, guildID)
	s, err := scanSettings(row)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("guild %s settings invalid: %w", guildID, err)
	}
	return s, nil
}

// ListConfiguredGuilds returns every guild the clock should consider. Rows that
// fail validation are skipped rather than failing the whole scan.
func ListConfiguredGuilds(ctx context.Context, db *sql.DB) ([]*GuildSettings, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+settingsCols+` FROM guild_settings
		WHERE channel_id <> '' AND twitch_login <> '' AND update_days <> '' AND update_time <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*GuildSettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertGuildSettings writes a guild's settings. Used by the setup surface and tests.
func UpsertGuildSettings(ctx context.Context, db *sql.DB, s *GuildSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `INSERT INTO guild_settings
		(guild_id, channel_id, twitch_login, update_days, update_time, notify_role_id,
		 event_count, weeks_to_show, template_url, font_url, log_channel_id, pinned_message_id, timezone, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
		ON CONFLICT (guild_id) DO UPDATE SET
			channel_id=EXCLUDED.channel_id, twitch_login=EXCLUDED.twitch_login,
			update_days=EXCLUDED.update_days, update_time=EXCLUDED.update_time,
			notify_role_id=EXCLUDED.notify_role_id, event_count=EXCLUDED.event_count,
			weeks_to_show=EXCLUDED.weeks_to_show, template_url=EXCLUDED.template_url,
			font_url=EXCLUDED.font_url, log_channel_id=EXCLUDED.log_channel_id,
			pinned_message_id=EXCLUDED.pinned_message_id, timezone=EXCLUDED.timezone,
			updated_at=NOW()`,
		s.GuildID, s.ChannelID, s.TwitchLogin, encodeDays(s.UpdateDays), s.UpdateTime,
		s.NotifyRoleID, s.EventCount, s.WeeksToShow, s.TemplateURL, s.FontURL,
		s.LogChannelID, s.PinnedMessageID, s.Timezone)
	return err
}

// SetPinnedMessage persists the reference to the message the engine pinned.
func SetPinnedMessage(ctx context.Context, db *sql.DB, guildID, messageID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE guild_settings SET pinned_message_id=$1, updated_at=NOW() WHERE guild_id=$2`,
		messageID, guildID)
	return err
}

// RunRecord captures the outcome of one reconciliation run for /status.
type RunRecord struct {
	RunID          string
	GuildID        string
	Trigger        string
	DryRun         bool
	Segments       int
	MessagesPosted int
	Outcome        string
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// RecordRun inserts a run outcome row. Failures are the caller's to ignore;
// run bookkeeping must never fail a reconciliation.
func RecordRun(ctx context.Context, db *sql.DB, r *RunRecord) error {
	_, err := db.ExecContext(ctx, `INSERT INTO sync_runs
		(run_id, guild_id, triggered_by, dry_run, segments, messages_posted, outcome, error, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.RunID, r.GuildID, r.Trigger, r.DryRun, r.Segments, r.MessagesPosted,
		r.Outcome, r.Error, r.StartedAt, r.FinishedAt)
	return err
}

// LastRun returns the most recent run for a guild, or nil when none exists.
func LastRun(ctx context.Context, db *sql.DB, guildID string) (*RunRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT run_id, guild_id, triggered_by, dry_run, segments,
		messages_posted, outcome, error, started_at, finished_at
		FROM sync_runs WHERE guild_id=$1 ORDER BY started_at DESC LIMIT 1`, guildID)
	var r RunRecord
	err := row.Scan(&r.RunID, &r.GuildID, &r.Trigger, &r.DryRun, &r.Segments,
		&r.MessagesPosted, &r.Outcome, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
