package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/stream-herald/twitchapi"
)

// ErrStreamerNotFound is a hard fetch failure: the tracked identity could not
// be resolved. Callers abort the run without touching channel state.
var ErrStreamerNotFound = errors.New("schedule: streamer not found")

// Source fetches the remote calendar. A nil error with an empty slice means
// "no streams scheduled" (proceed with zero segments); a non-nil error means
// "abort this run, do not modify channel state".
type Source interface {
	Fetch(ctx context.Context, login string, start, end time.Time) ([]Segment, error)
}

// HelixSource fetches segments from the Twitch Helix schedule API and
// normalizes them to UTC instants.
type HelixSource struct {
	Client *twitchapi.Client
}

// Fetch resolves login, pulls the broadcaster's schedule and returns the
// segments whose start falls inside [start, end], ordered ascending.
// Malformed segments are skipped, not fatal.
func (hs *HelixSource) Fetch(ctx context.Context, login string, start, end time.Time) ([]Segment, error) {
	user, err := hs.Client.ResolveUser(ctx, login)
	if err != nil {
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrStreamerNotFound, login)
		}
		return nil, fmt.Errorf("resolve %q: %w", login, err)
	}
	raw, err := hs.Client.GetSchedule(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("schedule for %q: %w", login, err)
	}
	out := make([]Segment, 0, len(raw))
	for _, r := range raw {
		st, err := time.Parse(time.RFC3339, r.StartTime)
		if err != nil {
			slog.Warn("skipping segment with bad start_time",
				slog.String("segment", r.ID), slog.String("start_time", r.StartTime))
			continue
		}
		st = st.UTC()
		if st.Before(start) || st.After(end) {
			continue
		}
		seg := Segment{
			ID:              r.ID,
			BroadcasterName: user.DisplayName,
			Start:           st,
			Title:           r.Title,
		}
		if seg.BroadcasterName == "" {
			seg.BroadcasterName = user.Login
		}
		if r.EndTime != "" {
			if et, err := time.Parse(time.RFC3339, r.EndTime); err == nil {
				seg.End = et.UTC()
			}
		}
		if r.Category != nil {
			seg.Category = Category{ID: r.Category.ID, Name: r.Category.Name}
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
