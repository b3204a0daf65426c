package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/stream-herald/twitchapi"
)

// vodTolerance widens the match band because recording timestamps never line
// up exactly with scheduled segment boundaries.
const vodTolerance = 2 * time.Hour

// vodLookupCount bounds how many recent archives are considered per lookup.
const vodLookupCount = 5

// RecordingFinder locates a recorded broadcast for a finished segment.
// Implementations return "" on no match and on any remote failure; a VOD link
// is decoration, never a reason to fail a run.
type RecordingFinder interface {
	FindRecording(ctx context.Context, login string, start, end time.Time) string
}

// HelixRecordings finds archive VODs through the Helix videos API.
type HelixRecordings struct {
	Client *twitchapi.Client
}

// FindRecording returns the URL of the first recent archive whose creation
// time falls within [start-2h, end+2h], or "" when nothing matches.
func (hr *HelixRecordings) FindRecording(ctx context.Context, login string, start, end time.Time) string {
	user, err := hr.Client.ResolveUser(ctx, login)
	if err != nil {
		slog.Debug("vod lookup: resolve failed", slog.String("login", login), slog.Any("err", err))
		return ""
	}
	videos, err := hr.Client.ListVideos(ctx, user.ID, vodLookupCount)
	if err != nil {
		slog.Debug("vod lookup: list failed", slog.String("login", login), slog.Any("err", err))
		return ""
	}
	return MatchRecording(videos, start, end)
}

// MatchRecording applies the tolerance-band heuristic to a candidate list.
func MatchRecording(videos []twitchapi.Video, start, end time.Time) string {
	lo := start.Add(-vodTolerance)
	hi := end.Add(vodTolerance)
	for _, v := range videos {
		created, err := time.Parse(time.RFC3339, v.CreatedAt)
		if err != nil {
			continue
		}
		if !created.Before(lo) && !created.After(hi) {
			return v.URL
		}
	}
	return ""
}
