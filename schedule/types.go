// Package schedule implements the sync engine: it polls a streamer's broadcast
// calendar, partitions segments into 7-day windows, renders a summary raster
// per window, and reconciles the output against previously posted channel
// messages. One Run is a full poll→partition→render→purge→emit→pin cycle.
package schedule

import (
	"time"

	"github.com/onnwee/stream-herald/db"
)

// Category is a broadcast category reference.
type Category struct {
	ID   string
	Name string
}

// Segment is one scheduled broadcast entry. Times are UTC instants; display
// conversion happens at render/emit time. Segments are immutable once fetched.
type Segment struct {
	ID              string
	BroadcasterName string
	Start           time.Time
	End             time.Time // zero when the remote gives no end time
	Title           string
	Category        Category
}

// Ended reports whether the segment finished before now.
func (s Segment) Ended(now time.Time) bool {
	return !s.End.IsZero() && s.End.Before(now)
}

// Window is one 7-day calendar bucket. Windows are derived fresh each run,
// never persisted.
type Window struct {
	Index    int
	Start    time.Time // local midnight on the week anchor day
	End      time.Time // Start + 6d23h59m59s
	Segments []Segment
}

// Snapshot is the read-only per-run projection of a guild's configuration.
// It is copied at run start; a concurrent settings update simply lands on the
// next run.
type Snapshot struct {
	GuildID      string
	ChannelID    string
	TwitchLogin  string
	NotifyRoleID string
	LogChannelID string
	EventCount   int
	Weeks        int
	Location     *time.Location
}

// SnapshotFrom projects the stored settings, applying the default timezone.
func SnapshotFrom(s *db.GuildSettings, defaultLoc *time.Location) *Snapshot {
	return &Snapshot{
		GuildID:      s.GuildID,
		ChannelID:    s.ChannelID,
		TwitchLogin:  s.TwitchLogin,
		NotifyRoleID: s.NotifyRoleID,
		LogChannelID: s.LogChannelID,
		EventCount:   s.EventCount,
		Weeks:        s.WeeksToShow,
		Location:     s.Location(defaultLoc),
	}
}
