package schedule

import (
	"testing"
	"time"

	"github.com/onnwee/stream-herald/twitchapi"
)

func TestMatchRecording(t *testing.T) {
	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	fmtRFC := func(t time.Time) string { return t.Format(time.RFC3339) }

	tests := []struct {
		name   string
		videos []twitchapi.Video
		want   string
	}{
		{
			"exact start",
			[]twitchapi.Video{{URL: "u1", CreatedAt: fmtRFC(start)}},
			"u1",
		},
		{
			"within two hours before start",
			[]twitchapi.Video{{URL: "u1", CreatedAt: fmtRFC(start.Add(-90 * time.Minute))}},
			"u1",
		},
		{
			"within two hours after end",
			[]twitchapi.Video{{URL: "u1", CreatedAt: fmtRFC(end.Add(time.Hour))}},
			"u1",
		},
		{
			"three hours before start rejected",
			[]twitchapi.Video{{URL: "u1", CreatedAt: fmtRFC(start.Add(-3 * time.Hour))}},
			"",
		},
		{
			"three hours after end rejected",
			[]twitchapi.Video{{URL: "u1", CreatedAt: fmtRFC(end.Add(3 * time.Hour))}},
			"",
		},
		{
			"first match wins",
			[]twitchapi.Video{
				{URL: "outside", CreatedAt: fmtRFC(start.Add(-5 * time.Hour))},
				{URL: "inside", CreatedAt: fmtRFC(start.Add(time.Hour))},
				{URL: "also-inside", CreatedAt: fmtRFC(start.Add(2 * time.Hour))},
			},
			"inside",
		},
		{
			"malformed timestamp skipped",
			[]twitchapi.Video{
				{URL: "bad", CreatedAt: "not-a-time"},
				{URL: "good", CreatedAt: fmtRFC(start)},
			},
			"good",
		},
		{
			"no candidates",
			nil,
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchRecording(tt.videos, start, end); got != tt.want {
				t.Errorf("MatchRecording = %q, want %q", got, tt.want)
			}
		})
	}
}
