package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/render"
)

type sentMessage struct {
	ChannelID string
	Content   string
	Embeds    []discord.Embed
	Filename  string
}

// fakeChat implements Messenger with scripted failures and a full send log.
type fakeChat struct {
	mu      sync.Mutex
	history []discord.Message
	sent    []sentMessage
	deleted []string
	pinned  []string
	nextID  int

	failSend     error
	failPin      error
	permDeleteID string // deleting this message returns a 403
}

const botID = "bot-1"

func (f *fakeChat) newID() string {
	f.nextID++
	return fmt.Sprintf("m%d", f.nextID)
}

func (f *fakeChat) Me(ctx context.Context) (string, error) { return botID, nil }

func (f *fakeChat) SendMessage(ctx context.Context, channelID string, payload discord.MessagePayload) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return nil, f.failSend
	}
	m := discord.Message{ID: f.newID(), ChannelID: channelID, Content: payload.Content, Author: discord.User{ID: botID}}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: payload.Content, Embeds: payload.Embeds})
	return &m, nil
}

func (f *fakeChat) SendFile(ctx context.Context, channelID, filename string, data []byte, content string) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return nil, f.failSend
	}
	m := discord.Message{ID: f.newID(), ChannelID: channelID, Author: discord.User{ID: botID}}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content, Filename: filename})
	return &m, nil
}

func (f *fakeChat) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.permDeleteID != "" && messageID == f.permDeleteID {
		return &discord.APIError{StatusCode: 403, Body: "Missing Permissions"}
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeChat) PinMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPin != nil {
		return f.failPin
	}
	f.pinned = append(f.pinned, messageID)
	return nil
}

func (f *fakeChat) Messages(ctx context.Context, channelID string, limit int) ([]discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

// embedsSent flattens the embeds from every message sent to a channel.
func (f *fakeChat) embedsSent() []discord.Embed {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []discord.Embed
	for _, s := range f.sent {
		out = append(out, s.Embeds...)
	}
	return out
}

type fakeSource struct {
	segments []Segment
	err      error
	calls    int
}

func (f *fakeSource) Fetch(ctx context.Context, login string, start, end time.Time) ([]Segment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.segments, nil
}

type fakeRenderer struct {
	err   error
	calls int
}

func (f *fakeRenderer) Render(items []render.Item, limit int, opts render.Options) (*render.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &render.Image{PNG: []byte("png-bytes"), Width: 1000, Height: 1000}, nil
}

type fakePins struct {
	guildID   string
	messageID string
}

func (f *fakePins) SetPinnedMessage(ctx context.Context, guildID, messageID string) error {
	f.guildID, f.messageID = guildID, messageID
	return nil
}

type fakeRecordings struct{ url string }

func (f *fakeRecordings) FindRecording(ctx context.Context, login string, start, end time.Time) string {
	return f.url
}

// Sunday 2025-03-09 08:00 UTC; the week anchor is that same Sunday's midnight.
var testNow = time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)

func testSnapshot() *Snapshot {
	return &Snapshot{
		GuildID:     "g1",
		ChannelID:   "chan-main",
		TwitchLogin: "streamer",
		EventCount:  5,
		Weeks:       1,
		Location:    time.UTC,
	}
}

// weekSegments returns Monday/Wednesday/Friday evening streams of the anchor week.
func weekSegments() []Segment {
	mk := func(id string, day int) Segment {
		return Segment{
			ID:    id,
			Start: time.Date(2025, 3, 9+day, 18, 0, 0, 0, time.UTC),
			Title: "Stream " + id,
		}
	}
	return []Segment{mk("mon", 1), mk("wed", 3), mk("fri", 5)}
}

func newTestReconciler(chat *fakeChat, src Source) *Reconciler {
	return &Reconciler{
		Chat:        chat,
		Source:      src,
		Renderer:    &fakeRenderer{},
		Pins:        &fakePins{},
		Reporter:    nil,
		WarnDelay:   -1,
		DeleteDelay: -1,
		EmbedDelay:  -1,
		Now:         func() time.Time { return testNow },
	}
}

func TestRunPostsImageAndDetails(t *testing.T) {
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})
	pins := &fakePins{}
	rec.Pins = pins

	result, err := rec.Run(context.Background(), testSnapshot(), RunOptions{Trigger: "test"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Segments != 3 {
		t.Errorf("segments = %d, want 3", result.Segments)
	}

	// Warning + image + 3 details posted; warning is deleted afterwards.
	var files, warnings int
	for _, s := range chat.sent {
		if s.Filename != "" {
			files++
			if s.Filename != "schedule_week_1.png" {
				t.Errorf("filename = %q", s.Filename)
			}
		}
		if strings.Contains(s.Content, "Updating schedule") {
			warnings++
		}
	}
	if files != 1 {
		t.Errorf("image files sent = %d, want 1", files)
	}
	if warnings != 1 {
		t.Errorf("warnings sent = %d, want 1", warnings)
	}
	if len(chat.deleted) != 1 {
		t.Errorf("expected only the warning deleted, got %v", chat.deleted)
	}

	// Exactly one next-up embed, and it is the Monday stream.
	var nextUps, standards int
	for _, e := range chat.embedsSent() {
		if strings.HasPrefix(e.Title, "📣 NEXT UP: ") {
			nextUps++
			if !strings.Contains(e.Title, "Stream mon") {
				t.Errorf("wrong next-up: %q", e.Title)
			}
		} else if e.Color == discord.ColorPurple {
			standards++
		}
	}
	if nextUps != 1 || standards != 2 {
		t.Errorf("nextUps = %d standards = %d, want 1 and 2", nextUps, standards)
	}

	// MessagesPosted counts image + details, not the warning.
	if result.MessagesPosted != 4 {
		t.Errorf("MessagesPosted = %d, want 4", result.MessagesPosted)
	}

	// The image message (first emitted) is pinned and persisted.
	if len(chat.pinned) != 1 {
		t.Fatalf("pinned = %v, want one pin", chat.pinned)
	}
	if result.PinnedMessageID != chat.pinned[0] {
		t.Errorf("result pin %q != chat pin %q", result.PinnedMessageID, chat.pinned[0])
	}
	if pins.guildID != "g1" || pins.messageID != result.PinnedMessageID {
		t.Errorf("pin not persisted: %+v", pins)
	}
}

func TestRunPurgesOnlyOwnMessages(t *testing.T) {
	chat := &fakeChat{history: []discord.Message{
		{ID: "old1", Author: discord.User{ID: botID}},
		{ID: "user1", Author: discord.User{ID: "someone-else"}},
		{ID: "old2", Author: discord.User{ID: botID}},
	}}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})

	result, err := rec.Run(context.Background(), testSnapshot(), RunOptions{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.MessagesDeleted != 2 {
		t.Errorf("MessagesDeleted = %d, want 2", result.MessagesDeleted)
	}
	for _, id := range chat.deleted {
		if id == "user1" {
			t.Error("deleted another user's message")
		}
	}
}

func TestRunSecondWindowEmpty(t *testing.T) {
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})
	snap := testSnapshot()
	snap.Weeks = 2

	result, err := rec.Run(context.Background(), snap, RunOptions{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	var emptyNotices int
	for _, e := range chat.embedsSent() {
		if strings.HasPrefix(e.Title, "No Streams Scheduled - Week of") {
			emptyNotices++
		}
	}
	if emptyNotices != 1 {
		t.Errorf("empty-window notices = %d, want 1", emptyNotices)
	}
	// Pin still goes to the first window's image, not the later notice.
	if len(chat.pinned) != 1 {
		t.Fatalf("pinned = %v", chat.pinned)
	}
	if result.PinnedMessageID == "" {
		t.Error("no pinned message recorded")
	}
}

func TestRunAllWindowsEmpty(t *testing.T) {
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{})
	snap := testSnapshot()
	snap.Weeks = 2

	result, err := rec.Run(context.Background(), snap, RunOptions{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	embeds := chat.embedsSent()
	if len(embeds) != 1 || embeds[0].Title != "No Upcoming Streams" {
		t.Fatalf("expected single global notice, got %+v", embeds)
	}
	if !strings.Contains(embeds[0].Description, "2 weeks") {
		t.Errorf("notice wording: %q", embeds[0].Description)
	}
	if result.MessagesPosted != 1 {
		t.Errorf("MessagesPosted = %d, want 1", result.MessagesPosted)
	}
	// The lone notice is still a pin candidate.
	if len(chat.pinned) != 1 {
		t.Errorf("pinned = %v, want the notice pinned", chat.pinned)
	}
}

func TestRunFetchFailureLeavesChannelUntouched(t *testing.T) {
	chat := &fakeChat{history: []discord.Message{{ID: "old1", Author: discord.User{ID: botID}}}}
	rec := newTestReconciler(chat, &fakeSource{err: errors.New("helix down")})

	_, err := rec.Run(context.Background(), testSnapshot(), RunOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(chat.sent) != 0 || len(chat.deleted) != 0 || len(chat.pinned) != 0 {
		t.Errorf("channel mutated on fetch failure: sent=%d deleted=%d pinned=%d",
			len(chat.sent), len(chat.deleted), len(chat.pinned))
	}
}

func TestRunStreamerNotFoundAborts(t *testing.T) {
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{err: fmt.Errorf("%w: %q", ErrStreamerNotFound, "ghost")})

	_, err := rec.Run(context.Background(), testSnapshot(), RunOptions{})
	if !errors.Is(err, ErrStreamerNotFound) {
		t.Fatalf("error = %v, want ErrStreamerNotFound", err)
	}
	if len(chat.sent) != 0 {
		t.Error("channel mutated on unknown streamer")
	}
}

func TestRunDryRunSkipsMutations(t *testing.T) {
	chat := &fakeChat{history: []discord.Message{{ID: "old1", Author: discord.User{ID: botID}}}}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})

	result, err := rec.Run(context.Background(), testSnapshot(), RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(chat.deleted) != 0 {
		t.Error("dry run deleted messages")
	}
	if len(chat.pinned) != 0 {
		t.Error("dry run pinned a message")
	}
	if result.MessagesDeleted != 0 {
		t.Errorf("MessagesDeleted = %d in dry run", result.MessagesDeleted)
	}
	// Output is visibly marked.
	var marked, fileContent int
	for _, s := range chat.sent {
		if s.Filename != "" && strings.Contains(s.Content, "Dry run preview") {
			fileContent++
		}
		for _, e := range s.Embeds {
			if e.Author != nil && e.Author.Name == "DRY RUN PREVIEW" {
				marked++
			}
		}
	}
	if fileContent != 1 {
		t.Error("dry-run image missing preview caption")
	}
	if marked != 3 {
		t.Errorf("marked embeds = %d, want 3", marked)
	}
}

func TestRunChannelOverride(t *testing.T) {
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})

	_, err := rec.Run(context.Background(), testSnapshot(), RunOptions{
		DryRun:          true,
		ChannelOverride: "chan-test",
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	for _, s := range chat.sent {
		if s.ChannelID != "chan-test" {
			t.Errorf("message went to %q, want chan-test", s.ChannelID)
		}
	}
}

func TestRunPermissionFailureDegrades(t *testing.T) {
	chat := &fakeChat{
		history:      []discord.Message{{ID: "old1", Author: discord.User{ID: botID}}, {ID: "old2", Author: discord.User{ID: botID}}},
		permDeleteID: "old1",
	}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})

	result, err := rec.Run(context.Background(), testSnapshot(), RunOptions{})
	if err != nil {
		t.Fatalf("degraded run should still succeed, got %v", err)
	}
	// The 403 aborts the purge scan early; emit still runs.
	if result.MessagesDeleted != 0 {
		t.Errorf("MessagesDeleted = %d, want 0 after permission abort", result.MessagesDeleted)
	}
	if result.MessagesPosted != 4 {
		t.Errorf("MessagesPosted = %d, want 4 after degradation", result.MessagesPosted)
	}
	if len(chat.pinned) != 1 {
		t.Errorf("pin skipped after degradation: %v", chat.pinned)
	}
}

func TestRunRenderFailureFallsBack(t *testing.T) {
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})
	rec.Renderer = &fakeRenderer{err: errors.New("assets not ready")}

	result, err := rec.Run(context.Background(), testSnapshot(), RunOptions{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	var fallbacks, files int
	for _, s := range chat.sent {
		if s.Filename != "" {
			files++
		}
		for _, e := range s.Embeds {
			if strings.Contains(e.Description, "Image generation failed") {
				fallbacks++
			}
		}
	}
	if files != 0 {
		t.Error("file sent despite render failure")
	}
	if fallbacks != 1 {
		t.Errorf("fallback embeds = %d, want 1", fallbacks)
	}
	// Detail embeds still follow, and the fallback becomes the pin.
	if result.MessagesPosted != 4 {
		t.Errorf("MessagesPosted = %d, want 4", result.MessagesPosted)
	}
	if len(chat.pinned) != 1 {
		t.Errorf("pinned = %v", chat.pinned)
	}
}

func TestRunIdempotentRepost(t *testing.T) {
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})

	first, err := rec.Run(context.Background(), testSnapshot(), RunOptions{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Simulate the channel now holding the first run's output.
	chat.mu.Lock()
	for i := 0; i < first.MessagesPosted; i++ {
		chat.history = append(chat.history, discord.Message{ID: fmt.Sprintf("prev%d", i), Author: discord.User{ID: botID}})
	}
	sentBefore := len(chat.sent)
	chat.mu.Unlock()

	second, err := rec.Run(context.Background(), testSnapshot(), RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.MessagesDeleted != first.MessagesPosted {
		t.Errorf("second run deleted %d, want %d (the first run's output)",
			second.MessagesDeleted, first.MessagesPosted)
	}
	if second.MessagesPosted != first.MessagesPosted {
		t.Errorf("second run posted %d, first posted %d; reposts should match",
			second.MessagesPosted, first.MessagesPosted)
	}
	if len(chat.sent)-sentBefore != second.MessagesPosted+1 { // +1 warning
		t.Errorf("send log grew by %d, want %d", len(chat.sent)-sentBefore, second.MessagesPosted+1)
	}
}

func TestRunVODDecoration(t *testing.T) {
	// A segment that already ended gets a recording link.
	ended := Segment{
		ID:    "done",
		Start: testNow.Add(-6 * time.Hour),
		End:   testNow.Add(-3 * time.Hour),
		Title: "Finished stream",
	}
	// Ended segments fall outside the grace window, so place it artificially
	// by fetching it alongside a future one and checking only the future one
	// survives partitioning; the VOD path is covered via buildDetail.
	chat := &fakeChat{}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})
	rec.Recordings = &fakeRecordings{url: "https://twitch.tv/videos/99"}

	e := rec.buildDetail(context.Background(), ended, false, testSnapshot(), false, testNow)
	var hasVOD bool
	for _, f := range e.Fields {
		if f.Name == "🎥 Watch VOD" {
			hasVOD = true
		}
	}
	if !hasVOD {
		t.Error("ended segment missing VOD field")
	}

	// A future segment never gets a recording lookup result attached.
	future := weekSegments()[0]
	e = rec.buildDetail(context.Background(), future, false, testSnapshot(), false, testNow)
	for _, f := range e.Fields {
		if f.Name == "🎥 Watch VOD" {
			t.Error("future segment has VOD field")
		}
	}
}

func TestRunSendFailureReportsAndContinues(t *testing.T) {
	chat := &fakeChat{failSend: errors.New("network down")}
	rec := newTestReconciler(chat, &fakeSource{segments: weekSegments()})

	// Warning send fails, which is a hard stop for a live run.
	if _, err := rec.Run(context.Background(), testSnapshot(), RunOptions{}); err == nil {
		t.Fatal("expected error when the warning cannot be posted")
	}
}
