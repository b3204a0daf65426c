package discord

import (
	"fmt"
	"time"
)

// Accent colors matching the embeds the engine emits.
const (
	ColorGreen    = 0x2ECC71 // next-up
	ColorPurple   = 0x9B59B6 // standard detail
	ColorRed      = 0xE74C3C // errors / nothing scheduled at all
	ColorOrange   = 0xE67E22 // per-window empty notice
	ColorDarkGrey = 0x607D8B // dry-run preview
	ColorBlue     = 0x3498DB
)

// Embed mirrors the Discord rich-embed JSON shape.
type Embed struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url,omitempty"`
	Color       int             `json:"color,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Fields      []EmbedField    `json:"fields,omitempty"`
	Footer      *EmbedFooter    `json:"footer,omitempty"`
	Author      *EmbedAuthor    `json:"author,omitempty"`
	Thumbnail   *EmbedThumbnail `json:"thumbnail,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type EmbedAuthor struct {
	Name string `json:"name"`
}

type EmbedThumbnail struct {
	URL string `json:"url"`
}

// AddField appends a field and returns the embed for chaining.
func (e *Embed) AddField(name, value string, inline bool) *Embed {
	e.Fields = append(e.Fields, EmbedField{Name: name, Value: value, Inline: inline})
	return e
}

// TimestampRelative renders Discord's client-side relative time markup
// ("in 2 hours").
func TimestampRelative(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// TimestampFull renders Discord's client-side full date/time markup.
func TimestampFull(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

// RoleMention renders a role mention.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}
