// Package render composes the weekly schedule raster: the cached template
// image with a "Week of" header and one row per scheduled stream drawn over
// it. The canvas shrinks when fewer streams are present than the configured
// limit so the output stays visually tight.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/onnwee/stream-herald/assets"
)

// Item is one row on the raster.
type Item struct {
	Start time.Time
	Title string
}

// Options control the header label and localization.
type Options struct {
	WindowStart time.Time
	Weeks       int
	Location    *time.Location
}

// Image is an encoded raster ready for upload.
type Image struct {
	PNG    []byte
	Width  int
	Height int
}

// Compositor renders schedule images from cached assets.
type Compositor struct {
	Assets *assets.Store
}

// Render draws at most limit items onto the template. Items must already be
// time-ordered. Fails with assets.ErrNotReady when the font or template is
// missing or unparsable.
func (c *Compositor) Render(items []Item, limit int, opts Options) (*Image, error) {
	if limit < 1 {
		return nil, fmt.Errorf("render: limit %d, need at least 1", limit)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Weeks < 1 {
		opts.Weeks = 1
	}
	if len(items) > limit {
		items = items[:limit]
	}

	fontBytes, err := c.Assets.Font()
	if err != nil {
		return nil, err
	}
	tmplBytes, err := c.Assets.Template()
	if err != nil {
		return nil, err
	}
	ft, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse font: %v", assets.ErrNotReady, err)
	}
	tmpl, err := png.Decode(bytes.NewReader(tmplBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decode template: %v", assets.ErrNotReady, err)
	}

	width := tmpl.Bounds().Dx()
	tmplH := tmpl.Bounds().Dy()
	height := canvasHeight(tmplH, limit, len(items))

	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	// Header slice.
	headerEnd := min(headerHeight, tmplH)
	draw.Draw(dst, image.Rect(0, 0, width, headerEnd), tmpl, image.Point{}, draw.Src)

	// Occupied row slices.
	rowsEnd := headerEnd
	if len(items) > 0 {
		rowsEnd = min(headerHeight+len(items)*rowHeight, tmplH)
		draw.Draw(dst, image.Rect(0, headerEnd, width, rowsEnd), tmpl, image.Pt(0, headerEnd), draw.Src)
	}

	// Footer slice, pulled up from past the last row slot.
	footerSrcY := headerHeight + limit*rowHeight
	if footerSrcY < tmplH && rowsEnd < height {
		draw.Draw(dst, image.Rect(0, rowsEnd, width, height), tmpl, image.Pt(0, footerSrcY), draw.Src)
	}

	titleFace, err := newFace(ft, titleFontSize)
	if err != nil {
		return nil, fmt.Errorf("%w: font face: %v", assets.ErrNotReady, err)
	}
	dateFace, err := newFace(ft, dateFontSize)
	if err != nil {
		return nil, fmt.Errorf("%w: font face: %v", assets.ErrNotReady, err)
	}
	rowFace, err := newFace(ft, rowFontSize)
	if err != nil {
		return nil, fmt.Errorf("%w: font face: %v", assets.ErrNotReady, err)
	}

	weekOf, dateText := headerLabels(opts)
	drawRightAligned(dst, titleFace, weekOf, width-rightMargin, headerTitleY)
	drawRightAligned(dst, dateFace, dateText, width-rightMargin, headerDateY)

	for i, it := range items {
		barY := headerHeight + i*rowHeight
		local := it.Start.In(opts.Location)
		dayLine := strings.ToUpper(local.Format("Monday // 03:04PM"))
		drawText(dst, rowFace, dayLine, textX, barY+dayOffset)
		drawText(dst, rowFace, truncateRunes(it.Title, maxTitleRunes), textX, barY+titleOffset)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("render: encode: %w", err)
	}
	return &Image{PNG: buf.Bytes(), Width: width, Height: height}, nil
}

// headerLabels returns the "Week of"/"Weeks of" title and the formatted date
// (range) below it.
func headerLabels(opts Options) (string, string) {
	start := opts.WindowStart.In(opts.Location)
	if opts.Weeks > 1 {
		end := start.AddDate(0, 0, opts.Weeks*7-1)
		return "Weeks of", start.Format("Jan 02") + " - " + end.Format("Jan 02")
	}
	return "Week of", start.Format("January 02")
}

func newFace(ft *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(ft, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

// drawText draws s with its top-left corner at (x, y).
func drawText(dst draw.Image, face font.Face, s string, x, y int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

// drawRightAligned draws s so its right edge sits at rightX.
func drawRightAligned(dst draw.Image, face font.Face, s string, rightX, y int) {
	d := font.Drawer{Dst: dst, Src: image.White, Face: face}
	w := d.MeasureString(s).Ceil()
	x := rightX - w
	if x < 0 {
		x = 0
	}
	d.Dot = fixed.P(x, y+face.Metrics().Ascent.Ceil())
	d.DrawString(s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
