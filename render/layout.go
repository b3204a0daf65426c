package render

// Layout constants for the schedule raster. The template is a fixed-width
// banner: a header block, one 150px row per scheduled stream, and whatever the
// template carries below the last row as footer.
const (
	headerHeight = 350
	rowHeight    = 150

	rightMargin = 100
	textX       = 125
	dayOffset   = -45 // day/time line sits above the row baseline
	titleOffset = 15

	headerTitleY = 100
	headerDateY  = 180

	titleFontSize = 90
	dateFontSize  = 40
	rowFontSize   = 42

	minCanvasHeight = 400
	maxTitleRunes   = 50
)

// canvasHeight computes the output height analytically: header + occupied rows
// + the template's footer slice. The footer is whatever the template holds
// past the last of limit row slots.
func canvasHeight(templateH, limit, rows int) int {
	footer := templateH - headerHeight - limit*rowHeight
	if footer < 0 {
		footer = 0
	}
	h := headerHeight + rows*rowHeight + footer
	if h < minCanvasHeight {
		h = minCanvasHeight
	}
	if h > templateH {
		h = templateH
	}
	return h
}
