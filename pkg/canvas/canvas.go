// Package canvas is the drawing boundary used by plot receivers. Plugins get
// a Factory from their plugin.Context and never talk to a rendering toolkit
// directly; the toolkit (or the in-memory Recorder) lives behind Surface.
package canvas

// Line styles understood by Surface.SetLineStyle.
const (
	LineNone         = "none"
	LineSolid        = "solid"
	LineDashed       = "dashed"
	LineDotted       = "dotted"
	LineDashedDotted = "dashed-dotted"
)

// Surface is an abstract drawing area with a top-left origin. Colors are
// named ("red", "lightgray"). Implementations must be safe for use from
// several goroutines, since receivers are updated on device goroutines.
type Surface interface {
	Width() int
	Height() int

	SetColor(name string)
	SetLineStyle(style string)

	DrawLine(x1, y1, x2, y2 int)
	DrawRect(x, y, w, h int)
	DrawOval(x, y, w, h int)
	FillOval(x, y, w, h int)

	DrawString(text string, x, y int)
	DrawStringRotated(text string, x, y int)
	StringWidth(text string) int
	FontHeight() int
	FontAscent() int
	FontDescent() int
	FontLeading() int

	// Clear erases everything drawn so far.
	Clear()

	// Repaint flushes pending drawing to the output.
	Repaint()
}

// Factory creates surfaces.
type Factory interface {
	NewSurface(title string) (Surface, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(title string) (Surface, error)

// NewSurface calls f.
func (f FactoryFunc) NewSurface(title string) (Surface, error) {
	return f(title)
}
