package canvas

import (
	"sync"
	"unicode/utf8"
)

// Recorder font metrics, in pixels.
const (
	RecorderCharWidth = 7
	RecorderAscent    = 10
	RecorderDescent   = 3
	RecorderLeading   = 1
)

// Op is one recorded drawing call.
type Op struct {
	Kind      string // "line", "rect", "oval", "fill-oval", "text", "text-rotated"
	Color     string
	LineStyle string
	Args      []int
	Text      string
}

// Recorder is an in-memory Surface. It draws nothing and records every
// call, which makes it the surface of choice for headless runs and tests.
type Recorder struct {
	title  string
	width  int
	height int

	mu        sync.Mutex
	color     string
	lineStyle string
	ops       []Op
	repaints  int
}

// NewRecorder creates a recorder of the given size.
func NewRecorder(title string, width, height int) *Recorder {
	return &Recorder{
		title:     title,
		width:     width,
		height:    height,
		color:     "black",
		lineStyle: LineSolid,
	}
}

func (r *Recorder) Title() string { return r.title }
func (r *Recorder) Width() int    { return r.width }
func (r *Recorder) Height() int   { return r.height }

func (r *Recorder) SetColor(name string) {
	r.mu.Lock()
	r.color = name
	r.mu.Unlock()
}

func (r *Recorder) SetLineStyle(style string) {
	r.mu.Lock()
	r.lineStyle = style
	r.mu.Unlock()
}

func (r *Recorder) DrawLine(x1, y1, x2, y2 int) { r.record("line", "", x1, y1, x2, y2) }
func (r *Recorder) DrawRect(x, y, w, h int)     { r.record("rect", "", x, y, w, h) }
func (r *Recorder) DrawOval(x, y, w, h int)     { r.record("oval", "", x, y, w, h) }
func (r *Recorder) FillOval(x, y, w, h int)     { r.record("fill-oval", "", x, y, w, h) }

func (r *Recorder) DrawString(text string, x, y int) {
	r.record("text", text, x, y)
}

func (r *Recorder) DrawStringRotated(text string, x, y int) {
	r.record("text-rotated", text, x, y)
}

func (r *Recorder) StringWidth(text string) int {
	return utf8.RuneCountInString(text) * RecorderCharWidth
}

func (r *Recorder) FontHeight() int {
	return RecorderAscent + RecorderDescent + RecorderLeading
}

func (r *Recorder) FontAscent() int  { return RecorderAscent }
func (r *Recorder) FontDescent() int { return RecorderDescent }
func (r *Recorder) FontLeading() int { return RecorderLeading }

// Clear drops every recorded op.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}

func (r *Recorder) Repaint() {
	r.mu.Lock()
	r.repaints++
	r.mu.Unlock()
}

// Ops returns a copy of the recorded ops.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// OpsOfKind returns the recorded ops of one kind.
func (r *Recorder) OpsOfKind(kind string) []Op {
	var out []Op
	for _, op := range r.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// Repaints returns how many times Repaint was called.
func (r *Recorder) Repaints() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repaints
}

func (r *Recorder) record(kind, text string, args ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{
		Kind:      kind,
		Color:     r.color,
		LineStyle: r.lineStyle,
		Args:      args,
		Text:      text,
	})
}

// RecorderFactory hands out Recorders and remembers them by title.
type RecorderFactory struct {
	Width  int
	Height int

	mu       sync.Mutex
	surfaces map[string]*Recorder
	created  []string
}

// NewRecorderFactory creates a factory for width x height recorders.
func NewRecorderFactory(width, height int) *RecorderFactory {
	return &RecorderFactory{
		Width:    width,
		Height:   height,
		surfaces: make(map[string]*Recorder),
	}
}

// NewSurface implements Factory.
func (f *RecorderFactory) NewSurface(title string) (Surface, error) {
	rec := NewRecorder(title, f.Width, f.Height)
	f.mu.Lock()
	f.surfaces[title] = rec
	f.created = append(f.created, title)
	f.mu.Unlock()
	return rec, nil
}

// Surface returns the most recent recorder created with title, or nil.
func (f *RecorderFactory) Surface(title string) *Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surfaces[title]
}

// Titles lists the titles of the created surfaces in creation order.
func (f *RecorderFactory) Titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}
