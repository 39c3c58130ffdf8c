// Package plot provides PlotOutput, a receiver that charts readings over
// time on a drawing surface obtained from the plugin context.
package plot

import (
	"fmt"
	"math"
	"sync"
	"time"

	"sensorhub/pkg/canvas"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"go.uber.org/zap"
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "PlotOutput",
		Description: "Plots readings over time",
		Kind:        plugin.KindReceiver,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Plot margins in pixels.
const (
	marginLeft   = 70
	marginRight  = 20
	marginTop    = 20
	marginBottom = 50

	pointRadius = 2
)

// DefaultWindow is how many points each series keeps.
const DefaultWindow = 200

// DefaultStyles are assigned to series in order of appearance.
var DefaultStyles = []string{"b-o", "r-o", "g-o", "m-o", "c-o", "k-o"}

// series is the data of one plotted line.
type series struct {
	name  string
	style canvas.Style
	xs    []float64
	ys    []float64
}

func (s *series) append(x, y float64, window int) {
	s.xs = append(s.xs, x)
	s.ys = append(s.ys, y)
	if over := len(s.xs) - window; over > 0 {
		s.xs = append(s.xs[:0], s.xs[over:]...)
		s.ys = append(s.ys[:0], s.ys[over:]...)
	}
}

// Receiver keeps a window of readings per sensor and redraws the chart on
// every update. Vector sensors contribute one series per component.
type Receiver struct {
	name    string
	logger  *zap.Logger
	surface canvas.Surface
	styles  []canvas.Style
	window  int

	mu     sync.Mutex
	closed bool
	start  time.Time
	series map[string]*series
	order  []string
	xAxis  *canvas.Axis
	yAxis  *canvas.Axis
}

// New builds a PlotOutput. Options: "title" (default the receiver name),
// "styles" (list of style codes such as "r--o"), "window" (points per
// series), "xlabel" and "ylabel".
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	codes, err := opts.Strings("styles")
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		codes = DefaultStyles
	}
	window, err := opts.Int("window", DefaultWindow)
	if err != nil {
		return nil, err
	}
	if window < 1 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}

	title := opts.String("title", name)
	surface, err := ctx.Surfaces.NewSurface(title)
	if err != nil {
		return nil, fmt.Errorf("failed to create surface %q: %w", title, err)
	}

	r := &Receiver{
		name:    name,
		logger:  ctx.ComponentLogger(plugin.KindReceiver, name),
		surface: surface,
		window:  window,
		series:  make(map[string]*series),
		xAxis:   canvas.NewAxis(canvas.Horizontal, opts.String("xlabel", "time [s]")),
		yAxis:   canvas.NewAxis(canvas.Vertical, opts.String("ylabel", "")),
	}
	for _, code := range codes {
		r.styles = append(r.styles, canvas.ParseStyle(code))
	}
	return r, nil
}

// Name implements component.Receiver.
func (r *Receiver) Name() string { return r.name }

// Update implements component.Receiver.
func (r *Receiver) Update(s *component.Sensor) error {
	reading := s.Reading()
	if reading.Value.IsZero() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if r.start.IsZero() {
		r.start = reading.Timestamp
		if r.yAxis.Label == "" {
			r.yAxis.Label = fmt.Sprintf("%s [%s]", s.Quantity(), s.Unit())
		}
	}

	x := reading.Timestamp.Sub(r.start).Seconds()
	values := reading.Value.Floats()
	for i, y := range values {
		key := s.Name()
		if reading.Value.IsVector() {
			key = fmt.Sprintf("%s[%d]", s.Name(), i)
		}
		r.seriesFor(key).append(x, y, r.window)
	}

	r.redraw()
	return nil
}

func (r *Receiver) seriesFor(key string) *series {
	if ds, ok := r.series[key]; ok {
		return ds
	}
	ds := &series{name: key, style: r.styles[len(r.order)%len(r.styles)]}
	r.series[key] = ds
	r.order = append(r.order, key)
	return ds
}

// redraw paints axes, lines, points and the legend. Callers hold r.mu.
func (r *Receiver) redraw() {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, ds := range r.series {
		for i := range ds.xs {
			minX, maxX = math.Min(minX, ds.xs[i]), math.Max(maxX, ds.xs[i])
			minY, maxY = math.Min(minY, ds.ys[i]), math.Max(maxY, ds.ys[i])
		}
	}
	r.xAxis.SetRange(minX, maxX)
	r.yAxis.SetRange(minY, maxY)

	s := r.surface
	x0, y0 := marginLeft, s.Height()-marginBottom
	width := s.Width() - marginLeft - marginRight
	height := s.Height() - marginTop - marginBottom

	s.Clear()
	r.xAxis.Paint(s, x0, y0, width, height)
	r.yAxis.Paint(s, x0, y0, width, height)

	for n, key := range r.order {
		ds := r.series[key]
		if ds.style.LineStyle != canvas.LineNone {
			ds.style.Apply(s)
			for i := 1; i < len(ds.xs); i++ {
				s.DrawLine(
					r.xAxis.ValueToPixel(ds.xs[i-1]), r.yAxis.ValueToPixel(ds.ys[i-1]),
					r.xAxis.ValueToPixel(ds.xs[i]), r.yAxis.ValueToPixel(ds.ys[i]))
			}
		}
		r.paintPoints(ds)

		ds.style.Apply(s)
		s.DrawString(ds.name, x0+width-s.StringWidth(ds.name), marginTop+(n+1)*s.FontHeight())
	}
	s.Repaint()
}

// paintPoints draws each point as a small hollow circle.
func (r *Receiver) paintPoints(ds *series) {
	s := r.surface
	const d = 2 * pointRadius
	for i := range ds.xs {
		x := r.xAxis.ValueToPixel(ds.xs[i])
		y := r.yAxis.ValueToPixel(ds.ys[i])
		s.SetColor("white")
		s.FillOval(x-pointRadius, y-pointRadius, d, d)
		ds.style.Apply(s)
		s.DrawOval(x-pointRadius, y-pointRadius, d, d)
	}
}

// Series returns the plotted series names in order of appearance.
func (r *Receiver) Series() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Close implements component.Receiver. The chart stays on the surface;
// later updates are ignored.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.logger.Debug("Plot closed", zap.Int("series", len(r.order)))
	}
	return nil
}
