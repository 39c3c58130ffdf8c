package canvas

import (
	"fmt"
	"math"
)

// Tick lengths in pixels.
const (
	MajorTickSize = 10
	MinorTickSize = 5
)

// Orientation selects the axis direction.
type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

// Axis maps data values to pixels along one direction and paints its grid,
// ticks and labels.
type Axis struct {
	Orientation Orientation
	Min         float64
	Max         float64
	MajorStep   float64
	MinorStep   float64
	Decimals    int
	Label       string

	offset float64
	length float64
}

// NewAxis returns an axis over [0, 10] with four major and forty minor
// divisions.
func NewAxis(o Orientation, label string) *Axis {
	a := &Axis{Orientation: o, Decimals: 2, Label: label}
	a.SetRange(0, 10)
	return a
}

// SetRange sets the value range and resets the tick steps to match. An
// empty or inverted range is widened to one unit around min.
func (a *Axis) SetRange(min, max float64) {
	if !(max > min) {
		max = min + 1
	}
	a.Min, a.Max = min, max
	a.MajorStep = (max - min) / 4
	a.MinorStep = a.MajorStep / 10
}

// Layout places the axis: offset is the pixel coordinate of Min and length
// the pixel distance to Max.
func (a *Axis) Layout(offset, length int) {
	a.offset = float64(offset)
	a.length = float64(length)
}

// ValueToPixel converts a data value to a pixel coordinate. Vertical axes
// grow upwards.
func (a *Axis) ValueToPixel(v float64) int {
	frac := (v - a.Min) / (a.Max - a.Min)
	if a.Orientation == Vertical {
		frac = -frac
	}
	return int(math.Round(frac*a.length + a.offset))
}

// Paint draws the axis for a plot area whose bottom-left corner is (x0, y0).
func (a *Axis) Paint(s Surface, x0, y0, width, height int) {
	if a.Orientation == Vertical {
		a.Layout(y0, height)
	} else {
		a.Layout(x0, width)
	}

	format := fmt.Sprintf("%%.%df", a.Decimals)
	gridLine := func(v float64) {
		p := a.ValueToPixel(v)
		if a.Orientation == Vertical {
			s.DrawLine(x0, p, x0+width, p)
		} else {
			s.DrawLine(p, y0, p, y0-height)
		}
	}
	tick := func(v float64, size int) int {
		p := a.ValueToPixel(v)
		if a.Orientation == Vertical {
			s.DrawLine(x0, p, x0-size, p)
		} else {
			s.DrawLine(p, y0, p, y0+size)
		}
		return p
	}

	s.SetColor("lightgray")
	s.SetLineStyle(LineDotted)
	a.each(a.Min+a.MinorStep, a.MinorStep, gridLine)

	s.SetColor("gray")
	s.SetLineStyle(LineDashed)
	a.each(a.Min+a.MajorStep, a.MajorStep, gridLine)

	s.SetColor("black")
	s.SetLineStyle(LineSolid)
	a.each(a.Min, a.MinorStep, func(v float64) { tick(v, MinorTickSize) })
	a.each(a.Min, a.MajorStep, func(v float64) {
		p := tick(v, MajorTickSize)
		text := fmt.Sprintf(format, v)
		w := s.StringWidth(text)
		if a.Orientation == Vertical {
			s.DrawString(text, x0-w-MajorTickSize-MinorTickSize, p+s.FontAscent()/2-1)
		} else {
			s.DrawString(text, p-w/2, y0+MajorTickSize+s.FontAscent())
		}
	})

	labelWidth := s.StringWidth(a.Label)
	if a.Orientation == Vertical {
		s.DrawLine(x0, y0, x0, y0-height)
		s.DrawStringRotated(a.Label, s.FontHeight()+s.FontLeading(), y0-(height-labelWidth)/2)
	} else {
		s.DrawLine(x0, y0, x0+width, y0)
		s.DrawString(a.Label, x0+(width-labelWidth)/2,
			y0+s.FontHeight()+s.FontAscent()+s.FontLeading()+MajorTickSize)
	}
}

// each calls fn for from, from+step, ... up to and including Max.
func (a *Axis) each(from, step float64, fn func(float64)) {
	if step <= 0 {
		return
	}
	n := int(math.Floor((a.Max-from)/step + 1e-9))
	for i := 0; i <= n; i++ {
		fn(from + float64(i)*step)
	}
}
