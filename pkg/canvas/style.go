package canvas

import "strings"

var (
	colorNames = []string{"red", "green", "blue", "black", "magenta", "cyan", "yellow"}
	colorCodes = []string{"r", "g", "b", "k", "m", "c", "y"}
)

// Style is a decoded plot style code.
type Style struct {
	Code      string
	Color     string
	LineStyle string
}

// ParseStyle decodes a Matlab/matplotlib-like style code such as "r--o"
// (red, dashed). A full color name takes precedence over a one-letter
// code, and the color defaults to black. "--" is dashed, "-" solid, ":"
// dotted, anything else draws no line.
func ParseStyle(code string) Style {
	s := Style{Code: code, Color: "black", LineStyle: LineNone}

	found := false
	for _, name := range colorNames {
		if strings.Contains(code, name) {
			s.Color = name
			found = true
			break
		}
	}
	if !found {
		for i, c := range colorCodes {
			if strings.Contains(code, c) {
				s.Color = colorNames[i]
				break
			}
		}
	}

	switch {
	case strings.Contains(code, "--"):
		s.LineStyle = LineDashed
	case strings.Contains(code, "-"):
		s.LineStyle = LineSolid
	case strings.Contains(code, ":"):
		s.LineStyle = LineDotted
	}
	return s
}

// Apply sets the style's color and line style on surface.
func (s Style) Apply(surface Surface) {
	surface.SetColor(s.Color)
	surface.SetLineStyle(s.LineStyle)
}
