package component

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a measurement: a scalar or a fixed-size vector of float64.
// The zero Value is an empty scalar-less reading.
type Value struct {
	data   []float64
	vector bool
}

// Scalar returns a scalar Value.
func Scalar(v float64) Value {
	return Value{data: []float64{v}}
}

// Vector returns a vector Value holding a copy of vs.
func Vector(vs ...float64) Value {
	data := make([]float64, len(vs))
	copy(data, vs)
	return Value{data: data, vector: true}
}

// IsVector reports whether the value is a vector.
func (v Value) IsVector() bool { return v.vector }

// IsZero reports whether no measurement has been stored.
func (v Value) IsZero() bool { return len(v.data) == 0 && !v.vector }

// Float returns the scalar value, or the first component of a vector.
func (v Value) Float() float64 {
	if len(v.data) == 0 {
		return 0
	}
	return v.data[0]
}

// Floats returns a copy of the components.
func (v Value) Floats() []float64 {
	out := make([]float64, len(v.data))
	copy(out, v.data)
	return out
}

// Len returns the number of components.
func (v Value) Len() int { return len(v.data) }

// String formats scalars as a plain number and vectors as "[x, y, z]".
func (v Value) String() string {
	if !v.vector {
		if len(v.data) == 0 {
			return ""
		}
		return formatFloat(v.data[0])
	}
	parts := make([]string, len(v.data))
	for i, f := range v.data {
		parts[i] = formatFloat(f)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON encodes scalars as numbers and vectors as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.vector {
		if len(v.data) == 0 {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(v.data[0], 'g', -1, 64)), nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v.data {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

// UnmarshalJSON accepts what MarshalJSON produces: null, a number or an
// array of numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = Value{}
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var vs []float64
		if err := json.Unmarshal(trimmed, &vs); err != nil {
			return fmt.Errorf("invalid vector value: %w", err)
		}
		*v = Vector(vs...)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return fmt.Errorf("invalid scalar value: %w", err)
		}
		*v = Scalar(f)
		return nil
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Reading is a consistent snapshot of a sensor's value and when it was taken.
type Reading struct {
	Value     Value     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
