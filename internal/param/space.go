package param

import (
	"fmt"

	"likeness/internal/model"
)

// Axis is one morph parameter: a named scalar with an independent valid range.
type Axis struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

func (a Axis) Width() float64 {
	return a.Max - a.Min
}

// Space defines the valid box for parameter vectors. Every vector emitted by
// any component is clamped elementwise into this box.
type Space struct {
	axes []Axis
}

func NewSpace(axes []Axis) (*Space, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("at least one axis is required")
	}
	seen := make(map[string]struct{}, len(axes))
	for i, axis := range axes {
		if axis.Name == "" {
			return nil, fmt.Errorf("axis name is required at index %d", i)
		}
		if _, dup := seen[axis.Name]; dup {
			return nil, fmt.Errorf("duplicate axis name: %s", axis.Name)
		}
		seen[axis.Name] = struct{}{}
		if axis.Max <= axis.Min {
			return nil, fmt.Errorf("axis %s: max must be > min", axis.Name)
		}
	}
	return &Space{axes: append([]Axis(nil), axes...)}, nil
}

func (s *Space) Dim() int {
	return len(s.axes)
}

func (s *Space) Axis(i int) Axis {
	return s.axes[i]
}

func (s *Space) Axes() []Axis {
	return append([]Axis(nil), s.axes...)
}

// Clamp returns a copy of v with every element forced into its axis range.
// Short vectors are padded with axis midpoints, long ones truncated.
func (s *Space) Clamp(v model.ParameterVector) model.ParameterVector {
	out := make(model.ParameterVector, len(s.axes))
	for i, axis := range s.axes {
		x := axis.Min + axis.Width()/2
		if i < len(v) {
			x = v[i]
		}
		if x != x { // NaN never survives a clamp
			x = axis.Min + axis.Width()/2
		}
		if x < axis.Min {
			x = axis.Min
		}
		if x > axis.Max {
			x = axis.Max
		}
		out[i] = x
	}
	return out
}

// ClampDelta bounds an additive delta so that applying it can move a value
// at most one full axis width in either direction.
func (s *Space) ClampDelta(d model.ParameterVector) model.ParameterVector {
	out := make(model.ParameterVector, len(s.axes))
	for i, axis := range s.axes {
		var x float64
		if i < len(d) {
			x = d[i]
		}
		if x != x {
			x = 0
		}
		w := axis.Width()
		if x < -w {
			x = -w
		}
		if x > w {
			x = w
		}
		out[i] = x
	}
	return out
}

// Midpoint is the neutral starting vector: every axis at its range center.
func (s *Space) Midpoint() model.ParameterVector {
	out := make(model.ParameterVector, len(s.axes))
	for i, axis := range s.axes {
		out[i] = axis.Min + axis.Width()/2
	}
	return out
}

// Spreads returns per-axis step scales proportional to each range width.
// A narrow axis and a wide axis must not share the same initial step.
func (s *Space) Spreads(fraction float64) []float64 {
	if fraction <= 0 {
		fraction = 1.0
	}
	out := make([]float64, len(s.axes))
	for i, axis := range s.axes {
		out[i] = axis.Width() * fraction
	}
	return out
}

// Contains reports whether v is elementwise inside the box.
func (s *Space) Contains(v model.ParameterVector) bool {
	if len(v) != len(s.axes) {
		return false
	}
	for i, axis := range s.axes {
		if v[i] < axis.Min || v[i] > axis.Max {
			return false
		}
	}
	return true
}
