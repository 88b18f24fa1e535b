// Package feature defines the measurement contract between an external
// landmark detector and the search core: a fixed set of named scalar
// features in [0,1] derived from raw landmark positions.
package feature

import (
	"fmt"
	"math"

	"likeness/internal/model"
)

// Tier orders features from most to least foundational. Higher tiers are
// only partially trusted while lower tiers score poorly.
type Tier int

const (
	TierFoundation Tier = iota
	TierStructure
	TierMajor
	TierDetail
)

func (t Tier) String() string {
	switch t {
	case TierFoundation:
		return "foundation"
	case TierStructure:
		return "structure"
	case TierMajor:
		return "major"
	case TierDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Point is a 2D landmark position in image-normalized units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Observation is the raw output of an external landmark detector.
type Observation struct {
	Landmarks []Point `json:"landmarks"`
}

// Canonical landmark indices. The detector contract is positional: a
// conforming observation carries at least LandmarkCount points in this order.
const (
	LMTempleLeft = iota
	LMTempleRight
	LMCrown
	LMChinBottom
	LMJawLeft
	LMJawRight
	LMCheekLeft
	LMCheekRight
	LMBrowLeftInner
	LMBrowLeftOuter
	LMBrowRightInner
	LMBrowRightOuter
	LMEyeLeftInner
	LMEyeLeftOuter
	LMEyeRightInner
	LMEyeRightOuter
	LMEyeLeftTop
	LMEyeLeftBottom
	LMNoseBridge
	LMNoseTip
	LMNoseLeft
	LMNoseRight
	LMMouthLeft
	LMMouthRight
	LMLipTop
	LMLipBottom
	LMChinLeft
	LMChinRight
	LMForeheadMid
	LMEarLeft
	LMEarRight
	LMNeckBase

	LandmarkCount
)

// Definition names one feature: a landmark pair distance, its tier, and the
// expected range of the normalized measurement used for error normalization.
type Definition struct {
	Name        string
	Tier        Tier
	A, B        int
	ExpectedMin float64
	ExpectedMax float64
}

// ExpectedSpan is the normalization constant for this feature's error.
func (d Definition) ExpectedSpan() float64 {
	return d.ExpectedMax - d.ExpectedMin
}

// Set is a fixed, ordered collection of feature definitions.
type Set struct {
	defs   []Definition
	byName map[string]int
}

func NewSet(defs []Definition) (*Set, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("at least one feature definition is required")
	}
	byName := make(map[string]int, len(defs))
	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("feature name is required at index %d", i)
		}
		if _, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate feature name: %s", def.Name)
		}
		if def.A < 0 || def.B < 0 || def.A >= LandmarkCount || def.B >= LandmarkCount {
			return nil, fmt.Errorf("feature %s: landmark index out of range", def.Name)
		}
		if def.ExpectedSpan() <= 0 {
			return nil, fmt.Errorf("feature %s: expected range must be non-empty", def.Name)
		}
		byName[def.Name] = i
	}
	return &Set{defs: append([]Definition(nil), defs...), byName: byName}, nil
}

func (s *Set) Len() int {
	return len(s.defs)
}

func (s *Set) Names() []string {
	out := make([]string, len(s.defs))
	for i, def := range s.defs {
		out[i] = def.Name
	}
	return out
}

func (s *Set) Definition(name string) (Definition, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Definition{}, false
	}
	return s.defs[i], true
}

func (s *Set) Definitions() []Definition {
	return append([]Definition(nil), s.defs...)
}

// TierOf returns the tier of a known feature, TierDetail otherwise.
func (s *Set) TierOf(name string) Tier {
	if def, ok := s.Definition(name); ok {
		return def.Tier
	}
	return TierDetail
}

// Extract measures every feature from an observation. A malformed
// observation (too few landmarks, non-finite positions) yields an empty
// FeatureVector; it never panics.
func (s *Set) Extract(obs Observation) model.FeatureVector {
	if len(obs.Landmarks) < LandmarkCount {
		return model.FeatureVector{}
	}
	for _, p := range obs.Landmarks {
		if !finite(p.X) || !finite(p.Y) {
			return model.FeatureVector{}
		}
	}
	scale := frameDiagonal(obs.Landmarks)
	if scale <= 0 {
		return model.FeatureVector{}
	}
	values := make(map[string]float64, len(s.defs))
	for _, def := range s.defs {
		v := distance(obs.Landmarks[def.A], obs.Landmarks[def.B]) / scale
		if v > 1 {
			v = 1
		}
		values[def.Name] = v
	}
	return model.FeatureVector{Values: values}
}

// frameDiagonal is the face-frame reference length all measurements are
// normalized by, so features stay comparable across image scales.
func frameDiagonal(lms []Point) float64 {
	w := distance(lms[LMTempleLeft], lms[LMTempleRight])
	h := distance(lms[LMCrown], lms[LMChinBottom])
	return math.Hypot(w, h)
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// DefaultFaceSet is the standard 16-feature facial measurement set. The
// expected ranges bracket the spread of plausible faces around the neutral
// layout; error normalization in scoring keys off their width.
func DefaultFaceSet() *Set {
	set, err := NewSet([]Definition{
		{Name: "FaceWidth", Tier: TierFoundation, A: LMTempleLeft, B: LMTempleRight, ExpectedMin: 0.48, ExpectedMax: 0.64},
		{Name: "FaceLength", Tier: TierFoundation, A: LMCrown, B: LMChinBottom, ExpectedMin: 0.75, ExpectedMax: 0.92},
		{Name: "JawWidth", Tier: TierFoundation, A: LMJawLeft, B: LMJawRight, ExpectedMin: 0.33, ExpectedMax: 0.49},

		{Name: "CheekboneWidth", Tier: TierStructure, A: LMCheekLeft, B: LMCheekRight, ExpectedMin: 0.38, ExpectedMax: 0.55},
		{Name: "ForeheadHeight", Tier: TierStructure, A: LMForeheadMid, B: LMNoseBridge, ExpectedMin: 0.16, ExpectedMax: 0.29},
		{Name: "ChinHeight", Tier: TierStructure, A: LMLipBottom, B: LMChinBottom, ExpectedMin: 0.10, ExpectedMax: 0.22},
		{Name: "BrowHeight", Tier: TierStructure, A: LMBrowLeftInner, B: LMEyeLeftInner, ExpectedMin: 0.04, ExpectedMax: 0.14},

		{Name: "EyeSpacing", Tier: TierMajor, A: LMEyeLeftInner, B: LMEyeRightInner, ExpectedMin: 0.09, ExpectedMax: 0.21},
		{Name: "EyeWidth", Tier: TierMajor, A: LMEyeLeftInner, B: LMEyeLeftOuter, ExpectedMin: 0.04, ExpectedMax: 0.13},
		{Name: "NoseWidth", Tier: TierMajor, A: LMNoseLeft, B: LMNoseRight, ExpectedMin: 0.04, ExpectedMax: 0.13},
		{Name: "NoseLength", Tier: TierMajor, A: LMNoseBridge, B: LMNoseTip, ExpectedMin: 0.11, ExpectedMax: 0.23},
		{Name: "MouthWidth", Tier: TierMajor, A: LMMouthLeft, B: LMMouthRight, ExpectedMin: 0.12, ExpectedMax: 0.25},

		{Name: "LipFullness", Tier: TierDetail, A: LMLipTop, B: LMLipBottom, ExpectedMin: 0.03, ExpectedMax: 0.11},
		{Name: "EyeOpenness", Tier: TierDetail, A: LMEyeLeftTop, B: LMEyeLeftBottom, ExpectedMin: 0.01, ExpectedMax: 0.07},
		{Name: "ChinWidth", Tier: TierDetail, A: LMChinLeft, B: LMChinRight, ExpectedMin: 0.09, ExpectedMax: 0.21},
		{Name: "BrowSpacing", Tier: TierDetail, A: LMBrowLeftInner, B: LMBrowRightInner, ExpectedMin: 0.12, ExpectedMax: 0.25},
	})
	if err != nil {
		panic(err) // the default table is static; a failure here is a bug
	}
	return set
}
