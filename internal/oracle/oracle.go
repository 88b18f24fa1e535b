// Package oracle provides the render/observe boundary the search core
// talks to. The synthetic oracle stands in for a real renderer and landmark
// detector: it maps a morph vector to a landmark layout by linear mixing
// over a neutral face, which is enough to exercise every search path
// end to end.
package oracle

import (
	"errors"
	"math/rand"

	"likeness/internal/feature"
	"likeness/internal/model"
	"likeness/internal/param"
)

// Oracle renders a candidate and extracts its feature signature. The core
// never sees pixels, only the resulting FeatureVector.
type Oracle interface {
	Name() string
	Observe(params model.ParameterVector) (model.FeatureVector, error)
}

type SyntheticConfig struct {
	Seed int64
	// Noise is the landmark jitter amplitude in face-frame units.
	Noise float64
	// InfluencesPerAxis is how many landmarks one morph axis displaces.
	InfluencesPerAxis int
	// Gain scales how far a full-range axis swing moves its landmarks.
	Gain float64
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		InfluencesPerAxis: 3,
		Gain:              0.22,
	}
}

func (c *SyntheticConfig) normalize() error {
	if c.InfluencesPerAxis <= 0 {
		return errors.New("influences per axis must be > 0")
	}
	if c.Gain <= 0 {
		return errors.New("gain must be > 0")
	}
	if c.Noise < 0 {
		return errors.New("noise must be >= 0")
	}
	return nil
}

// influence displaces one landmark coordinate proportionally to an axis's
// normalized value.
type influence struct {
	landmark int
	onX      bool
	coeff    float64
}

// Synthetic is a deterministic morph-to-landmark oracle. The influence
// matrix is derived from the seed, so two oracles with the same seed agree
// on what every morph axis does.
type Synthetic struct {
	space *param.Space
	set   *feature.Set
	cfg   SyntheticConfig

	neutral    []feature.Point
	influences [][]influence
	noiseRnd   *rand.Rand
}

func NewSynthetic(space *param.Space, set *feature.Set, cfg SyntheticConfig) (*Synthetic, error) {
	if space == nil {
		return nil, errors.New("parameter space is required")
	}
	if set == nil {
		return nil, errors.New("feature set is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	s := &Synthetic{
		space:    space,
		set:      set,
		cfg:      cfg,
		neutral:  neutralFace(),
		noiseRnd: rand.New(rand.NewSource(cfg.Seed + 1)),
	}
	mix := rand.New(rand.NewSource(cfg.Seed))
	s.influences = make([][]influence, space.Dim())
	for i := range s.influences {
		infs := make([]influence, cfg.InfluencesPerAxis)
		for j := range infs {
			infs[j] = influence{
				landmark: mix.Intn(feature.LandmarkCount),
				onX:      mix.Intn(2) == 0,
				coeff:    (mix.Float64()*2 - 1) * cfg.Gain,
			}
		}
		s.influences[i] = infs
	}
	return s, nil
}

func (s *Synthetic) Name() string {
	return "synthetic"
}

// Render maps a morph vector to a landmark layout.
func (s *Synthetic) Render(params model.ParameterVector) (feature.Observation, error) {
	clamped := s.space.Clamp(params)
	points := make([]feature.Point, len(s.neutral))
	copy(points, s.neutral)
	for i, infs := range s.influences {
		axis := s.space.Axis(i)
		// Normalized axis position in [-1,1] around the midpoint.
		u := 2*(clamped[i]-axis.Min)/axis.Width() - 1
		for _, inf := range infs {
			if inf.onX {
				points[inf.landmark].X += inf.coeff * u
			} else {
				points[inf.landmark].Y += inf.coeff * u
			}
		}
	}
	if s.cfg.Noise > 0 {
		for i := range points {
			points[i].X += s.noiseRnd.NormFloat64() * s.cfg.Noise
			points[i].Y += s.noiseRnd.NormFloat64() * s.cfg.Noise
		}
	}
	return feature.Observation{Landmarks: points}, nil
}

func (s *Synthetic) Observe(params model.ParameterVector) (model.FeatureVector, error) {
	obs, err := s.Render(params)
	if err != nil {
		return model.FeatureVector{}, err
	}
	return s.set.Extract(obs), nil
}

// RandomTruth draws a ground-truth morph vector for test targets.
func (s *Synthetic) RandomTruth(seed int64) model.ParameterVector {
	rnd := rand.New(rand.NewSource(seed))
	out := make(model.ParameterVector, s.space.Dim())
	for i := range out {
		axis := s.space.Axis(i)
		out[i] = axis.Min + rnd.Float64()*axis.Width()
	}
	return out
}

// neutralFace is the canonical resting landmark layout in a unit frame.
func neutralFace() []feature.Point {
	pts := make([]feature.Point, feature.LandmarkCount)
	pts[feature.LMTempleLeft] = feature.Point{X: 0.20, Y: 0.35}
	pts[feature.LMTempleRight] = feature.Point{X: 0.80, Y: 0.35}
	pts[feature.LMCrown] = feature.Point{X: 0.50, Y: 0.05}
	pts[feature.LMChinBottom] = feature.Point{X: 0.50, Y: 0.95}
	pts[feature.LMJawLeft] = feature.Point{X: 0.28, Y: 0.70}
	pts[feature.LMJawRight] = feature.Point{X: 0.72, Y: 0.70}
	pts[feature.LMCheekLeft] = feature.Point{X: 0.25, Y: 0.50}
	pts[feature.LMCheekRight] = feature.Point{X: 0.75, Y: 0.50}
	pts[feature.LMBrowLeftInner] = feature.Point{X: 0.40, Y: 0.36}
	pts[feature.LMBrowLeftOuter] = feature.Point{X: 0.30, Y: 0.35}
	pts[feature.LMBrowRightInner] = feature.Point{X: 0.60, Y: 0.36}
	pts[feature.LMBrowRightOuter] = feature.Point{X: 0.70, Y: 0.35}
	pts[feature.LMEyeLeftInner] = feature.Point{X: 0.42, Y: 0.45}
	pts[feature.LMEyeLeftOuter] = feature.Point{X: 0.33, Y: 0.45}
	pts[feature.LMEyeRightInner] = feature.Point{X: 0.58, Y: 0.45}
	pts[feature.LMEyeRightOuter] = feature.Point{X: 0.67, Y: 0.45}
	pts[feature.LMEyeLeftTop] = feature.Point{X: 0.375, Y: 0.43}
	pts[feature.LMEyeLeftBottom] = feature.Point{X: 0.375, Y: 0.47}
	pts[feature.LMNoseBridge] = feature.Point{X: 0.50, Y: 0.42}
	pts[feature.LMNoseTip] = feature.Point{X: 0.50, Y: 0.60}
	pts[feature.LMNoseLeft] = feature.Point{X: 0.455, Y: 0.62}
	pts[feature.LMNoseRight] = feature.Point{X: 0.545, Y: 0.62}
	pts[feature.LMMouthLeft] = feature.Point{X: 0.40, Y: 0.73}
	pts[feature.LMMouthRight] = feature.Point{X: 0.60, Y: 0.73}
	pts[feature.LMLipTop] = feature.Point{X: 0.50, Y: 0.71}
	pts[feature.LMLipBottom] = feature.Point{X: 0.50, Y: 0.78}
	pts[feature.LMChinLeft] = feature.Point{X: 0.42, Y: 0.88}
	pts[feature.LMChinRight] = feature.Point{X: 0.58, Y: 0.88}
	pts[feature.LMForeheadMid] = feature.Point{X: 0.50, Y: 0.18}
	pts[feature.LMEarLeft] = feature.Point{X: 0.16, Y: 0.50}
	pts[feature.LMEarRight] = feature.Point{X: 0.84, Y: 0.50}
	pts[feature.LMNeckBase] = feature.Point{X: 0.50, Y: 1.00}
	return pts
}
