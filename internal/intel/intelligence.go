// Package intel tracks per-feature difficulty, learns which parameter
// indices move which features, and recommends where the search should spend
// its next iterations.
package intel

import (
	"errors"
	"math"
	"sort"

	"likeness/internal/model"
)

// Priority orders recommendation kinds: an active regression always
// outranks ordinary focus, which outranks broad optimization.
type Priority int

const (
	BroadOptimization Priority = iota
	FocusWeak
	FixRegression
)

func (p Priority) String() string {
	switch p {
	case FixRegression:
		return "fix_regression"
	case FocusWeak:
		return "focus_weak"
	default:
		return "broad_optimization"
	}
}

// FocusMode is the progressive narrowing stage over a session's lifetime.
type FocusMode int

const (
	FocusBroad FocusMode = iota
	FocusNarrowing
	FocusFocused
)

func (m FocusMode) String() string {
	switch m {
	case FocusNarrowing:
		return "narrowing"
	case FocusFocused:
		return "focused"
	default:
		return "broad"
	}
}

type Config struct {
	// MaxWeight caps the adaptive per-feature weight; the floor is 1.0.
	MaxWeight float64
	// WeightGain scales growth for underperforming features, WeightDecay
	// pulls improving features back toward 1.0.
	WeightGain  float64
	WeightDecay float64
	// HistorySize bounds the per-feature sub-score ring.
	HistorySize int
	// RegressionMargin is the drop from a feature's recent peak that counts
	// as a regression.
	RegressionMargin float64
	// WeakMargin is how far below the mean a feature must sit to be singled
	// out while the focus is still broad.
	WeakMargin float64
	// NoiseFloor separates a real sub-score move from jitter, both when
	// growing weights and when classifying parameter correlations.
	NoiseFloor float64
	// NarrowAfter and FocusAfter are iteration counts advancing the focus.
	NarrowAfter int
	FocusAfter  int
}

func DefaultConfig() Config {
	return Config{
		MaxWeight:        2.0,
		WeightGain:       0.15,
		WeightDecay:      0.1,
		HistorySize:      20,
		RegressionMargin: 0.05,
		WeakMargin:       0.15,
		NoiseFloor:       0.02,
		NarrowAfter:      15,
		FocusAfter:       35,
	}
}

func (c *Config) normalize() error {
	if c.MaxWeight < 1 {
		return errors.New("max weight must be >= 1")
	}
	if c.WeightGain <= 0 || c.WeightDecay <= 0 {
		return errors.New("weight gain and decay must be > 0")
	}
	if c.HistorySize < 2 {
		return errors.New("history size must be >= 2")
	}
	if c.RegressionMargin <= 0 {
		return errors.New("regression margin must be > 0")
	}
	if c.WeakMargin <= 0 {
		return errors.New("weak margin must be > 0")
	}
	if c.NoiseFloor < 0 {
		return errors.New("noise floor must be >= 0")
	}
	if c.NarrowAfter <= 0 || c.FocusAfter <= c.NarrowAfter {
		return errors.New("focus thresholds must be positive and increasing")
	}
	return nil
}

// Recommendation is a pure snapshot of what the search should do next.
type Recommendation struct {
	Priority         Priority
	TargetFeature    string
	CandidateIndices []int
	Weights          map[string]float64
}

// correlation records how one parameter index moves features. An index is
// safe for a feature when it reliably moves only that feature.
type correlation struct {
	moved map[string]int
	seen  int
}

type Intelligence struct {
	cfg      Config
	features []string
	weights  map[string]float64
	history  map[string]*ring
	corr     map[int]*correlation

	iterations int
}

func New(features []string, cfg Config) (*Intelligence, error) {
	if len(features) == 0 {
		return nil, errors.New("at least one feature is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	fi := &Intelligence{
		cfg:      cfg,
		features: append([]string(nil), features...),
		weights:  make(map[string]float64, len(features)),
		history:  make(map[string]*ring, len(features)),
		corr:     make(map[int]*correlation),
	}
	for _, name := range features {
		fi.weights[name] = 1.0
		fi.history[name] = newRing(cfg.HistorySize)
	}
	return fi, nil
}

// Observe folds one scored iteration into the difficulty model. Features
// consistently below the pack grow heavier, improving ones decay back.
func (fi *Intelligence) Observe(score model.Score) {
	fi.iterations++

	mean := 0.0
	counted := 0
	for _, name := range fi.features {
		if s, ok := score.PerFeature[name]; ok {
			mean += s
			counted++
		}
	}
	if counted == 0 {
		return
	}
	mean /= float64(counted)

	for _, name := range fi.features {
		s, ok := score.PerFeature[name]
		if !ok {
			continue
		}
		fi.history[name].push(s)
		w := fi.weights[name]
		// The noise floor keeps float jitter in the mean from pinning a
		// feature in the grow branch when all sub-scores are equal.
		if s < mean-fi.cfg.NoiseFloor {
			w += fi.cfg.WeightGain * (mean - s)
			if w > fi.cfg.MaxWeight {
				w = fi.cfg.MaxWeight
			}
		} else {
			w -= fi.cfg.WeightDecay * (w - 1)
			if w < 1 {
				w = 1
			}
		}
		fi.weights[name] = w
	}
}

// RecordPerturbation classifies one single-index perturbation by which
// features its sub-scores moved beyond the noise floor.
func (fi *Intelligence) RecordPerturbation(index int, before, after model.Score) {
	if index < 0 {
		return
	}
	c, ok := fi.corr[index]
	if !ok {
		c = &correlation{moved: make(map[string]int)}
		fi.corr[index] = c
	}
	c.seen++
	for _, name := range fi.features {
		b, okB := before.PerFeature[name]
		a, okA := after.PerFeature[name]
		if !okB || !okA {
			continue
		}
		if math.Abs(a-b) > fi.cfg.NoiseFloor {
			c.moved[name]++
		}
	}
}

// SafeIndices lists parameter indices that reliably move feature and
// nothing else, sorted for determinism.
func (fi *Intelligence) SafeIndices(feature string) []int {
	var out []int
	for idx, c := range fi.corr {
		if fi.classify(c, feature) == classSafe {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// ConflictingIndices lists indices that move feature along with others.
func (fi *Intelligence) ConflictingIndices(feature string) []int {
	var out []int
	for idx, c := range fi.corr {
		if fi.classify(c, feature) == classConflicting {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

type corrClass int

const (
	classUnrelated corrClass = iota
	classSafe
	classConflicting
)

func (fi *Intelligence) classify(c *correlation, feature string) corrClass {
	if c.seen == 0 {
		return classUnrelated
	}
	hits, ok := c.moved[feature]
	// A majority of observed perturbations must move the feature.
	if !ok || hits*2 < c.seen {
		return classUnrelated
	}
	for other, n := range c.moved {
		if other != feature && n*2 >= c.seen {
			return classConflicting
		}
	}
	return classSafe
}

// Focus reports the progressive narrowing stage for the current iteration
// count.
func (fi *Intelligence) Focus() FocusMode {
	switch {
	case fi.iterations >= fi.cfg.FocusAfter:
		return FocusFocused
	case fi.iterations >= fi.cfg.NarrowAfter:
		return FocusNarrowing
	default:
		return FocusBroad
	}
}

// regression describes a feature whose latest sub-score dropped beyond the
// margin from its recent peak.
type regression struct {
	feature string
	drop    float64
}

func (fi *Intelligence) activeRegressions() []regression {
	var out []regression
	for _, name := range fi.features {
		h := fi.history[name]
		latest, ok := h.latest()
		if !ok {
			continue
		}
		peak := h.max()
		if peak-latest > fi.cfg.RegressionMargin {
			out = append(out, regression{feature: name, drop: peak - latest})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].drop != out[j].drop {
			return out[i].drop > out[j].drop
		}
		return out[i].feature < out[j].feature
	})
	return out
}

// Recommendation is a pure read of the current state: regressions first,
// then the weakest feature once the focus narrows or the gap is large,
// otherwise broad optimization.
func (fi *Intelligence) Recommendation() Recommendation {
	rec := Recommendation{
		Priority: BroadOptimization,
		Weights:  fi.weightsCopy(),
	}

	if regs := fi.activeRegressions(); len(regs) > 0 {
		rec.Priority = FixRegression
		rec.TargetFeature = regs[0].feature
		rec.CandidateIndices = fi.indicesFor(rec.TargetFeature)
		return rec
	}

	worst, gap, ok := fi.worstFeature()
	if !ok {
		return rec
	}
	if fi.Focus() != FocusBroad || gap > fi.cfg.WeakMargin {
		rec.Priority = FocusWeak
		rec.TargetFeature = worst
		rec.CandidateIndices = fi.indicesFor(worst)
	}
	return rec
}

// indicesFor prefers safe indices and falls back to conflicting ones so a
// targeted recommendation is actionable even with a thin ledger.
func (fi *Intelligence) indicesFor(feature string) []int {
	if safe := fi.SafeIndices(feature); len(safe) > 0 {
		return safe
	}
	return fi.ConflictingIndices(feature)
}

// worstFeature returns the lowest mean recent sub-score and its gap below
// the mean of all features.
func (fi *Intelligence) worstFeature() (string, float64, bool) {
	worst := ""
	worstMean := math.Inf(1)
	total := 0.0
	counted := 0
	for _, name := range fi.features {
		m, ok := fi.history[name].mean()
		if !ok {
			continue
		}
		total += m
		counted++
		if m < worstMean || (m == worstMean && name < worst) {
			worst = name
			worstMean = m
		}
	}
	if counted == 0 {
		return "", 0, false
	}
	return worst, total/float64(counted) - worstMean, true
}

func (fi *Intelligence) weightsCopy() map[string]float64 {
	out := make(map[string]float64, len(fi.weights))
	for k, v := range fi.weights {
		out[k] = v
	}
	return out
}

// Weight exposes one feature's adaptive weight for mutation selection.
func (fi *Intelligence) Weight(feature string) float64 {
	if w, ok := fi.weights[feature]; ok {
		return w
	}
	return 1.0
}

func (fi *Intelligence) Iterations() int {
	return fi.iterations
}

// ring is a bounded sub-score history.
type ring struct {
	buf   []float64
	next  int
	count int
}

func newRing(size int) *ring {
	return &ring{buf: make([]float64, size)}
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) latest() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

func (r *ring) max() float64 {
	out := math.Inf(-1)
	for i := 0; i < r.count; i++ {
		if r.buf[i] > out {
			out = r.buf[i]
		}
	}
	return out
}

func (r *ring) mean() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < r.count; i++ {
		sum += r.buf[i]
	}
	return sum / float64(r.count), true
}
