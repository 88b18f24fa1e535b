// Package refine implements local hill-climbing around the best-seen
// candidate: small random subsets of indices are perturbed, strict
// improvements are kept, and the step size adapts to the rejection streak.
package refine

import (
	"errors"
	"math/rand"

	"likeness/internal/model"
	"likeness/internal/param"
)

type Config struct {
	// SubsetSize is how many indices one proposal perturbs.
	SubsetSize int
	// InitialStep, MinStep and MaxStep are fractions of each axis width.
	InitialStep float64
	MinStep     float64
	MaxStep     float64
	// Shrink is applied on rejection, Grow once the patience budget is spent.
	Shrink float64
	Grow   float64
	// Patience is how many consecutive rejections shrink before growth
	// takes over to escape a local optimum.
	Patience int
	// PreferredBias is the probability of drawing an index from the
	// preferred set when one is supplied.
	PreferredBias float64
	Seed          int64
}

func DefaultConfig() Config {
	return Config{
		SubsetSize:    3,
		InitialStep:   0.05,
		MinStep:       0.002,
		MaxStep:       0.5,
		Shrink:        0.7,
		Grow:          1.6,
		Patience:      6,
		PreferredBias: 0.7,
	}
}

func (c *Config) normalize() error {
	if c.SubsetSize <= 0 {
		return errors.New("subset size must be > 0")
	}
	if c.InitialStep <= 0 || c.InitialStep > 1 {
		return errors.New("initial step must be in (0,1]")
	}
	if c.MinStep <= 0 || c.MinStep > c.InitialStep {
		return errors.New("min step must be in (0, initial step]")
	}
	if c.MaxStep < c.InitialStep || c.MaxStep > 1 {
		return errors.New("max step must be in [initial step, 1]")
	}
	if c.Shrink <= 0 || c.Shrink >= 1 {
		return errors.New("shrink must be in (0,1)")
	}
	if c.Grow <= 1 {
		return errors.New("grow must be > 1")
	}
	if c.Patience <= 0 {
		return errors.New("patience must be > 0")
	}
	if c.PreferredBias < 0 || c.PreferredBias > 1 {
		return errors.New("preferred bias must be in [0,1]")
	}
	return nil
}

type Refiner struct {
	space *param.Space
	cfg   Config
	rnd   *rand.Rand

	step       float64
	rejections int
	stuck      bool
}

func NewRefiner(space *param.Space, cfg Config) (*Refiner, error) {
	if space == nil {
		return nil, errors.New("parameter space is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Refiner{
		space: space,
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(cfg.Seed)),
		step:  cfg.InitialStep,
	}, nil
}

// Propose perturbs a small random subset of indices of base. Preferred
// indices, when supplied, are drawn with a configurable bias so the search
// leans on parameters known to move the targeted feature cleanly.
func (r *Refiner) Propose(base model.ParameterVector, preferred []int) model.ParameterVector {
	return r.propose(base, preferred, r.cfg.SubsetSize)
}

// ProposeSingle perturbs exactly one index so any sub-score movement in the
// outcome is attributable to that index.
func (r *Refiner) ProposeSingle(base model.ParameterVector, preferred []int) model.ParameterVector {
	return r.propose(base, preferred, 1)
}

func (r *Refiner) propose(base model.ParameterVector, preferred []int, count int) model.ParameterVector {
	out := r.space.Clamp(base)
	dim := r.space.Dim()
	if count > dim {
		count = dim
	}
	for n := 0; n < count; n++ {
		idx := r.pickIndex(dim, preferred)
		width := r.space.Axis(idx).Width()
		out[idx] += (r.rnd.Float64()*2 - 1) * r.step * width
	}
	return r.space.Clamp(out)
}

func (r *Refiner) pickIndex(dim int, preferred []int) int {
	if len(preferred) > 0 && r.rnd.Float64() < r.cfg.PreferredBias {
		idx := preferred[r.rnd.Intn(len(preferred))]
		if idx >= 0 && idx < dim {
			return idx
		}
	}
	return r.rnd.Intn(dim)
}

// Accept records a strict improvement: the rejection streak and the stuck
// signal clear, the step is kept for further gains at the same scale.
func (r *Refiner) Accept() {
	r.rejections = 0
	r.stuck = false
}

// Reject shrinks the step while patience lasts, then grows it to escape a
// local optimum. Hitting the growth ceiling while still rejecting arms the
// stuck signal.
func (r *Refiner) Reject() {
	r.rejections++
	if r.rejections <= r.cfg.Patience {
		r.step *= r.cfg.Shrink
		if r.step < r.cfg.MinStep {
			r.step = r.cfg.MinStep
		}
		return
	}
	if r.step >= r.cfg.MaxStep {
		r.stuck = true
		return
	}
	r.step *= r.cfg.Grow
	if r.step > r.cfg.MaxStep {
		r.step = r.cfg.MaxStep
	}
}

func (r *Refiner) Stuck() bool {
	return r.stuck
}

// Reset restores the initial step, e.g. after a phase change.
func (r *Refiner) Reset() {
	r.step = r.cfg.InitialStep
	r.rejections = 0
	r.stuck = false
}

// Step exposes the current step fraction for diagnostics.
func (r *Refiner) Step() float64 {
	return r.step
}
