// Package cma implements a covariance matrix adaptation evolution strategy
// over a bounded parameter space. Updates are rank-based: only the ordering
// of candidate scores matters, not their magnitudes.
package cma

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"likeness/internal/model"
	"likeness/internal/param"
)

type Config struct {
	// PopulationSize is lambda. Zero selects 4+floor(3*ln(dim)).
	PopulationSize int
	// InitialSpread is the starting step as a fraction of each axis width.
	InitialSpread float64
	// StagnationGenerations is how many non-improving generations arm the
	// early-abort signal.
	StagnationGenerations int
	// MaxCondition bounds the covariance condition number before a reset.
	MaxCondition float64
	Seed         int64
}

func DefaultConfig() Config {
	return Config{
		InitialSpread:         0.3,
		StagnationGenerations: 5,
		MaxCondition:          1e12,
	}
}

func (c *Config) normalize(dim int) error {
	if c.PopulationSize == 0 {
		c.PopulationSize = 4 + int(3*math.Log(float64(dim)))
	}
	if c.PopulationSize < 4 {
		return errors.New("population size must be >= 4")
	}
	if c.InitialSpread <= 0 || c.InitialSpread > 1 {
		return errors.New("initial spread must be in (0,1]")
	}
	if c.StagnationGenerations <= 0 {
		c.StagnationGenerations = 5
	}
	if c.MaxCondition <= 1 {
		c.MaxCondition = 1e12
	}
	return nil
}

// Optimizer holds the search distribution: a mean vector, a global step
// size and a covariance matrix whose initial diagonal is range-proportional
// so narrow and wide axes never share a step.
type Optimizer struct {
	space *param.Space
	cfg   Config
	rnd   *rand.Rand

	dim    int
	lambda int
	mu     int
	wts    []float64
	muEff  float64

	cSigma, dSigma float64
	cC, c1, cMu    float64
	chiN           float64

	mean   []float64
	sigma  float64
	cov    *mat.SymDense
	pSigma []float64
	pC     []float64

	// eigendecomposition cache, refreshed after every Tell
	eigVecs *mat.Dense
	eigStd  []float64

	generation int
	pending    []model.ParameterVector

	bestAvg     float64
	flatStreak  int
	resets      int
	haveBestAvg bool
}

// NewOptimizer centers the search distribution on start, which is clamped
// into the space before use.
func NewOptimizer(space *param.Space, start model.ParameterVector, cfg Config) (*Optimizer, error) {
	if space == nil {
		return nil, errors.New("parameter space is required")
	}
	dim := space.Dim()
	if err := cfg.normalize(dim); err != nil {
		return nil, err
	}

	o := &Optimizer{
		space:  space,
		cfg:    cfg,
		rnd:    rand.New(rand.NewSource(cfg.Seed)),
		dim:    dim,
		lambda: cfg.PopulationSize,
	}
	o.mu = o.lambda / 2
	o.wts = make([]float64, o.mu)
	sum := 0.0
	for i := range o.wts {
		o.wts[i] = math.Log(float64(o.mu)+0.5) - math.Log(float64(i+1))
		sum += o.wts[i]
	}
	sumSq := 0.0
	for i := range o.wts {
		o.wts[i] /= sum
		sumSq += o.wts[i] * o.wts[i]
	}
	o.muEff = 1 / sumSq

	n := float64(dim)
	o.cSigma = (o.muEff + 2) / (n + o.muEff + 5)
	o.dSigma = 1 + 2*math.Max(0, math.Sqrt((o.muEff-1)/(n+1))-1) + o.cSigma
	o.cC = (4 + o.muEff/n) / (n + 4 + 2*o.muEff/n)
	o.c1 = 2 / ((n+1.3)*(n+1.3) + o.muEff)
	o.cMu = math.Min(1-o.c1, 2*(o.muEff-2+1/o.muEff)/((n+2)*(n+2)+o.muEff))
	o.chiN = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))

	clamped := space.Clamp(start)
	o.mean = make([]float64, dim)
	copy(o.mean, clamped)
	o.resetDistribution(cfg.InitialSpread)
	return o, nil
}

// resetDistribution restores a range-proportional diagonal covariance and
// clears the evolution paths. Used at construction and on degeneracy.
func (o *Optimizer) resetDistribution(spreadFraction float64) {
	spreads := o.space.Spreads(spreadFraction)
	o.sigma = 1
	o.cov = mat.NewSymDense(o.dim, nil)
	for i := 0; i < o.dim; i++ {
		o.cov.SetSym(i, i, spreads[i]*spreads[i])
	}
	o.pSigma = make([]float64, o.dim)
	o.pC = make([]float64, o.dim)
	o.decompose()
}

// decompose refreshes the eigendecomposition cache. A failed or
// ill-conditioned decomposition resets the distribution instead of letting
// non-finite values reach the next population.
func (o *Optimizer) decompose() {
	if !o.finite() {
		o.hardReset()
		return
	}
	var eig mat.EigenSym
	if !eig.Factorize(o.cov, true) {
		o.hardReset()
		return
	}
	vals := eig.Values(nil)
	minV, maxV := math.Inf(1), 0.0
	for _, v := range vals {
		if math.IsNaN(v) || v <= 0 {
			o.hardReset()
			return
		}
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	if maxV/minV > o.cfg.MaxCondition {
		o.hardReset()
		return
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	o.eigVecs = &vecs
	o.eigStd = make([]float64, o.dim)
	for i, v := range vals {
		o.eigStd[i] = math.Sqrt(v)
	}
}

func (o *Optimizer) finite() bool {
	if math.IsNaN(o.sigma) || math.IsInf(o.sigma, 0) || o.sigma <= 0 {
		return false
	}
	for i := 0; i < o.dim; i++ {
		for j := i; j < o.dim; j++ {
			v := o.cov.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	for i := 0; i < o.dim; i++ {
		if math.IsNaN(o.mean[i]) || math.IsInf(o.mean[i], 0) {
			return false
		}
	}
	return true
}

// hardReset recovers from numeric degeneracy: identity-shaped covariance at
// the configured spread, centered on the last finite mean.
func (o *Optimizer) hardReset() {
	for i := range o.mean {
		if math.IsNaN(o.mean[i]) || math.IsInf(o.mean[i], 0) {
			copy(o.mean, o.space.Midpoint())
			break
		}
	}
	o.resets++
	spreads := o.space.Spreads(o.cfg.InitialSpread)
	o.sigma = 1
	o.cov = mat.NewSymDense(o.dim, nil)
	for i := 0; i < o.dim; i++ {
		o.cov.SetSym(i, i, spreads[i]*spreads[i])
	}
	o.pSigma = make([]float64, o.dim)
	o.pC = make([]float64, o.dim)

	var eig mat.EigenSym
	if !eig.Factorize(o.cov, true) {
		// Diagonal positive matrices always factorize; keep an axis-aligned
		// fallback so sampling can proceed regardless.
		o.eigVecs = nil
	} else {
		var vecs mat.Dense
		eig.VectorsTo(&vecs)
		o.eigVecs = &vecs
	}
	o.eigStd = make([]float64, o.dim)
	for i := range o.eigStd {
		o.eigStd[i] = spreads[i]
	}
}

// Recenter moves the distribution to a new center with a fresh spread.
// Used for escape restarts around the best-seen candidate.
func (o *Optimizer) Recenter(center model.ParameterVector, spreadFraction float64) {
	if spreadFraction <= 0 {
		spreadFraction = o.cfg.InitialSpread
	}
	clamped := o.space.Clamp(center)
	copy(o.mean, clamped)
	o.resetDistribution(spreadFraction)
	o.pending = nil
	o.flatStreak = 0
	o.haveBestAvg = false
}

// Ask samples one population. Every returned vector is clamped into the
// space. Tell must be called with this population's scores before the next
// Ask.
func (o *Optimizer) Ask() []model.ParameterVector {
	if !o.finite() || o.eigStd == nil {
		o.hardReset()
	}
	pop := make([]model.ParameterVector, o.lambda)
	for k := 0; k < o.lambda; k++ {
		y := o.sampleStep()
		x := make(model.ParameterVector, o.dim)
		for i := 0; i < o.dim; i++ {
			x[i] = o.mean[i] + o.sigma*y[i]
		}
		pop[k] = o.space.Clamp(x)
	}
	o.pending = pop
	return pop
}

// sampleStep draws y = B*diag(d)*z with z standard normal. Without a valid
// eigenbasis the step falls back to axis-aligned noise.
func (o *Optimizer) sampleStep() []float64 {
	z := make([]float64, o.dim)
	for i := range z {
		z[i] = o.rnd.NormFloat64() * o.eigStd[i]
	}
	if o.eigVecs == nil {
		return z
	}
	y := make([]float64, o.dim)
	for i := 0; i < o.dim; i++ {
		s := 0.0
		for j := 0; j < o.dim; j++ {
			s += o.eigVecs.At(i, j) * z[j]
		}
		y[i] = s
	}
	return y
}

// Tell consumes the scores of the last Ask population (higher is better)
// and moves the distribution toward the better-ranked samples.
func (o *Optimizer) Tell(scores []float64) error {
	if o.pending == nil {
		return errors.New("tell without a pending population")
	}
	if len(scores) != len(o.pending) {
		return fmt.Errorf("got %d scores for a population of %d", len(scores), len(o.pending))
	}
	pop := o.pending
	o.pending = nil
	o.generation++

	order := rankDescending(scores)

	oldMean := append([]float64(nil), o.mean...)
	yw := make([]float64, o.dim)
	for rank := 0; rank < o.mu; rank++ {
		x := pop[order[rank]]
		w := o.wts[rank]
		for i := 0; i < o.dim; i++ {
			yw[i] += w * (x[i] - oldMean[i]) / o.sigma
		}
	}
	for i := 0; i < o.dim; i++ {
		o.mean[i] = oldMean[i] + o.sigma*yw[i]
	}

	// sigma path uses the whitened step C^(-1/2)*yw.
	zw := o.whiten(yw)
	normPS := 0.0
	for i := 0; i < o.dim; i++ {
		o.pSigma[i] = (1-o.cSigma)*o.pSigma[i] + math.Sqrt(o.cSigma*(2-o.cSigma)*o.muEff)*zw[i]
		normPS += o.pSigma[i] * o.pSigma[i]
	}
	normPS = math.Sqrt(normPS)

	hSig := 0.0
	denom := math.Sqrt(1 - math.Pow(1-o.cSigma, 2*float64(o.generation)))
	if denom > 0 && normPS/denom < (1.4+2/(float64(o.dim)+1))*o.chiN {
		hSig = 1
	}
	for i := 0; i < o.dim; i++ {
		o.pC[i] = (1-o.cC)*o.pC[i] + hSig*math.Sqrt(o.cC*(2-o.cC)*o.muEff)*yw[i]
	}

	o.updateCovariance(pop, order, oldMean, hSig)
	o.sigma *= math.Exp((o.cSigma / o.dSigma) * (normPS/o.chiN - 1))

	o.trackStagnation(scores)
	o.decompose()
	return nil
}

func (o *Optimizer) updateCovariance(pop []model.ParameterVector, order []int, oldMean []float64, hSig float64) {
	decay := 1 - o.c1 - o.cMu
	deltaH := (1 - hSig) * o.cC * (2 - o.cC)
	for i := 0; i < o.dim; i++ {
		for j := i; j < o.dim; j++ {
			v := decay*o.cov.At(i, j) + o.c1*(o.pC[i]*o.pC[j]+deltaH*o.cov.At(i, j))
			for rank := 0; rank < o.mu; rank++ {
				x := pop[order[rank]]
				yi := (x[i] - oldMean[i]) / o.sigma
				yj := (x[j] - oldMean[j]) / o.sigma
				v += o.cMu * o.wts[rank] * yi * yj
			}
			o.cov.SetSym(i, j, v)
		}
	}
}

// whiten computes C^(-1/2)*v from the cached eigendecomposition.
func (o *Optimizer) whiten(v []float64) []float64 {
	if o.eigVecs == nil {
		out := make([]float64, o.dim)
		for i := range out {
			if o.eigStd[i] > 0 {
				out[i] = v[i] / o.eigStd[i]
			}
		}
		return out
	}
	tmp := make([]float64, o.dim)
	for j := 0; j < o.dim; j++ {
		s := 0.0
		for i := 0; i < o.dim; i++ {
			s += o.eigVecs.At(i, j) * v[i]
		}
		if o.eigStd[j] > 0 {
			tmp[j] = s / o.eigStd[j]
		}
	}
	out := make([]float64, o.dim)
	for i := 0; i < o.dim; i++ {
		s := 0.0
		for j := 0; j < o.dim; j++ {
			s += o.eigVecs.At(i, j) * tmp[j]
		}
		out[i] = s
	}
	return out
}

func (o *Optimizer) trackStagnation(scores []float64) {
	avg := 0.0
	for _, s := range scores {
		avg += s
	}
	avg /= float64(len(scores))
	if !o.haveBestAvg || avg > o.bestAvg+1e-9 {
		o.bestAvg = avg
		o.haveBestAvg = true
		o.flatStreak = 0
		return
	}
	o.flatStreak++
}

// Stagnant reports the early-abort signal: the population average score has
// not improved for the configured number of generations.
func (o *Optimizer) Stagnant() bool {
	return o.flatStreak >= o.cfg.StagnationGenerations
}

func (o *Optimizer) Generation() int { return o.generation }

// Resets counts degeneracy recoveries, exposed for diagnostics.
func (o *Optimizer) Resets() int { return o.resets }

// Mean returns the current distribution center, clamped.
func (o *Optimizer) Mean() model.ParameterVector {
	return o.space.Clamp(append(model.ParameterVector(nil), o.mean...))
}

// rankDescending returns candidate indices ordered best score first.
func rankDescending(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			sa, sb := scores[a], scores[b]
			// NaN scores sink to the bottom of the ranking.
			if math.IsNaN(sa) || (!math.IsNaN(sb) && sb > sa) {
				order[j-1], order[j] = b, a
				continue
			}
			break
		}
	}
	return order
}
