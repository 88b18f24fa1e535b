// Package session coordinates one search session: a resumable two-state
// loop that emits candidates, consumes observations, and routes learning
// into the knowledge tree, the feature intelligence, and the phase machine.
package session

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"likeness/internal/cma"
	"likeness/internal/feature"
	"likeness/internal/intel"
	"likeness/internal/knowledge"
	"likeness/internal/model"
	"likeness/internal/param"
	"likeness/internal/phase"
	"likeness/internal/refine"
	"likeness/internal/scoring"
	"likeness/internal/storage"
)

var (
	// ErrOutOfOrderObservation marks an observation that does not pair with
	// the last emitted candidate. The session state is untouched.
	ErrOutOfOrderObservation = errors.New("observation does not match the pending candidate")
	// ErrAwaitingObservation marks an Iterate call while an observation for
	// the previous candidate is still outstanding.
	ErrAwaitingObservation = errors.New("an observation is still pending")
	// ErrSessionFinished marks any call after the session reached its
	// terminal phase or was stopped.
	ErrSessionFinished = errors.New("session is finished")
)

// protocol is the explicit two-state suspend/resume machine: there is no
// hidden continuation, so a session can be checkpointed between any two
// calls.
type protocol int

const (
	awaitingIterate protocol = iota
	awaitingObservation
)

const (
	sourceBaseline  = "baseline"
	sourceOptimizer = "optimizer"
	sourceRefiner   = "refiner"
)

type Config struct {
	// MaxIterations is the candidate budget for one target.
	MaxIterations int
	// StuckAfter is how many iterations without a best-score improvement
	// raise the stuck signal.
	StuckAfter int
	Seed       int64

	Scoring   scoring.Config
	Optimizer cma.Config
	Refiner   refine.Config
	Intel     intel.Config
	Phase     phase.Config
}

func DefaultConfig() Config {
	return Config{
		MaxIterations: 200,
		StuckAfter:    25,
		Scoring:       scoring.DefaultConfig(),
		Optimizer:     cma.DefaultConfig(),
		Refiner:       refine.DefaultConfig(),
		Intel:         intel.DefaultConfig(),
		Phase:         phase.DefaultConfig(),
	}
}

func (c *Config) normalize() error {
	if c.MaxIterations <= 0 {
		return errors.New("max iterations must be > 0")
	}
	if c.StuckAfter <= 0 {
		return errors.New("stuck-after must be > 0")
	}
	return nil
}

// Orchestrator owns one session against one target. The knowledge tree is
// injected shared state: concurrent sessions may share it for reads, but
// writes happen only through this session's calls, so callers sharing a
// tree must serialize sessions (single-writer discipline).
type Orchestrator struct {
	id    string
	cfg   Config
	log   zerolog.Logger
	space *param.Space
	rnd   *rand.Rand

	scorer *scoring.Scorer
	tree   *knowledge.Tree
	fi     *intel.Intelligence
	pm     *phase.Manager
	opt    *cma.Optimizer
	ref    *refine.Refiner

	target model.FeatureVector
	tctx   model.TargetContext
	start  model.ParameterVector

	state      protocol
	seq        int
	iterations int
	pending    model.Candidate

	population []model.ParameterVector
	popScores  []float64
	popIndex   int

	best          model.Candidate
	bestScore     model.Score
	haveBest      bool
	baselineScore float64
	sinceImprove  int
	history       []float64

	stopped   bool
	summary   model.SessionSummary
	startedAt time.Time
	now       func() time.Time
}

// New builds a session around an injected knowledge tree and target
// signature. The starting vector is the axis midpoint shifted by the tree's
// learned delta for the context.
func New(space *param.Space, set *feature.Set, tree *knowledge.Tree, target model.FeatureVector, tctx model.TargetContext, cfg Config, log zerolog.Logger) (*Orchestrator, error) {
	if space == nil {
		return nil, errors.New("parameter space is required")
	}
	if set == nil {
		return nil, errors.New("feature set is required")
	}
	if tree == nil {
		return nil, errors.New("knowledge tree is required")
	}
	if !target.Valid() {
		return nil, errors.New("target feature vector is invalid")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	scorer, err := scoring.NewScorer(set, cfg.Scoring)
	if err != nil {
		return nil, err
	}
	fi, err := intel.New(set.Names(), cfg.Intel)
	if err != nil {
		return nil, err
	}
	pm, err := phase.NewManager(cfg.Phase)
	if err != nil {
		return nil, err
	}

	start := space.Clamp(add(space.Midpoint(), tree.GetStartingDelta(tctx)))
	optCfg := cfg.Optimizer
	optCfg.Seed = cfg.Seed
	opt, err := cma.NewOptimizer(space, start, optCfg)
	if err != nil {
		return nil, err
	}
	refCfg := cfg.Refiner
	refCfg.Seed = cfg.Seed + 1
	ref, err := refine.NewRefiner(space, refCfg)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	o := &Orchestrator{
		id:        id,
		cfg:       cfg,
		log:       log.With().Str("session", id).Logger(),
		space:     space,
		rnd:       rand.New(rand.NewSource(cfg.Seed + 2)),
		scorer:    scorer,
		tree:      tree,
		fi:        fi,
		pm:        pm,
		opt:       opt,
		ref:       ref,
		target:    target,
		tctx:      tctx,
		start:     start,
		startedAt: time.Now(),
		now:       time.Now,
	}
	o.log.Info().
		Str("gender", tctx.Gender).
		Str("age_bucket", tctx.AgeBucket).
		Str("skin_tone", tctx.SkinTone).
		Int("budget", cfg.MaxIterations).
		Msg("session started")
	return o, nil
}

func (o *Orchestrator) ID() string {
	return o.id
}

// Done reports whether the session can emit further candidates.
func (o *Orchestrator) Done() bool {
	return o.stopped || o.pm.Terminal() || o.iterations >= o.cfg.MaxIterations
}

func (o *Orchestrator) Phase() phase.Phase {
	return o.pm.Phase()
}

// Best returns the monotone best-seen candidate and its score.
func (o *Orchestrator) Best() (model.Candidate, model.Score) {
	if !o.haveBest {
		return model.Candidate{Params: o.start.Clone(), Source: sourceBaseline}, model.Score{}
	}
	return o.best, o.bestScore
}

func (o *Orchestrator) History() []float64 {
	return append([]float64(nil), o.history...)
}

// Iterate emits the next candidate and suspends until OnObservation.
func (o *Orchestrator) Iterate() (model.Candidate, error) {
	if o.Done() {
		return model.Candidate{}, ErrSessionFinished
	}
	if o.state == awaitingObservation {
		return model.Candidate{}, ErrAwaitingObservation
	}

	candidate := o.nextCandidate()
	candidate.Sequence = o.seq
	o.seq++
	o.pending = candidate
	o.state = awaitingObservation
	return candidate, nil
}

func (o *Orchestrator) nextCandidate() model.Candidate {
	// The first candidate is always the neutral midpoint: its score is the
	// baseline every later improvement is measured against.
	if o.seq == 0 {
		return model.Candidate{Params: o.space.Midpoint(), Source: sourceBaseline}
	}

	strategy := o.pm.Strategy()
	if len(o.population) > 0 || o.rnd.Float64() < strategy.OptimizerShare {
		return o.optimizerCandidate()
	}
	return o.refinerCandidate(strategy)
}

func (o *Orchestrator) optimizerCandidate() model.Candidate {
	if len(o.population) == 0 {
		o.population = o.opt.Ask()
		o.popScores = make([]float64, len(o.population))
		o.popIndex = 0
	}
	return model.Candidate{
		Generation: o.opt.Generation(),
		Params:     o.population[o.popIndex].Clone(),
		Source:     sourceOptimizer,
	}
}

func (o *Orchestrator) refinerCandidate(strategy phase.Strategy) model.Candidate {
	base, _ := o.Best()
	var params model.ParameterVector
	if strategy.FeatureFocused {
		// Focused phases move one index at a time so the correlation ledger
		// can attribute the outcome to it.
		preferred := o.fi.Recommendation().CandidateIndices
		params = o.ref.ProposeSingle(base.Params, preferred)
	} else {
		params = o.ref.Propose(base.Params, nil)
	}
	return model.Candidate{
		Generation: o.opt.Generation(),
		Params:     params,
		Source:     sourceRefiner,
	}
}

// OnObservation resumes the session with the feature signature of the last
// emitted candidate. An invalid observation scores 0 and the session moves
// on; an out-of-order call is rejected without touching any state.
func (o *Orchestrator) OnObservation(observed model.FeatureVector) (model.Score, error) {
	if o.stopped {
		return model.Score{}, ErrSessionFinished
	}
	if o.state != awaitingObservation {
		return model.Score{}, ErrOutOfOrderObservation
	}

	candidate := o.pending
	score := o.scorer.Compare(observed, o.target)
	if !observed.Valid() {
		o.log.Warn().Int("sequence", candidate.Sequence).Msg("invalid observation scored zero")
	}

	o.state = awaitingIterate
	o.iterations++
	o.history = append(o.history, score.Overall)
	o.fi.Observe(score)
	o.learnCorrelation(candidate, score)
	o.tree.RecordOutcome(o.tctx, sub(candidate.Params, o.space.Midpoint()), score)

	if candidate.Source == sourceBaseline {
		o.baselineScore = score.Overall
	}
	o.routeFeedback(candidate, score)
	o.updateBest(candidate, score)
	o.checkStuck()

	if o.iterations >= o.cfg.MaxIterations && !o.pm.Terminal() {
		o.pm.OnBudgetExhausted()
		o.log.Info().Float64("best", o.bestScore.Overall).Msg("iteration budget exhausted")
	}
	return score, nil
}

// routeFeedback delivers the score to whichever component proposed the
// candidate.
func (o *Orchestrator) routeFeedback(candidate model.Candidate, score model.Score) {
	switch candidate.Source {
	case sourceOptimizer:
		o.popScores[o.popIndex] = score.Overall
		o.popIndex++
		if o.popIndex == len(o.population) {
			if err := o.opt.Tell(o.popScores); err != nil {
				o.log.Error().Err(err).Msg("optimizer rejected population scores")
			}
			o.population = nil
			o.popScores = nil
		}
	case sourceRefiner:
		// Strict improvement only: a tie is a rejection so the refiner
		// cannot drift sideways.
		if o.haveBest && score.Overall > o.bestScore.Overall {
			o.ref.Accept()
		} else {
			o.ref.Reject()
		}
	}
}

// learnCorrelation feeds single-index perturbations into the correlation
// ledger: only refiner proposals that touched exactly one index qualify.
func (o *Orchestrator) learnCorrelation(candidate model.Candidate, score model.Score) {
	if candidate.Source != sourceRefiner || !o.haveBest {
		return
	}
	idx := -1
	for i := range candidate.Params {
		if candidate.Params[i] != o.best.Params[i] {
			if idx >= 0 {
				return
			}
			idx = i
		}
	}
	if idx >= 0 {
		o.fi.RecordPerturbation(idx, o.bestScore, score)
	}
}

func (o *Orchestrator) updateBest(candidate model.Candidate, score model.Score) {
	if !o.haveBest || score.Overall > o.bestScore.Overall {
		o.best = candidate
		o.bestScore = score
		o.haveBest = true
		o.sinceImprove = 0
	} else {
		o.sinceImprove++
	}

	// The phase machine sees every observation, not just improvements: an
	// escape window elapses on non-improving observations too.
	before := o.pm.Phase()
	after := o.pm.OnBestScore(o.bestScore.Overall)
	if after != before {
		o.log.Info().
			Stringer("from", before).
			Stringer("to", after).
			Float64("best", o.bestScore.Overall).
			Msg("phase advanced")
		o.onPhaseChange()
	}
}

func (o *Orchestrator) checkStuck() {
	stuck := o.sinceImprove >= o.cfg.StuckAfter || o.opt.Stagnant() || o.ref.Stuck()
	if !stuck || o.pm.Phase() == phase.Escape || o.pm.Terminal() {
		return
	}
	before := o.pm.Phase()
	if o.pm.OnStuck(o.bestScore.Overall) == phase.Escape {
		o.log.Info().Stringer("from", before).Float64("best", o.bestScore.Overall).Msg("search stuck, escaping")
		o.onPhaseChange()
		o.sinceImprove = 0
	}
}

// onPhaseChange re-arms the strategy components for the new phase. An
// escape restarts the optimizer distribution wide around the best seen.
func (o *Orchestrator) onPhaseChange() {
	strategy := o.pm.Strategy()
	if strategy.Restart {
		base, _ := o.Best()
		o.opt.Recenter(base.Params, strategy.Spread)
		o.population = nil
		o.popScores = nil
	}
	o.ref.Reset()
}

// Stop flushes pending knowledge maintenance and freezes the summary. It is
// idempotent and effective immediately between iterations.
func (o *Orchestrator) Stop() model.SessionSummary {
	if o.stopped {
		return o.summary
	}
	o.stopped = true
	o.state = awaitingIterate
	report := o.tree.Maintain()
	if report.Changed() {
		o.log.Info().
			Int("splits", report.Splits).
			Int("merges", report.Merges).
			Int("prunes", report.Prunes).
			Msg("knowledge maintenance on stop")
	}

	o.summary = model.SessionSummary{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:            o.id,
		Context:       o.tctx,
		Iterations:    o.iterations,
		BestScore:     o.bestScore.Overall,
		BaselineScore: o.baselineScore,
		FinalPhase:    o.pm.Phase().String(),
		PerFeature:    o.bestScore.PerFeature,
		StartedAt:     o.startedAt,
		FinishedAt:    o.now(),
	}
	o.log.Info().
		Float64("best", o.summary.BestScore).
		Float64("baseline", o.summary.BaselineScore).
		Int("iterations", o.summary.Iterations).
		Str("phase", o.summary.FinalPhase).
		Msg("session stopped")
	return o.summary
}

func add(a, b model.ParameterVector) model.ParameterVector {
	out := a.Clone()
	for i := range out {
		if i < len(b) {
			out[i] += b[i]
		}
	}
	return out
}

func sub(a, b model.ParameterVector) model.ParameterVector {
	out := a.Clone()
	for i := range out {
		if i < len(b) {
			out[i] -= b[i]
		}
	}
	return out
}
