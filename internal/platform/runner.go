// Package platform runs batches of search sessions against one shared
// knowledge tree. Sessions execute sequentially so the tree has a single
// writer; the oracle boundary is the only external dependency.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"likeness/internal/feature"
	"likeness/internal/knowledge"
	"likeness/internal/model"
	"likeness/internal/oracle"
	"likeness/internal/param"
	"likeness/internal/session"
	"likeness/internal/storage"
)

// Target is one appearance to recreate: its feature signature plus the
// demographic context used for knowledge classification.
type Target struct {
	ID       string
	Context  model.TargetContext
	Features model.FeatureVector
}

type RunnerConfig struct {
	Session session.Config
	// MaxRetries is how many times a failing target session is retried
	// before it is recorded as a failure and the batch moves on.
	MaxRetries int
	// RetryBackoff is the initial delay between retries; it doubles per
	// attempt up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// SnapshotEvery saves a knowledge snapshot after every N targets.
	// Zero snapshots only at the end of a batch.
	SnapshotEvery int
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Session:      session.DefaultConfig(),
		MaxRetries:   1,
		RetryBackoff: 50 * time.Millisecond,
		MaxBackoff:   2 * time.Second,
	}
}

func (c *RunnerConfig) normalize() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = c.RetryBackoff
	}
	if c.SnapshotEvery < 0 {
		return errors.New("snapshot interval must be >= 0")
	}
	return nil
}

// TargetResult pairs a target with its session outcome.
type TargetResult struct {
	TargetID string
	Summary  model.SessionSummary
	Err      error
}

// BatchReport aggregates one batch run.
type BatchReport struct {
	Results   []TargetResult
	Succeeded int
	Failed    int
}

type Runner struct {
	cfg   RunnerConfig
	log   zerolog.Logger
	space *param.Space
	set   *feature.Set
	tree  *knowledge.Tree
	orc   oracle.Oracle
	store storage.Store

	seedCounter int64
}

func NewRunner(space *param.Space, set *feature.Set, tree *knowledge.Tree, orc oracle.Oracle, store storage.Store, cfg RunnerConfig, log zerolog.Logger) (*Runner, error) {
	if space == nil || set == nil || tree == nil {
		return nil, errors.New("space, feature set and knowledge tree are required")
	}
	if orc == nil {
		return nil, errors.New("oracle is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Runner{
		cfg:         cfg,
		log:         log.With().Str("component", "runner").Logger(),
		space:       space,
		set:         set,
		tree:        tree,
		orc:         orc,
		store:       store,
		seedCounter: cfg.Session.Seed,
	}, nil
}

// RunTarget drives one full session for a target, persisting the summary
// and score history. A failing session is retried with backoff.
func (r *Runner) RunTarget(ctx context.Context, target Target) (model.SessionSummary, error) {
	backoff := r.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			r.log.Warn().
				Str("target", target.ID).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("retrying target session")
			select {
			case <-ctx.Done():
				return model.SessionSummary{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}
		summary, err := r.runOnce(ctx, target)
		if err == nil {
			return summary, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return model.SessionSummary{}, err
		}
		lastErr = err
	}
	return model.SessionSummary{}, fmt.Errorf("target %s: %w", target.ID, lastErr)
}

func (r *Runner) runOnce(ctx context.Context, target Target) (model.SessionSummary, error) {
	cfg := r.cfg.Session
	cfg.Seed = r.nextSeed()
	sess, err := session.New(r.space, r.set, r.tree, target.Features, target.Context, cfg, r.log)
	if err != nil {
		return model.SessionSummary{}, err
	}

	for !sess.Done() {
		if err := ctx.Err(); err != nil {
			// Cancellation is effective between iterations; the summary of
			// the partial session is still flushed.
			sess.Stop()
			return model.SessionSummary{}, err
		}
		candidate, err := sess.Iterate()
		if err != nil {
			if errors.Is(err, session.ErrSessionFinished) {
				break
			}
			sess.Stop()
			return model.SessionSummary{}, err
		}
		observed, err := r.orc.Observe(candidate.Params)
		if err != nil {
			// An oracle failure scores the candidate invalid and moves on.
			observed = model.FeatureVector{}
		}
		if _, err := sess.OnObservation(observed); err != nil {
			sess.Stop()
			return model.SessionSummary{}, err
		}
	}

	summary := sess.Stop()
	if err := r.store.SaveSessionSummary(ctx, summary); err != nil {
		return summary, err
	}
	if err := r.store.SaveScoreHistory(ctx, summary.ID, sess.History()); err != nil {
		return summary, err
	}
	return summary, nil
}

// RunBatch processes targets in order against the shared tree and saves a
// knowledge snapshot at the configured cadence.
func (r *Runner) RunBatch(ctx context.Context, targets []Target) (BatchReport, error) {
	report := BatchReport{}
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		summary, err := r.RunTarget(ctx, target)
		report.Results = append(report.Results, TargetResult{TargetID: target.ID, Summary: summary, Err: err})
		if err != nil {
			report.Failed++
			r.log.Error().Str("target", target.ID).Err(err).Msg("target failed")
			continue
		}
		report.Succeeded++

		if r.cfg.SnapshotEvery > 0 && (i+1)%r.cfg.SnapshotEvery == 0 {
			if err := r.Snapshot(ctx); err != nil {
				r.log.Error().Err(err).Msg("periodic knowledge snapshot failed")
			}
		}
	}
	if err := r.Snapshot(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Snapshot exports the shared tree into the store.
func (r *Runner) Snapshot(ctx context.Context) error {
	var buf bytes.Buffer
	if err := r.tree.Export(&buf, "likeness-runner"); err != nil {
		return err
	}
	stats := r.tree.Stats()
	snapshot := model.KnowledgeSnapshot{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:          uuid.NewString(),
		Nodes:       stats.Nodes,
		Experiments: stats.Experiments,
		CreatedAt:   time.Now(),
		Blob:        buf.Bytes(),
	}
	return r.store.SaveKnowledgeSnapshot(ctx, snapshot)
}

func (r *Runner) nextSeed() int64 {
	r.seedCounter++
	return r.seedCounter
}
