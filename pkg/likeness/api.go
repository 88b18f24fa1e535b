// Package likeness is the public facade over the appearance-matching
// engine: it owns the store, the shared knowledge tree and the session
// runner, and exposes the handful of operations the ctl and embedders need.
package likeness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"likeness/internal/feature"
	"likeness/internal/knowledge"
	"likeness/internal/logging"
	"likeness/internal/model"
	"likeness/internal/oracle"
	"likeness/internal/param"
	"likeness/internal/platform"
	"likeness/internal/report"
	"likeness/internal/session"
	"likeness/internal/storage"
)

const (
	defaultDBPath        = "likeness.db"
	defaultKnowledgePath = "likeness.lknw"
	defaultExporter      = "likeness"
)

type Options struct {
	// StoreKind selects the storage backend: memory (default) or sqlite.
	StoreKind string
	DBPath    string
	// KnowledgePath is the portable knowledge file loaded at startup and
	// flushed on Close. Empty keeps the tree in memory only.
	KnowledgePath string
	LogLevel      string
	LogConsole    bool
	// Logger overrides the built-in logger, mainly for tests.
	Logger *zerolog.Logger
}

type Client struct {
	store storage.Store
	space *param.Space
	set   *feature.Set
	tree  *knowledge.Tree
	log   zerolog.Logger

	knowledgePath string
	closed        bool
}

// RunRequest drives one full session for a single target. When Oracle is
// nil a synthetic oracle seeded with OracleSeed is used; when Features is
// empty a ground-truth target is drawn from TruthSeed and observed through
// that oracle.
type RunRequest struct {
	TargetID   string
	Context    model.TargetContext
	Features   model.FeatureVector
	Oracle     oracle.Oracle
	Iterations int
	Seed       int64
	OracleSeed int64
	TruthSeed  int64
	Noise      float64
}

type RunSummary struct {
	SessionID     string
	TargetID      string
	Iterations    int
	BaselineScore float64
	BestScore     float64
	FinalPhase    string
	PerFeature    map[string]float64
}

// BatchRequest runs several targets sequentially against the shared tree.
type BatchRequest struct {
	Targets       []RunRequest
	SnapshotEvery int
}

type BatchSummary struct {
	Succeeded int
	Failed    int
	Runs      []RunSummary
	Errors    []error
}

type ExportSummary struct {
	Path        string
	Nodes       int
	Experiments int
}

// MergeSummary mirrors the knowledge import outcome for callers.
type MergeSummary struct {
	Exporter          string
	NodesMerged       int
	NodesCreated      int
	ConflictsResolved int
	SharedMerged      int
	Experiments       int
	Text              string
}

type ReportRequest struct {
	Path       string
	TopN       int
	Oracle     oracle.Oracle
	OracleSeed int64
}

type ReportSummary struct {
	Path   string
	Oracle string
	Axes   int
}

type InfoSummary struct {
	StoreKind      string
	KnowledgePath  string
	Nodes          int
	Experiments    int
	Sessions       int
	LatestSnapshot *time.Time
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = logging.New(logging.Config{Level: opts.LogLevel, Console: opts.LogConsole})
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	space := param.DefaultFaceSpace()
	set := feature.DefaultFaceSet()

	var tree *knowledge.Tree
	if opts.KnowledgePath != "" {
		tree, err = knowledge.LoadFile(space, knowledge.DefaultConfig(), opts.KnowledgePath)
		if err != nil {
			// The tree is usable either way; the load failure is advisory.
			log.Warn().Err(err).Str("path", opts.KnowledgePath).Msg("knowledge file not loaded")
		}
	} else {
		tree, err = knowledge.NewTree(space, knowledge.DefaultConfig())
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		store:         store,
		space:         space,
		set:           set,
		tree:          tree,
		log:           logging.Component(log, "client"),
		knowledgePath: opts.KnowledgePath,
	}, nil
}

// Close flushes the knowledge tree to its file and releases the store.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var saveErr error
	if c.knowledgePath != "" {
		saveErr = c.tree.SaveFile(c.knowledgePath, defaultExporter)
	}
	if err := storage.CloseIfSupported(c.store); err != nil {
		return err
	}
	return saveErr
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Run executes one full session and persists its summary and history.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	target, orc, err := c.resolveTarget(req)
	if err != nil {
		return RunSummary{}, err
	}
	runner, err := c.newRunner(orc, req)
	if err != nil {
		return RunSummary{}, err
	}

	summary, err := runner.RunTarget(ctx, target)
	if err != nil {
		return RunSummary{}, err
	}
	if err := runner.Snapshot(ctx); err != nil {
		return RunSummary{}, err
	}
	return toRunSummary(target.ID, summary), nil
}

// Batch runs every target in order against the shared knowledge tree. A
// failing target is recorded and the batch continues; only a cancelled
// context aborts the whole batch.
func (c *Client) Batch(ctx context.Context, req BatchRequest) (BatchSummary, error) {
	if len(req.Targets) == 0 {
		return BatchSummary{}, errors.New("at least one target is required")
	}

	// One oracle serves the whole batch; per-target truth seeds vary the
	// targets, not the morph-to-landmark mapping.
	targets := make([]platform.Target, 0, len(req.Targets))
	var orc oracle.Oracle
	for i, tr := range req.Targets {
		target, resolved, err := c.resolveTarget(tr)
		if err != nil {
			return BatchSummary{}, fmt.Errorf("target %d: %w", i, err)
		}
		if orc == nil {
			orc = resolved
		}
		targets = append(targets, target)
	}

	cfg := c.runnerConfig(req.Targets[0])
	cfg.SnapshotEvery = req.SnapshotEvery
	runner, err := platform.NewRunner(c.space, c.set, c.tree, orc, c.store, cfg, c.log)
	if err != nil {
		return BatchSummary{}, err
	}

	batch, err := runner.RunBatch(ctx, targets)
	if err != nil {
		return BatchSummary{}, err
	}

	out := BatchSummary{Succeeded: batch.Succeeded, Failed: batch.Failed}
	for _, result := range batch.Results {
		if result.Err != nil {
			out.Errors = append(out.Errors, fmt.Errorf("%s: %w", result.TargetID, result.Err))
			continue
		}
		out.Runs = append(out.Runs, toRunSummary(result.TargetID, result.Summary))
	}
	return out, nil
}

// ExportKnowledge writes the portable binary knowledge file.
func (c *Client) ExportKnowledge(path string) (ExportSummary, error) {
	if path == "" {
		path = c.knowledgePath
	}
	if path == "" {
		path = defaultKnowledgePath
	}
	if err := c.tree.SaveFile(path, defaultExporter); err != nil {
		return ExportSummary{}, err
	}
	stats := c.tree.Stats()
	return ExportSummary{Path: path, Nodes: stats.Nodes, Experiments: stats.Experiments}, nil
}

// ImportKnowledge merges another installation's knowledge file into the
// tree at the given trust level.
func (c *Client) ImportKnowledge(path string, trust float64) (MergeSummary, error) {
	if path == "" {
		return MergeSummary{}, errors.New("import path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return MergeSummary{}, err
	}
	defer f.Close()

	summary, err := c.tree.Import(f, trust)
	if err != nil {
		return MergeSummary{}, err
	}
	return MergeSummary{
		Exporter:          summary.Exporter,
		NodesMerged:       summary.NodesMerged,
		NodesCreated:      summary.NodesCreated,
		ConflictsResolved: summary.ConflictsResolved,
		SharedMerged:      summary.SharedMerged,
		Experiments:       summary.Experiments,
		Text:              summary.String(),
	}, nil
}

// MorphReport measures per-axis feature influence through an oracle and
// writes the ranked plain-text report.
func (c *Client) MorphReport(req ReportRequest) (ReportSummary, error) {
	if req.Path == "" {
		return ReportSummary{}, errors.New("report path is required")
	}
	orc := req.Oracle
	if orc == nil {
		cfg := oracle.DefaultSyntheticConfig()
		cfg.Seed = req.OracleSeed
		var err error
		orc, err = oracle.NewSynthetic(c.space, c.set, cfg)
		if err != nil {
			return ReportSummary{}, err
		}
	}

	cfg := report.DefaultConfig()
	if req.TopN > 0 {
		cfg.TopN = req.TopN
	}
	rep, err := report.Build(c.space, c.set, orc, cfg)
	if err != nil {
		return ReportSummary{}, err
	}
	if err := report.WriteFile(req.Path, rep); err != nil {
		return ReportSummary{}, err
	}
	return ReportSummary{Path: req.Path, Oracle: rep.Oracle, Axes: len(rep.Axes)}, nil
}

// Info summarizes the client's persistent state.
func (c *Client) Info(ctx context.Context) (InfoSummary, error) {
	sessions, err := c.store.ListSessionSummaries(ctx)
	if err != nil {
		return InfoSummary{}, err
	}
	stats := c.tree.Stats()
	out := InfoSummary{
		KnowledgePath: c.knowledgePath,
		Nodes:         stats.Nodes,
		Experiments:   stats.Experiments,
		Sessions:      len(sessions),
	}
	snapshot, ok, err := c.store.LatestKnowledgeSnapshot(ctx)
	if err != nil {
		return InfoSummary{}, err
	}
	if ok {
		created := snapshot.CreatedAt
		out.LatestSnapshot = &created
	}
	return out, nil
}

func (c *Client) resolveTarget(req RunRequest) (platform.Target, oracle.Oracle, error) {
	orc := req.Oracle
	if orc == nil {
		cfg := oracle.DefaultSyntheticConfig()
		cfg.Seed = req.OracleSeed
		cfg.Noise = req.Noise
		synthetic, err := oracle.NewSynthetic(c.space, c.set, cfg)
		if err != nil {
			return platform.Target{}, nil, err
		}
		orc = synthetic
		if req.Features.Empty() {
			truth := synthetic.RandomTruth(req.TruthSeed)
			req.Features, err = synthetic.Observe(truth)
			if err != nil {
				return platform.Target{}, nil, err
			}
		}
	}
	if req.Features.Empty() {
		return platform.Target{}, nil, errors.New("target features are required with a custom oracle")
	}
	id := req.TargetID
	if id == "" {
		id = "target"
	}
	return platform.Target{ID: id, Context: req.Context, Features: req.Features}, orc, nil
}

func (c *Client) runnerConfig(req RunRequest) platform.RunnerConfig {
	cfg := platform.DefaultRunnerConfig()
	cfg.Session = session.DefaultConfig()
	if req.Iterations > 0 {
		cfg.Session.MaxIterations = req.Iterations
	}
	cfg.Session.Seed = req.Seed
	return cfg
}

func (c *Client) newRunner(orc oracle.Oracle, req RunRequest) (*platform.Runner, error) {
	return platform.NewRunner(c.space, c.set, c.tree, orc, c.store, c.runnerConfig(req), c.log)
}

func toRunSummary(targetID string, summary model.SessionSummary) RunSummary {
	return RunSummary{
		SessionID:     summary.ID,
		TargetID:      targetID,
		Iterations:    summary.Iterations,
		BaselineScore: summary.BaselineScore,
		BestScore:     summary.BestScore,
		FinalPhase:    summary.FinalPhase,
		PerFeature:    summary.PerFeature,
	}
}
