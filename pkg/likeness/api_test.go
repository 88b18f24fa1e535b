package likeness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"likeness/internal/feature"
	"likeness/internal/model"
	"likeness/internal/oracle"
	"likeness/internal/param"
)

func newTestClient(t *testing.T, knowledgePath string) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:     "memory",
		KnowledgePath: knowledgePath,
		LogLevel:      "error",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init client: %v", err)
	}
	return client
}

func testRunRequest(id string, seed int64) RunRequest {
	return RunRequest{
		TargetID:   id,
		Context:    model.TargetContext{Gender: "female", AgeBucket: "young"},
		Iterations: 25,
		Seed:       seed,
		OracleSeed: seed,
		TruthSeed:  seed + 1,
	}
}

func TestClientRunPersistsAndReloadsKnowledge(t *testing.T) {
	ctx := context.Background()
	knowledgePath := filepath.Join(t.TempDir(), "knowledge.lknw")
	client := newTestClient(t, knowledgePath)

	summary, err := client.Run(ctx, testRunRequest("alice", 5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Iterations == 0 {
		t.Fatal("expected iterations recorded")
	}
	if summary.BestScore < summary.BaselineScore {
		t.Fatalf("best %v fell below baseline %v", summary.BestScore, summary.BaselineScore)
	}

	info, err := client.Info(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Sessions != 1 {
		t.Fatalf("expected one recorded session, got %d", info.Sessions)
	}
	if info.Experiments == 0 {
		t.Fatal("expected experiments in the tree")
	}
	if info.LatestSnapshot == nil {
		t.Fatal("expected a knowledge snapshot after a run")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(knowledgePath); err != nil {
		t.Fatalf("knowledge file not flushed on close: %v", err)
	}

	reloaded := newTestClient(t, knowledgePath)
	defer reloaded.Close()
	info, err = reloaded.Info(ctx)
	if err != nil {
		t.Fatalf("info after reload: %v", err)
	}
	if info.Experiments == 0 {
		t.Fatal("expected the flushed knowledge to survive a reload")
	}
}

func TestClientBatchRunsAllTargets(t *testing.T) {
	client := newTestClient(t, "")
	defer client.Close()

	batch, err := client.Batch(context.Background(), BatchRequest{
		Targets: []RunRequest{
			testRunRequest("a", 11),
			testRunRequest("b", 12),
		},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Succeeded != 2 || batch.Failed != 0 {
		t.Fatalf("unexpected batch outcome: %+v", batch)
	}
	if len(batch.Runs) != 2 {
		t.Fatalf("expected two run summaries, got %d", len(batch.Runs))
	}

	if _, err := client.Batch(context.Background(), BatchRequest{}); err == nil {
		t.Fatal("expected an error for an empty batch")
	}
}

func TestExportAndImportKnowledge(t *testing.T) {
	ctx := context.Background()
	exportPath := filepath.Join(t.TempDir(), "shared.lknw")

	source := newTestClient(t, "")
	defer source.Close()
	if _, err := source.Run(ctx, testRunRequest("alice", 21)); err != nil {
		t.Fatalf("run: %v", err)
	}
	exported, err := source.ExportKnowledge(exportPath)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.Experiments == 0 {
		t.Fatal("expected experiments in the export")
	}

	dest := newTestClient(t, "")
	defer dest.Close()
	merged, err := dest.ImportKnowledge(exportPath, 1.0)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if merged.Experiments != exported.Experiments {
		t.Fatalf("import experiments %d, export %d", merged.Experiments, exported.Experiments)
	}
	if merged.Text == "" {
		t.Fatal("expected a human-readable merge summary")
	}

	if _, err := dest.ImportKnowledge(exportPath, 1.5); err == nil {
		t.Fatal("expected an error for trust above 1")
	}
	if _, err := dest.ImportKnowledge("", 1.0); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestMorphReportWritesRankedFile(t *testing.T) {
	client := newTestClient(t, "")
	defer client.Close()

	path := filepath.Join(t.TempDir(), "influence.txt")
	summary, err := client.MorphReport(ReportRequest{Path: path, OracleSeed: 3})
	if err != nil {
		t.Fatalf("morph report: %v", err)
	}
	if summary.Axes != param.DefaultFaceSpace().Dim() {
		t.Fatalf("expected %d axes, got %d", param.DefaultFaceSpace().Dim(), summary.Axes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "morph influence report") {
		t.Fatal("report file missing header")
	}
}

func TestRunRequiresFeaturesWithCustomOracle(t *testing.T) {
	client := newTestClient(t, "")
	defer client.Close()

	orc, err := oracle.NewSynthetic(param.DefaultFaceSpace(), feature.DefaultFaceSet(), oracle.DefaultSyntheticConfig())
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	req := testRunRequest("x", 1)
	req.Oracle = orc
	if _, err := client.Run(context.Background(), req); err == nil {
		t.Fatal("expected an error when a custom oracle has no target features")
	}
}
