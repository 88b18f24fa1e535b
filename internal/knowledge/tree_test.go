package knowledge

import (
	"math"
	"testing"
	"time"

	"likeness/internal/model"
	"likeness/internal/param"
)

func newTestTree(t *testing.T, cfg Config) *Tree {
	t.Helper()
	tree, err := NewTree(param.DefaultFaceSpace(), cfg)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	return tree
}

func constantDelta(dim int, v float64) model.ParameterVector {
	out := make(model.ParameterVector, dim)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEmptyTreeReturnsZeroDelta(t *testing.T) {
	tree := newTestTree(t, DefaultConfig())
	delta := tree.GetStartingDelta(model.TargetContext{Gender: "female"})
	for i, v := range delta {
		if v != 0 {
			t.Fatalf("element %d: expected zero delta from empty tree, got %v", i, v)
		}
	}
}

func TestRecordOutcomeLearnsBoundedDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000 // keep the structure flat for this test
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()
	ctx := model.TargetContext{Gender: "female", AgeBucket: "young"}

	observed := constantDelta(space.Dim(), 0.2)
	first := tree.GetStartingDelta(ctx)
	tree.RecordOutcome(ctx, observed, model.Score{Overall: 0.9})
	second := tree.GetStartingDelta(ctx)

	moved := false
	for i := range second {
		if second[i] != first[i] {
			moved = true
		}
		// One sample must not move the learned value all the way.
		if math.Abs(second[i]) >= math.Abs(observed[i]) {
			t.Fatalf("element %d: single sample overfit: %v", i, second[i])
		}
	}
	if !moved {
		t.Fatal("expected outcome to move the starting delta")
	}
}

func TestSplitOnDiscriminatingContextKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000
	cfg.SplitMinUses = 10
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()

	female := model.TargetContext{Gender: "female", AgeBucket: "young"}
	male := model.TargetContext{Gender: "male", AgeBucket: "young"}
	for i := 0; i < 10; i++ {
		tree.RecordOutcome(female, constantDelta(space.Dim(), 0.3), model.Score{Overall: 0.9})
		tree.RecordOutcome(male, constantDelta(space.Dim(), -0.3), model.Score{Overall: 0.1})
	}

	report := tree.Maintain()
	if report.Splits != 1 {
		t.Fatalf("expected exactly one split, got %d", report.Splits)
	}

	pf := tree.resolve(female)
	pm := tree.resolve(male)
	if pf[len(pf)-1] == pm[len(pm)-1] {
		t.Fatal("expected distinct leaves after split")
	}
	if len(pf) != 2 || len(pm) != 2 {
		t.Fatalf("expected depth-2 paths after split, got %d and %d", len(pf), len(pm))
	}
}

func TestSplitRequiresUsageAndVariance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()
	ctx := model.TargetContext{Gender: "female"}

	// Plenty of usage but uniform outcomes: no variance, no split.
	for i := 0; i < 40; i++ {
		tree.RecordOutcome(ctx, constantDelta(space.Dim(), 0.1), model.Score{Overall: 0.8})
	}
	if report := tree.Maintain(); report.Splits != 0 {
		t.Fatalf("expected no split for uniform outcomes, got %d", report.Splits)
	}
}

func TestMergeFoldsSettledSiblingsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000
	cfg.SplitMinUses = 10
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()

	female := model.TargetContext{Gender: "female"}
	male := model.TargetContext{Gender: "male"}
	for i := 0; i < 10; i++ {
		tree.RecordOutcome(female, constantDelta(space.Dim(), 0.02), model.Score{Overall: 0.9})
		tree.RecordOutcome(male, constantDelta(space.Dim(), 0.02), model.Score{Overall: 0.1})
	}
	if report := tree.Maintain(); report.Splits != 1 {
		t.Fatal("setup: expected a split")
	}

	// Both branches now settle on the same behavior.
	for i := 0; i < 8; i++ {
		tree.RecordOutcome(female, constantDelta(space.Dim(), 0.02), model.Score{Overall: 0.8})
		tree.RecordOutcome(male, constantDelta(space.Dim(), 0.02), model.Score{Overall: 0.8})
	}
	report := tree.Maintain()
	if report.Merges != 1 {
		t.Fatalf("expected one merge, got %+v", report)
	}
	if stats := tree.Stats(); stats.Nodes != 1 {
		t.Fatalf("expected the tree to collapse to the root, got %d nodes", stats.Nodes)
	}
}

func TestPruneAbsorbsStaleLeafIntoParent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000
	cfg.SplitMinUses = 10
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()

	clock := time.Now()
	tree.now = func() time.Time { return clock }

	female := model.TargetContext{Gender: "female"}
	male := model.TargetContext{Gender: "male"}
	for i := 0; i < 10; i++ {
		tree.RecordOutcome(female, constantDelta(space.Dim(), 0.3), model.Score{Overall: 0.9})
		tree.RecordOutcome(male, constantDelta(space.Dim(), -0.3), model.Score{Overall: 0.1})
	}
	if report := tree.Maintain(); report.Splits != 1 {
		t.Fatal("setup: expected a split")
	}
	nodesBefore := tree.Stats().Nodes

	// The male leaf goes stale and has low confidence (all failures).
	clock = clock.Add(cfg.PruneAfter + time.Hour)
	tree.RecordOutcome(female, constantDelta(space.Dim(), 0.3), model.Score{Overall: 0.9})

	report := tree.Maintain()
	if report.Prunes == 0 {
		t.Fatalf("expected a prune, got %+v", report)
	}
	if tree.Stats().Nodes >= nodesBefore {
		t.Fatal("expected fewer nodes after prune")
	}
}

func TestMaintenanceTerminatesOnBoundedStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()

	contexts := []model.TargetContext{
		{Gender: "female", AgeBucket: "young", SkinTone: "light"},
		{Gender: "male", AgeBucket: "old", SkinTone: "dark"},
		{Gender: "female", AgeBucket: "old", SkinTone: "medium"},
	}
	scores := []float64{0.9, 0.2, 0.6}
	for i := 0; i < 120; i++ {
		ctx := contexts[i%len(contexts)]
		tree.RecordOutcome(ctx, constantDelta(space.Dim(), 0.1), model.Score{Overall: scores[i%len(scores)]})
	}

	quiet := 0
	for pass := 0; pass < 50; pass++ {
		if tree.Maintain().Changed() {
			quiet = 0
			continue
		}
		quiet++
		if quiet >= 3 {
			return
		}
	}
	t.Fatal("maintenance did not settle within 50 passes")
}

func TestSharedSectionTracksDemographicTags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()

	ctx := model.TargetContext{Gender: "female", AgeBucket: "young"}
	tree.RecordOutcome(ctx, constantDelta(space.Dim(), 0.2), model.Score{Overall: 0.9})

	if _, ok := tree.SharedDelta(model.ContextKeyGender, "female"); !ok {
		t.Fatal("expected shared entry for gender:female")
	}
	if _, ok := tree.SharedDelta(model.ContextKeyGender, "male"); ok {
		t.Fatal("did not expect shared entry for gender:male")
	}
}

func TestStartingDeltaIsAlwaysClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaintainEvery = 1000
	tree := newTestTree(t, cfg)
	space := param.DefaultFaceSpace()
	ctx := model.TargetContext{Gender: "female"}

	huge := constantDelta(space.Dim(), 1e6)
	for i := 0; i < 50; i++ {
		tree.RecordOutcome(ctx, huge, model.Score{Overall: 1.0})
	}
	delta := tree.GetStartingDelta(ctx)
	for i, v := range delta {
		w := space.Axis(i).Width()
		if v < -w || v > w {
			t.Fatalf("element %d: delta %v exceeds axis width %v", i, v, w)
		}
	}
}
