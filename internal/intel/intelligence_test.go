package intel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likeness/internal/feature"
	"likeness/internal/model"
)

func newIntel(t *testing.T) *Intelligence {
	t.Helper()
	fi, err := New(feature.DefaultFaceSet().Names(), DefaultConfig())
	require.NoError(t, err)
	return fi
}

func uniformScore(names []string, v float64) model.Score {
	per := make(map[string]float64, len(names))
	for _, n := range names {
		per[n] = v
	}
	return model.Score{Overall: v, PerFeature: per}
}

func TestPersistentlyWeakFeatureIsSingledOut(t *testing.T) {
	fi := newIntel(t)
	names := feature.DefaultFaceSet().Names()

	for i := 0; i < 20; i++ {
		score := uniformScore(names, 0.8)
		score.PerFeature["NoseWidth"] = 0.1
		fi.Observe(score)
	}

	rec := fi.Recommendation()
	require.Contains(t, []Priority{FocusWeak, FixRegression}, rec.Priority)
	assert.Equal(t, "NoseWidth", rec.TargetFeature)
	assert.Greater(t, rec.Weights["NoseWidth"], rec.Weights["EyeSpacing"])
}

func TestWeightsStayBoundedAndDecayBack(t *testing.T) {
	fi := newIntel(t)
	names := feature.DefaultFaceSet().Names()

	for i := 0; i < 200; i++ {
		score := uniformScore(names, 0.9)
		score.PerFeature["JawWidth"] = 0.0
		fi.Observe(score)
	}
	assert.LessOrEqual(t, fi.Weight("JawWidth"), fi.cfg.MaxWeight)
	assert.Greater(t, fi.Weight("JawWidth"), 1.5)

	for i := 0; i < 200; i++ {
		fi.Observe(uniformScore(names, 0.9))
	}
	assert.InDelta(t, 1.0, fi.Weight("JawWidth"), 0.05)
}

func TestRegressionOutranksOrdinaryFocus(t *testing.T) {
	fi := newIntel(t)
	names := feature.DefaultFaceSet().Names()

	for i := 0; i < 10; i++ {
		score := uniformScore(names, 0.8)
		score.PerFeature["ChinHeight"] = 0.9
		fi.Observe(score)
	}
	// ChinHeight collapses well past the margin from its recent peak.
	drop := uniformScore(names, 0.8)
	drop.PerFeature["ChinHeight"] = 0.6
	fi.Observe(drop)

	rec := fi.Recommendation()
	assert.Equal(t, FixRegression, rec.Priority)
	assert.Equal(t, "ChinHeight", rec.TargetFeature)
}

func TestCorrelationSeparatesSafeFromConflicting(t *testing.T) {
	fi := newIntel(t)
	names := feature.DefaultFaceSet().Names()

	// Index 4 cleanly moves NoseWidth only.
	for i := 0; i < 5; i++ {
		before := uniformScore(names, 0.5)
		after := uniformScore(names, 0.5)
		after.PerFeature["NoseWidth"] = 0.6
		fi.RecordPerturbation(4, before, after)
	}
	// Index 9 drags NoseWidth and JawWidth together.
	for i := 0; i < 5; i++ {
		before := uniformScore(names, 0.5)
		after := uniformScore(names, 0.5)
		after.PerFeature["NoseWidth"] = 0.6
		after.PerFeature["JawWidth"] = 0.4
		fi.RecordPerturbation(9, before, after)
	}

	assert.Equal(t, []int{4}, fi.SafeIndices("NoseWidth"))
	assert.Equal(t, []int{9}, fi.ConflictingIndices("NoseWidth"))
	assert.Empty(t, fi.SafeIndices("MouthWidth"))
}

func TestRecommendationPrefersSafeIndicesForTarget(t *testing.T) {
	fi := newIntel(t)
	names := feature.DefaultFaceSet().Names()

	before := uniformScore(names, 0.5)
	after := uniformScore(names, 0.5)
	after.PerFeature["NoseWidth"] = 0.7
	fi.RecordPerturbation(12, before, after)

	for i := 0; i < 20; i++ {
		score := uniformScore(names, 0.8)
		score.PerFeature["NoseWidth"] = 0.1
		fi.Observe(score)
	}

	rec := fi.Recommendation()
	assert.Equal(t, "NoseWidth", rec.TargetFeature)
	assert.Equal(t, []int{12}, rec.CandidateIndices)
}

func TestRecommendationIsPure(t *testing.T) {
	fi := newIntel(t)
	names := feature.DefaultFaceSet().Names()
	for i := 0; i < 5; i++ {
		fi.Observe(uniformScore(names, 0.7))
	}

	first := fi.Recommendation()
	second := fi.Recommendation()
	assert.Equal(t, first.Priority, second.Priority)
	assert.Equal(t, first.TargetFeature, second.TargetFeature)
	assert.Equal(t, first.CandidateIndices, second.CandidateIndices)
	assert.Equal(t, first.Weights, second.Weights)

	// Mutating a returned weights map must not leak back in.
	first.Weights["NoseWidth"] = 99
	assert.NotEqual(t, 99.0, fi.Weight("NoseWidth"))
}

func TestFocusAdvancesWithIterations(t *testing.T) {
	fi := newIntel(t)
	names := feature.DefaultFaceSet().Names()

	assert.Equal(t, FocusBroad, fi.Focus())
	for i := 0; i < fi.cfg.NarrowAfter; i++ {
		fi.Observe(uniformScore(names, 0.6))
	}
	assert.Equal(t, FocusNarrowing, fi.Focus())
	for i := 0; i < fi.cfg.FocusAfter; i++ {
		fi.Observe(uniformScore(names, 0.6))
	}
	assert.Equal(t, FocusFocused, fi.Focus())
}
