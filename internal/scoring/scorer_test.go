package scoring

import (
	"math"
	"testing"

	"likeness/internal/feature"
	"likeness/internal/model"
)

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	scorer, err := NewScorer(feature.DefaultFaceSet(), DefaultConfig())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	return scorer
}

func uniformVector(set *feature.Set, v float64) model.FeatureVector {
	values := make(map[string]float64, set.Len())
	for _, name := range set.Names() {
		values[name] = v
	}
	return model.FeatureVector{Values: values}
}

func TestCompareIdenticalVectorsScoresOne(t *testing.T) {
	scorer := newScorer(t)
	set := feature.DefaultFaceSet()
	fv := uniformVector(set, 0.4)

	score := scorer.Compare(fv, fv)
	if math.Abs(score.Overall-1.0) > 1e-9 {
		t.Fatalf("expected perfect score, got %v", score.Overall)
	}
	for name, sub := range score.PerFeature {
		if math.Abs(sub-1.0) > 1e-9 {
			t.Fatalf("feature %s: expected sub-score 1.0, got %v", name, sub)
		}
	}
}

func TestCompareEmptyOrMalformedYieldsExactZero(t *testing.T) {
	scorer := newScorer(t)
	set := feature.DefaultFaceSet()
	target := uniformVector(set, 0.4)

	cases := []model.FeatureVector{
		{},
		{Values: map[string]float64{}},
		{Values: map[string]float64{"FaceWidth": math.NaN()}},
		{Values: map[string]float64{"FaceWidth": 1.5}},
	}
	for i, observed := range cases {
		score := scorer.Compare(observed, target)
		if score.Overall != 0 {
			t.Fatalf("case %d: expected exact zero, got %v", i, score.Overall)
		}
		if len(score.PerFeature) != set.Len() {
			t.Fatalf("case %d: expected all sub-scores present", i)
		}
		for name, sub := range score.PerFeature {
			if sub != 0 {
				t.Fatalf("case %d: feature %s expected 0, got %v", i, name, sub)
			}
		}
	}
}

func TestCompareBoundsHold(t *testing.T) {
	scorer := newScorer(t)
	set := feature.DefaultFaceSet()
	target := uniformVector(set, 0.2)
	observed := uniformVector(set, 0.9)

	score := scorer.Compare(observed, target)
	if score.Overall < 0 || score.Overall > 1 {
		t.Fatalf("overall out of bounds: %v", score.Overall)
	}
}

func TestRobustLossSaturatesSingleOutlier(t *testing.T) {
	scorer := newScorer(t)
	set := feature.DefaultFaceSet()
	target := uniformVector(set, 0.4)

	// One catastrophic feature versus a moderately bad one: beyond the
	// saturation point the penalty must stop growing.
	mild := uniformVector(set, 0.4)
	mild.Values["NoseWidth"] = 0.9
	wild := uniformVector(set, 0.4)
	wild.Values["NoseWidth"] = 1.0

	mildScore := scorer.Compare(mild, target)
	wildScore := scorer.Compare(wild, target)
	if wildScore.Overall < mildScore.Overall-1e-9 {
		t.Fatalf("saturated outlier should not keep dragging the score: %v vs %v",
			wildScore.Overall, mildScore.Overall)
	}
	if mildScore.Overall < 0.5 {
		t.Fatalf("one outlier feature dominated the aggregate: %v", mildScore.Overall)
	}
}

func TestSoftGatingDiscountsDetailWhenFoundationIsPoor(t *testing.T) {
	scorer := newScorer(t)
	set := feature.DefaultFaceSet()
	target := uniformVector(set, 0.4)

	// Perfect details over a broken foundation.
	brokenFoundation := uniformVector(set, 0.4)
	for _, def := range set.Definitions() {
		if def.Tier == feature.TierFoundation {
			brokenFoundation.Values[def.Name] = 1.0
		}
	}
	// Broken details over a perfect foundation.
	brokenDetail := uniformVector(set, 0.4)
	for _, def := range set.Definitions() {
		if def.Tier == feature.TierDetail {
			brokenDetail.Values[def.Name] = 1.0
		}
	}

	a := scorer.Compare(brokenFoundation, target)
	b := scorer.Compare(brokenDetail, target)
	if a.Overall >= b.Overall {
		t.Fatalf("broken foundation must cost more than broken detail: %v vs %v",
			a.Overall, b.Overall)
	}
}

func TestWorstFeatureIsSurfaced(t *testing.T) {
	scorer := newScorer(t)
	set := feature.DefaultFaceSet()
	target := uniformVector(set, 0.4)
	observed := uniformVector(set, 0.4)
	observed.Values["MouthWidth"] = 0.95

	score := scorer.Compare(observed, target)
	if score.WorstFeature != "MouthWidth" {
		t.Fatalf("expected MouthWidth as worst feature, got %q", score.WorstFeature)
	}
}

func TestLowConfidenceShrinksPenalty(t *testing.T) {
	scorer := newScorer(t)
	set := feature.DefaultFaceSet()
	target := uniformVector(set, 0.4)

	observed := uniformVector(set, 0.4)
	observed.Values["EyeSpacing"] = 0.8
	full := scorer.Compare(observed, target)

	observed.Confidence = map[string]float64{"EyeSpacing": 0.1}
	soft := scorer.Compare(observed, target)

	if soft.Overall <= full.Overall {
		t.Fatalf("low confidence should reduce the penalty: %v vs %v",
			soft.Overall, full.Overall)
	}
}

func TestNewScorerValidatesWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TierWeights = map[feature.Tier]float64{feature.TierFoundation: 0.5}
	if _, err := NewScorer(feature.DefaultFaceSet(), cfg); err == nil {
		t.Fatal("expected error for weights not summing to 1.0")
	}
	if _, err := NewScorer(nil, DefaultConfig()); err == nil {
		t.Fatal("expected error for nil feature set")
	}
}
