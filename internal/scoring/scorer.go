// Package scoring compares observed feature vectors against a session
// target with a tiered, robust-loss aggregate.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"likeness/internal/feature"
	"likeness/internal/model"
)

// Config holds the tier weighting and loss shape. Tier weights must sum to
// 1.0 across the four tiers.
type Config struct {
	TierWeights map[feature.Tier]float64
	// GateFloor is the minimum fraction a higher tier keeps of its weight
	// when the foundation below it scores at zero.
	GateFloor float64
	// TukeyC is the saturation point of the robust loss in units of
	// expected-range-normalized error.
	TukeyC float64
}

func DefaultConfig() Config {
	return Config{
		TierWeights: map[feature.Tier]float64{
			feature.TierFoundation: 0.35,
			feature.TierStructure:  0.25,
			feature.TierMajor:      0.25,
			feature.TierDetail:     0.15,
		},
		GateFloor: 0.3,
		TukeyC:    2.5,
	}
}

type Scorer struct {
	set *feature.Set
	cfg Config
}

func NewScorer(set *feature.Set, cfg Config) (*Scorer, error) {
	if set == nil {
		return nil, fmt.Errorf("feature set is required")
	}
	if len(cfg.TierWeights) == 0 {
		cfg.TierWeights = DefaultConfig().TierWeights
	}
	sum := 0.0
	for tier, w := range cfg.TierWeights {
		if w < 0 {
			return nil, fmt.Errorf("tier %s: weight must be >= 0", tier)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return nil, fmt.Errorf("tier weights must sum to 1.0, got %v", sum)
	}
	if cfg.GateFloor <= 0 || cfg.GateFloor > 1 {
		cfg.GateFloor = DefaultConfig().GateFloor
	}
	if cfg.TukeyC <= 0 {
		cfg.TukeyC = DefaultConfig().TukeyC
	}
	return &Scorer{set: set, cfg: cfg}, nil
}

// Compare scores observed against target. The overall score is in [0,1];
// empty or malformed input yields exactly zero with zeroed sub-scores.
func (s *Scorer) Compare(observed, target model.FeatureVector) model.Score {
	if !observed.Valid() || !target.Valid() {
		return s.zeroScore()
	}

	perFeature := make(map[string]float64, s.set.Len())
	tierSum := make(map[feature.Tier]float64)
	tierCount := make(map[feature.Tier]int)

	for _, def := range s.set.Definitions() {
		tgt, okT := target.Values[def.Name]
		obs, okO := observed.Values[def.Name]
		sub := 0.0
		if okT && okO {
			conf := math.Min(observed.ConfidenceFor(def.Name), target.ConfidenceFor(def.Name))
			u := math.Abs(obs-tgt) / def.ExpectedSpan() * conf
			sub = 1.0 - tukeyLoss(u, s.cfg.TukeyC)
		}
		perFeature[def.Name] = sub
		tierSum[def.Tier] += sub
		tierCount[def.Tier]++
	}

	tierScore := make(map[feature.Tier]float64)
	for tier, n := range tierCount {
		if n > 0 {
			tierScore[tier] = tierSum[tier] / float64(n)
		}
	}

	// Soft gating: each tier above foundation is trusted only as far as the
	// tiers below it are plausible.
	overall := 0.0
	lowest := 1.0
	for _, tier := range []feature.Tier{feature.TierFoundation, feature.TierStructure, feature.TierMajor, feature.TierDetail} {
		w := s.cfg.TierWeights[tier]
		score, ok := tierScore[tier]
		if !ok {
			continue
		}
		gate := 1.0
		if tier != feature.TierFoundation {
			gate = s.cfg.GateFloor + (1.0-s.cfg.GateFloor)*lowest
		}
		overall += w * score * gate
		if score < lowest {
			lowest = score
		}
	}
	if overall < 0 {
		overall = 0
	}
	if overall > 1 {
		overall = 1
	}

	return model.Score{
		Overall:      overall,
		PerFeature:   perFeature,
		WorstFeature: worstOf(perFeature),
	}
}

func (s *Scorer) zeroScore() model.Score {
	perFeature := make(map[string]float64, s.set.Len())
	for _, name := range s.set.Names() {
		perFeature[name] = 0
	}
	return model.Score{Overall: 0, PerFeature: perFeature}
}

// tukeyLoss is the Tukey biweight rho normalized to [0,1]: quadratic near
// zero, saturating at 1 for |u| >= c so one badly-mismatched feature cannot
// dominate the aggregate.
func tukeyLoss(u, c float64) float64 {
	a := math.Abs(u)
	if a >= c {
		return 1.0
	}
	r := 1.0 - (a/c)*(a/c)
	return 1.0 - r*r*r
}

func worstOf(perFeature map[string]float64) string {
	names := make([]string, 0, len(perFeature))
	for name := range perFeature {
		names = append(names, name)
	}
	sort.Strings(names)
	worst := ""
	worstScore := math.Inf(1)
	for _, name := range names {
		if perFeature[name] < worstScore {
			worst = name
			worstScore = perFeature[name]
		}
	}
	return worst
}
