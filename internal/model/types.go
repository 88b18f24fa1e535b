package model

import (
	"math"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ParameterVector is one assignment of the fixed-length morph axes.
type ParameterVector []float64

func (v ParameterVector) Clone() ParameterVector {
	return append(ParameterVector(nil), v...)
}

// Finite reports whether every element is a finite number.
func (v ParameterVector) Finite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// FeatureVector maps feature name to a scalar measurement in [0,1].
// Confidence, when present for a feature, scales how much that feature's
// error is trusted; absence means full confidence.
type FeatureVector struct {
	Values     map[string]float64 `json:"values"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
}

func (f FeatureVector) Empty() bool {
	return len(f.Values) == 0
}

// Valid reports whether all measurements are finite and inside [0,1].
func (f FeatureVector) Valid() bool {
	if f.Empty() {
		return false
	}
	for _, v := range f.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return false
		}
	}
	return true
}

func (f FeatureVector) ConfidenceFor(name string) float64 {
	if f.Confidence == nil {
		return 1.0
	}
	c, ok := f.Confidence[name]
	if !ok {
		return 1.0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Closed set of context keys used to classify a target session.
const (
	ContextKeyGender    = "gender"
	ContextKeyAgeBucket = "age_bucket"
	ContextKeySkinTone  = "skin_tone"
)

// ContextKeys lists the known keys in canonical order.
func ContextKeys() []string {
	return []string{ContextKeyGender, ContextKeyAgeBucket, ContextKeySkinTone}
}

// TargetContext carries the demographic tags attached to a session. It is
// fixed for the lifetime of a session and used only as a classification key.
type TargetContext struct {
	Gender    string `json:"gender,omitempty"`
	AgeBucket string `json:"age_bucket,omitempty"`
	SkinTone  string `json:"skin_tone,omitempty"`
}

// Value returns the tag for a known key; unknown keys report ok=false.
func (c TargetContext) Value(key string) (string, bool) {
	switch key {
	case ContextKeyGender:
		return c.Gender, true
	case ContextKeyAgeBucket:
		return c.AgeBucket, true
	case ContextKeySkinTone:
		return c.SkinTone, true
	default:
		return "", false
	}
}

// Score is the hierarchical comparison outcome. Overall is in [0,1];
// PerFeature holds the per-feature sub-scores that produced it.
type Score struct {
	Overall      float64            `json:"overall"`
	PerFeature   map[string]float64 `json:"per_feature"`
	WorstFeature string             `json:"worst_feature,omitempty"`
}

// Candidate is a parameter vector emitted for external evaluation. Sequence
// orders candidates within a session; observations must arrive in the same
// order.
type Candidate struct {
	Sequence   int             `json:"sequence"`
	Generation int             `json:"generation"`
	Params     ParameterVector `json:"params"`
	Source     string          `json:"source,omitempty"`
}

// SessionSummary is the persisted record of one completed search session.
type SessionSummary struct {
	VersionedRecord
	ID            string             `json:"id"`
	Context       TargetContext      `json:"context"`
	Iterations    int                `json:"iterations"`
	BestScore     float64            `json:"best_score"`
	BaselineScore float64            `json:"baseline_score"`
	FinalPhase    string             `json:"final_phase"`
	PerFeature    map[string]float64 `json:"per_feature,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// KnowledgeSnapshot wraps a portable binary knowledge export for storage.
type KnowledgeSnapshot struct {
	VersionedRecord
	ID          string    `json:"id"`
	Nodes       int       `json:"nodes"`
	Experiments int       `json:"experiments"`
	CreatedAt   time.Time `json:"created_at"`
	Blob        []byte    `json:"blob"`
}
