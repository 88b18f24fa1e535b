package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"likeness/internal/model"
	likeapi "likeness/pkg/likeness"
)

// Profile is the YAML run configuration. Flags set on the command line
// override whatever the file says.
type Profile struct {
	Store         string  `yaml:"store"`
	DBPath        string  `yaml:"db_path"`
	KnowledgePath string  `yaml:"knowledge_path"`
	LogLevel      string  `yaml:"log_level"`
	Console       bool    `yaml:"console"`
	TargetID      string  `yaml:"target_id"`
	Gender        string  `yaml:"gender"`
	AgeBucket     string  `yaml:"age_bucket"`
	SkinTone      string  `yaml:"skin_tone"`
	Iterations    int     `yaml:"iterations"`
	Seed          int64   `yaml:"seed"`
	OracleSeed    int64   `yaml:"oracle_seed"`
	TruthSeed     int64   `yaml:"truth_seed"`
	Noise         float64 `yaml:"noise"`
	SnapshotEvery int     `yaml:"snapshot_every"`

	Targets []TargetProfile `yaml:"targets"`
}

// TargetProfile is one batch entry; unset fields inherit from the profile.
type TargetProfile struct {
	ID        string `yaml:"id"`
	Gender    string `yaml:"gender"`
	AgeBucket string `yaml:"age_bucket"`
	SkinTone  string `yaml:"skin_tone"`
	TruthSeed int64  `yaml:"truth_seed"`
	Seed      int64  `yaml:"seed"`
}

func loadProfile(path string) (Profile, error) {
	if path == "" {
		return Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}

func overrideFromFlags(p *Profile, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "store":
			p.Store = v.(string)
		case "db-path":
			p.DBPath = v.(string)
		case "knowledge":
			p.KnowledgePath = v.(string)
		case "log-level":
			p.LogLevel = v.(string)
		case "console":
			p.Console = v.(bool)
		case "target-id":
			p.TargetID = v.(string)
		case "gender":
			p.Gender = v.(string)
		case "age-bucket":
			p.AgeBucket = v.(string)
		case "skin-tone":
			p.SkinTone = v.(string)
		case "iterations":
			p.Iterations = v.(int)
		case "seed":
			p.Seed = v.(int64)
		case "oracle-seed":
			p.OracleSeed = v.(int64)
		case "truth-seed":
			p.TruthSeed = v.(int64)
		case "noise":
			p.Noise = v.(float64)
		case "snapshot-every":
			p.SnapshotEvery = v.(int)
		}
	}
}

func (p Profile) clientOptions() likeapi.Options {
	return likeapi.Options{
		StoreKind:     p.Store,
		DBPath:        p.DBPath,
		KnowledgePath: p.KnowledgePath,
		LogLevel:      p.LogLevel,
		LogConsole:    p.Console,
	}
}

func (p Profile) runRequest() likeapi.RunRequest {
	return likeapi.RunRequest{
		TargetID: p.TargetID,
		Context: model.TargetContext{
			Gender:    p.Gender,
			AgeBucket: p.AgeBucket,
			SkinTone:  p.SkinTone,
		},
		Iterations: p.Iterations,
		Seed:       p.Seed,
		OracleSeed: p.OracleSeed,
		TruthSeed:  p.TruthSeed,
		Noise:      p.Noise,
	}
}

// batchRequests expands the profile's target list, inheriting unset fields.
func (p Profile) batchRequests() []likeapi.RunRequest {
	out := make([]likeapi.RunRequest, 0, len(p.Targets))
	for i, t := range p.Targets {
		req := p.runRequest()
		if t.ID != "" {
			req.TargetID = t.ID
		} else {
			req.TargetID = fmt.Sprintf("target-%d", i+1)
		}
		if t.Gender != "" {
			req.Context.Gender = t.Gender
		}
		if t.AgeBucket != "" {
			req.Context.AgeBucket = t.AgeBucket
		}
		if t.SkinTone != "" {
			req.Context.SkinTone = t.SkinTone
		}
		if t.TruthSeed != 0 {
			req.TruthSeed = t.TruthSeed
		} else {
			req.TruthSeed = p.TruthSeed + int64(i)
		}
		if t.Seed != 0 {
			req.Seed = t.Seed
		}
		out = append(out, req)
	}
	return out
}
