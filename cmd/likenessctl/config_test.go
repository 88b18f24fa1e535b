package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestLoadProfileReadsYAML(t *testing.T) {
	path := writeProfile(t, `
store: sqlite
db_path: runs.db
knowledge_path: shared.lknw
log_level: debug
target_id: alice
gender: female
age_bucket: young
iterations: 120
seed: 7
oracle_seed: 8
truth_seed: 9
noise: 0.002
snapshot_every: 2
targets:
  - id: alice
    truth_seed: 11
  - id: bob
    gender: male
`)

	p, err := loadProfile(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if p.Store != "sqlite" || p.DBPath != "runs.db" || p.KnowledgePath != "shared.lknw" {
		t.Fatalf("storage fields not parsed: %+v", p)
	}
	if p.Iterations != 120 || p.Seed != 7 || p.Noise != 0.002 {
		t.Fatalf("engine fields not parsed: %+v", p)
	}
	if len(p.Targets) != 2 {
		t.Fatalf("expected two targets, got %d", len(p.Targets))
	}
}

func TestLoadProfileErrors(t *testing.T) {
	if _, err := loadProfile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing profile")
	}
	bad := writeProfile(t, "store: [broken")
	if _, err := loadProfile(bad); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestFlagsOverrideProfileOnlyWhenSet(t *testing.T) {
	p := Profile{Store: "sqlite", Iterations: 100, Gender: "female"}

	overrideFromFlags(&p, map[string]bool{"iterations": true}, map[string]any{
		"iterations": 40,
		"store":      "memory",
		"gender":     "male",
	})
	if p.Iterations != 40 {
		t.Fatalf("set flag not applied: %d", p.Iterations)
	}
	if p.Store != "sqlite" || p.Gender != "female" {
		t.Fatalf("unset flags must not override the profile: %+v", p)
	}
}

func TestBatchRequestsInheritProfileDefaults(t *testing.T) {
	p := Profile{
		Gender:    "female",
		AgeBucket: "young",
		Seed:      3,
		TruthSeed: 10,
		Targets: []TargetProfile{
			{ID: "alice"},
			{ID: "bob", Gender: "male", TruthSeed: 99},
			{},
		},
	}

	reqs := p.batchRequests()
	if len(reqs) != 3 {
		t.Fatalf("expected three requests, got %d", len(reqs))
	}
	if reqs[0].Context.Gender != "female" || reqs[0].TruthSeed != 10 {
		t.Fatalf("first target did not inherit defaults: %+v", reqs[0])
	}
	if reqs[1].Context.Gender != "male" || reqs[1].TruthSeed != 99 {
		t.Fatalf("second target overrides not applied: %+v", reqs[1])
	}
	if reqs[2].TargetID != "target-3" {
		t.Fatalf("unnamed target did not get a generated id: %q", reqs[2].TargetID)
	}
	if reqs[2].TruthSeed != 12 {
		t.Fatalf("unnamed target truth seed should offset by index: %d", reqs[2].TruthSeed)
	}
}
