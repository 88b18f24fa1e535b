package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"likeness/internal/model"
)

func testSummary(id string) model.SessionSummary {
	return model.SessionSummary{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: CurrentSchemaVersion,
			CodecVersion:  CurrentCodecVersion,
		},
		ID:            id,
		Context:       model.TargetContext{Gender: "female", AgeBucket: "young"},
		Iterations:    50,
		BestScore:     0.82,
		BaselineScore: 0.31,
		FinalPhase:    "finalize",
		StartedAt:     time.Unix(1700000000, 0).UTC(),
		FinishedAt:    time.Unix(1700000300, 0).UTC(),
	}
}

func testSnapshot(id string, at time.Time) model.KnowledgeSnapshot {
	return model.KnowledgeSnapshot{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: CurrentSchemaVersion,
			CodecVersion:  CurrentCodecVersion,
		},
		ID:          id,
		Nodes:       7,
		Experiments: 340,
		CreatedAt:   at,
		Blob:        []byte{0x4c, 0x4b, 0x4e, 0x57, 0x01},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite := NewSQLiteStore(filepath.Join(t.TempDir(), "likeness.db"))
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestSessionSummaryRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}

			want := testSummary("session-1")
			if err := store.SaveSessionSummary(ctx, want); err != nil {
				t.Fatalf("save: %v", err)
			}

			got, ok, err := store.GetSessionSummary(ctx, "session-1")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if got.BestScore != want.BestScore || got.Context != want.Context || got.FinalPhase != want.FinalPhase {
				t.Fatalf("round trip mismatch: %+v", got)
			}

			if _, ok, _ := store.GetSessionSummary(ctx, "missing"); ok {
				t.Fatal("expected a miss for an unknown id")
			}

			list, err := store.ListSessionSummaries(ctx)
			if err != nil || len(list) != 1 {
				t.Fatalf("list: n=%d err=%v", len(list), err)
			}
		})
	}
}

func TestKnowledgeSnapshotLatestWins(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}

			base := time.Unix(1700000000, 0).UTC()
			if err := store.SaveKnowledgeSnapshot(ctx, testSnapshot("old", base)); err != nil {
				t.Fatalf("save old: %v", err)
			}
			if err := store.SaveKnowledgeSnapshot(ctx, testSnapshot("new", base.Add(time.Hour))); err != nil {
				t.Fatalf("save new: %v", err)
			}

			latest, ok, err := store.LatestKnowledgeSnapshot(ctx)
			if err != nil || !ok {
				t.Fatalf("latest: ok=%v err=%v", ok, err)
			}
			if latest.ID != "new" {
				t.Fatalf("expected the newest snapshot, got %s", latest.ID)
			}

			got, ok, err := store.GetKnowledgeSnapshot(ctx, "old")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if len(got.Blob) != 5 {
				t.Fatalf("blob lost in round trip: %v", got.Blob)
			}
		})
	}
}

func TestScoreHistoryRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}

			want := []float64{0.1, 0.3, 0.55, 0.52, 0.7}
			if err := store.SaveScoreHistory(ctx, "session-1", want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, ok, err := store.GetScoreHistory(ctx, "session-1")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("element %d: got %v want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestUninitializedStoreReturnsErrors(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.SaveSessionSummary(ctx, testSummary("s")); err == nil {
				t.Fatal("expected an error before Init")
			}
			if err := store.SaveKnowledgeSnapshot(ctx, testSnapshot("k", time.Unix(1700000000, 0))); err == nil {
				t.Fatal("expected an error before Init")
			}
			if err := store.SaveScoreHistory(ctx, "s", []float64{0.5}); err == nil {
				t.Fatal("expected an error before Init")
			}
			if _, _, err := store.GetSessionSummary(ctx, "s"); err == nil {
				t.Fatal("expected an error before Init")
			}
			if _, err := store.ListSessionSummaries(ctx); err == nil {
				t.Fatal("expected an error before Init")
			}
			if _, _, err := store.LatestKnowledgeSnapshot(ctx); err == nil {
				t.Fatal("expected an error before Init")
			}
		})
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	summary := testSummary("s")
	summary.SchemaVersion = 99
	payload, err := EncodeSessionSummary(summary)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeSessionSummary(payload); err == nil {
		t.Fatal("expected a version mismatch error")
	}
}

func TestFactorySelectsBackend(t *testing.T) {
	if _, err := NewStore("memory", ""); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := NewStore("sqlite", filepath.Join(t.TempDir(), "x.db")); err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, err := NewStore("sqlite", ""); err == nil {
		t.Fatal("expected an error for sqlite without a path")
	}
	if _, err := NewStore("bolt", ""); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
