package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"likeness/internal/feature"
	"likeness/internal/oracle"
	"likeness/internal/param"
)

func buildTestReport(t *testing.T) Report {
	t.Helper()
	space := param.DefaultFaceSpace()
	set := feature.DefaultFaceSet()
	cfg := oracle.DefaultSyntheticConfig()
	cfg.Seed = 7
	orc, err := oracle.NewSynthetic(space, set, cfg)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	rep, err := Build(space, set, orc, DefaultConfig())
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	return rep
}

func TestBuildCoversEveryAxisRanked(t *testing.T) {
	space := param.DefaultFaceSpace()
	rep := buildTestReport(t)

	if len(rep.Axes) != space.Dim() {
		t.Fatalf("expected %d axes, got %d", space.Dim(), len(rep.Axes))
	}
	measured := 0
	for _, axis := range rep.Axes {
		if axis.Axis != space.Axis(axis.Index).Name {
			t.Fatalf("axis %d name mismatch: %s", axis.Index, axis.Axis)
		}
		if len(axis.Entries) > DefaultConfig().TopN {
			t.Fatalf("axis %s exceeds top-n: %d entries", axis.Axis, len(axis.Entries))
		}
		for i, entry := range axis.Entries {
			if entry.Magnitude <= 0 {
				t.Fatalf("axis %s entry %s has non-positive magnitude", axis.Axis, entry.Feature)
			}
			if i > 0 && entry.Magnitude > axis.Entries[i-1].Magnitude {
				t.Fatalf("axis %s entries not ranked: %v", axis.Axis, axis.Entries)
			}
		}
		if len(axis.Entries) > 0 {
			measured++
		}
	}
	if measured == 0 {
		t.Fatal("expected at least one axis with measurable influence")
	}
}

func TestRenderListsAxesAndFeatures(t *testing.T) {
	rep := buildTestReport(t)

	var b strings.Builder
	if err := Render(&b, rep); err != nil {
		t.Fatalf("render: %v", err)
	}
	text := b.String()
	if !strings.Contains(text, "morph influence report") {
		t.Fatal("missing report header")
	}
	if !strings.Contains(text, rep.Oracle) {
		t.Fatal("missing oracle name")
	}
	for _, axis := range rep.Axes[:3] {
		if !strings.Contains(text, axis.Axis) {
			t.Fatalf("axis %s missing from rendered report", axis.Axis)
		}
	}
}

func TestWriteFileCreatesParentDirectories(t *testing.T) {
	rep := buildTestReport(t)
	path := filepath.Join(t.TempDir(), "out", "influence.txt")

	if err := WriteFile(path, rep); err != nil {
		t.Fatalf("write file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "morph influence report") {
		t.Fatal("written report missing header")
	}
}

func TestBuildValidatesInputs(t *testing.T) {
	space := param.DefaultFaceSpace()
	set := feature.DefaultFaceSet()
	orc, err := oracle.NewSynthetic(space, set, oracle.DefaultSyntheticConfig())
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}

	if _, err := Build(nil, set, orc, DefaultConfig()); err == nil {
		t.Fatal("expected an error for a nil space")
	}
	if _, err := Build(space, set, nil, DefaultConfig()); err == nil {
		t.Fatal("expected an error for a nil oracle")
	}
	if _, err := Build(space, set, orc, Config{TopN: -1}); err == nil {
		t.Fatal("expected an error for a negative top-n")
	}
}
