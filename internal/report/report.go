// Package report measures what each morph axis actually does, as seen
// through an oracle. For every axis it swings the parameter across its full
// range from the neutral midpoint and records which features move and by how
// much, producing a ranked plain-text artifact.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"likeness/internal/feature"
	"likeness/internal/model"
	"likeness/internal/oracle"
	"likeness/internal/param"
)

type Config struct {
	// TopN limits how many affected features are kept per axis.
	TopN int
}

func DefaultConfig() Config {
	return Config{TopN: 5}
}

func (c *Config) normalize() error {
	if c.TopN < 0 {
		return errors.New("top-n must be >= 0")
	}
	if c.TopN == 0 {
		c.TopN = 5
	}
	return nil
}

// InfluenceEntry is one feature an axis moves, with the full-range swing it
// produces in that feature's value.
type InfluenceEntry struct {
	Feature   string  `json:"feature"`
	Magnitude float64 `json:"magnitude"`
}

// AxisInfluence ranks the features an axis affects, strongest first.
type AxisInfluence struct {
	Index   int              `json:"index"`
	Axis    string           `json:"axis"`
	Entries []InfluenceEntry `json:"entries"`
}

// Report is the full morph influence table for one oracle.
type Report struct {
	Oracle      string          `json:"oracle"`
	GeneratedAt time.Time       `json:"generated_at"`
	Axes        []AxisInfluence `json:"axes"`
}

// Build probes the oracle one axis at a time. Each axis is swung to its min
// and max with every other axis held at the midpoint; the magnitude for a
// feature is the total value swing across that sweep.
func Build(space *param.Space, set *feature.Set, orc oracle.Oracle, cfg Config) (Report, error) {
	if space == nil || set == nil {
		return Report{}, errors.New("space and feature set are required")
	}
	if orc == nil {
		return Report{}, errors.New("oracle is required")
	}
	if err := cfg.normalize(); err != nil {
		return Report{}, err
	}

	mid := space.Midpoint()
	rep := Report{
		Oracle:      orc.Name(),
		GeneratedAt: time.Now().UTC(),
		Axes:        make([]AxisInfluence, 0, space.Dim()),
	}
	for i := 0; i < space.Dim(); i++ {
		axis := space.Axis(i)
		low := mid.Clone()
		low[i] = axis.Min
		high := mid.Clone()
		high[i] = axis.Max

		lowFeatures, err := orc.Observe(low)
		if err != nil {
			return Report{}, fmt.Errorf("axis %s at min: %w", axis.Name, err)
		}
		highFeatures, err := orc.Observe(high)
		if err != nil {
			return Report{}, fmt.Errorf("axis %s at max: %w", axis.Name, err)
		}

		rep.Axes = append(rep.Axes, AxisInfluence{
			Index:   i,
			Axis:    axis.Name,
			Entries: rankSwing(set, lowFeatures, highFeatures, cfg.TopN),
		})
	}
	return rep, nil
}

func rankSwing(set *feature.Set, low, high model.FeatureVector, topN int) []InfluenceEntry {
	entries := make([]InfluenceEntry, 0, set.Len())
	for _, name := range set.Names() {
		a, okA := low.Values[name]
		b, okB := high.Values[name]
		if !okA || !okB {
			continue
		}
		mag := math.Abs(b - a)
		if mag <= 1e-12 {
			continue
		}
		entries = append(entries, InfluenceEntry{Feature: name, Magnitude: mag})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Magnitude != entries[j].Magnitude {
			return entries[i].Magnitude > entries[j].Magnitude
		}
		return entries[i].Feature < entries[j].Feature
	})
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries
}

// Render writes the report as plain text, one block per axis.
func Render(w io.Writer, rep Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "morph influence report\n")
	fmt.Fprintf(&b, "oracle: %s\n", rep.Oracle)
	if !rep.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "generated: %s (%s)\n", rep.GeneratedAt.Format(time.RFC3339), humanize.Time(rep.GeneratedAt))
	}
	fmt.Fprintf(&b, "axes: %s\n", humanize.Comma(int64(len(rep.Axes))))

	for _, axis := range rep.Axes {
		fmt.Fprintf(&b, "\n[%03d] %s\n", axis.Index, axis.Axis)
		if len(axis.Entries) == 0 {
			fmt.Fprintf(&b, "  no measurable feature influence\n")
			continue
		}
		for rank, entry := range axis.Entries {
			fmt.Fprintf(&b, "  %d. %-24s %s\n", rank+1, entry.Feature,
				humanize.FtoaWithDigits(entry.Magnitude, 4))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile renders the report to path, creating parent directories.
func WriteFile(path string, rep Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Render(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
