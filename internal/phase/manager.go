// Package phase drives the session state machine: which strategy mix is
// active given the best-seen score and the stuck signal.
package phase

import (
	"errors"
	"fmt"
)

type Phase int

const (
	Explore Phase = iota
	Refine
	Polish
	Exploit
	Escape
	Finalize
)

func (p Phase) String() string {
	switch p {
	case Explore:
		return "explore"
	case Refine:
		return "refine"
	case Polish:
		return "polish"
	case Exploit:
		return "exploit"
	case Escape:
		return "escape"
	case Finalize:
		return "finalize"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Strategy is the knob mix a phase hands to the orchestrator.
type Strategy struct {
	// OptimizerShare is the fraction of iterations spent on the global
	// population search; the rest goes to local refinement.
	OptimizerShare float64
	// Spread is the sampling width as a fraction of each axis range.
	Spread float64
	// FeatureFocused biases refinement toward the recommended feature's
	// parameter indices.
	FeatureFocused bool
	// Restart asks for a fresh wide distribution around the best candidate.
	Restart bool
}

type Config struct {
	// Score thresholds advancing the forward chain.
	RefineAt   float64
	PolishAt   float64
	ExploitAt  float64
	FinalizeAt float64
	// EscapeBudget is how many escape excursions one session may take.
	EscapeBudget int
	// EscapeWindow is how many score updates an escape lasts without
	// improvement before falling back to the interrupted phase.
	EscapeWindow int
	// EscapeMinImprovement is the best-score gain that ends an escape early.
	EscapeMinImprovement float64
}

func DefaultConfig() Config {
	return Config{
		RefineAt:             0.5,
		PolishAt:             0.65,
		ExploitAt:            0.75,
		FinalizeAt:           0.9,
		EscapeBudget:         8,
		EscapeWindow:         5,
		EscapeMinImprovement: 0.01,
	}
}

func (c *Config) normalize() error {
	if !(c.RefineAt > 0 && c.RefineAt < c.PolishAt && c.PolishAt < c.ExploitAt && c.ExploitAt < c.FinalizeAt && c.FinalizeAt < 1) {
		return errors.New("phase thresholds must be increasing in (0,1)")
	}
	if c.EscapeBudget < 0 {
		return errors.New("escape budget must be >= 0")
	}
	if c.EscapeWindow <= 0 {
		return errors.New("escape window must be > 0")
	}
	if c.EscapeMinImprovement <= 0 {
		return errors.New("escape min improvement must be > 0")
	}
	return nil
}

// Manager holds the session phase. Transitions are one-directional except
// Escape, which returns to the phase it interrupted.
type Manager struct {
	cfg   Config
	state Phase

	resume      Phase
	escapeBase  float64
	escapeTicks int
	escapesUsed int
}

func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, state: Explore}, nil
}

func (m *Manager) Phase() Phase {
	return m.state
}

func (m *Manager) Terminal() bool {
	return m.state == Finalize
}

// OnBestScore re-evaluates the phase against a best-seen score update.
func (m *Manager) OnBestScore(best float64) Phase {
	if m.state == Finalize {
		return m.state
	}
	if m.state == Escape {
		if best > m.escapeBase+m.cfg.EscapeMinImprovement {
			m.state = m.resume
		} else {
			m.escapeTicks++
			if m.escapeTicks >= m.cfg.EscapeWindow {
				m.state = m.resume
			} else {
				return m.state
			}
		}
	}
	m.advance(best)
	return m.state
}

// advance walks the forward chain as far as the score allows. An escape
// that found real improvement lands in the phase the new score earns.
func (m *Manager) advance(best float64) {
	switch {
	case best > m.cfg.FinalizeAt:
		m.state = Finalize
	case best > m.cfg.ExploitAt:
		if m.state < Exploit {
			m.state = Exploit
		}
	case best > m.cfg.PolishAt:
		if m.state < Polish {
			m.state = Polish
		}
	case best > m.cfg.RefineAt:
		if m.state < Refine {
			m.state = Refine
		}
	}
}

// OnStuck enters Escape from any non-terminal phase while budget remains.
func (m *Manager) OnStuck(best float64) Phase {
	if m.state == Finalize || m.state == Escape {
		return m.state
	}
	if m.escapesUsed >= m.cfg.EscapeBudget {
		return m.state
	}
	m.escapesUsed++
	m.resume = m.state
	m.escapeBase = best
	m.escapeTicks = 0
	m.state = Escape
	return m.state
}

// OnBudgetExhausted forces the terminal phase.
func (m *Manager) OnBudgetExhausted() Phase {
	m.state = Finalize
	return m.state
}

func (m *Manager) EscapesUsed() int {
	return m.escapesUsed
}

// Strategy maps the current phase to its knob mix.
func (m *Manager) Strategy() Strategy {
	switch m.state {
	case Explore:
		return Strategy{OptimizerShare: 1.0, Spread: 0.3}
	case Refine:
		return Strategy{OptimizerShare: 0.7, Spread: 0.2}
	case Polish:
		return Strategy{OptimizerShare: 0.3, Spread: 0.1, FeatureFocused: true}
	case Exploit:
		return Strategy{OptimizerShare: 0.1, Spread: 0.05, FeatureFocused: true}
	case Escape:
		return Strategy{OptimizerShare: 1.0, Spread: 0.5, Restart: true}
	default:
		return Strategy{}
	}
}
