package phase

import "testing"

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(DefaultConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestForwardChainAdvancesOnThresholds(t *testing.T) {
	m := newManager(t)
	steps := []struct {
		best float64
		want Phase
	}{
		{0.2, Explore},
		{0.5, Explore}, // thresholds are strict
		{0.51, Refine},
		{0.6, Refine},
		{0.7, Polish},
		{0.8, Exploit},
		{0.95, Finalize},
	}
	for _, step := range steps {
		if got := m.OnBestScore(step.best); got != step.want {
			t.Fatalf("best %v: got %v, want %v", step.best, got, step.want)
		}
	}
	if !m.Terminal() {
		t.Fatal("expected terminal state")
	}
}

func TestChainSkipsPhasesForLargeJumps(t *testing.T) {
	m := newManager(t)
	if got := m.OnBestScore(0.8); got != Exploit {
		t.Fatalf("expected a direct jump to exploit, got %v", got)
	}
}

func TestTransitionsAreOneDirectional(t *testing.T) {
	m := newManager(t)
	m.OnBestScore(0.8)
	if got := m.OnBestScore(0.3); got != Exploit {
		t.Fatalf("a score regression must not demote the phase, got %v", got)
	}
}

func TestEscapeReturnsToInterruptedPhase(t *testing.T) {
	m := newManager(t)
	m.OnBestScore(0.6)
	if got := m.OnStuck(0.6); got != Escape {
		t.Fatalf("expected escape, got %v", got)
	}

	// No improvement: the escape window runs out and we fall back.
	var got Phase
	for i := 0; i < DefaultConfig().EscapeWindow; i++ {
		got = m.OnBestScore(0.6)
	}
	if got != Refine {
		t.Fatalf("expected fallback to refine, got %v", got)
	}
}

func TestEscapeAdvancesWhenItFindsImprovement(t *testing.T) {
	m := newManager(t)
	m.OnBestScore(0.6)
	m.OnStuck(0.6)
	if got := m.OnBestScore(0.78); got != Exploit {
		t.Fatalf("an improving escape should land where the score earns, got %v", got)
	}
}

func TestEscapeBudgetIsFinite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EscapeBudget = 2
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	for i := 0; i < 2; i++ {
		if got := m.OnStuck(0.3); got != Escape {
			t.Fatalf("escape %d: got %v", i, got)
		}
		for j := 0; j < cfg.EscapeWindow; j++ {
			m.OnBestScore(0.3)
		}
	}
	if got := m.OnStuck(0.3); got == Escape {
		t.Fatal("expected the third stuck signal to be ignored")
	}
	if m.EscapesUsed() != 2 {
		t.Fatalf("expected 2 escapes used, got %d", m.EscapesUsed())
	}
}

func TestBudgetExhaustionIsTerminal(t *testing.T) {
	m := newManager(t)
	m.OnBestScore(0.6)
	if got := m.OnBudgetExhausted(); got != Finalize {
		t.Fatalf("expected finalize, got %v", got)
	}
	if got := m.OnStuck(0.6); got != Finalize {
		t.Fatalf("stuck after finalize must be ignored, got %v", got)
	}
	if got := m.OnBestScore(0.99); got != Finalize {
		t.Fatalf("finalize is terminal, got %v", got)
	}
}

func TestStrategyMixFollowsPhase(t *testing.T) {
	m := newManager(t)
	if s := m.Strategy(); s.OptimizerShare != 1.0 || s.FeatureFocused {
		t.Fatalf("explore strategy: %+v", s)
	}
	m.OnBestScore(0.8)
	if s := m.Strategy(); s.OptimizerShare >= 0.5 || !s.FeatureFocused {
		t.Fatalf("exploit strategy: %+v", s)
	}
	m.OnStuck(0.8)
	if s := m.Strategy(); !s.Restart || s.Spread <= 0.3 {
		t.Fatalf("escape strategy: %+v", s)
	}
}
