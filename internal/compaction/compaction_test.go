package compaction

import "testing"

// ---------------------------------------------------------------------------
// Gating
// ---------------------------------------------------------------------------

func TestShouldCompact_NeedsBothGates(t *testing.T) {
	s := NewState(Settings{StepCadence: 5, CharThreshold: 10_000, KeepLast: 2, SummaryMaxChars: 500})

	// Steps without volume: no compaction.
	for i := 0; i < 10; i++ {
		s.RecordStep(10)
	}
	if s.ShouldCompact() {
		t.Error("char threshold not met; must not compact")
	}

	// Volume without steps: reset and add one huge step.
	s2 := NewState(Settings{StepCadence: 5, CharThreshold: 10_000, KeepLast: 2, SummaryMaxChars: 500})
	s2.RecordStep(50_000)
	if s2.ShouldCompact() {
		t.Error("step cadence not met; must not compact")
	}

	// Both gates met.
	for i := 0; i < 5; i++ {
		s2.RecordStep(10)
	}
	if !s2.ShouldCompact() {
		t.Error("both gates met; should compact")
	}
	if s2.Hint() == "" {
		t.Error("hint should surface when compaction is due")
	}
}

func TestMarkCompacted_ResetsGates(t *testing.T) {
	s := NewState(Settings{StepCadence: 3, CharThreshold: 5_000, KeepLast: 1, SummaryMaxChars: 500})
	for i := 0; i < 4; i++ {
		s.RecordStep(2_000)
	}
	if !s.ShouldCompact() {
		t.Fatal("setup should compact")
	}

	s.MarkCompacted(1_000)
	if s.ShouldCompact() {
		t.Error("gates must reset after compaction")
	}
	if s.Compactions() != 1 {
		t.Errorf("compactions = %d", s.Compactions())
	}
}

// ---------------------------------------------------------------------------
// Settings normalization
// ---------------------------------------------------------------------------

func TestSettingsNormalize(t *testing.T) {
	got := Settings{StepCadence: 1, CharThreshold: 1, KeepLast: 99, SummaryMaxChars: 1}.normalize()
	if got.StepCadence < 3 || got.CharThreshold < 5_000 || got.SummaryMaxChars < 200 {
		t.Errorf("floors not applied: %+v", got)
	}
	if got.KeepLast >= got.StepCadence {
		t.Errorf("keep_last %d must stay below cadence %d", got.KeepLast, got.StepCadence)
	}
}

func TestDefaultSettings(t *testing.T) {
	d := DefaultSettings()
	if d.StepCadence != 15 || d.CharThreshold != 40_000 || d.KeepLast != 5 {
		t.Errorf("defaults = %+v", d)
	}
}
