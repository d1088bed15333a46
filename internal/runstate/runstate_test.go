package runstate

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendMemoryCapped(t *testing.T) {
	s := New("run1", 123, time.Now())

	for i := 0; i < MaxMemoryEntries+50; i++ {
		s.AppendMemory(MemoryEntry{Kind: KindNote, Content: fmt.Sprintf("entry %d", i)})
	}

	if len(s.MemoryLog) != MaxMemoryEntries {
		t.Fatalf("expected log capped at %d, got %d", MaxMemoryEntries, len(s.MemoryLog))
	}

	// Oldest entries fall off, newest survive.
	if s.MemoryLog[0].Content != "entry 50" {
		t.Errorf("expected oldest surviving entry 50, got %q", s.MemoryLog[0].Content)
	}
	last := s.MemoryLog[len(s.MemoryLog)-1]
	if last.Content != fmt.Sprintf("entry %d", MaxMemoryEntries+49) {
		t.Errorf("unexpected newest entry %q", last.Content)
	}
}

func TestMemoryTail(t *testing.T) {
	s := New("run1", 123, time.Now())
	for i := 0; i < 5; i++ {
		s.AppendMemory(MemoryEntry{Content: fmt.Sprintf("e%d", i)})
	}

	tail := s.MemoryTail(3)
	if len(tail) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tail))
	}
	if tail[0].Content != "e2" || tail[2].Content != "e4" {
		t.Errorf("unexpected tail order: %v", tail)
	}

	if got := s.MemoryTail(100); len(got) != 5 {
		t.Errorf("expected whole log for oversized n, got %d", len(got))
	}
	if got := s.MemoryTail(0); got != nil {
		t.Errorf("expected nil for n=0, got %v", got)
	}
}

func TestRecentFingerprints(t *testing.T) {
	s := New("run1", 123, time.Now())
	s.AppendMemory(MemoryEntry{Kind: KindStep, Fingerprint: "a"})
	s.AppendMemory(MemoryEntry{Kind: KindNote, Content: "not a step"})
	s.AppendMemory(MemoryEntry{Kind: KindStep, Fingerprint: "b"})
	s.AppendMemory(MemoryEntry{Kind: KindStep, Fingerprint: "c"})

	fps := s.RecentFingerprints(2)
	if len(fps) != 2 {
		t.Fatalf("expected 2 fingerprints, got %d", len(fps))
	}
	// Arrival order, notes skipped.
	if fps[0] != "b" || fps[1] != "c" {
		t.Errorf("expected [b c], got %v", fps)
	}

	all := s.RecentFingerprints(10)
	if len(all) != 3 || all[0] != "a" {
		t.Errorf("expected [a b c], got %v", all)
	}
}

func TestPlanCursor(t *testing.T) {
	p := &Plan{
		ID:     "p1",
		GoalID: "g1",
		Steps: []PlanStep{
			{Tool: "click", Status: StepPending},
			{Tool: "type", Status: StepPending},
		},
	}

	step, ok := p.Current()
	if !ok || step.Tool != "click" {
		t.Fatalf("expected first step click, got %v ok=%v", step, ok)
	}
	if p.Exhausted() {
		t.Error("plan with pending steps should not be exhausted")
	}
	if p.Remaining() != 2 {
		t.Errorf("expected 2 remaining, got %d", p.Remaining())
	}

	p.Advance()
	step, ok = p.Current()
	if !ok || step.Tool != "type" {
		t.Fatalf("expected second step type, got %v ok=%v", step, ok)
	}

	p.Advance()
	if _, ok := p.Current(); ok {
		t.Error("expected no current step after last advance")
	}
	if !p.Exhausted() {
		t.Error("expected exhausted plan")
	}

	// A nil plan behaves like an exhausted one.
	var nilPlan *Plan
	if !nilPlan.Exhausted() || nilPlan.Remaining() != 0 {
		t.Error("nil plan should read as exhausted")
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	s := New("run7", 99, now)
	s.Goal = NewGoal("g1", "book a flight", now)
	s.Plan = &Plan{Steps: []PlanStep{{Tool: "search"}, {Tool: "click"}}, Cursor: 1}
	s.AppendMemory(MemoryEntry{Kind: KindStep, Content: "searched"})
	s.Counters.Steps = 1

	sum := s.Summarize(5)
	if sum.RunID != "run7" {
		t.Errorf("expected run id carried, got %q", sum.RunID)
	}
	if sum.Goal == nil || sum.Goal.Description != "book a flight" {
		t.Error("expected goal in summary")
	}
	if len(sum.Recent) != 1 {
		t.Errorf("expected 1 recent entry, got %d", len(sum.Recent))
	}
	if sum.PlanLeft != 1 {
		t.Errorf("expected 1 plan step left, got %d", sum.PlanLeft)
	}
	if sum.Counters.Steps != 1 {
		t.Errorf("expected counters carried, got %+v", sum.Counters)
	}
}
