package queue

import "testing"

func TestBuildSpawnPlanRoundRobin(t *testing.T) {
	counts := map[string]QueueCounts{
		"claude/claude-sonnet-4-5": {Queued: 10, Picked: 0},
		"default/default":         {Queued: 1, Picked: 0},
	}
	limits := map[string]int{
		"claude/claude-sonnet-4-5": 5,
		"default/default":         5,
	}

	plan := BuildSpawnPlan(counts, limits, 4)
	if len(plan) != 4 {
		t.Fatalf("expected 4 planned workers, got %d: %v", len(plan), plan)
	}

	// Round-robin: default/default (only 1 queued) should appear once, then
	// the remaining 3 slots go to the deeply-queued key, but not before the
	// shallow key gets its turn — it must not starve.
	sawDefault := false
	for _, k := range plan {
		if k == "default/default" {
			sawDefault = true
		}
	}
	if !sawDefault {
		t.Error("expected default/default to receive at least one worker (no starvation)")
	}
}

func TestBuildSpawnPlanRespectsGlobalCap(t *testing.T) {
	counts := map[string]QueueCounts{"default": {Queued: 100, Picked: 0}}
	limits := map[string]int{"default": 50}

	plan := BuildSpawnPlan(counts, limits, 3)
	if len(plan) != 3 {
		t.Fatalf("expected plan bounded by global cap 3, got %d", len(plan))
	}
}

func TestBuildSpawnPlanZeroCapacity(t *testing.T) {
	counts := map[string]QueueCounts{"default": {Queued: 5, Picked: 5}}
	limits := map[string]int{"default": 5}

	plan := BuildSpawnPlan(counts, limits, 10)
	if len(plan) != 0 {
		t.Fatalf("expected no spawns at capacity, got %v", plan)
	}
}

func TestBuildSpawnPlanNoGlobalCap(t *testing.T) {
	counts := map[string]QueueCounts{"default": {Queued: 5, Picked: 0}}
	limits := map[string]int{"default": 5}

	plan := BuildSpawnPlan(counts, limits, 0)
	if len(plan) != 0 {
		t.Fatalf("expected no spawns when global cap is zero, got %v", plan)
	}
}
