package tasks

import (
	"testing"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/materials"
)

func stepAt(x int, kind string, prio int) BuildStep {
	return BuildStep{Pos: geom.Vec3i{X: x}, Material: materials.State{Kind: kind}, Priority: prio}
}

func newTask(n int) *BuildTask {
	t := NewBuildTask("test", geom.Vec3i{})
	for i := 0; i < n; i++ {
		t.AddStep(stepAt(i, "COBBLESTONE", 5))
	}
	return t
}

func TestCursorMonotoneAndCompletion(t *testing.T) {
	task := newTask(3)
	prev := task.Cursor()
	for i := 0; i < 5; i++ {
		if task.Completed() != (task.Cursor() >= task.Total()) {
			t.Fatalf("completed flag out of sync at cursor %d", task.Cursor())
		}
		task.Advance()
		if task.Cursor() < prev {
			t.Fatalf("cursor went backwards: %d -> %d", prev, task.Cursor())
		}
		prev = task.Cursor()
	}
	if !task.Completed() || task.Cursor() != 3 {
		t.Fatalf("expected completed at 3, got cursor=%d completed=%v", task.Cursor(), task.Completed())
	}
	if _, ok := task.Next(); ok {
		t.Fatalf("Next on completed task should be absent")
	}
}

func TestEmptyTaskIsCompleted(t *testing.T) {
	task := newTask(0)
	if !task.Completed() {
		t.Fatalf("empty task should be completed")
	}
	if task.Progress() != 1 {
		t.Fatalf("progress=%v", task.Progress())
	}
}

func TestRestoreClamps(t *testing.T) {
	task := newTask(10)
	if got := task.Restore(6); got != 6 || task.Cursor() != 6 || task.Completed() {
		t.Fatalf("restore 6: got=%d cursor=%d completed=%v", got, task.Cursor(), task.Completed())
	}
	if got := task.Restore(42); got != 10 || !task.Completed() {
		t.Fatalf("restore 42: got=%d completed=%v", got, task.Completed())
	}
	if got := task.Restore(-3); got != 0 {
		t.Fatalf("restore -3: got=%d", got)
	}
}

func TestSortStepsStableDescending(t *testing.T) {
	task := NewBuildTask("t", geom.Vec3i{})
	task.AddStep(stepAt(0, "A", 5))
	task.AddStep(stepAt(1, "B", 10))
	task.AddStep(stepAt(2, "C", 5))
	task.AddStep(stepAt(3, "D", 100))
	task.AddStep(stepAt(4, "E", 10))
	task.SortSteps()

	var got []string
	for _, s := range task.Steps() {
		got = append(got, s.Material.Kind)
	}
	want := []string{"D", "B", "E", "A", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v want %v", got, want)
		}
	}
}

func TestRequiredMaterialsAndRemaining(t *testing.T) {
	task := NewBuildTask("t", geom.Vec3i{})
	task.AddStep(stepAt(0, "DIRT", 10))
	task.AddStep(stepAt(1, "DIRT", 10))
	task.AddStep(stepAt(2, "GLASS", 5))
	req := task.RequiredMaterials()
	if req["DIRT"] != 2 || req["GLASS"] != 1 || len(req) != 2 {
		t.Fatalf("required=%v", req)
	}
	task.Advance()
	if n := task.RemainingMatching(func(k string) bool { return k == "DIRT" }); n != 1 {
		t.Fatalf("remaining dirt=%d", n)
	}
	if len(task.Remaining()) != 2 {
		t.Fatalf("remaining=%d", len(task.Remaining()))
	}
}
