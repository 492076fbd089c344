package tasks

import (
	"sort"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/materials"
)

// BuildStep is one block placement. Steps are immutable once added.
type BuildStep struct {
	Pos      geom.Vec3i
	Material materials.State
	Priority int
}

// BuildTask is an ordered list of steps and a cursor to the next one.
// A task is completed exactly when the cursor has passed every step.
type BuildTask struct {
	Name   string
	Anchor geom.Vec3i

	steps  []BuildStep
	cursor int
}

func NewBuildTask(name string, anchor geom.Vec3i) *BuildTask {
	return &BuildTask{Name: name, Anchor: anchor}
}

func (t *BuildTask) AddStep(s BuildStep) { t.steps = append(t.steps, s) }

// SortSteps orders steps by descending priority, keeping insertion order
// among equal priorities.
func (t *BuildTask) SortSteps() {
	sort.SliceStable(t.steps, func(i, j int) bool {
		return t.steps[i].Priority > t.steps[j].Priority
	})
}

// Next returns the step at the cursor.
func (t *BuildTask) Next() (BuildStep, bool) {
	if t.cursor >= len(t.steps) {
		return BuildStep{}, false
	}
	return t.steps[t.cursor], true
}

// Advance moves the cursor past the current step. It is a no-op on a
// completed task.
func (t *BuildTask) Advance() {
	if t.cursor < len(t.steps) {
		t.cursor++
	}
}

func (t *BuildTask) Completed() bool { return t.cursor >= len(t.steps) }

func (t *BuildTask) Cursor() int { return t.cursor }

func (t *BuildTask) Total() int { return len(t.steps) }

// Restore sets the cursor from persisted progress, clamped to
// [0, Total()], and returns the value applied.
func (t *BuildTask) Restore(cursor int) int {
	t.cursor = max(0, min(cursor, len(t.steps)))
	return t.cursor
}

func (t *BuildTask) Steps() []BuildStep { return append([]BuildStep(nil), t.steps...) }

// Remaining returns the steps from the cursor on.
func (t *BuildTask) Remaining() []BuildStep {
	return append([]BuildStep(nil), t.steps[t.cursor:]...)
}

// RequiredMaterials is the multiset of step material kinds over the whole
// task.
func (t *BuildTask) RequiredMaterials() map[string]int {
	out := map[string]int{}
	for _, s := range t.steps {
		out[s.Material.Kind]++
	}
	return out
}

// RemainingMatching counts steps from the cursor on whose kind satisfies
// match.
func (t *BuildTask) RemainingMatching(match func(kind string) bool) int {
	n := 0
	for _, s := range t.steps[t.cursor:] {
		if match(s.Material.Kind) {
			n++
		}
	}
	return n
}

// Progress is the fraction of steps done, 1 for an empty task.
func (t *BuildTask) Progress() float64 {
	if len(t.steps) == 0 {
		return 1
	}
	return float64(t.cursor) / float64(len(t.steps))
}
