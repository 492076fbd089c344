package blueprint

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/tasks"
)

type mapLoader map[string]Template

func (m mapLoader) Template(id string) (Template, bool) {
	t, ok := m[id]
	return t, ok
}

func st(kind string) materials.State { return materials.State{Kind: kind} }

func cubeWithAnchor() Template {
	tpl := Template{ID: "test/hut", Size: [3]int{3, 3, 3}}
	for y := 0; y < 3; y++ {
		for z := 0; z < 3; z++ {
			for x := 0; x < 3; x++ {
				kind := "GLASS"
				if x == 2 && y == 0 && z == 2 {
					kind = "CRAFTING_TABLE"
				}
				tpl.Cells = append(tpl.Cells, Cell{Pos: [3]int{x, y, z}, State: st(kind)})
			}
		}
	}
	tpl.Cells = append(tpl.Cells, Cell{Pos: [3]int{2, -1, 2}, State: st("DIRT")})
	return tpl
}

func TestCompileAnchorBeforeSupport(t *testing.T) {
	tpl := cubeWithAnchor()
	c := NewCompiler(mapLoader{tpl.ID: tpl}, DefaultRules(), nil)
	anchor := geom.Vec3i{X: 10, Y: 64, Z: 10}

	task, err := c.Compile(tpl.ID, anchor)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	steps := task.Steps()
	// 27 template cells plus the support, minus the anchor cell itself.
	if len(steps) != 27 {
		t.Fatalf("steps=%d want 27", len(steps))
	}
	want := []tasks.BuildStep{
		{Pos: geom.Vec3i{X: 11, Y: 63, Z: 11}, Material: st("CRAFTING_TABLE"), Priority: 100},
		{Pos: geom.Vec3i{X: 11, Y: 62, Z: 11}, Material: st("DIRT"), Priority: 99},
	}
	if diff := cmp.Diff(want, steps[:2]); diff != "" {
		t.Fatalf("first steps mismatch (-want +got):\n%s", diff)
	}
	// Glass keeps template order: the first glass cell is the template origin.
	if steps[2].Pos != (geom.Vec3i{X: 9, Y: 63, Z: 9}) || steps[2].Priority != 5 {
		t.Fatalf("third step=%+v", steps[2])
	}
	for _, s := range steps {
		if s.Pos == anchor {
			t.Fatalf("anchor cell compiled into a step")
		}
	}
	if task.Cursor() != 0 || task.Completed() {
		t.Fatalf("fresh task should start at cursor 0")
	}
}

func TestCompileSynthesizesSupport(t *testing.T) {
	tpl := Template{ID: "t", Size: [3]int{5, 3, 5}, Cells: []Cell{
		{Pos: [3]int{0, 0, 0}, State: st("COBBLESTONE")},
		{Pos: [3]int{0, 2, 0}, State: st("CRAFTING_TABLE")},
		{Pos: [3]int{1, 0, 0}, State: st("GRASS_BLOCK")},
	}}
	c := NewCompiler(mapLoader{"t": tpl}, DefaultRules(), nil)
	task, err := c.Compile("t", geom.Vec3i{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []tasks.BuildStep{
		{Pos: geom.Vec3i{X: -2, Y: 1, Z: -2}, Material: st("CRAFTING_TABLE"), Priority: 100},
		{Pos: geom.Vec3i{X: -2, Y: 0, Z: -2}, Material: st("DIRT"), Priority: 99},
		{Pos: geom.Vec3i{X: -1, Y: -1, Z: -2}, Material: st("DIRT"), Priority: 10},
		{Pos: geom.Vec3i{X: -2, Y: -1, Z: -2}, Material: st("COBBLESTONE"), Priority: 5},
	}
	if diff := cmp.Diff(want, task.Steps()); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileSkipsAirAndMarker(t *testing.T) {
	tpl := Template{ID: "t", Cells: []Cell{
		{Pos: [3]int{0, 0, 0}, State: st("AIR")},
		{Pos: [3]int{1, 0, 0}, State: st("ENDER_CHEST")},
		{Pos: [3]int{2, 0, 0}, State: st("GLASS")},
		{Pos: [3]int{3, 0, 0}, State: materials.State{}},
	}}
	c := NewCompiler(mapLoader{"t": tpl}, DefaultRules(), nil)
	task, err := c.Compile("t", geom.Vec3i{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if task.Total() != 1 {
		t.Fatalf("steps=%v", task.Steps())
	}
	// Derived size is 4x1x1, so x offsets by -2.
	if got := task.Steps()[0].Pos; got != (geom.Vec3i{X: 0, Y: -1, Z: 0}) {
		t.Fatalf("glass at %v", got)
	}
}

func TestCompileMissingTemplate(t *testing.T) {
	c := NewCompiler(mapLoader{}, DefaultRules(), nil)
	task, err := c.Compile("nope", geom.Vec3i{})
	if task != nil || !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("task=%v err=%v", task, err)
	}
}

func TestCompiledPrioritiesNonIncreasing(t *testing.T) {
	kinds := []string{"GLASS", "DIRT", "CRAFTING_TABLE", "GRASS_BLOCK", "COBBLESTONE", "AIR"}
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		tpl := Template{ID: "r"}
		for i := 0; i < 40; i++ {
			tpl.Cells = append(tpl.Cells, Cell{
				Pos:   [3]int{rng.Intn(6), rng.Intn(4), rng.Intn(6)},
				State: st(kinds[rng.Intn(len(kinds))]),
			})
		}
		task, err := NewCompiler(mapLoader{"r": tpl}, DefaultRules(), nil).Compile("r", geom.Vec3i{Y: 70})
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		steps := task.Steps()
		seen := map[geom.Vec3i]bool{}
		for i := range steps {
			if seen[steps[i].Pos] {
				t.Fatalf("duplicate step at %v", steps[i].Pos)
			}
			seen[steps[i].Pos] = true
			if i > 0 && steps[i-1].Priority < steps[i].Priority {
				t.Fatalf("iter %d: priority rises at %d: %d < %d", iter, i, steps[i-1].Priority, steps[i].Priority)
			}
		}
	}
}

func TestCompileRotated(t *testing.T) {
	tpl := Template{ID: "t", Size: [3]int{3, 1, 3}, Cells: []Cell{{Pos: [3]int{2, 0, 1}, State: st("GLASS")}}}
	c := NewCompiler(mapLoader{"t": tpl}, DefaultRules(), nil)
	for _, tc := range []struct {
		rot  int
		want geom.Vec3i
	}{
		{0, geom.Vec3i{X: 1, Y: -1, Z: 0}},
		{90, geom.Vec3i{X: 0, Y: -1, Z: -1}},
		{2, geom.Vec3i{X: -1, Y: -1, Z: 0}},
		{-1, geom.Vec3i{X: 0, Y: -1, Z: 1}},
	} {
		task, err := c.CompileRotated("t", geom.Vec3i{}, tc.rot)
		if err != nil {
			t.Fatalf("rot %d: %v", tc.rot, err)
		}
		if got := task.Steps()[0].Pos; got != tc.want {
			t.Fatalf("rot %d: got %v want %v", tc.rot, got, tc.want)
		}
	}
}

func TestNormalizeRotation(t *testing.T) {
	cases := map[int]int{0: 0, 3: 3, 4: 0, -1: 3, 90: 1, 180: 2, 270: 3, -90: 3, 360: 0}
	for in, want := range cases {
		if got := NormalizeRotation(in); got != want {
			t.Fatalf("NormalizeRotation(%d)=%d want %d", in, got, want)
		}
	}
}
