// Package worldtest drives a settlement on a grid world through exported
// APIs only, with the shipped catalogs.
package worldtest

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/catalogs"
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/gridworld"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/resolver"
	"settlecraft.ai/internal/sim/settlement"
	"settlecraft.ai/internal/sim/territory"
	"settlecraft.ai/internal/sim/tuning"
)

// Harness owns one host and the world it builds in.
type Harness struct {
	T      *testing.T
	Cats   *catalogs.Catalogs
	Tuning tuning.Tuning
	World  *gridworld.World
	Host   *settlement.Host
}

// RepoRoot walks up from the working directory to the go.mod.
func RepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

// LoadCatalogs loads the shipped catalogs plus extra blueprints given as
// file name to JSON body.
func LoadCatalogs(t *testing.T, extra map[string]string) *catalogs.Catalogs {
	t.Helper()
	src := filepath.Join(RepoRoot(t), "configs")
	dst := t.TempDir()
	for _, name := range []string{"items.json", "blocks.json", "tags.json", "recipes.json"} {
		copyFile(t, filepath.Join(src, name), filepath.Join(dst, name))
	}
	bpDir := filepath.Join(dst, "blueprints")
	if err := os.MkdirAll(bpDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(src, "blueprints"))
	if err != nil {
		t.Fatalf("read blueprints: %v", err)
	}
	for _, e := range entries {
		copyFile(t, filepath.Join(src, "blueprints", e.Name()), filepath.Join(bpDir, e.Name()))
	}
	for name, body := range extra {
		if err := os.WriteFile(filepath.Join(bpDir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	cats, err := catalogs.Load(dst, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	b, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read %s: %v", src, err)
	}
	if err := os.WriteFile(dst, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", dst, err)
	}
}

// DefaultTuning is tuning.Defaults on flat terrain with no idle wandering
// and a short reconcile period.
func DefaultTuning() tuning.Tuning {
	tun := tuning.Defaults()
	tun.World.FoliagePermille, tun.World.StonePermille = 0, 0
	tun.Executor.WanderChance = 0
	tun.Reconcile.Period = 20
	return tun
}

func NewHarness(t *testing.T, cats *catalogs.Catalogs, tun tuning.Tuning) *Harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	w := gridworld.New(tun.World, cats.Table, log.Named("world"))
	res := resolver.New(cats.Table, cats.Recipes, tun.ResolverMaxDepth, log.Named("resolver"))
	exec := executor.New(tun.Executor, res, w, executor.Options{Logger: log.Named("executor"), Seed: 1})
	compiler := blueprint.NewCompiler(cats.Blueprints, tun.Blueprint, log.Named("blueprint"))
	host := settlement.New(tun.Settlement, cats.Table, w, territory.NewRegistry(), compiler, exec, tun.Reconcile,
		settlement.Options{
			Navigators: func(a *model.Agent) executor.Navigator { return w.NewNavigator(&a.Pos) },
			Logger:     log.Named("settlement"),
		})
	return &Harness{T: t, Cats: cats, Tuning: tun, World: w, Host: host}
}

// Anchor is a station position standing on the flat ground.
func (h *Harness) Anchor(x, z int) geom.Vec3i {
	return geom.Vec3i{X: x, Y: h.Tuning.World.GroundY, Z: z}
}

func (h *Harness) Place(pos geom.Vec3i, blueprintID string, rotation int) *model.Station {
	h.T.Helper()
	st, err := h.Host.PlaceStation(pos, blueprintID, rotation)
	if err != nil {
		h.T.Fatalf("place %s at %s: %v", blueprintID, pos, err)
	}
	return st
}

// StepUntil steps until done holds, failing after limit ticks.
func (h *Harness) StepUntil(limit int, done func() bool) {
	h.T.Helper()
	for i := 0; i < limit; i++ {
		if done() {
			return
		}
		h.Host.Step()
	}
	if !done() {
		h.T.Fatalf("condition not reached after %d ticks (tick=%d)", limit, h.Host.Now())
	}
}

// View returns the station view at pos.
func (h *Harness) View(pos geom.Vec3i) settlement.StationView {
	h.T.Helper()
	for _, v := range h.Host.Stations() {
		if v.Pos == pos {
			return v
		}
	}
	h.T.Fatalf("no station at %s", pos)
	return settlement.StationView{}
}

func (h *Harness) Built(pos geom.Vec3i) func() bool {
	return func() bool { return h.View(pos).Built }
}

// BlockAt is the block kind at pos.
func (h *Harness) BlockAt(pos geom.Vec3i) string {
	var kind string
	h.Host.Do(func() { kind = h.World.MaterialAt(pos).Kind })
	return kind
}

// Snapshot captures host and world at one tick.
func (h *Harness) Snapshot() (settlement.Snapshot, gridworld.State) {
	var ws gridworld.State
	set := h.Host.ExportWith(func(uint64) { ws = h.World.Export() })
	return set, ws
}

// Restore builds a fresh harness from a snapshot taken by Snapshot.
func Restore(t *testing.T, cats *catalogs.Catalogs, tun tuning.Tuning, set settlement.Snapshot, ws gridworld.State) *Harness {
	t.Helper()
	h := NewHarness(t, cats, tun)
	if err := h.World.Import(ws); err != nil {
		t.Fatalf("world import: %v", err)
	}
	if _, err := h.Host.Import(set); err != nil {
		t.Fatalf("settlement import: %v", err)
	}
	return h
}
