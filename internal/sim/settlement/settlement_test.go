package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/gridworld"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/materials/materialstest"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/reconcile"
	"settlecraft.ai/internal/sim/resolver"
	"settlecraft.ai/internal/sim/territory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type loader map[string]blueprint.Template

func (l loader) Template(id string) (blueprint.Template, bool) {
	t, ok := l[id]
	return t, ok
}

type ledgerEntry struct {
	pos   geom.Vec3i
	built bool
}

type memLedger struct{ entries []ledgerEntry }

func (l *memLedger) RecordStation(_ string, pos geom.Vec3i, _, _ string, built bool, _ uint64) {
	l.entries = append(l.entries, ledgerEntry{pos: pos, built: built})
}

// glassRow is three glass blocks one above ground, centred on the anchor.
func glassRow() blueprint.Template {
	t := blueprint.Template{ID: "glass_row", Size: [3]int{3, 3, 1}}
	for x := 0; x < 3; x++ {
		t.Cells = append(t.Cells, blueprint.Cell{Pos: [3]int{x, 2, 0}, State: materials.State{Kind: "GLASS"}})
	}
	return t
}

type env struct {
	host   *Host
	world  *gridworld.World
	loader loader
	ledger *memLedger
	build  func() *Host
}

var origin = geom.Vec3i{X: 0, Y: 64, Z: 0}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	tbl := materialstest.Table(t)
	gen := gridworld.DefaultGen()
	gen.FoliagePermille, gen.StonePermille = 0, 0

	e := &env{
		world:  gridworld.New(gen, tbl, log),
		loader: loader{"glass_row": glassRow()},
		ledger: &memLedger{},
	}
	res := resolver.New(tbl, materialstest.Catalog(t), resolver.DefaultMaxDepth, log)
	ecfg := executor.DefaultConfig()
	ecfg.WanderChance = 0

	e.build = func() *Host {
		exec := executor.New(ecfg, res, e.world, executor.Options{Logger: log, Seed: 1})
		compiler := blueprint.NewCompiler(e.loader, blueprint.DefaultRules(), log)
		return New(DefaultConfig(), tbl, e.world, territory.NewRegistry(), compiler, exec,
			reconcile.Config{Period: 10}, Options{
				Navigators: func(a *model.Agent) executor.Navigator { return e.world.NewNavigator(&a.Pos) },
				Ledger:     e.ledger,
				Logger:     log,
			})
	}
	e.host = e.build()
	return e
}

func (e *env) stepUntil(t *testing.T, limit int, done func() bool) {
	t.Helper()
	for i := 0; i < limit; i++ {
		if done() {
			return
		}
		e.host.Step()
	}
	require.True(t, done(), "condition not reached after %d ticks", limit)
}

func TestPlaceStationSpawnsBuilder(t *testing.T) {
	e := newEnv(t)
	st, err := e.host.PlaceStation(origin, "glass_row", 0)
	require.NoError(t, err)

	a, ok := e.host.Agent(st.AgentID)
	require.True(t, ok)
	assert.Equal(t, origin, a.Home)
	assert.Equal(t, origin.Offset(1, 0, 0), a.Pos)
	require.NotNil(t, a.Task)
	assert.Equal(t, 3, a.Task.Total())
	assert.Equal(t, 1, a.Inventory.CountKind("WOODEN_AXE"))
	assert.Equal(t, 8, st.Depot.CountKind("GLASS"))
	assert.Equal(t, []geom.Vec3i{origin}, e.host.Pending())
	require.Len(t, e.ledger.entries, 1)
	assert.False(t, e.ledger.entries[0].built)
}

func TestPlaceStationRejectsOverlap(t *testing.T) {
	e := newEnv(t)
	_, err := e.host.PlaceStation(origin, "glass_row", 0)
	require.NoError(t, err)

	_, err = e.host.PlaceStation(origin.Offset(3, 0, 0), "glass_row", 0)
	require.ErrorIs(t, err, territory.ErrClaimConflict)
	assert.Len(t, e.host.Stations(), 1)
}

func TestPlaceStationWithoutTemplateWaitsForReconcile(t *testing.T) {
	e := newEnv(t)
	st, err := e.host.PlaceStation(origin, "later", 0)
	require.NoError(t, err)

	a, _ := e.host.Agent(st.AgentID)
	assert.Nil(t, a.Task)
	assert.Equal(t, []geom.Vec3i{origin}, e.host.Pending())

	e.host.Do(func() { e.loader["later"] = glassRow() })
	e.stepUntil(t, 10, func() bool {
		a, _ := e.host.Agent(st.AgentID)
		var assigned bool
		e.host.Do(func() { assigned = a.Task != nil })
		return assigned
	})
}

func TestRemoveStationSpillsInventories(t *testing.T) {
	e := newEnv(t)
	st, err := e.host.PlaceStation(origin, "glass_row", 0)
	require.NoError(t, err)

	require.NoError(t, e.host.RemoveStation(origin))
	// four depot kit stacks and three starter tools
	assert.Equal(t, 7, e.world.ItemCount())
	_, ok := e.host.Agent(st.AgentID)
	assert.False(t, ok)
	assert.Empty(t, e.host.Pending())

	err = e.host.RemoveStation(origin)
	assert.True(t, errors.Is(err, ErrNoStation))

	_, err = e.host.PlaceStation(origin, "glass_row", 0)
	assert.NoError(t, err, "territory should be released")
}

func TestStepBuildsStructure(t *testing.T) {
	e := newEnv(t)
	_, err := e.host.PlaceStation(origin, "glass_row", 0)
	require.NoError(t, err)

	e.stepUntil(t, 500, func() bool {
		v := e.host.Stations()
		return len(v) == 1 && v[0].Built
	})
	for _, x := range []int{-1, 0, 1} {
		assert.Equal(t, "GLASS", e.world.MaterialAt(geom.Vec3i{X: x, Y: 65, Z: 0}).Kind)
	}
	assert.Empty(t, e.host.Pending())
	last := e.ledger.entries[len(e.ledger.entries)-1]
	assert.Equal(t, ledgerEntry{pos: origin, built: true}, last)
}

func TestExportImportResumesCursor(t *testing.T) {
	e := newEnv(t)
	st, err := e.host.PlaceStation(origin, "glass_row", 0)
	require.NoError(t, err)

	cursor := func(h *Host) int {
		for _, v := range h.Stations() {
			if v.Pos == origin {
				return v.Cursor
			}
		}
		return -1
	}
	e.stepUntil(t, 200, func() bool { return cursor(e.host) >= 1 })
	saved := e.host.Export()
	require.Len(t, saved.Stations, 1)
	require.Len(t, saved.Agents, 1)
	want := saved.Agents[0].Cursor
	require.Less(t, want, 3)

	e.host = e.build()
	rep, err := e.host.Import(saved)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Restored)
	assert.Equal(t, saved.Tick, e.host.Now())

	a, ok := e.host.Agent(st.AgentID)
	require.True(t, ok)
	require.NotNil(t, a.Task)
	assert.Equal(t, want, a.Task.Cursor())
	assert.Equal(t, saved.Agents[0].Inventory, a.Inventory.Slots())
	assert.Equal(t, saved, e.host.Export())

	_, err = e.host.PlaceStation(origin.Offset(2, 0, 0), "glass_row", 0)
	assert.ErrorIs(t, err, territory.ErrClaimConflict, "territory restored")
}

func TestImportRejectsOtherDimension(t *testing.T) {
	e := newEnv(t)
	_, err := e.host.Import(Snapshot{Dimension: "nether"})
	assert.Error(t, err)
}

func TestFailedImportKeepsLiveState(t *testing.T) {
	e := newEnv(t)
	st, err := e.host.PlaceStation(origin, "glass_row", 0)
	require.NoError(t, err)

	bad := e.host.Export()
	extra := bad.Stations[0]
	extra.Pos = origin.Offset(2, 0, 0)
	extra.AgentID = ""
	extra.Territory.Center = extra.Pos
	extra.Territory.Min = extra.Territory.Min.Offset(2, 0, 0)
	extra.Territory.Max = extra.Territory.Max.Offset(2, 0, 0)
	bad.Stations = append(bad.Stations, extra)
	bad.Tick = 500

	_, err = e.host.Import(bad)
	require.ErrorIs(t, err, territory.ErrClaimConflict)

	a, ok := e.host.Agent(st.AgentID)
	require.True(t, ok, "builder kept")
	assert.NotNil(t, a.Task)
	assert.Len(t, e.host.Stations(), 1)
	assert.Equal(t, []geom.Vec3i{origin}, e.host.Pending())
	assert.Equal(t, uint64(0), e.host.Now())

	_, err = e.host.PlaceStation(origin.Offset(3, 0, 0), "glass_row", 0)
	assert.ErrorIs(t, err, territory.ErrClaimConflict, "territory kept")
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.host.Run(ctx) }()

	require.Eventually(t, func() bool { return e.host.Now() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestExportWithRunsAtSnapshotTick(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 5; i++ {
		e.host.Step()
	}
	var seen uint64
	snap := e.host.ExportWith(func(tick uint64) { seen = tick })
	assert.Equal(t, uint64(5), seen)
	assert.Equal(t, snap.Tick, seen)
}
