package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/tasks"
)

type fakeHost struct {
	stations map[geom.Vec3i]*model.Station
	agents   map[string]*model.Agent
}

func (h *fakeHost) StationAt(p geom.Vec3i) (*model.Station, bool) {
	s, ok := h.stations[p]
	return s, ok
}

func (h *fakeHost) AgentByID(id string) (*model.Agent, bool) {
	a, ok := h.agents[id]
	return a, ok
}

type loader map[string]blueprint.Template

func (l loader) Template(id string) (blueprint.Template, bool) {
	t, ok := l[id]
	return t, ok
}

type assigner struct{ calls int }

func (as *assigner) Assign(a *model.Agent, t *tasks.BuildTask) {
	as.calls++
	a.Task = t
	a.SavedCursor = t.Cursor()
}

type ledger map[string]int

func (l ledger) SavedCursor(agentID string, _ geom.Vec3i) (int, bool) {
	c, ok := l[agentID]
	return c, ok
}

func wall(n int) blueprint.Template {
	tpl := blueprint.Template{ID: "wall"}
	for i := 0; i < n; i++ {
		tpl.Cells = append(tpl.Cells, blueprint.Cell{Pos: [3]int{i, 0, 0}, State: materials.State{Kind: "GLASS"}})
	}
	return tpl
}

var stationPos = geom.Vec3i{X: 10, Y: 64, Z: 10}

func setup(t *testing.T, cursors CursorSource) (*Reconciler, *fakeHost, *assigner) {
	t.Helper()
	host := &fakeHost{
		stations: map[geom.Vec3i]*model.Station{
			stationPos: {Pos: stationPos, Blueprint: "wall", AgentID: "a1"},
		},
		agents: map[string]*model.Agent{
			"a1": {ID: "a1", Home: stationPos, HasHome: true},
		},
	}
	comp := blueprint.NewCompiler(loader{"wall": wall(10)}, blueprint.DefaultRules(), zaptest.NewLogger(t))
	as := &assigner{}
	r := New(DefaultConfig(), host, comp, as, cursors, zaptest.NewLogger(t))
	r.Register(stationPos)
	return r, host, as
}

func TestOnLoadRestoresPersistedCursor(t *testing.T) {
	r, host, as := setup(t, nil)
	a := host.agents["a1"]
	a.SavedCursor = 6

	rep := r.OnLoad()
	assert.Equal(t, Report{Restored: 1, Pending: 1}, rep)
	require.NotNil(t, a.Task)
	assert.Equal(t, 10, a.Task.Total())
	assert.Equal(t, 6, a.Task.Cursor())
	assert.Equal(t, 6, a.SavedCursor)
	assert.Equal(t, 1, as.calls)

	r.Sweep()
	assert.Equal(t, 1, as.calls, "task already attached")
}

func TestCursorFallsBackToLedger(t *testing.T) {
	r, host, _ := setup(t, ledger{"a1": 4})
	r.Sweep()
	assert.Equal(t, 4, host.agents["a1"].Task.Cursor())
}

func TestCursorClampedToTotal(t *testing.T) {
	r, host, _ := setup(t, nil)
	host.agents["a1"].SavedCursor = 25

	rep := r.Sweep()
	assert.Equal(t, 10, host.agents["a1"].Task.Cursor())
	assert.Equal(t, 1, rep.Completed)
	assert.True(t, host.stations[stationPos].StructureBuilt)
	assert.False(t, r.IsRegistered(stationPos))
}

func TestCompletedTaskMarksBuilt(t *testing.T) {
	r, host, _ := setup(t, nil)
	r.Sweep()
	a := host.agents["a1"]
	for !a.Task.Completed() {
		a.Task.Advance()
	}

	_, swept := r.Tick(150)
	assert.False(t, swept)
	rep, swept := r.Tick(200)
	require.True(t, swept)
	assert.Equal(t, 1, rep.Completed)
	assert.True(t, host.stations[stationPos].StructureBuilt)
	assert.Empty(t, r.Pending())
}

func TestMissingAgentSkipped(t *testing.T) {
	r, host, as := setup(t, nil)
	delete(host.agents, "a1")

	rep := r.Sweep()
	assert.Equal(t, Report{Pending: 1}, rep)
	assert.Zero(t, as.calls)
	assert.True(t, r.IsRegistered(stationPos))
}

func TestRemovedOrBuiltStationUnregistered(t *testing.T) {
	r, host, _ := setup(t, nil)
	other := geom.Vec3i{X: 50, Y: 64}
	r.Register(other)
	host.stations[stationPos].StructureBuilt = true

	rep := r.Sweep()
	assert.Equal(t, 2, rep.Dropped)
	assert.Empty(t, r.Pending())
}

func TestMissingTemplateStaysRegistered(t *testing.T) {
	r, host, _ := setup(t, nil)
	host.stations[stationPos].Blueprint = "gone"

	rep := r.Sweep()
	assert.Zero(t, rep.Restored)
	assert.Nil(t, host.agents["a1"].Task)
	assert.True(t, r.IsRegistered(stationPos))
}

func TestPendingOrder(t *testing.T) {
	r, _, _ := setup(t, nil)
	r.Register(geom.Vec3i{X: -4})
	r.Register(geom.Vec3i{X: 10, Y: 1})
	assert.Equal(t, []geom.Vec3i{{X: -4}, {X: 10, Y: 1}, stationPos}, r.Pending())
}
