// Package settlement hosts the builder stations of one dimension: it
// claims their territory, spawns and ticks their builders, and keeps the
// reconciler informed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/reconcile"
	"settlecraft.ai/internal/sim/territory"
)

var ErrNoStation = errors.New("no station at position")

type Config struct {
	Dimension   string `yaml:"dimension"`
	ClaimRadius int    `yaml:"claim_radius"`
	WorkRadius  int    `yaml:"work_radius"`
	AgentSlots  int    `yaml:"agent_slots"`
	DepotSlots  int    `yaml:"depot_slots"`

	StarterTools []string       `yaml:"starter_tools"`
	DepotKit     map[string]int `yaml:"depot_kit"`

	TickInterval time.Duration `yaml:"tick_interval"`
}

func DefaultConfig() Config {
	return Config{
		Dimension:    "overworld",
		ClaimRadius:  6,
		WorkRadius:   32,
		AgentSlots:   27,
		DepotSlots:   54,
		StarterTools: []string{"WOODEN_PICKAXE", "WOODEN_AXE", "WOODEN_SHOVEL"},
		DepotKit: map[string]int{
			"OAK_LOG":     16,
			"COBBLESTONE": 64,
			"GLASS":       8,
			"DIRT":        32,
		},
		TickInterval: 50 * time.Millisecond,
	}
}

// World is what the host needs beyond the executor's block access: a
// place to spill items when a station is removed.
type World interface {
	executor.World
	SpawnItem(pos geom.Vec3i, s inventory.ItemStack) string
}

// StationLedger persists station lifecycle events.
type StationLedger interface {
	RecordStation(dim string, pos geom.Vec3i, agentID, blueprint string, built bool, tick uint64)
}

// Stepper is implemented by navigators that move their body once per tick.
type Stepper interface {
	Step() bool
}

type Options struct {
	// Navigators creates the navigator for a freshly spawned or restored
	// agent. It may be nil, leaving agents stationary.
	Navigators func(a *model.Agent) executor.Navigator
	Cursors    reconcile.CursorSource
	Ledger     StationLedger
	Logger     *zap.Logger
	// OnTick runs at the end of every Step with the lock held.
	OnTick func(tick uint64)
	// OnReconcile receives the report of every reconciler sweep.
	OnReconcile func(tick uint64, rep reconcile.Report)
}

// Host is safe for concurrent use; every method serializes on one mutex
// and the simulation itself runs inside Step.
type Host struct {
	cfg         Config
	table       *materials.Table
	world       World
	territories *territory.Registry
	compiler    *blueprint.Compiler
	exec        *executor.Executor
	rec         *reconcile.Reconciler
	opts        Options
	log         *zap.Logger

	mu       sync.Mutex
	now      uint64
	stations map[geom.Vec3i]*model.Station
	agents   map[string]*model.Agent
	navs     map[string]executor.Navigator
}

func New(cfg Config, table *materials.Table, world World, territories *territory.Registry,
	compiler *blueprint.Compiler, exec *executor.Executor, rcfg reconcile.Config, opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Host{
		cfg:         cfg,
		table:       table,
		world:       world,
		territories: territories,
		compiler:    compiler,
		exec:        exec,
		opts:        opts,
		log:         opts.Logger,
		stations:    map[geom.Vec3i]*model.Station{},
		agents:      map[string]*model.Agent{},
		navs:        map[string]executor.Navigator{},
	}
	h.rec = reconcile.New(rcfg, view{h}, compiler, exec, opts.Cursors, opts.Logger.Named("reconcile"))
	return h
}

// view exposes lookups to the reconciler, which runs with h.mu held.
type view struct{ h *Host }

func (v view) StationAt(pos geom.Vec3i) (*model.Station, bool) {
	s, ok := v.h.stations[pos]
	return s, ok
}

func (v view) AgentByID(id string) (*model.Agent, bool) {
	a, ok := v.h.agents[id]
	return a, ok
}

func (h *Host) Config() Config { return h.cfg }

func (h *Host) Now() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// PlaceStation claims territory around pos, spawns a builder with starter
// tools and a stocked depot, and assigns it the compiled blueprint. A
// template that does not exist yet leaves the station registered without
// a task; the reconciler picks it up once the template appears.
func (h *Host) PlaceStation(pos geom.Vec3i, blueprintID string, rotation int) (*model.Station, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	task, err := h.compiler.CompileRotated(blueprintID, pos, rotation)
	if err != nil && !errors.Is(err, blueprint.ErrTemplateNotFound) {
		return nil, err
	}
	terr, cerr := h.territories.Claim(h.cfg.Dimension, pos, h.cfg.ClaimRadius, h.cfg.WorkRadius)
	if cerr != nil {
		return nil, cerr
	}

	st := &model.Station{
		Pos:       pos,
		Dimension: h.cfg.Dimension,
		Blueprint: blueprintID,
		Rotation:  blueprint.NormalizeRotation(rotation),
		Territory: terr,
		Depot:     inventory.New(h.cfg.DepotSlots, h.table),
	}
	kinds := make([]string, 0, len(h.cfg.DepotKit))
	for k := range h.cfg.DepotKit {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		if left := st.Depot.Add(inventory.ItemStack{Kind: k, Count: h.cfg.DepotKit[k]}); left > 0 {
			h.log.Warn("depot kit overflow", zap.String("kind", k), zap.Int("dropped", left))
		}
	}

	a := &model.Agent{
		ID:         uuid.NewString(),
		Pos:        pos.Offset(1, 0, 0),
		Home:       pos,
		HasHome:    true,
		WorkRadius: h.cfg.WorkRadius,
		Inventory:  inventory.New(h.cfg.AgentSlots, h.table),
	}
	for _, tool := range h.cfg.StarterTools {
		a.Inventory.Add(inventory.ItemStack{Kind: tool, Count: 1})
	}
	st.AgentID = a.ID

	h.stations[pos] = st
	h.addAgent(a)
	h.rec.Register(pos)
	if task != nil {
		h.exec.Assign(a, task)
	} else {
		h.log.Warn("station placed without template", zap.Stringer("pos", pos), zap.String("blueprint", blueprintID))
	}

	h.recordStation(st)
	h.log.Info("station placed",
		zap.Stringer("pos", pos),
		zap.String("agent", a.ID),
		zap.String("blueprint", blueprintID),
		zap.Int("steps", taskTotal(a)),
	)
	return st, nil
}

func taskTotal(a *model.Agent) int {
	if a.Task == nil {
		return 0
	}
	return a.Task.Total()
}

func (h *Host) addAgent(a *model.Agent) {
	h.agents[a.ID] = a
	if h.opts.Navigators != nil {
		h.navs[a.ID] = h.opts.Navigators(a)
	}
}

// RemoveStation releases the territory, discards the builder and spills
// the depot and the builder's inventory as ground items at pos.
func (h *Host) RemoveStation(pos geom.Vec3i) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.stations[pos]
	if !ok {
		return fmt.Errorf("%s: %w", pos, ErrNoStation)
	}
	h.territories.Release(st.Dimension, pos)
	h.rec.Unregister(pos)
	delete(h.stations, pos)

	spilled := h.spill(pos, st.Depot)
	if a, ok := h.agents[st.AgentID]; ok {
		spilled += h.spill(a.Pos, a.Inventory)
		if nav, ok := h.navs[a.ID]; ok {
			nav.StopNavigation()
		}
		delete(h.agents, a.ID)
		delete(h.navs, a.ID)
	}
	h.log.Info("station removed", zap.Stringer("pos", pos), zap.Int("spilled_stacks", spilled))
	return nil
}

func (h *Host) spill(pos geom.Vec3i, inv *inventory.Inventory) int {
	n := 0
	for _, s := range inv.Stacks() {
		h.world.SpawnItem(pos, s)
		n++
	}
	return n
}

// Step advances the simulation by one tick.
func (h *Host) Step() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.now++
	ids := make([]string, 0, len(h.agents))
	for id := range h.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := h.agents[id]
		nav := h.navs[id]
		if s, ok := nav.(Stepper); ok {
			s.Step()
		}
		c := &executor.Context{Now: h.now, Agent: a, Station: h.stations[a.Home], Nav: nav}
		if !a.HasHome {
			c.Station = nil
		}
		h.exec.Tick(c)
	}

	if rep, swept := h.rec.Tick(h.now); swept {
		h.recordFinished(rep)
		if h.opts.OnReconcile != nil {
			h.opts.OnReconcile(h.now, rep)
		}
	}
	if h.opts.OnTick != nil {
		h.opts.OnTick(h.now)
	}
	return h.now
}

func (h *Host) recordFinished(rep reconcile.Report) {
	for _, pos := range rep.Finished {
		if st, ok := h.stations[pos]; ok {
			h.recordStation(st)
		}
	}
}

func (h *Host) recordStation(st *model.Station) {
	if h.opts.Ledger != nil {
		h.opts.Ledger.RecordStation(st.Dimension, st.Pos, st.AgentID, st.Blueprint, st.StructureBuilt, h.now)
	}
}

// Run steps the host every TickInterval until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	interval := h.cfg.TickInterval
	if interval <= 0 {
		interval = DefaultConfig().TickInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			h.Step()
		}
	}
}

// Do runs fn with the simulation paused.
func (h *Host) Do(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

type StationView struct {
	Pos       geom.Vec3i
	Blueprint string
	AgentID   string
	Built     bool
	Cursor    int
	Total     int
	Active    string
}

// Stations summarizes every station in position order.
func (h *Host) Stations() []StationView {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]StationView, 0, len(h.stations))
	for _, st := range h.stations {
		v := StationView{Pos: st.Pos, Blueprint: st.Blueprint, AgentID: st.AgentID, Built: st.StructureBuilt}
		if a, ok := h.agents[st.AgentID]; ok {
			v.Active = a.Runtime.Active
			v.Cursor = a.SavedCursor
			if a.Task != nil {
				v.Cursor, v.Total = a.Task.Cursor(), a.Task.Total()
			}
		}
		out = append(out, v)
	}
	sortViews(out)
	return out
}

func sortViews(v []StationView) {
	sort.Slice(v, func(i, j int) bool { return less(v[i].Pos, v[j].Pos) })
}

// Agent returns the live agent; callers must hold the pause from Do when
// mutating it.
func (h *Host) Agent(id string) (*model.Agent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[id]
	return a, ok
}

func (h *Host) Station(pos geom.Vec3i) (*model.Station, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stations[pos]
	return s, ok
}

// Pending lists stations the reconciler still tracks.
func (h *Host) Pending() []geom.Vec3i {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Pending()
}
