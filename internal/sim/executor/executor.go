// Package executor drives builder agents one tick at a time: it advances
// their build task, gathers and crafts materials, keeps their tools usable
// and idles when nothing else applies.
package executor

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/resolver"
	"settlecraft.ai/internal/sim/tasks"
)

// World is the block access the executor needs.
type World interface {
	MaterialAt(pos geom.Vec3i) materials.State
	// SetMaterialAt may refuse, e.g. when the cell is occupied.
	SetMaterialAt(pos geom.Vec3i, s materials.State) bool
	// BreakAndCollect destroys the block with tool ("" for bare hands) and
	// returns its drops.
	BreakAndCollect(pos geom.Vec3i, tool string) []inventory.ItemStack
}

// GroundItems is implemented by worlds that have loose item entities.
type GroundItems interface {
	ItemsNear(center geom.Vec3i, radius int) []GroundItem
	TakeItem(id string) (inventory.ItemStack, bool)
}

type GroundItem struct {
	ID    string
	Pos   geom.Vec3i
	Stack inventory.ItemStack
}

type Path struct {
	Points []geom.Vec3i
}

// Navigator moves one agent. FindPath returns nil when the target is
// unreachable.
type Navigator interface {
	FindPath(from, to geom.Vec3i, tolerance int) *Path
	FollowPath(p *Path, speed float64)
	IsPathDone() bool
	StopNavigation()
}

// Notifier delivers fire-and-forget messages to observers near origin.
type Notifier interface {
	NotifyNearby(origin geom.Vec3i, radius int, msg string)
}

// Recorder receives executor events for metrics.
type Recorder interface {
	StepPlaced()
	StepSkipped()
	ObstacleCleared()
	PlacementRejected()
	Stalled(reason string)
	Crafted(recipeID string, batches int)
	BehaviorRan(name string)
}

// ProgressSink is told about every cursor change.
type ProgressSink interface {
	RecordProgress(agentID string, station geom.Vec3i, cursor, total int, tick uint64)
}

// Auditor records block changes made by agents.
type Auditor interface {
	AuditSetBlock(tick uint64, actor string, pos geom.Vec3i, from, to string, reason string)
}

type Options struct {
	Notifier Notifier
	Recorder Recorder
	Progress ProgressSink
	Auditor  Auditor
	Logger   *zap.Logger
	Seed     int64
}

// Context is the per-tick view of one agent.
type Context struct {
	Now     uint64
	Agent   *model.Agent
	Station *model.Station
	Nav     Navigator
}

type Executor struct {
	cfg      Config
	table    *materials.Table
	res      *resolver.Resolver
	world    World
	notify   Notifier
	rec      Recorder
	progress ProgressSink
	audit    Auditor
	log      *zap.Logger
	rng      *rand.Rand
	sched    *Scheduler
}

func New(cfg Config, res *resolver.Resolver, world World, opts Options) *Executor {
	e := &Executor{
		cfg:      cfg,
		table:    res.Table(),
		res:      res,
		world:    world,
		notify:   opts.Notifier,
		rec:      opts.Recorder,
		progress: opts.Progress,
		audit:    opts.Auditor,
		log:      opts.Logger,
		rng:      rand.New(rand.NewSource(opts.Seed)),
	}
	if e.notify == nil {
		e.notify = nopNotifier{}
	}
	if e.rec == nil {
		e.rec = NopRecorder{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.sched = NewScheduler(e.behaviors()...)
	return e
}

// Scheduler exposes the behavior list, mostly for inspection.
func (e *Executor) Scheduler() *Scheduler { return e.sched }

// Assign hands a task to the agent and resets its notification state.
func (e *Executor) Assign(a *model.Agent, t *tasks.BuildTask) {
	a.Task = t
	a.Runtime.ResetRequests()
	a.Runtime.PlaceFailures = 0
	if t != nil {
		a.SavedCursor = t.Cursor()
	}
}

// Tick runs one scheduling round and returns the behavior that ran.
func (e *Executor) Tick(c *Context) string {
	if c.Agent.Runtime.Cooldown > 0 {
		c.Agent.Runtime.Cooldown--
	}
	ran, err := e.sched.Tick(c)
	if err != nil {
		e.log.Error("scheduler tick", zap.String("agent", c.Agent.ID), zap.Error(err))
		return ""
	}
	if ran != "" {
		e.rec.BehaviorRan(ran)
	}
	return ran
}

func (e *Executor) hasStation(c *Context) bool {
	return c.Station != nil && c.Agent.HasHome
}

func (e *Executor) nextStep(c *Context) (tasks.BuildStep, bool) {
	t := c.Agent.Task
	if t == nil || t.Completed() {
		return tasks.BuildStep{}, false
	}
	return t.Next()
}

func (e *Executor) holds(a *model.Agent, kind string) bool {
	return e.res.HeldCompatible(a.Inventory, kind) > 0
}

func (e *Executor) satisfied(step tasks.BuildStep) bool {
	return e.table.Compatible(e.world.MaterialAt(step.Pos).Kind, step.Material.Kind)
}

// advance moves the cursor and publishes the new progress.
func (e *Executor) advance(c *Context) {
	a := c.Agent
	a.Task.Advance()
	a.SavedCursor = a.Task.Cursor()
	a.Runtime.PlaceFailures = 0
	if e.progress != nil {
		e.progress.RecordProgress(a.ID, a.Home, a.Task.Cursor(), a.Task.Total(), c.Now)
	}
	if a.Task.Completed() {
		e.log.Info("build task completed",
			zap.String("agent", a.ID),
			zap.String("task", a.Task.Name),
			zap.Stringer("anchor", a.Task.Anchor),
		)
	}
}

// moveTo steers the agent toward target. It reports arrival, and false ok
// when no path exists.
func (e *Executor) moveTo(c *Context, target geom.Vec3i, reachSq int) (arrived, ok bool) {
	if c.Agent.Pos.DistSq(target) <= reachSq {
		if c.Nav != nil {
			c.Nav.StopNavigation()
		}
		return true, true
	}
	if c.Nav == nil {
		return false, false
	}
	if c.Nav.IsPathDone() {
		p := c.Nav.FindPath(c.Agent.Pos, target, e.cfg.PathTolerance)
		if p == nil {
			return false, false
		}
		c.Nav.FollowPath(p, e.cfg.MoveSpeed)
	}
	return false, true
}

func (e *Executor) audited(c *Context, pos geom.Vec3i, from, to, reason string) {
	if e.audit != nil {
		e.audit.AuditSetBlock(c.Now, c.Agent.ID, pos, from, to, reason)
	}
}

func (e *Executor) request(c *Context, radius int, format string, args ...any) {
	origin := c.Agent.Pos
	if c.Station != nil {
		origin = c.Station.Pos
	}
	e.notify.NotifyNearby(origin, radius, fmt.Sprintf(format, args...))
}

type nopNotifier struct{}

func (nopNotifier) NotifyNearby(geom.Vec3i, int, string) {}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) StepPlaced()         {}
func (NopRecorder) StepSkipped()        {}
func (NopRecorder) ObstacleCleared()    {}
func (NopRecorder) PlacementRejected()  {}
func (NopRecorder) Stalled(string)      {}
func (NopRecorder) Crafted(string, int) {}
func (NopRecorder) BehaviorRan(string)  {}
