// Package reconcile periodically re-attaches build tasks to builders that
// lost them, typically after a reload, and retires stations whose
// structure is finished.
package reconcile

import (
	"errors"
	"sort"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/tasks"
)

// Host resolves registered station positions and agent ids to live
// objects.
type Host interface {
	StationAt(pos geom.Vec3i) (*model.Station, bool)
	AgentByID(id string) (*model.Agent, bool)
}

type Compiler interface {
	CompileRotated(id string, anchor geom.Vec3i, rotation int) (*tasks.BuildTask, error)
}

type Assigner interface {
	Assign(a *model.Agent, t *tasks.BuildTask)
}

// CursorSource is a durable record of build progress, consulted when the
// agent itself carries no cursor.
type CursorSource interface {
	SavedCursor(agentID string, station geom.Vec3i) (int, bool)
}

type Config struct {
	Period int `yaml:"period"`
}

func DefaultConfig() Config { return Config{Period: 100} }

type Report struct {
	Restored  int
	Completed int
	Dropped   int
	Pending   int
	// Finished lists stations marked built during the sweep.
	Finished []geom.Vec3i
}

// Reconciler is driven from the simulation loop and is not safe for
// concurrent use.
type Reconciler struct {
	cfg      Config
	host     Host
	compiler Compiler
	assign   Assigner
	cursors  CursorSource
	log      *zap.Logger

	pending map[geom.Vec3i]struct{}
}

func New(cfg Config, host Host, compiler Compiler, assign Assigner, cursors CursorSource, log *zap.Logger) *Reconciler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultConfig().Period
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		cfg:      cfg,
		host:     host,
		compiler: compiler,
		assign:   assign,
		cursors:  cursors,
		log:      log,
		pending:  map[geom.Vec3i]struct{}{},
	}
}

func (r *Reconciler) Register(station geom.Vec3i)   { r.pending[station] = struct{}{} }
func (r *Reconciler) Unregister(station geom.Vec3i) { delete(r.pending, station) }

func (r *Reconciler) IsRegistered(station geom.Vec3i) bool {
	_, ok := r.pending[station]
	return ok
}

// Pending lists registered stations in x, y, z order.
func (r *Reconciler) Pending() []geom.Vec3i {
	out := make([]geom.Vec3i, 0, len(r.pending))
	for p := range r.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

// Tick sweeps when nowTick falls on the configured period.
func (r *Reconciler) Tick(nowTick uint64) (Report, bool) {
	if nowTick%uint64(r.cfg.Period) != 0 {
		return Report{}, false
	}
	return r.Sweep(), true
}

// OnLoad sweeps immediately, so restored builders resume without waiting
// for the next period.
func (r *Reconciler) OnLoad() Report {
	rep := r.Sweep()
	r.log.Info("reconciled after load",
		zap.Int("restored", rep.Restored),
		zap.Int("completed", rep.Completed),
		zap.Int("pending", rep.Pending),
	)
	return rep
}

func (r *Reconciler) Sweep() Report {
	var rep Report
	for _, pos := range r.Pending() {
		st, ok := r.host.StationAt(pos)
		if !ok || st.StructureBuilt {
			r.Unregister(pos)
			rep.Dropped++
			continue
		}
		a, ok := r.host.AgentByID(st.AgentID)
		if !ok {
			continue
		}
		if a.Task == nil {
			if !r.restore(st, a) {
				continue
			}
			rep.Restored++
		}
		if a.Task.Completed() {
			st.StructureBuilt = true
			r.Unregister(pos)
			rep.Completed++
			rep.Finished = append(rep.Finished, pos)
			r.log.Info("structure built",
				zap.Stringer("station", pos),
				zap.String("agent", a.ID),
				zap.String("blueprint", st.Blueprint),
			)
		}
	}
	rep.Pending = len(r.pending)
	return rep
}

func (r *Reconciler) restore(st *model.Station, a *model.Agent) bool {
	task, err := r.compiler.CompileRotated(st.Blueprint, st.Pos, st.Rotation)
	if err != nil {
		lvl := r.log.Warn
		if errors.Is(err, blueprint.ErrTemplateNotFound) {
			lvl = r.log.Debug
		}
		lvl("recompile failed", zap.Stringer("station", st.Pos), zap.Error(err))
		return false
	}
	cursor := a.SavedCursor
	if cursor == 0 && r.cursors != nil {
		if c, ok := r.cursors.SavedCursor(a.ID, st.Pos); ok {
			cursor = c
		}
	}
	applied := task.Restore(cursor)
	r.assign.Assign(a, task)
	r.log.Debug("task restored",
		zap.String("agent", a.ID),
		zap.Stringer("station", st.Pos),
		zap.Int("cursor", applied),
		zap.Int("total", task.Total()),
	)
	return true
}
