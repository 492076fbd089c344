package executor

import (
	"errors"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/resolver"
)

const (
	BehaviorAdvance  = "advance_task"
	BehaviorCollect  = "collect_materials"
	BehaviorTools    = "replace_tools"
	BehaviorSurplus  = "return_surplus"
	BehaviorPickup   = "pickup_items"
	BehaviorHome     = "return_home"
	BehaviorWander   = "wander"
	BehaviorLookIdle = "look_around"
)

func (e *Executor) behaviors() []Behavior {
	return []Behavior{
		{Name: BehaviorAdvance, Priority: 1, Precondition: e.canAdvance, OnTick: e.tickAdvance, OnExit: e.stopNav},
		{Name: BehaviorCollect, Priority: 2, BackoffTicks: e.cfg.MaterialRetryTicks, Timeout: e.cfg.BehaviorTimeout,
			Precondition: e.needsMaterial, OnTick: e.tickCollect, OnExit: e.stopNav},
		{Name: BehaviorTools, Priority: 3, BackoffTicks: e.cfg.ToolRetryTicks, Timeout: e.cfg.BehaviorTimeout,
			Precondition: e.canReplaceTools, OnTick: e.tickReplaceTools, OnExit: e.stopNav},
		{Name: BehaviorSurplus, Priority: 4, BackoffTicks: e.cfg.SurplusRetryTicks, Timeout: e.cfg.BehaviorTimeout,
			Precondition: e.hasSurplus, OnTick: e.tickReturnSurplus, OnExit: e.stopNav},
		{Name: BehaviorPickup, Priority: 5, BackoffTicks: e.cfg.PickupInterval, Timeout: e.cfg.BehaviorTimeout,
			Precondition: e.seesGroundItem, OnTick: e.tickPickup, OnExit: e.stopNav},
		{Name: BehaviorHome, Priority: 6, BackoffTicks: e.cfg.StallCooldown, Timeout: e.cfg.BehaviorTimeout,
			Precondition: e.farFromHome, OnTick: e.tickReturnHome, OnExit: e.stopNav},
		{Name: BehaviorWander, Priority: 7, Timeout: e.cfg.BehaviorTimeout,
			Precondition: e.wantsToWander, OnEnter: e.startWander, OnTick: e.tickWander, OnExit: e.stopNav},
		{Name: BehaviorLookIdle, Priority: 8, OnTick: e.tickLookAround},
	}
}

func (e *Executor) stopNav(c *Context) {
	if c.Nav != nil {
		c.Nav.StopNavigation()
	}
}

func (e *Executor) canAdvance(c *Context) bool {
	if !e.hasStation(c) || !c.Agent.InWorkArea(c.Agent.Pos) {
		return false
	}
	step, ok := e.nextStep(c)
	if !ok {
		return false
	}
	if kind, blocked := e.toolBlocked(c); blocked && e.depotHasToolFor(c, kind) {
		return false
	}
	return e.holds(c.Agent, step.Material.Kind) || e.satisfied(step)
}

// toolBlocked reports whether the next step's cell holds a block the agent
// has no tool to clear, and returns that block.
func (e *Executor) toolBlocked(c *Context) (string, bool) {
	step, ok := e.nextStep(c)
	if !ok || e.satisfied(step) {
		return "", false
	}
	cur := e.world.MaterialAt(step.Pos)
	if cur.IsAir() {
		return "", false
	}
	block := e.table.Block(cur.Kind)
	if !block.RequiresTool || block.Replaceable {
		return "", false
	}
	if slot, _ := e.bestTool(c.Agent.Inventory, cur.Kind); slot >= 0 {
		return "", false
	}
	return cur.Kind, true
}

func (e *Executor) tickAdvance(c *Context) Result {
	a := c.Agent
	if a.Runtime.Cooldown > 0 {
		return Continue
	}
	step, ok := e.nextStep(c)
	if !ok {
		return Done
	}
	if e.satisfied(step) {
		e.advance(c)
		a.Runtime.Cooldown = e.cfg.SkipCooldown
		e.rec.StepSkipped()
		return e.afterStep(c)
	}

	arrived, reachable := e.moveTo(c, step.Pos, e.cfg.PlaceReachSq)
	if !reachable {
		e.stall(c, "unreachable")
		return Continue
	}
	if !arrived {
		return Continue
	}

	cur := e.world.MaterialAt(step.Pos)
	if !cur.IsAir() {
		e.clearObstacle(c, step.Pos, cur)
		return Continue
	}

	slot, ok := e.pickMaterial(a.Inventory, step.Material.Kind)
	if !ok {
		return Done
	}
	held := a.Inventory.Slot(slot)
	state := step.Material
	state.Kind = held.Kind
	if !e.world.SetMaterialAt(step.Pos, state) {
		a.Runtime.PlaceFailures++
		e.rec.PlacementRejected()
		if a.Runtime.PlaceFailures >= e.cfg.MaxPlaceFailures {
			a.Runtime.PlaceFailures = 0
			e.stall(c, "placement")
			return Continue
		}
		a.Runtime.Cooldown = e.cfg.FailCooldown
		return Continue
	}
	held.Count--
	a.Inventory.SetSlot(slot, held)
	e.audited(c, step.Pos, cur.Kind, state.Kind, "BUILD")
	e.advance(c)
	a.Runtime.Cooldown = e.cfg.PlaceCooldown
	e.rec.StepPlaced()
	return e.afterStep(c)
}

func (e *Executor) afterStep(c *Context) Result {
	if c.Agent.Task.Completed() {
		return Done
	}
	return Continue
}

func (e *Executor) stall(c *Context, reason string) {
	c.Agent.Runtime.Cooldown = e.cfg.StallCooldown
	e.rec.Stalled(reason)
	e.log.Debug("builder stalled", zap.String("agent", c.Agent.ID), zap.String("reason", reason))
}

// pickMaterial finds a held stack for kind, exact matches first.
func (e *Executor) pickMaterial(inv *inventory.Inventory, kind string) (int, bool) {
	if i, ok := inv.FirstMatch(func(k string) bool { return k == kind }); ok {
		return i, true
	}
	return inv.FirstMatch(func(k string) bool { return e.table.Compatible(k, kind) })
}

// clearObstacle breaks whatever occupies a step's cell.
func (e *Executor) clearObstacle(c *Context, pos geom.Vec3i, cur materials.State) {
	a := c.Agent
	block := e.table.Block(cur.Kind)
	slot, tool := e.bestTool(a.Inventory, cur.Kind)
	if slot < 0 && block.RequiresTool && !block.Replaceable {
		if !a.Runtime.ToolsRequested && !e.depotHasToolFor(c, cur.Kind) {
			a.Runtime.ToolsRequested = true
			e.request(c, e.cfg.ToolNotifyRadius, "Builder %s needs a %s to clear %s", a.ID, toolClassName(block.ToolClass), cur.Kind)
		}
		e.stall(c, "tools")
		return
	}

	for _, drop := range e.world.BreakAndCollect(pos, tool) {
		if left := a.Inventory.Add(drop); left > 0 {
			e.log.Debug("dropped overflow", zap.String("agent", a.ID), zap.String("kind", drop.Kind), zap.Int("count", left))
		}
	}
	if slot >= 0 {
		e.wearTool(a.Inventory, slot)
		a.Runtime.ToolsRequested = false
	}
	e.audited(c, pos, cur.Kind, materials.Air, "CLEAR")
	a.Runtime.Cooldown = e.cfg.ClearCooldown
	e.rec.ObstacleCleared()
}

func (e *Executor) needsMaterial(c *Context) bool {
	if !e.hasStation(c) {
		return false
	}
	step, ok := e.nextStep(c)
	if !ok {
		return false
	}
	return !e.holds(c.Agent, step.Material.Kind) && !e.satisfied(step)
}

func (e *Executor) tickCollect(c *Context) Result {
	a := c.Agent
	step, ok := e.nextStep(c)
	if !ok {
		return Done
	}
	kind := step.Material.Kind
	outstanding := a.Task.RemainingMatching(func(k string) bool { return e.table.Compatible(k, kind) })
	res, err := e.res.Craft(resolver.Request{
		Need:        kind,
		Agent:       a.Inventory,
		Depot:       c.Station.Depot,
		Outstanding: outstanding,
	})
	switch {
	case err == nil:
		for _, cr := range res.Trace {
			e.rec.Crafted(cr.RecipeID, cr.Batches)
		}
		delete(a.Runtime.RequestedMaterials, kind)
		a.Runtime.Cooldown = max(a.Runtime.Cooldown, e.cfg.CraftCooldown)
		return Done
	case !errors.Is(err, resolver.ErrUnresolvable):
		e.log.Warn("resolver", zap.String("agent", a.ID), zap.Error(err))
	}

	arrived, reachable := e.moveTo(c, c.Station.Pos, e.cfg.DepotReachSq)
	if !reachable {
		return Backoff
	}
	if !arrived {
		return Continue
	}
	e.pullRequirements(c)
	if e.holds(a, kind) {
		delete(a.Runtime.RequestedMaterials, kind)
		return Done
	}
	if a.Runtime.RequestedMaterials == nil {
		a.Runtime.RequestedMaterials = map[string]bool{}
	}
	if !a.Runtime.RequestedMaterials[kind] {
		a.Runtime.RequestedMaterials[kind] = true
		e.request(c, e.cfg.MaterialNotifyRadius, "Builder %s needs %s", a.ID, kind)
	}
	e.rec.Stalled("materials")
	return Backoff
}

// pullRequirements moves every depot stack usable by a remaining step into
// the agent inventory.
func (e *Executor) pullRequirements(c *Context) int {
	a, depot := c.Agent, c.Station.Depot
	need := map[string]struct{}{}
	for _, s := range a.Task.Remaining() {
		need[s.Material.Kind] = struct{}{}
	}
	useful := func(kind string) bool {
		if e.table.IsTool(kind) {
			return false
		}
		for k := range need {
			if e.table.Compatible(kind, k) {
				return true
			}
		}
		return false
	}
	moved := 0
	for i := 0; i < depot.Size(); i++ {
		s := depot.Slot(i)
		if s.IsEmpty() || !useful(s.Kind) {
			continue
		}
		left := a.Inventory.Add(s)
		moved += s.Count - left
		s.Count = left
		depot.SetSlot(i, s)
		if left > 0 {
			break
		}
	}
	return moved
}
