package executor

import (
	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/inventory"
)

// Surplus lists the agent slots that should go back to the depot. A
// finished task returns every non-tool stack; otherwise only stacks that
// no step of the task can use.
func (e *Executor) Surplus(c *Context) []int {
	a := c.Agent
	if a.Task == nil {
		return nil
	}
	done := a.Task.Completed()
	required := a.Task.RequiredMaterials()
	var out []int
	for i := 0; i < a.Inventory.Size(); i++ {
		s := a.Inventory.Slot(i)
		if s.IsEmpty() || e.table.IsTool(s.Kind) {
			continue
		}
		if done || !e.usedBy(s.Kind, required) {
			out = append(out, i)
		}
	}
	return out
}

func (e *Executor) usedBy(kind string, required map[string]int) bool {
	for k := range required {
		if e.table.Compatible(kind, k) {
			return true
		}
	}
	return false
}

func (e *Executor) hasSurplus(c *Context) bool {
	return e.hasStation(c) && len(e.Surplus(c)) > 0
}

func (e *Executor) tickReturnSurplus(c *Context) Result {
	arrived, reachable := e.moveTo(c, c.Station.Pos, e.cfg.DepotReachSq)
	if !reachable {
		return Backoff
	}
	if !arrived {
		return Continue
	}
	a, depot := c.Agent, c.Station.Depot
	full := false
	for _, i := range e.Surplus(c) {
		s := a.Inventory.Slot(i)
		left := depot.Add(s)
		s.Count = left
		a.Inventory.SetSlot(i, s)
		if left > 0 {
			full = true
		}
	}
	if full {
		e.log.Debug("depot full", zap.String("agent", a.ID), zap.Stringer("depot", c.Station.Pos))
		return Backoff
	}
	return Done
}

// seesGroundItem looks for loose items near the agent, at most once per
// pickup interval.
func (e *Executor) seesGroundItem(c *Context) bool {
	gi, ok := e.world.(GroundItems)
	if !ok || !c.Agent.HasHome {
		return false
	}
	rt := &c.Agent.Runtime
	if rt.PickupTarget != "" {
		return true
	}
	if c.Now < rt.PickupScanAt {
		return false
	}
	rt.PickupScanAt = c.Now + uint64(e.cfg.PickupInterval)
	for _, it := range gi.ItemsNear(c.Agent.Pos, e.cfg.PickupRadius) {
		if !c.Agent.InWorkArea(it.Pos) || !e.fits(c.Agent.Inventory, it.Stack) {
			continue
		}
		rt.PickupTarget, rt.PickupPos = it.ID, it.Pos
		return true
	}
	return false
}

func (e *Executor) fits(inv *inventory.Inventory, s inventory.ItemStack) bool {
	return inv.Clone().Add(s) < s.Count
}

func (e *Executor) tickPickup(c *Context) Result {
	rt := &c.Agent.Runtime
	arrived, reachable := e.moveTo(c, rt.PickupPos, e.cfg.PickupReachSq)
	if !reachable {
		rt.PickupTarget = ""
		return Backoff
	}
	if !arrived {
		return Continue
	}
	id := rt.PickupTarget
	rt.PickupTarget = ""
	stack, ok := e.world.(GroundItems).TakeItem(id)
	if !ok {
		return Done
	}
	if left := c.Agent.Inventory.Add(stack); left > 0 {
		e.log.Debug("pickup overflow", zap.String("agent", c.Agent.ID), zap.String("kind", stack.Kind), zap.Int("count", left))
	}
	return Done
}

func (e *Executor) farFromHome(c *Context) bool {
	a := c.Agent
	return a.HasHome && a.Pos.DistSq(a.Home) > e.cfg.ReturnHomeDistSq
}

func (e *Executor) tickReturnHome(c *Context) Result {
	arrived, reachable := e.moveTo(c, c.Agent.Home, e.cfg.ReturnHomeDistSq)
	switch {
	case !reachable:
		return Backoff
	case arrived:
		return Done
	}
	return Continue
}

func (e *Executor) wantsToWander(c *Context) bool {
	if c.Nav == nil {
		return false
	}
	if c.Agent.Runtime.Active == BehaviorWander {
		return true
	}
	if !c.Nav.IsPathDone() || e.cfg.WanderChance <= 0 {
		return false
	}
	return e.rng.Intn(e.cfg.WanderChance) == 0
}

func (e *Executor) startWander(c *Context) {
	a := c.Agent
	origin := a.Pos
	if a.HasHome {
		origin = a.Home
	}
	r := e.cfg.WanderRange
	a.Runtime.WanderTarget = origin.Add(geom.Vec3i{
		X: e.rng.Intn(2*r+1) - r,
		Z: e.rng.Intn(2*r+1) - r,
	})
	if p := c.Nav.FindPath(a.Pos, a.Runtime.WanderTarget, e.cfg.PathTolerance); p != nil {
		c.Nav.FollowPath(p, e.cfg.MoveSpeed)
	}
}

func (e *Executor) tickWander(c *Context) Result {
	if c.Nav.IsPathDone() {
		return Done
	}
	return Continue
}

func (e *Executor) tickLookAround(c *Context) Result {
	c.Agent.Yaw = (c.Agent.Yaw + 15 + e.rng.Intn(60)) % 360
	return Done
}
