package executor

import (
	"strings"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/materials"
)

// Worn reports whether a tool stack has used up more than the configured
// fraction of its durability. Non-tools are never worn.
func (e *Executor) Worn(s inventory.ItemStack) bool {
	def, ok := e.table.Tool(s.Kind)
	if !ok {
		return false
	}
	return float64(s.Damage) > e.cfg.ToolWornFraction*float64(def.MaxDurability)
}

// NeedsTools reports whether any core tool class is missing from inv or
// present only in worn form.
func (e *Executor) NeedsTools(inv *inventory.Inventory) bool {
	for _, class := range materials.CoreToolClasses {
		if !e.hasUsable(inv, class) {
			return true
		}
	}
	return false
}

func (e *Executor) hasUsable(inv *inventory.Inventory, class materials.ToolClass) bool {
	for _, s := range inv.Stacks() {
		def, ok := e.table.Tool(s.Kind)
		if ok && def.Class == class && !e.Worn(s) {
			return true
		}
	}
	return false
}

// bestTool picks the slot to break blockKind with: the correct tool with
// the highest speed, else any tool faster than bare hands. It returns -1
// when neither exists.
func (e *Executor) bestTool(inv *inventory.Inventory, blockKind string) (int, string) {
	best, bestSpeed, bestCorrect := -1, 1.0, false
	for i := 0; i < inv.Size(); i++ {
		s := inv.Slot(i)
		if s.IsEmpty() || !e.table.IsTool(s.Kind) {
			continue
		}
		speed := e.table.Speed(s.Kind, blockKind)
		correct := e.table.IsCorrectTool(s.Kind, blockKind)
		switch {
		case correct && (!bestCorrect || speed > bestSpeed):
			best, bestSpeed, bestCorrect = i, speed, true
		case !correct && !bestCorrect && speed > bestSpeed:
			best, bestSpeed = i, speed
		}
	}
	if best < 0 {
		return -1, ""
	}
	return best, inv.Slot(best).Kind
}

// wearTool adds one point of damage and removes the tool once broken.
func (e *Executor) wearTool(inv *inventory.Inventory, slot int) {
	s := inv.Slot(slot)
	def, ok := e.table.Tool(s.Kind)
	if !ok {
		return
	}
	s.Damage++
	if s.Damage >= def.MaxDurability {
		inv.SetSlot(slot, inventory.ItemStack{})
		return
	}
	inv.SetSlot(slot, s)
}

func (e *Executor) depotHasToolFor(c *Context, blockKind string) bool {
	if c.Station == nil || c.Station.Depot == nil {
		return false
	}
	slot, _ := e.bestTool(c.Station.Depot, blockKind)
	return slot >= 0
}

func toolClassName(c materials.ToolClass) string {
	if c == "" {
		return "tool"
	}
	return strings.ToLower(string(c))
}

func (e *Executor) canReplaceTools(c *Context) bool {
	if !e.hasStation(c) {
		return false
	}
	if e.NeedsTools(c.Agent.Inventory) {
		return true
	}
	kind, blocked := e.toolBlocked(c)
	return blocked && e.depotHasToolFor(c, kind)
}

func (e *Executor) tickReplaceTools(c *Context) Result {
	a := c.Agent
	arrived, reachable := e.moveTo(c, c.Station.Pos, e.cfg.DepotReachSq)
	if !reachable {
		return Backoff
	}
	if !arrived {
		return Continue
	}
	swapped := e.swapTools(c)
	if kind, blocked := e.toolBlocked(c); blocked && e.fetchToolFor(c, kind) {
		swapped++
	}
	if swapped > 0 {
		e.log.Debug("tools replaced", zap.String("agent", a.ID), zap.Int("count", swapped))
	}
	if _, blocked := e.toolBlocked(c); !blocked && !e.NeedsTools(a.Inventory) {
		a.Runtime.ToolsRequested = false
		return Done
	}
	if !a.Runtime.ToolsRequested {
		a.Runtime.ToolsRequested = true
		e.request(c, e.cfg.ToolNotifyRadius, "Builder %s needs tools", a.ID)
	}
	e.rec.Stalled("tools")
	return Backoff
}

// swapTools exchanges worn or missing core tools for fresh ones from the
// depot. Worn tools go back into the slot the fresh one came from.
func (e *Executor) swapTools(c *Context) int {
	a, depot := c.Agent, c.Station.Depot
	swapped := 0
	for _, class := range materials.CoreToolClasses {
		if e.hasUsable(a.Inventory, class) {
			continue
		}
		src := e.freshToolSlot(depot, class)
		if src < 0 {
			continue
		}
		fresh := depot.Slot(src)
		if worn, ok := a.Inventory.FirstMatch(func(k string) bool { return e.isClass(k, class) }); ok {
			depot.SetSlot(src, a.Inventory.Slot(worn))
			a.Inventory.SetSlot(worn, fresh)
			swapped++
			continue
		}
		if a.Inventory.Add(fresh) == 0 {
			depot.SetSlot(src, inventory.ItemStack{})
			swapped++
		}
	}
	return swapped
}

// fetchToolFor moves the depot tool best suited to blockKind into the
// agent's inventory.
func (e *Executor) fetchToolFor(c *Context, blockKind string) bool {
	depot := c.Station.Depot
	src, _ := e.bestTool(depot, blockKind)
	if src < 0 {
		return false
	}
	if c.Agent.Inventory.Add(depot.Slot(src)) > 0 {
		return false
	}
	depot.SetSlot(src, inventory.ItemStack{})
	return true
}

func (e *Executor) isClass(kind string, class materials.ToolClass) bool {
	def, ok := e.table.Tool(kind)
	return ok && def.Class == class
}

// freshToolSlot finds the fastest unworn tool of class in inv.
func (e *Executor) freshToolSlot(inv *inventory.Inventory, class materials.ToolClass) int {
	best, bestSpeed := -1, 0.0
	for i := 0; i < inv.Size(); i++ {
		s := inv.Slot(i)
		if s.IsEmpty() || e.Worn(s) {
			continue
		}
		def, ok := e.table.Tool(s.Kind)
		if !ok || def.Class != class {
			continue
		}
		if def.Speed > bestSpeed {
			best, bestSpeed = i, def.Speed
		}
	}
	return best
}
