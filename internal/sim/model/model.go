package model

import (
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/tasks"
	"settlecraft.ai/internal/sim/territory"
)

// Station anchors a territory, owns the depot and links one builder.
type Station struct {
	Pos       geom.Vec3i
	Dimension string
	Blueprint string
	Rotation  int

	Territory      territory.Territory
	Depot          *inventory.Inventory
	AgentID        string
	StructureBuilt bool
}

// Agent is a builder. Runtime is scheduler scratch state and is never
// persisted.
type Agent struct {
	ID         string
	Pos        geom.Vec3i
	Yaw        int
	Home       geom.Vec3i
	HasHome    bool
	WorkRadius int
	Inventory  *inventory.Inventory

	Task *tasks.BuildTask
	// SavedCursor mirrors the task cursor and survives task loss.
	SavedCursor int

	Runtime Runtime
}

// InWorkArea reports whether p is within the agent's work radius of home.
func (a *Agent) InWorkArea(p geom.Vec3i) bool {
	if !a.HasHome {
		return false
	}
	return a.Home.DistSq(p) <= a.WorkRadius*a.WorkRadius
}

type Runtime struct {
	Active     string
	ActiveTick int
	Cooldown   int
	Backoff    map[string]uint64

	RequestedMaterials map[string]bool
	ToolsRequested     bool
	PlaceFailures      int

	PickupScanAt uint64
	PickupTarget string
	PickupPos    geom.Vec3i
	WanderTarget geom.Vec3i
}

// ResetRequests clears notification dedup state, as when a new task is
// assigned.
func (r *Runtime) ResetRequests() {
	r.RequestedMaterials = map[string]bool{}
	r.ToolsRequested = false
}
