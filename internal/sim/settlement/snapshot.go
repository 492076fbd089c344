package settlement

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/reconcile"
	"settlecraft.ai/internal/sim/territory"
)

// Snapshot is the persisted state of a host. Tasks are not stored; they
// are recompiled from the blueprint and the saved cursor on import.
type Snapshot struct {
	Dimension string
	Tick      uint64
	Stations  []StationState
	Agents    []AgentState
}

type StationState struct {
	Pos       geom.Vec3i
	Blueprint string
	Rotation  int
	Territory territory.Territory
	AgentID   string
	Built     bool
	Depot     []inventory.ItemStack
}

type AgentState struct {
	ID         string
	Pos        geom.Vec3i
	Home       geom.Vec3i
	HasHome    bool
	WorkRadius int
	Inventory  []inventory.ItemStack
	Cursor     int
}

func (h *Host) Export() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exportLocked()
}

// ExportWith exports the host and runs also in the same critical section,
// so state owned by the world is captured at the same tick.
func (h *Host) ExportWith(also func(tick uint64)) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if also != nil {
		also(h.now)
	}
	return h.exportLocked()
}

func (h *Host) exportLocked() Snapshot {
	snap := Snapshot{Dimension: h.cfg.Dimension, Tick: h.now}
	for _, st := range h.stations {
		snap.Stations = append(snap.Stations, StationState{
			Pos:       st.Pos,
			Blueprint: st.Blueprint,
			Rotation:  st.Rotation,
			Territory: st.Territory,
			AgentID:   st.AgentID,
			Built:     st.StructureBuilt,
			Depot:     st.Depot.Slots(),
		})
	}
	sort.Slice(snap.Stations, func(i, j int) bool { return less(snap.Stations[i].Pos, snap.Stations[j].Pos) })

	for _, a := range h.agents {
		cursor := a.SavedCursor
		if a.Task != nil {
			cursor = a.Task.Cursor()
		}
		snap.Agents = append(snap.Agents, AgentState{
			ID:         a.ID,
			Pos:        a.Pos,
			Home:       a.Home,
			HasHome:    a.HasHome,
			WorkRadius: a.WorkRadius,
			Inventory:  a.Inventory.Slots(),
			Cursor:     cursor,
		})
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	return snap
}

func less(a, b geom.Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// Import replaces the host state with snap and reconciles immediately, so
// builders resume at their saved cursors. A snapshot that cannot be
// restored leaves the host as it was.
func (h *Host) Import(snap Snapshot) (reconcile.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if snap.Dimension != h.cfg.Dimension {
		return reconcile.Report{}, fmt.Errorf("snapshot dimension %q, host serves %q", snap.Dimension, h.cfg.Dimension)
	}

	stations := make(map[geom.Vec3i]*model.Station, len(snap.Stations))
	claims := make([]territory.Territory, 0, len(snap.Stations))
	for _, ss := range snap.Stations {
		depot := inventory.New(h.cfg.DepotSlots, h.table)
		if err := restoreSlots(depot, ss.Depot); err != nil {
			return reconcile.Report{}, fmt.Errorf("station %s depot: %w", ss.Pos, err)
		}
		stations[ss.Pos] = &model.Station{
			Pos:            ss.Pos,
			Dimension:      h.cfg.Dimension,
			Blueprint:      ss.Blueprint,
			Rotation:       ss.Rotation,
			Territory:      ss.Territory,
			Depot:          depot,
			AgentID:        ss.AgentID,
			StructureBuilt: ss.Built,
		}
		claims = append(claims, ss.Territory)
	}
	agents := make([]*model.Agent, 0, len(snap.Agents))
	for _, as := range snap.Agents {
		inv := inventory.New(h.cfg.AgentSlots, h.table)
		if err := restoreSlots(inv, as.Inventory); err != nil {
			return reconcile.Report{}, fmt.Errorf("agent %s inventory: %w", as.ID, err)
		}
		agents = append(agents, &model.Agent{
			ID:          as.ID,
			Pos:         as.Pos,
			Home:        as.Home,
			HasHome:     as.HasHome,
			WorkRadius:  as.WorkRadius,
			Inventory:   inv,
			SavedCursor: as.Cursor,
		})
	}
	if err := h.territories.Replace(h.cfg.Dimension, claims); err != nil {
		return reconcile.Report{}, fmt.Errorf("restore territories: %w", err)
	}

	for pos := range h.stations {
		h.rec.Unregister(pos)
	}
	for _, nav := range h.navs {
		nav.StopNavigation()
	}
	h.stations = stations
	h.agents = map[string]*model.Agent{}
	h.navs = map[string]executor.Navigator{}
	h.now = snap.Tick
	for pos, st := range stations {
		if !st.StructureBuilt {
			h.rec.Register(pos)
		}
	}
	for _, a := range agents {
		h.addAgent(a)
	}

	rep := h.rec.OnLoad()
	h.recordFinished(rep)
	h.log.Info("settlement imported",
		zap.Uint64("tick", h.now),
		zap.Int("stations", len(h.stations)),
		zap.Int("agents", len(h.agents)),
		zap.Int("restored", rep.Restored),
	)
	return rep, nil
}

// restoreSlots copies saved slots into inv position by position, or by
// merging when the slot count shrank.
func restoreSlots(inv *inventory.Inventory, slots []inventory.ItemStack) error {
	if len(slots) <= inv.Size() {
		for i, s := range slots {
			inv.SetSlot(i, s)
		}
		return nil
	}
	for _, s := range slots {
		if left := inv.Add(s); left > 0 {
			return fmt.Errorf("%d %s do not fit", left, s.Kind)
		}
	}
	return nil
}
