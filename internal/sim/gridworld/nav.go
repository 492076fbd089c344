package gridworld

import (
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
)

// Navigator walks one body along straight-line paths. Obstacles are
// ignored; the world boundary is not.
type Navigator struct {
	w    *World
	pos  *geom.Vec3i
	path []geom.Vec3i
	next int
	// budget accumulates fractional movement between ticks.
	budget float64
	speed  float64
}

// NewNavigator moves *pos, normally an agent's position field.
func (w *World) NewNavigator(pos *geom.Vec3i) *Navigator {
	return &Navigator{w: w, pos: pos}
}

// FindPath returns the cells from "from" toward "to", stopping once
// within tolerance (Chebyshev) of the target. Targets outside the world
// boundary are unreachable.
func (n *Navigator) FindPath(from, to geom.Vec3i, tolerance int) *executor.Path {
	if !n.w.store.inBounds(to) {
		return nil
	}
	p := &executor.Path{}
	cur := from
	for chebyshev(cur, to) > tolerance {
		cur = geom.Vec3i{X: cur.X + sign(to.X-cur.X), Y: cur.Y + sign(to.Y-cur.Y), Z: cur.Z + sign(to.Z-cur.Z)}
		p.Points = append(p.Points, cur)
	}
	return p
}

func (n *Navigator) FollowPath(p *executor.Path, speed float64) {
	n.path = append(n.path[:0], p.Points...)
	n.next = 0
	n.budget = 0
	n.speed = speed
}

func (n *Navigator) IsPathDone() bool { return n.next >= len(n.path) }

func (n *Navigator) StopNavigation() {
	n.path = n.path[:0]
	n.next = 0
	n.budget = 0
}

// Step advances along the current path by the follow speed, in cells per
// tick. It reports whether the body moved.
func (n *Navigator) Step() bool {
	if n.IsPathDone() {
		return false
	}
	n.budget += n.speed
	moved := false
	for n.budget >= 1 && !n.IsPathDone() {
		*n.pos = n.path[n.next]
		n.next++
		n.budget--
		moved = true
	}
	return moved
}

func chebyshev(a, b geom.Vec3i) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y), abs(a.Z-b.Z))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

var _ executor.Navigator = (*Navigator)(nil)
var _ executor.World = (*World)(nil)
var _ executor.GroundItems = (*World)(nil)
