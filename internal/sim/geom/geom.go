package geom

import "fmt"

// Vec3i is an integer block coordinate.
type Vec3i struct{ X, Y, Z int }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3i) Offset(dx, dy, dz int) Vec3i { return Vec3i{v.X + dx, v.Y + dy, v.Z + dz} }

func (v Vec3i) Below() Vec3i { return Vec3i{v.X, v.Y - 1, v.Z} }

// DistSq is the squared euclidean distance between two block positions.
func (v Vec3i) DistSq(o Vec3i) int {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Box is an axis-aligned box with inclusive bounds.
type Box struct {
	Min Vec3i
	Max Vec3i
}

// BoxAround returns the cube center ± r on every axis.
func BoxAround(center Vec3i, r int) Box {
	return Box{
		Min: center.Offset(-r, -r, -r),
		Max: center.Offset(r, r, r),
	}
}

// Overlaps reports whether the boxes share at least one block. Touching
// faces count as overlap.
func (b Box) Overlaps(o Box) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

func (b Box) Contains(p Vec3i) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}
