// Package territory keeps the exclusive volumes claimed by stations, per
// dimension. Claims never overlap, touching boxes included.
package territory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"settlecraft.ai/internal/sim/geom"
)

var ErrClaimConflict = errors.New("territory overlaps an existing claim")

type Territory struct {
	Dimension   string
	Center      geom.Vec3i
	Min         geom.Vec3i
	Max         geom.Vec3i
	ClaimRadius int
	WorkRadius  int
}

func (t Territory) Box() geom.Box { return geom.Box{Min: t.Min, Max: t.Max} }

// InWorkArea reports whether p lies within the work radius of the center.
func (t Territory) InWorkArea(p geom.Vec3i) bool {
	return t.Center.DistSq(p) <= t.WorkRadius*t.WorkRadius
}

// Registry is process scoped: one instance per host, shared by every
// simulation shard that needs it. Each dimension has its own lock.
type Registry struct {
	mu   sync.Mutex
	dims map[string]*dimension
}

type dimension struct {
	mu    sync.Mutex
	items []Territory
}

func NewRegistry() *Registry {
	return &Registry{dims: map[string]*dimension{}}
}

func (r *Registry) dim(id string) *dimension {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dims[id]
	if !ok {
		d = &dimension{}
		r.dims[id] = d
	}
	return d
}

// Claim reserves the cube center ± claimRadius in dim. It fails with
// ErrClaimConflict, leaving the registry unchanged, when the cube overlaps
// any existing territory of that dimension.
func (r *Registry) Claim(dim string, center geom.Vec3i, claimRadius, workRadius int) (Territory, error) {
	if claimRadius < 0 {
		return Territory{}, fmt.Errorf("claim at %v: negative radius %d", center, claimRadius)
	}
	box := geom.BoxAround(center, claimRadius)
	d := r.dim(dim)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.items {
		if t.Box().Overlaps(box) {
			return Territory{}, fmt.Errorf("claim at %v conflicts with %v: %w", center, t.Center, ErrClaimConflict)
		}
	}
	t := Territory{
		Dimension:   dim,
		Center:      center,
		Min:         box.Min,
		Max:         box.Max,
		ClaimRadius: claimRadius,
		WorkRadius:  workRadius,
	}
	d.items = append(d.items, t)
	return t, nil
}

// Restore reinserts a persisted territory. It applies the same overlap rule
// as Claim.
func (r *Registry) Restore(t Territory) error {
	got, err := r.Claim(t.Dimension, t.Center, t.ClaimRadius, t.WorkRadius)
	if err != nil {
		return err
	}
	if got.Box() != t.Box() {
		r.Release(t.Dimension, t.Center)
		return fmt.Errorf("restore %v: bounds do not match radius %d", t.Center, t.ClaimRadius)
	}
	return nil
}

// IsAreaClaimed reports whether box overlaps any territory in dim.
func (r *Registry) IsAreaClaimed(dim string, box geom.Box) bool {
	d := r.dim(dim)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.items {
		if t.Box().Overlaps(box) {
			return true
		}
	}
	return false
}

// Release drops the territory centered at center, if any.
func (r *Registry) Release(dim string, center geom.Vec3i) {
	d := r.dim(dim)
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.items[:0]
	for _, t := range d.items {
		if t.Center != center {
			kept = append(kept, t)
		}
	}
	d.items = kept
}

// AllTerritories returns a copy of the territories in dim, ordered by
// center.
func (r *Registry) AllTerritories(dim string) []Territory {
	d := r.dim(dim)
	d.mu.Lock()
	out := append([]Territory(nil), d.items...)
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Center, out[j].Center
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

// TerritoryAt returns the territory containing p.
func (r *Registry) TerritoryAt(dim string, p geom.Vec3i) (Territory, bool) {
	d := r.dim(dim)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.items {
		if t.Box().Contains(p) {
			return t, true
		}
	}
	return Territory{}, false
}

// Replace swaps every territory of dim for ts. The set is validated as a
// whole with the rules of Restore; on error the registry is unchanged.
func (r *Registry) Replace(dim string, ts []Territory) error {
	staged := NewRegistry()
	for _, t := range ts {
		if t.Dimension != dim {
			return fmt.Errorf("replace %s: territory at %v belongs to %s", dim, t.Center, t.Dimension)
		}
		if err := staged.Restore(t); err != nil {
			return err
		}
	}
	items := staged.dim(dim).items
	d := r.dim(dim)
	d.mu.Lock()
	d.items = items
	d.mu.Unlock()
	return nil
}
