package inventory

import (
	"sort"

	"settlecraft.ai/internal/sim/materials"
)

// ItemStack is the content of one slot. Damage is only meaningful for tools.
type ItemStack struct {
	Kind   string `json:"kind"`
	Count  int    `json:"count"`
	Damage int    `json:"damage,omitempty"`
}

func (s ItemStack) IsEmpty() bool { return s.Kind == "" || s.Count <= 0 }

// Limits reports the per-slot stack limit of a kind.
type Limits interface {
	MaxStack(kind string) int
}

type defaultLimits struct{}

func (defaultLimits) MaxStack(string) int { return materials.DefaultMaxStack }

// Inventory is a fixed number of slots. It is not safe for concurrent use;
// the simulation loop owns it.
type Inventory struct {
	slots  []ItemStack
	limits Limits
}

func New(size int, limits Limits) *Inventory {
	if limits == nil {
		limits = defaultLimits{}
	}
	return &Inventory{slots: make([]ItemStack, size), limits: limits}
}

func (inv *Inventory) Size() int { return len(inv.slots) }

func (inv *Inventory) Slot(i int) ItemStack { return inv.slots[i] }

func (inv *Inventory) SetSlot(i int, s ItemStack) {
	if s.Count <= 0 {
		s = ItemStack{}
	}
	inv.slots[i] = s
}

// Slots returns a copy of every slot, empty ones included.
func (inv *Inventory) Slots() []ItemStack { return append([]ItemStack(nil), inv.slots...) }

// Stacks returns the non-empty stacks.
func (inv *Inventory) Stacks() []ItemStack {
	var out []ItemStack
	for _, s := range inv.slots {
		if !s.IsEmpty() {
			out = append(out, s)
		}
	}
	return out
}

func (inv *Inventory) IsEmpty() bool {
	for _, s := range inv.slots {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

// Add merges s into matching stacks first, then fills empty slots. It
// returns the count that did not fit.
func (inv *Inventory) Add(s ItemStack) int {
	if s.IsEmpty() {
		return 0
	}
	limit := inv.limits.MaxStack(s.Kind)
	left := s.Count
	if limit > 1 {
		for i := range inv.slots {
			cur := &inv.slots[i]
			if left == 0 {
				break
			}
			if cur.IsEmpty() || cur.Kind != s.Kind || cur.Damage != s.Damage || cur.Count >= limit {
				continue
			}
			n := min(limit-cur.Count, left)
			cur.Count += n
			left -= n
		}
	}
	for i := range inv.slots {
		if left == 0 {
			break
		}
		if !inv.slots[i].IsEmpty() {
			continue
		}
		n := min(limit, left)
		inv.slots[i] = ItemStack{Kind: s.Kind, Count: n, Damage: s.Damage}
		left -= n
	}
	return left
}

// Count sums units whose kind satisfies match.
func (inv *Inventory) Count(match func(kind string) bool) int {
	n := 0
	for _, s := range inv.slots {
		if !s.IsEmpty() && match(s.Kind) {
			n += s.Count
		}
	}
	return n
}

func (inv *Inventory) CountKind(kind string) int {
	return inv.Count(func(k string) bool { return k == kind })
}

// Remove takes up to n matching units, earliest slots first, and returns
// the removed units grouped by kind in slot order.
func (inv *Inventory) Remove(match func(kind string) bool, n int) []ItemStack {
	var out []ItemStack
	for i := range inv.slots {
		if n <= 0 {
			break
		}
		cur := &inv.slots[i]
		if cur.IsEmpty() || !match(cur.Kind) {
			continue
		}
		take := min(cur.Count, n)
		out = appendMerged(out, ItemStack{Kind: cur.Kind, Count: take, Damage: cur.Damage})
		cur.Count -= take
		n -= take
		if cur.Count == 0 {
			*cur = ItemStack{}
		}
	}
	return out
}

func appendMerged(out []ItemStack, s ItemStack) []ItemStack {
	for i := range out {
		if out[i].Kind == s.Kind && out[i].Damage == s.Damage {
			out[i].Count += s.Count
			return out
		}
	}
	return append(out, s)
}

// TakeSlot empties slot i and returns what it held.
func (inv *Inventory) TakeSlot(i int) ItemStack {
	s := inv.slots[i]
	inv.slots[i] = ItemStack{}
	return s
}

// FirstMatch returns the first non-empty slot whose kind satisfies match.
func (inv *Inventory) FirstMatch(match func(kind string) bool) (int, bool) {
	for i, s := range inv.slots {
		if !s.IsEmpty() && match(s.Kind) {
			return i, true
		}
	}
	return -1, false
}

// Kinds lists the distinct kinds held, sorted.
func (inv *Inventory) Kinds() []string {
	seen := map[string]struct{}{}
	for _, s := range inv.slots {
		if !s.IsEmpty() {
			seen[s.Kind] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Totals returns units per kind.
func (inv *Inventory) Totals() map[string]int {
	out := map[string]int{}
	for _, s := range inv.slots {
		if !s.IsEmpty() {
			out[s.Kind] += s.Count
		}
	}
	return out
}

func (inv *Inventory) Clone() *Inventory {
	return &Inventory{slots: inv.Slots(), limits: inv.limits}
}

// CopyFrom overwrites inv's slots with src's. Sizes must match.
func (inv *Inventory) CopyFrom(src *Inventory) {
	copy(inv.slots, src.slots)
}
