// Package resolver decides whether a builder can obtain a material and, if
// so, obtains it: from its own inventory, from its station depot, or by
// crafting through the recipe graph up to a bounded depth.
//
// Planning always runs against copies of the inventories. Craft commits the
// copies only when the whole plan succeeds, so a failed attempt leaves both
// inventories untouched.
package resolver

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/recipes"
)

var ErrUnresolvable = errors.New("material cannot be obtained")

const DefaultMaxDepth = 3

type Resolver struct {
	table    *materials.Table
	recipes  *recipes.Catalog
	maxDepth int
	log      *zap.Logger
}

func New(table *materials.Table, cat *recipes.Catalog, maxDepth int, log *zap.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{table: table, recipes: cat, maxDepth: maxDepth, log: log}
}

func (r *Resolver) Table() *materials.Table { return r.table }

// Request asks for the material of a build step. Outstanding is the number
// of remaining task steps that accept a kind compatible with Need; it sizes
// batch crafting. Depot may be nil.
type Request struct {
	Need        string
	Agent       *inventory.Inventory
	Depot       *inventory.Inventory
	Outstanding int
}

type CraftRecord struct {
	RecipeID string
	Output   string
	Batches  int
	Produced int
	Depth    int
}

type Result struct {
	RecipeID string
	Output   string
	Batches  int
	Produced int
	// Trace lists every craft performed, sub-crafts before the crafts that
	// consumed them.
	Trace   []CraftRecord
	Fetched map[string]int
}

// HasQuantity reports whether inv holds ing.Count units matching ing.
func (r *Resolver) HasQuantity(inv *inventory.Inventory, ing materials.Ingredient) bool {
	return inv.Count(func(k string) bool { return r.table.Matches(ing, k) }) >= ing.Count
}

// HeldCompatible counts units in inv usable where kind is required.
func (r *Resolver) HeldCompatible(inv *inventory.Inventory, kind string) int {
	return inv.Count(func(k string) bool { return r.table.Compatible(k, kind) })
}

// CanCraft reports whether Craft would succeed. It does not mutate the
// request's inventories.
func (r *Resolver) CanCraft(req Request) bool {
	_, ok := r.plan(req)
	return ok
}

// Craft obtains at least one unit compatible with req.Need, crafting up to
// as many batches as the outstanding steps call for. Inputs come from the
// agent inventory first, then the depot; outputs land in the agent
// inventory.
func (r *Resolver) Craft(req Request) (Result, error) {
	p, ok := r.plan(req)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", req.Need, ErrUnresolvable)
	}
	req.Agent.CopyFrom(p.agent)
	if req.Depot != nil {
		req.Depot.CopyFrom(p.depot)
	}
	res := p.result
	res.Trace = p.trace
	res.Fetched = p.fetched
	if res.Batches > 0 {
		r.log.Debug("crafted",
			zap.String("need", req.Need),
			zap.String("recipe", res.RecipeID),
			zap.String("output", res.Output),
			zap.Int("batches", res.Batches),
			zap.Int("sub_crafts", len(res.Trace)-1),
		)
	}
	return res, nil
}

func (r *Resolver) plan(req Request) (*planner, bool) {
	p := &planner{r: r, agent: req.Agent.Clone(), fetched: map[string]int{}}
	if req.Depot != nil {
		p.depot = req.Depot.Clone()
	}

	need := r.compatible(req.Need)
	held := p.agent.Count(need.match)
	if held > 0 && held >= req.Outstanding {
		return p, true
	}
	units := max(req.Outstanding-held, 1)

	for _, direct := range []bool{true, false} {
		for _, c := range r.recipes.Producers(r.table, need.match, need.prefer) {
			ins := recipes.Narrow(r.table, c.Recipe, c.Output)
			batches := min(ceilDiv(units, c.Recipe.Output.Count), p.maxFeasible(ins))
			if batches < 1 {
				batches = 1
			}
			for _, b := range uniqueDesc(batches, 1) {
				cp := p.save()
				if p.craft(c, ins, b, 0, !direct) {
					p.result = Result{
						RecipeID: c.Recipe.ID,
						Output:   c.Output,
						Batches:  b,
						Produced: b * c.Recipe.Output.Count,
					}
					return p, true
				}
				p.restore(cp)
			}
		}
	}
	return nil, false
}

type target struct {
	match  func(kind string) bool
	prefer string
}

func (r *Resolver) compatible(kind string) target {
	return target{match: func(k string) bool { return r.table.Compatible(k, kind) }, prefer: kind}
}

func (r *Resolver) ingredient(ing materials.Ingredient) target {
	return target{match: func(k string) bool { return r.table.Matches(ing, k) }, prefer: ing.Item}
}

type planner struct {
	r       *Resolver
	agent   *inventory.Inventory
	depot   *inventory.Inventory
	trace   []CraftRecord
	fetched map[string]int
	result  Result
}

type checkpoint struct {
	agent   []inventory.ItemStack
	depot   []inventory.ItemStack
	trace   int
	fetched map[string]int
}

func (p *planner) save() checkpoint {
	cp := checkpoint{agent: p.agent.Slots(), trace: len(p.trace), fetched: make(map[string]int, len(p.fetched))}
	if p.depot != nil {
		cp.depot = p.depot.Slots()
	}
	for k, v := range p.fetched {
		cp.fetched[k] = v
	}
	return cp
}

func (p *planner) restore(cp checkpoint) {
	for i, s := range cp.agent {
		p.agent.SetSlot(i, s)
	}
	for i, s := range cp.depot {
		p.depot.SetSlot(i, s)
	}
	p.trace = p.trace[:cp.trace]
	p.fetched = cp.fetched
}

// available counts matching units across agent and depot.
func (p *planner) available(t target) int {
	n := p.agent.Count(t.match)
	if p.depot != nil {
		n += p.depot.Count(t.match)
	}
	return n
}

// maxFeasible is how many batches the directly available inputs allow.
func (p *planner) maxFeasible(ins []materials.Ingredient) int {
	best := -1
	for _, in := range ins {
		n := p.available(p.r.ingredient(in)) / in.Count
		if best < 0 || n < best {
			best = n
		}
	}
	return max(best, 0)
}

// fetch moves up to n matching units from the depot into the agent
// inventory and returns how many moved.
func (p *planner) fetch(t target, n int) int {
	if p.depot == nil || n <= 0 {
		return 0
	}
	got := 0
	for _, s := range p.depot.Remove(t.match, n) {
		left := p.agent.Add(s)
		if left > 0 {
			p.depot.Add(inventory.ItemStack{Kind: s.Kind, Count: left, Damage: s.Damage})
		}
		moved := s.Count - left
		if moved > 0 {
			p.fetched[s.Kind] += moved
		}
		got += moved
	}
	return got
}

// obtain makes the agent inventory hold count units matching t. Crafting is
// attempted only when allowed and while depth stays under the bound.
func (p *planner) obtain(t target, count, depth int, allowCraft bool) bool {
	have := p.agent.Count(t.match)
	if have >= count {
		return true
	}
	if p.depot != nil && p.depot.Count(t.match) >= count-have {
		p.fetch(t, count-have)
		return p.agent.Count(t.match) >= count
	}
	if !allowCraft || depth >= p.r.maxDepth {
		return false
	}

	outer := p.save()
	if p.depot != nil {
		p.fetch(t, p.depot.Count(t.match))
	}
	deficit := count - p.agent.Count(t.match)
	if deficit <= 0 {
		return true
	}

	for _, direct := range []bool{true, false} {
		for _, c := range p.r.recipes.Producers(p.r.table, t.match, t.prefer) {
			cp := p.save()
			ins := recipes.Narrow(p.r.table, c.Recipe, c.Output)
			if p.craft(c, ins, ceilDiv(deficit, c.Recipe.Output.Count), depth, !direct) &&
				p.agent.Count(t.match) >= count {
				return true
			}
			p.restore(cp)
		}
	}
	p.restore(outer)
	return false
}

// craft gathers every input into the agent inventory, sets them aside so
// later inputs cannot consume them, and adds the outputs.
func (p *planner) craft(c recipes.Candidate, ins []materials.Ingredient, batches, depth int, recurse bool) bool {
	for _, in := range ins {
		t := p.r.ingredient(in)
		need := in.Count * batches
		if !p.obtain(t, need, depth+1, recurse) {
			return false
		}
		taken := 0
		for _, s := range p.agent.Remove(t.match, need) {
			taken += s.Count
		}
		if taken < need {
			return false
		}
	}
	produced := c.Recipe.Output.Count * batches
	if left := p.agent.Add(inventory.ItemStack{Kind: c.Output, Count: produced}); left > 0 {
		return false
	}
	p.trace = append(p.trace, CraftRecord{
		RecipeID: c.Recipe.ID,
		Output:   c.Output,
		Batches:  batches,
		Produced: produced,
		Depth:    depth,
	})
	return true
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func uniqueDesc(a, b int) []int {
	if a == b {
		return []int{a}
	}
	return []int{a, b}
}
