package recipes

import (
	"fmt"

	"settlecraft.ai/internal/sim/materials"
)

// Recipe turns its inputs into Output.Count units of the output. A tag
// output means the recipe can yield any member of that tag, usually
// decided by the variant of its inputs.
type Recipe struct {
	ID     string                 `json:"recipe_id"`
	Inputs []materials.Ingredient `json:"inputs"`
	Output materials.Ingredient   `json:"output"`
}

// Catalog is an ordered, immutable recipe list.
type Catalog struct {
	list []Recipe
	byID map[string]int
}

func NewCatalog(list []Recipe) (*Catalog, error) {
	c := &Catalog{list: make([]Recipe, 0, len(list)), byID: make(map[string]int, len(list))}
	for _, r := range list {
		if err := validate(r); err != nil {
			return nil, err
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("recipe %s: duplicate id", r.ID)
		}
		c.byID[r.ID] = len(c.list)
		c.list = append(c.list, r)
	}
	return c, nil
}

func validate(r Recipe) error {
	if r.ID == "" {
		return fmt.Errorf("recipe: empty id")
	}
	if len(r.Inputs) == 0 {
		return fmt.Errorf("recipe %s: no inputs", r.ID)
	}
	for _, in := range append([]materials.Ingredient{r.Output}, r.Inputs...) {
		if (in.Item == "") == (in.Tag == "") {
			return fmt.Errorf("recipe %s: ingredient needs exactly one of item or tag", r.ID)
		}
		if in.Count <= 0 {
			return fmt.Errorf("recipe %s: %s has non-positive count", r.ID, in.String())
		}
	}
	return nil
}

func (c *Catalog) Len() int { return len(c.list) }

func (c *Catalog) ByID(id string) (Recipe, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Recipe{}, false
	}
	return c.list[i], true
}

func (c *Catalog) All() []Recipe { return append([]Recipe(nil), c.list...) }

// Candidate is one concrete output kind a recipe can produce.
type Candidate struct {
	Recipe Recipe
	Output string
}

// Producers lists, in catalog order, every (recipe, output kind) pair whose
// output satisfies match. For a tag output each matching member becomes a
// candidate; prefer, when non-empty, is moved to the front of its recipe's
// candidates.
func (c *Catalog) Producers(t *materials.Table, match func(kind string) bool, prefer string) []Candidate {
	var out []Candidate
	for _, r := range c.list {
		if r.Output.Item != "" {
			if match(r.Output.Item) {
				out = append(out, Candidate{Recipe: r, Output: r.Output.Item})
			}
			continue
		}
		members := t.Members(r.Output.Tag)
		start := len(out)
		for _, m := range members {
			if !match(m) {
				continue
			}
			if m == prefer && len(out) > start {
				out = append(out[:start], append([]Candidate{{Recipe: r, Output: m}}, out[start:]...)...)
				continue
			}
			out = append(out, Candidate{Recipe: r, Output: m})
		}
	}
	return out
}

// Narrow resolves tag inputs to the member sharing the output's variant,
// so an oak fence asks for oak planks rather than any planks.
func Narrow(t *materials.Table, r Recipe, output string) []materials.Ingredient {
	variant := t.Variant(output)
	ins := make([]materials.Ingredient, len(r.Inputs))
	for i, in := range r.Inputs {
		ins[i] = in
		if in.Tag == "" || variant == "" {
			continue
		}
		if m, ok := t.MemberWithVariant(in.Tag, variant); ok {
			ins[i] = materials.Ingredient{Item: m, Count: in.Count}
		}
	}
	return ins
}
