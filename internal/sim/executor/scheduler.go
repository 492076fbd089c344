package executor

import (
	"sort"

	bt "github.com/joeycumines/go-behaviortree"
)

// Result is what a behavior reports after one tick.
type Result int

const (
	// Continue keeps the behavior active.
	Continue Result = iota
	// Done ends the behavior's episode; it may be selected again next tick.
	Done
	// Backoff ends the episode and suppresses the behavior for its
	// BackoffTicks.
	Backoff
)

// Behavior is one entry of the priority list. Lower Priority runs first.
// Precondition must not have side effects beyond caching lookups in the
// agent's runtime state.
type Behavior struct {
	Name         string
	Priority     int
	BackoffTicks int
	// Timeout, when positive, backs the behavior off after that many
	// consecutive active ticks.
	Timeout int

	Precondition func(*Context) bool
	OnEnter      func(*Context)
	OnTick       func(*Context) Result
	OnExit       func(*Context)
}

// Scheduler evaluates behaviors top-down each tick and runs only the first
// whose precondition holds.
type Scheduler struct {
	behaviors []Behavior
	byName    map[string]*Behavior
}

func NewScheduler(behaviors ...Behavior) *Scheduler {
	s := &Scheduler{behaviors: append([]Behavior(nil), behaviors...), byName: map[string]*Behavior{}}
	sort.SliceStable(s.behaviors, func(i, j int) bool { return s.behaviors[i].Priority < s.behaviors[j].Priority })
	for i := range s.behaviors {
		s.byName[s.behaviors[i].Name] = &s.behaviors[i]
	}
	return s
}

// Names lists behaviors in evaluation order.
func (s *Scheduler) Names() []string {
	out := make([]string, len(s.behaviors))
	for i, b := range s.behaviors {
		out[i] = b.Name
	}
	return out
}

// Tick runs one scheduling round for c.Agent and returns the name of the
// behavior that ran, or "" when none applied.
func (s *Scheduler) Tick(c *Context) (string, error) {
	children := make([]bt.Node, 0, len(s.behaviors))
	ran := ""
	for i := range s.behaviors {
		b := &s.behaviors[i]
		children = append(children, bt.New(func([]bt.Node) (bt.Status, error) {
			if !s.eligible(c, b) {
				return bt.Failure, nil
			}
			ran = b.Name
			return s.run(c, b), nil
		}))
	}
	status, err := bt.New(bt.Selector, children...).Tick()
	if err != nil {
		return "", err
	}
	if status == bt.Failure {
		s.switchTo(c, nil)
	}
	return ran, nil
}

func (s *Scheduler) eligible(c *Context, b *Behavior) bool {
	rt := &c.Agent.Runtime
	if until, ok := rt.Backoff[b.Name]; ok {
		if c.Now < until {
			return false
		}
		delete(rt.Backoff, b.Name)
	}
	return b.Precondition == nil || b.Precondition(c)
}

func (s *Scheduler) run(c *Context, b *Behavior) bt.Status {
	s.switchTo(c, b)
	rt := &c.Agent.Runtime
	rt.ActiveTick++

	res := Continue
	if b.OnTick != nil {
		res = b.OnTick(c)
	}
	if res == Continue && b.Timeout > 0 && rt.ActiveTick >= b.Timeout {
		res = Backoff
	}
	switch res {
	case Done:
		s.switchTo(c, nil)
		return bt.Success
	case Backoff:
		s.switchTo(c, nil)
		if b.BackoffTicks > 0 {
			if rt.Backoff == nil {
				rt.Backoff = map[string]uint64{}
			}
			rt.Backoff[b.Name] = c.Now + uint64(b.BackoffTicks)
		}
		return bt.Success
	}
	return bt.Running
}

// switchTo exits the active behavior, if different, and enters next.
func (s *Scheduler) switchTo(c *Context, next *Behavior) {
	rt := &c.Agent.Runtime
	if next != nil && rt.Active == next.Name {
		return
	}
	if prev, ok := s.byName[rt.Active]; ok && prev.OnExit != nil {
		prev.OnExit(c)
	}
	rt.Active = ""
	rt.ActiveTick = 0
	if next == nil {
		return
	}
	rt.Active = next.Name
	if next.OnEnter != nil {
		next.OnEnter(c)
	}
}
