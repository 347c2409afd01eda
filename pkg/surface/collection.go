package surface

import "github.com/astromechza/automerge-whiteboard/pkg/board"

// collection is an id-keyed set of paths that remembers insertion order, which
// is also the z-order used when rendering and hit-testing.
type collection struct {
	order []string
	byID  map[string]*board.Path
}

func newCollection() *collection {
	return &collection{byID: make(map[string]*board.Path)}
}

// put inserts p at the top, or replaces an existing entry in place.
func (c *collection) put(p *board.Path) {
	if _, ok := c.byID[p.ID]; !ok {
		c.order = append(c.order, p.ID)
	}
	c.byID[p.ID] = p
}

func (c *collection) get(id string) (*board.Path, bool) {
	p, ok := c.byID[id]
	return p, ok
}

func (c *collection) remove(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *collection) len() int {
	return len(c.order)
}

// each visits paths bottom to top.
func (c *collection) each(f func(p *board.Path)) {
	for _, id := range c.order {
		f(c.byID[id])
	}
}

// topmost returns the last path, in z-order, for which match is true.
func (c *collection) topmost(match func(p *board.Path) bool) *board.Path {
	for i := len(c.order) - 1; i >= 0; i-- {
		if p := c.byID[c.order[i]]; match(p) {
			return p
		}
	}
	return nil
}

func (c *collection) clones() []*board.Path {
	out := make([]*board.Path, 0, len(c.order))
	c.each(func(p *board.Path) {
		out = append(out, p.Clone())
	})
	return out
}
