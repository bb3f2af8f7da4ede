package ledger

import (
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
)

// UncategorizedName is the reserved category present in every tree.
const UncategorizedName = "Uncategorized"

// Category is one node of a category tree.
type Category struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Direction domain.FlowDirection `json:"direction"`
	ParentID  string               `json:"parent_id,omitempty"`
	Children  []string             `json:"children,omitempty"`
	Archived  bool                 `json:"archived,omitempty"`
	Reserved  bool                 `json:"reserved,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// CategoryTree is a flat arena of categories for one flow direction.
// Parent/child links are ids into Nodes.
type CategoryTree struct {
	Direction domain.FlowDirection `json:"direction"`
	RootIDs   []string             `json:"root_ids"`
	Nodes     map[string]*Category `json:"nodes"`
}

func newCategoryTree(direction domain.FlowDirection, uncategorizedID string, at time.Time) *CategoryTree {
	t := &CategoryTree{
		Direction: direction,
		Nodes:     make(map[string]*Category),
	}
	t.add(&Category{
		ID:        uncategorizedID,
		Name:      UncategorizedName,
		Direction: direction,
		Reserved:  true,
		CreatedAt: at,
	})
	return t
}

// Get returns a node by id.
func (t *CategoryTree) Get(id string) (*Category, bool) {
	c, ok := t.Nodes[id]
	return c, ok
}

// Uncategorized returns the reserved node.
func (t *CategoryTree) Uncategorized() *Category {
	for _, id := range t.RootIDs {
		if c := t.Nodes[id]; c.Reserved {
			return c
		}
	}
	return nil
}

// Child finds a direct child of parentID (or a root when parentID is empty)
// by case-insensitive name.
func (t *CategoryTree) Child(parentID, name string) (*Category, bool) {
	ids := t.RootIDs
	if parentID != "" {
		parent, ok := t.Nodes[parentID]
		if !ok {
			return nil, false
		}
		ids = parent.Children
	}
	for _, id := range ids {
		if c := t.Nodes[id]; strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// FindByName returns the shallowest node with the given name, searching
// breadth first so a root wins over a nested namesake.
func (t *CategoryTree) FindByName(name string) (*Category, bool) {
	queue := append([]string(nil), t.RootIDs...)
	for len(queue) > 0 {
		c := t.Nodes[queue[0]]
		queue = queue[1:]
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
		queue = append(queue, c.Children...)
	}
	return nil, false
}

// Lookup resolves a category by name, optionally scoped to a parent name.
func (t *CategoryTree) Lookup(name, parentName string) (*Category, bool) {
	if parentName == "" {
		return t.FindByName(name)
	}
	parent, ok := t.FindByName(parentName)
	if !ok {
		return nil, false
	}
	return t.Child(parent.ID, name)
}

// Walk visits every node depth first, parents before children, using an
// explicit stack.
func (t *CategoryTree) Walk(visit func(*Category)) {
	stack := make([]string, 0, len(t.Nodes))
	for i := len(t.RootIDs) - 1; i >= 0; i-- {
		stack = append(stack, t.RootIDs[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := t.Nodes[id]
		visit(c)
		for i := len(c.Children) - 1; i >= 0; i-- {
			stack = append(stack, c.Children[i])
		}
	}
}

// CountUnreserved counts every node except the reserved Uncategorized one.
func (t *CategoryTree) CountUnreserved() int {
	n := 0
	t.Walk(func(c *Category) {
		if !c.Reserved {
			n++
		}
	})
	return n
}

// Path returns the names from the root down to id, e.g. "Food / Groceries".
func (t *CategoryTree) Path(id string) string {
	var parts []string
	for c, ok := t.Nodes[id]; ok; c, ok = t.Nodes[c.ParentID] {
		parts = append([]string{c.Name}, parts...)
		if c.ParentID == "" {
			break
		}
	}
	return strings.Join(parts, " / ")
}

// List returns all nodes in walk order.
func (t *CategoryTree) List() []*Category {
	out := make([]*Category, 0, len(t.Nodes))
	t.Walk(func(c *Category) { out = append(out, c) })
	return out
}

func (t *CategoryTree) add(c *Category) {
	t.Nodes[c.ID] = c
	if c.ParentID == "" {
		t.RootIDs = append(t.RootIDs, c.ID)
		return
	}
	parent := t.Nodes[c.ParentID]
	parent.Children = append(parent.Children, c.ID)
}

// remove drops a node and its link from the parent. Children must already
// be gone.
func (t *CategoryTree) remove(id string) {
	c, ok := t.Nodes[id]
	if !ok {
		return
	}
	delete(t.Nodes, id)
	if c.ParentID == "" {
		t.RootIDs = without(t.RootIDs, id)
		return
	}
	if parent, ok := t.Nodes[c.ParentID]; ok {
		parent.Children = without(parent.Children, id)
	}
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// resetToReserved drops every node except the reserved one.
func (t *CategoryTree) resetToReserved() {
	var keep []string
	for _, id := range t.RootIDs {
		if c := t.Nodes[id]; c.Reserved {
			c.Children = nil
			keep = append(keep, id)
		}
	}
	nodes := make(map[string]*Category, len(keep))
	for _, id := range keep {
		nodes[id] = t.Nodes[id]
	}
	t.RootIDs = keep
	t.Nodes = nodes
}

func (t *CategoryTree) clone() *CategoryTree {
	if t == nil {
		return nil
	}
	c := &CategoryTree{
		Direction: t.Direction,
		RootIDs:   append([]string(nil), t.RootIDs...),
		Nodes:     make(map[string]*Category, len(t.Nodes)),
	}
	for id, n := range t.Nodes {
		nc := *n
		nc.Children = append([]string(nil), n.Children...)
		c.Nodes[id] = &nc
	}
	return c
}
