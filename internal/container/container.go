// Package container provides the registry that the exchange uses for
// orders and loans: items addressable by id plus an insertion-ordered
// index of open items.
//
// The open index is allowed to go stale: closed items linger until a
// periodic compaction sweeps them out during iteration. The invariant that
// matters is one-sided — every open item is always present in the index.
package container

// Object is anything the container can hold.
type Object interface {
	ID() string
	IsOpen() bool
}

const reindexEvery = 50

// Container stores items by id with an auxiliary open index.
// Iteration order over open items is id-allocation (insertion) order.
type Container[T Object] struct {
	items   map[string]T
	open    []T
	counter int
}

// New creates an empty container.
func New[T Object]() *Container[T] {
	return &Container[T]{items: make(map[string]T)}
}

// Add registers a new item. Ids are expected to be unique; the caller
// allocates them.
func (c *Container[T]) Add(item T) {
	c.items[item.ID()] = item
	if item.IsOpen() {
		c.open = append(c.open, item)
	}
}

// Get returns the item with the given id.
func (c *Container[T]) Get(id string) (T, bool) {
	item, ok := c.items[id]
	return item, ok
}

// Open returns the currently open items in insertion order. Every
// reindexEvery calls the stale entries accumulated in the index are
// compacted away.
func (c *Container[T]) Open() []T {
	c.counter++
	ret := make([]T, 0, len(c.open))
	for _, item := range c.open {
		if item.IsOpen() {
			ret = append(ret, item)
		}
	}
	if c.counter%reindexEvery == 0 {
		c.open = append(c.open[:0:0], ret...)
	}
	return ret
}

// Len returns the total number of items, open or not.
func (c *Container[T]) Len() int {
	return len(c.items)
}
