package container

import "testing"

type item struct {
	id   string
	open bool
}

func (i *item) ID() string   { return i.id }
func (i *item) IsOpen() bool { return i.open }

func TestAddGet(t *testing.T) {
	t.Parallel()
	c := New[*item]()
	a := &item{id: "a", open: true}
	c.Add(a)

	got, ok := c.Get("a")
	if !ok || got != a {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestOpenSkipsClosedAndKeepsOrder(t *testing.T) {
	t.Parallel()
	c := New[*item]()
	a := &item{id: "a", open: true}
	b := &item{id: "b", open: true}
	x := &item{id: "x", open: false} // closed on arrival, never indexed
	d := &item{id: "d", open: true}
	c.Add(a)
	c.Add(b)
	c.Add(x)
	c.Add(d)

	b.open = false

	open := c.Open()
	if len(open) != 2 || open[0] != a || open[1] != d {
		t.Fatalf("Open() = %v, want [a d]", ids(open))
	}
}

func TestOpenCompactsEventually(t *testing.T) {
	t.Parallel()
	c := New[*item]()
	a := &item{id: "a", open: true}
	b := &item{id: "b", open: true}
	c.Add(a)
	c.Add(b)
	b.open = false

	// Stale entry stays in the index until the reindex threshold passes.
	for i := 0; i < reindexEvery; i++ {
		if got := c.Open(); len(got) != 1 || got[0] != a {
			t.Fatalf("Open() = %v on iteration %d, want [a]", ids(got), i)
		}
	}
	if len(c.open) != 1 {
		t.Errorf("index len after compaction = %d, want 1", len(c.open))
	}

	// An item opened after compaction is still found.
	e := &item{id: "e", open: true}
	c.Add(e)
	if got := c.Open(); len(got) != 2 || got[0] != a || got[1] != e {
		t.Fatalf("Open() after add = %v, want [a e]", ids(got))
	}
}

func ids(items []*item) []string {
	ret := make([]string, len(items))
	for i, it := range items {
		ret[i] = it.id
	}
	return ret
}
