package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID    string
	Value int
}

func (d *doc) DocID() string { return d.ID }
func (d *doc) Clone() *doc   { c := *d; return &c }

func newFilled(t *testing.T, ids ...string) *Cache[*doc] {
	t.Helper()
	c := New[*doc]()
	for i, id := range ids {
		c.Put(&doc{ID: id, Value: i})
	}
	return c
}

func TestGetMany_PreservesOrderAndDropsMissing(t *testing.T) {
	c := newFilled(t, "a", "b", "c")

	got := c.GetMany([]string{"c", "missing", "a"})

	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestGet_Absent(t *testing.T) {
	c := New[*doc]()
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestSnapshot_IsIndependent(t *testing.T) {
	c := newFilled(t, "a")

	snap := c.Snapshot()
	snap["a"].Value = 99
	delete(snap, "a")

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 0, v.Value)
	assert.Equal(t, 1, c.Len())
}

func TestRemoveMany_ReturnsPresentOnly(t *testing.T) {
	c := newFilled(t, "a", "b")

	removed := c.RemoveMany([]string{"a", "zzz"})

	require.Len(t, removed, 1)
	assert.Equal(t, "a", removed[0].ID)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Remove("a")
	assert.False(t, ok)
}

func TestReplaceAll_RekeysByID(t *testing.T) {
	c := newFilled(t, "old")

	c.ReplaceAll(map[string]*doc{"wrong-key": {ID: "x"}})

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("x")
	assert.True(t, ok)
	_, ok = c.Get("wrong-key")
	assert.False(t, ok)
}

func TestPutMany_LastWriteWins(t *testing.T) {
	c := New[*doc]()
	c.PutMany([]*doc{{ID: "a", Value: 1}, {ID: "a", Value: 2}})

	v, _ := c.Get("a")
	assert.Equal(t, 2, v.Value)
	assert.Len(t, c.All(), 1)
}
