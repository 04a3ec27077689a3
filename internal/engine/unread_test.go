package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnreadCounter(t *testing.T) {
	u := newUnreadCounter()

	u.increment("a--b")
	u.increment("a--b")
	u.increment("g1")

	assert.Equal(t, 2, u.get("a--b"))
	assert.Equal(t, map[string]int{"a--b": 2, "g1": 1}, u.snapshot())

	u.decrement("a--b")
	assert.Equal(t, 1, u.get("a--b"))

	// Counts never go negative
	u.decrement("a--b")
	u.decrement("a--b")
	assert.Equal(t, 0, u.get("a--b"))

	u.reset("g1")
	assert.Empty(t, u.snapshot())
}

func TestUnreadReplace(t *testing.T) {
	u := newUnreadCounter()
	u.increment("stale")

	u.replace(map[string]int{"a--b": 3, "zeroed": 0})

	assert.Equal(t, 0, u.get("stale"))
	assert.Equal(t, 3, u.get("a--b"))
	assert.Equal(t, map[string]int{"a--b": 3}, u.snapshot())
}
