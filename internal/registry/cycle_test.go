package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindCyclesDAG(t *testing.T) {
	g := graph{"a": {}, "b": {"a"}, "c": {"a", "b"}}
	assert.Empty(t, findCycles(g))
}

func TestFindCyclesMultiple(t *testing.T) {
	g := graph{
		"a": {"b"}, "b": {"a"},
		"x": {"y"}, "y": {"z"}, "z": {"x"},
		"solo": {},
	}
	cycles := findCycles(g)
	assert.Equal(t, [][]string{{"a", "b", "a"}, {"x", "y", "z", "x"}}, cycles)
}

func TestCyclePathAvoidsDeadEnds(t *testing.T) {
	// a -> b, a -> c, c -> a, b -> c: the walk must still come back to a.
	g := graph{"a": {"b", "c"}, "b": {"c"}, "c": {"a"}}
	cycles := findCycles(g)
	assert.Equal(t, [][]string{{"a", "b", "c", "a"}}, cycles)
}
