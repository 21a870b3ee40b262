package aabb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidBox(t *testing.T) {
	b := Invalid()
	assert.False(t, b.Valid())
}

func TestUnion(t *testing.T) {
	a := Box{MinX: -5, MinY: -5, MaxX: 5, MaxY: 5}
	b := Box{MinX: 100, MinY: 100, MaxX: 110, MaxY: 110}
	u := Union(a, b)
	require.True(t, u.Valid())
	assert.Equal(t, Box{MinX: -5, MinY: -5, MaxX: 110, MaxY: 110}, u)
}

func TestOverlapsInclusiveBoundary(t *testing.T) {
	a := Box{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	b := Box{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}
	assert.True(t, a.Overlaps(b), "touching boundary should overlap")

	c := Box{MinX: 10.0001, MinY: 10.0001, MaxX: 20, MaxY: 20}
	assert.False(t, a.Overlaps(c))
}

func TestContains(t *testing.T) {
	b := Box{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	assert.True(t, b.Contains(0, 0))
	assert.True(t, b.Contains(10, 10))
	assert.False(t, b.Contains(10.1, 5))
}

func TestApproxEqual(t *testing.T) {
	a := Box{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	b := Box{MinX: 1e-12, MinY: -1e-12, MaxX: 1 + 1e-12, MaxY: 1}
	assert.True(t, a.ApproxEqual(b))

	c := Box{MinX: 0.01, MinY: 0, MaxX: 1, MaxY: 1}
	assert.False(t, a.ApproxEqual(c))
}

func TestAreaClampsNegativeDimensions(t *testing.T) {
	b := Invalid()
	assert.Equal(t, 0.0, b.Area())
}
