package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// A Mapper moves world coordinates into the normalized domain that the block grid subdivides.
type Mapper interface {
	// Map returns the normalized coordinates of a world point.
	Map(p r3.Vector) r3.Vector
	// Domain is the box the grid subdivides, in normalized coordinates.
	Domain() AABB
}

// MapAll maps every point with m into a new slice.
func MapAll(m Mapper, pts []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = m.Map(p)
	}
	return out
}

// IdentityMapper keeps world coordinates and subdivides the scene box directly.
type IdentityMapper struct {
	Box AABB
}

// Map returns p unchanged.
func (m IdentityMapper) Map(p r3.Vector) r3.Vector {
	return p
}

// Domain returns the scene box.
func (m IdentityMapper) Domain() AABB {
	return m.Box
}

// UnisphereContraction maps the scene box linearly onto [0.25, 0.75]^3 and squashes everything
// outside of it into the shell reaching out to [0, 1]^3, using the infinity norm.
type UnisphereContraction struct {
	Box AABB
}

var unitDomain = AABB{Max: r3.Vector{X: 1, Y: 1, Z: 1}}

// Map contracts p into [0, 1]^3.
func (m UnisphereContraction) Map(p r3.Vector) r3.Vector {
	size := m.Box.Size()
	x := r3.Vector{
		X: (p.X-m.Box.Min.X)/size.X*2 - 1,
		Y: (p.Y-m.Box.Min.Y)/size.Y*2 - 1,
		Z: (p.Z-m.Box.Min.Z)/size.Z*2 - 1,
	}
	mag := math.Max(math.Abs(x.X), math.Max(math.Abs(x.Y), math.Abs(x.Z)))
	if mag > 1 {
		x = x.Mul((2 - 1/mag) / mag)
	}
	return x.Mul(0.25).Add(r3.Vector{X: 0.5, Y: 0.5, Z: 0.5})
}

// Domain returns the unit cube.
func (m UnisphereContraction) Domain() AABB {
	return unitDomain
}
