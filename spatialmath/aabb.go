// Package spatialmath holds the geometry shared by the partitioner: axis aligned boxes, the
// mappings from world space into the normalized block domain and camera pose estimators.
package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// AABB is an axis aligned bounding box stored as its two extreme corners.
type AABB struct {
	Min r3.Vector
	Max r3.Vector
}

// NewAABB returns the box spanned by min and max.
func NewAABB(min, max r3.Vector) AABB {
	return AABB{Min: min, Max: max}
}

// NewAABBFromSlice parses the six scalar form (min_x, min_y, min_z, max_x, max_y, max_z).
func NewAABBFromSlice(vals []float64) (AABB, error) {
	if len(vals) != 6 {
		return AABB{}, errors.Errorf("aabb must have exactly 6 values, got %d", len(vals))
	}
	box := AABB{
		Min: r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]},
		Max: r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]},
	}
	if err := box.Validate(); err != nil {
		return AABB{}, err
	}
	return box, nil
}

// Validate checks that the box is not inverted on any axis.
func (box AABB) Validate() error {
	for i := 0; i < 3; i++ {
		if Component(box.Max, i) < Component(box.Min, i) {
			return errors.Errorf("aabb max is below min on axis %d: %v", i, box)
		}
	}
	return nil
}

// Slice returns the six scalar form of the box.
func (box AABB) Slice() []float64 {
	return []float64{box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z}
}

// Size returns the extent of the box along each axis.
func (box AABB) Size() r3.Vector {
	return box.Max.Sub(box.Min)
}

// Center returns the midpoint of the box.
func (box AABB) Center() r3.Vector {
	return box.Min.Add(box.Max).Mul(0.5)
}

// ContainsStrict reports whether p lies in the open box (min, max) on every axis.
func (box AABB) ContainsStrict(p r3.Vector) bool {
	return p.X > box.Min.X && p.X < box.Max.X &&
		p.Y > box.Min.Y && p.Y < box.Max.Y &&
		p.Z > box.Min.Z && p.Z < box.Max.Z
}

// ContainsHalfOpen reports whether p lies in [min, max) on every axis. Adjacent boxes of a grid
// never both contain a point under this test.
func (box AABB) ContainsHalfOpen(p r3.Vector) bool {
	return p.X >= box.Min.X && p.X < box.Max.X &&
		p.Y >= box.Min.Y && p.Y < box.Max.Y &&
		p.Z >= box.Min.Z && p.Z < box.Max.Z
}

// Covers reports whether other lies entirely within box, boundaries included.
func (box AABB) Covers(other AABB) bool {
	return box.Min.X <= other.Min.X && box.Min.Y <= other.Min.Y && box.Min.Z <= other.Min.Z &&
		box.Max.X >= other.Max.X && box.Max.Y >= other.Max.Y && box.Max.Z >= other.Max.Z
}

// Grow moves every face of the box outward by delta.
func (box AABB) Grow(delta float64) AABB {
	d := r3.Vector{X: delta, Y: delta, Z: delta}
	return AABB{Min: box.Min.Sub(d), Max: box.Max.Add(d)}
}

// Enlarge scales the box about its center so that each axis spans factor times its extent.
// Factors at or below one return the box unchanged.
func (box AABB) Enlarge(factor float64) AABB {
	if factor <= 1 {
		return box
	}
	pad := box.Size().Mul((factor - 1) / 2)
	return AABB{Min: box.Min.Sub(pad), Max: box.Max.Add(pad)}
}

// Subdivide returns cell (i, j, k) of a regular dims[0] x dims[1] x dims[2] grid over the box.
func (box AABB) Subdivide(dims [3]int, i, j, k int) AABB {
	size := box.Size()
	cell := func(lo, extent float64, idx, n int) (float64, float64) {
		return lo + extent*float64(idx)/float64(n), lo + extent*float64(idx+1)/float64(n)
	}
	minX, maxX := cell(box.Min.X, size.X, i, dims[0])
	minY, maxY := cell(box.Min.Y, size.Y, j, dims[1])
	minZ, maxZ := cell(box.Min.Z, size.Z, k, dims[2])
	return AABB{
		Min: r3.Vector{X: minX, Y: minY, Z: minZ},
		Max: r3.Vector{X: maxX, Y: maxY, Z: maxZ},
	}
}

func (box AABB) String() string {
	return fmt.Sprintf("[%.4f, %.4f, %.4f]-[%.4f, %.4f, %.4f]",
		box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z)
}

// BoundsOf returns the tightest box around the given points.
func BoundsOf(pts []r3.Vector) (AABB, error) {
	if len(pts) == 0 {
		return AABB{}, errors.New("no points")
	}
	box := AABB{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		box.Min = r3.Vector{X: min(box.Min.X, p.X), Y: min(box.Min.Y, p.Y), Z: min(box.Min.Z, p.Z)}
		box.Max = r3.Vector{X: max(box.Max.X, p.X), Y: max(box.Max.Y, p.Y), Z: max(box.Max.Z, p.Z)}
	}
	return box, nil
}

// Component returns the i-th coordinate (0=X, 1=Y, 2=Z) of v.
func Component(v r3.Vector, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	}
	panic(errors.Errorf("unreachable axis %d", i))
}

// WithComponent returns a copy of v with its i-th coordinate replaced by val.
func WithComponent(v r3.Vector, i int, val float64) r3.Vector {
	switch i {
	case 0:
		v.X = val
	case 1:
		v.Y = val
	case 2:
		v.Z = val
	default:
		panic(errors.Errorf("unreachable axis %d", i))
	}
	return v
}
