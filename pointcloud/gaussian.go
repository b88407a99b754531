// Package pointcloud holds 3D Gaussian point sets and the PLY files they are stored in.
//
// A GaussianCloud keeps every attribute in its own slice, indexed by point. Any
// selection of points must therefore be applied to all of them together, which is
// what Subset and Complement do.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/blockpart/spatialmath"
)

// SHC0 is the zeroth order real spherical harmonic coefficient.
const SHC0 = 0.28209479177387814

// MaxSHDegree is the highest spherical harmonic degree supported.
const MaxSHDegree = 3

// RestStride returns how many higher order color coefficients each point carries at the given
// spherical harmonic degree.
func RestStride(shDegree int) int {
	return 3 * ((shDegree+1)*(shDegree+1) - 1)
}

// Gaussian is a single point of a GaussianCloud. Opacity and Scale are stored before activation,
// as a logit and a log scale respectively.
type Gaussian struct {
	Position    r3.Vector
	Scale       r3.Vector
	Rotation    quat.Number
	DC          [3]float64
	Rest        []float64
	Opacity     float64
	MaxRadius2D float64
}

// GaussianCloud is a set of 3D Gaussians stored as parallel per point attributes.
type GaussianCloud struct {
	SHDegree int

	Positions    []r3.Vector
	Scales       []r3.Vector
	Rotations    []quat.Number
	FeaturesDC   [][3]float64
	FeaturesRest []float64 // RestStride(SHDegree) values per point
	Opacities    []float64
	MaxRadii2D   []float64
}

// NewGaussianCloud returns an empty cloud with room for size points.
func NewGaussianCloud(shDegree, size int) *GaussianCloud {
	return &GaussianCloud{
		SHDegree:     shDegree,
		Positions:    make([]r3.Vector, 0, size),
		Scales:       make([]r3.Vector, 0, size),
		Rotations:    make([]quat.Number, 0, size),
		FeaturesDC:   make([][3]float64, 0, size),
		FeaturesRest: make([]float64, 0, size*RestStride(shDegree)),
		Opacities:    make([]float64, 0, size),
		MaxRadii2D:   make([]float64, 0, size),
	}
}

// Size returns the number of points in the cloud.
func (c *GaussianCloud) Size() int {
	return len(c.Positions)
}

// Append adds a point to the end of the cloud.
func (c *GaussianCloud) Append(g Gaussian) error {
	if stride := RestStride(c.SHDegree); len(g.Rest) != stride {
		return errors.Errorf("expected %d higher order color coefficients, got %d", stride, len(g.Rest))
	}
	c.Positions = append(c.Positions, g.Position)
	c.Scales = append(c.Scales, g.Scale)
	c.Rotations = append(c.Rotations, g.Rotation)
	c.FeaturesDC = append(c.FeaturesDC, g.DC)
	c.FeaturesRest = append(c.FeaturesRest, g.Rest...)
	c.Opacities = append(c.Opacities, g.Opacity)
	c.MaxRadii2D = append(c.MaxRadii2D, g.MaxRadius2D)
	return nil
}

// At returns the i'th point. The Rest slice aliases the cloud's storage.
func (c *GaussianCloud) At(i int) Gaussian {
	stride := RestStride(c.SHDegree)
	return Gaussian{
		Position:    c.Positions[i],
		Scale:       c.Scales[i],
		Rotation:    c.Rotations[i],
		DC:          c.FeaturesDC[i],
		Rest:        c.FeaturesRest[i*stride : (i+1)*stride],
		Opacity:     c.Opacities[i],
		MaxRadius2D: c.MaxRadii2D[i],
	}
}

// Validate checks that every attribute has an entry for every point.
func (c *GaussianCloud) Validate() error {
	if c.SHDegree < 0 || c.SHDegree > MaxSHDegree {
		return errors.Errorf("spherical harmonic degree %d out of range [0, %d]", c.SHDegree, MaxSHDegree)
	}
	n := c.Size()
	lengths := map[string]int{
		"scales":      len(c.Scales),
		"rotations":   len(c.Rotations),
		"features_dc": len(c.FeaturesDC),
		"opacities":   len(c.Opacities),
		"max_radii2D": len(c.MaxRadii2D),
	}
	for name, l := range lengths {
		if l != n {
			return errors.Errorf("%s has %d entries but there are %d positions", name, l, n)
		}
	}
	if want := n * RestStride(c.SHDegree); len(c.FeaturesRest) != want {
		return errors.Errorf("features_rest has %d values, expected %d", len(c.FeaturesRest), want)
	}
	return nil
}

// Subset returns a new cloud holding the points whose mask entry is true, in their original
// order. All attributes are filtered together.
func (c *GaussianCloud) Subset(mask []bool) (*GaussianCloud, error) {
	if len(mask) != c.Size() {
		return nil, errors.Errorf("mask has %d entries for a cloud of %d points", len(mask), c.Size())
	}
	stride := RestStride(c.SHDegree)
	out := NewGaussianCloud(c.SHDegree, lo.Count(mask, true))
	for i, keep := range mask {
		if !keep {
			continue
		}
		out.Positions = append(out.Positions, c.Positions[i])
		out.Scales = append(out.Scales, c.Scales[i])
		out.Rotations = append(out.Rotations, c.Rotations[i])
		out.FeaturesDC = append(out.FeaturesDC, c.FeaturesDC[i])
		out.FeaturesRest = append(out.FeaturesRest, c.FeaturesRest[i*stride:(i+1)*stride]...)
		out.Opacities = append(out.Opacities, c.Opacities[i])
		out.MaxRadii2D = append(out.MaxRadii2D, c.MaxRadii2D[i])
	}
	return out, nil
}

// Complement returns the points whose mask entry is false.
func (c *GaussianCloud) Complement(mask []bool) (*GaussianCloud, error) {
	inverted := make([]bool, len(mask))
	for i, m := range mask {
		inverted[i] = !m
	}
	return c.Subset(inverted)
}

// ActivatedOpacity returns the opacity of point i in [0, 1].
func (c *GaussianCloud) ActivatedOpacity(i int) float64 {
	return 1 / (1 + math.Exp(-c.Opacities[i]))
}

// ActivatedScale returns the per axis standard deviation of point i.
func (c *GaussianCloud) ActivatedScale(i int) r3.Vector {
	s := c.Scales[i]
	return r3.Vector{X: math.Exp(s.X), Y: math.Exp(s.Y), Z: math.Exp(s.Z)}
}

// MetaData is a summary of a cloud.
type MetaData struct {
	Size     int
	SHDegree int
	Bounds   spatialmath.AABB
}

// MetaData returns the size and tight bounds of the cloud.
func (c *GaussianCloud) MetaData() (MetaData, error) {
	bounds, err := spatialmath.BoundsOf(c.Positions)
	if err != nil {
		return MetaData{}, err
	}
	return MetaData{Size: c.Size(), SHDegree: c.SHDegree, Bounds: bounds}, nil
}

// Extent returns max - min of the point positions along each axis.
func (c *GaussianCloud) Extent() (r3.Vector, error) {
	if c.Size() == 0 {
		return r3.Vector{}, errors.New("cannot take the extent of an empty cloud")
	}
	var extent r3.Vector
	coords := make([]float64, c.Size())
	for dim := 0; dim < 3; dim++ {
		for i, p := range c.Positions {
			coords[i] = spatialmath.Component(p, dim)
		}
		extent = spatialmath.WithComponent(extent, dim, floats.Max(coords)-floats.Min(coords))
	}
	return extent, nil
}
