package spatialmath

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

var zUp = r3.Vector{Z: 1}

func ringOfCameras(n int, radius, height float64, target r3.Vector) []mat.Matrix {
	c2ws := make([]mat.Matrix, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		eye := r3.Vector{X: radius * math.Cos(theta), Y: radius * math.Sin(theta), Z: height}.Add(target)
		c2ws = append(c2ws, LookAtCameraToWorld(eye, target, zUp))
	}
	return c2ws
}

func TestLookAtCameraToWorld(t *testing.T) {
	c2w := LookAtCameraToWorld(r3.Vector{X: -5}, r3.Vector{}, zUp)
	// forward column
	test.That(t, c2w.At(0, 2), test.ShouldAlmostEqual, 1)
	// right points to -y when looking down +x with z up
	test.That(t, c2w.At(1, 0), test.ShouldAlmostEqual, -1)
	// down points to -z
	test.That(t, c2w.At(2, 1), test.ShouldAlmostEqual, -1)
	test.That(t, mat.Det(c2w.Slice(0, 3, 0, 3)), test.ShouldAlmostEqual, 1)

	axis, err := ViewAxisFromCameraToWorld(c2w)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, axis.Origin, test.ShouldResemble, r3.Vector{X: -5})
	// the flip reverses the viewing direction
	test.That(t, axis.Direction.X, test.ShouldAlmostEqual, -1)

	_, err = ViewAxisFromCameraToWorld(mat.NewDense(3, 4, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFocusPointRing(t *testing.T) {
	target := r3.Vector{X: 2, Y: -1, Z: 0.5}
	center, radius, err := EstimateCenterRadius(ringOfCameras(8, 4, 1, target))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, center.X, test.ShouldAlmostEqual, target.X, 1e-9)
	test.That(t, center.Y, test.ShouldAlmostEqual, target.Y, 1e-9)
	test.That(t, center.Z, test.ShouldAlmostEqual, target.Z, 1e-9)

	// |4cos(k*45deg)| sorted: 0 0 2.83 2.83 2.83 2.83 4 4
	test.That(t, radius.X, test.ShouldAlmostEqual, 4*math.Sqrt2/2, 1e-9)
	test.That(t, radius.Y, test.ShouldAlmostEqual, 4*math.Sqrt2/2, 1e-9)
	test.That(t, radius.Z, test.ShouldAlmostEqual, 1, 1e-9)
}

func TestFocusPointSkewRays(t *testing.T) {
	// two perpendicular rays offset along z by 2; the midpoint of their common normal is the answer
	axes := []ViewAxis{
		{Origin: r3.Vector{X: -5, Z: 1}, Direction: r3.Vector{X: 1}},
		{Origin: r3.Vector{Y: -5, Z: -1}, Direction: r3.Vector{Y: 1}},
		{Origin: r3.Vector{X: 0, Y: 0, Z: 10}, Direction: r3.Vector{Z: 1}},
	}
	center, err := FocusPoint(axes)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, center.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, center.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, center.Z, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestFocusPointSingular(t *testing.T) {
	_, err := FocusPoint(nil)
	test.That(t, errors.Is(err, ErrSingularPoses), test.ShouldBeTrue)

	parallel := []ViewAxis{
		{Origin: r3.Vector{X: 0}, Direction: r3.Vector{Z: 1}},
		{Origin: r3.Vector{X: 1}, Direction: r3.Vector{Z: 1}},
	}
	_, err = FocusPoint(parallel)
	test.That(t, errors.Is(err, ErrSingularPoses), test.ShouldBeTrue)
}

func TestRecoverFlatAxis(t *testing.T) {
	extent := r3.Vector{X: 10, Y: 10, Z: 6}

	// ratio 0.01 along z: z is replaced by half the point extent
	recovered, axis := RecoverFlatAxis(r3.Vector{X: 1, Y: 1, Z: 0.01}, extent, 0.02)
	test.That(t, axis, test.ShouldEqual, 2)
	test.That(t, recovered, test.ShouldResemble, r3.Vector{X: 1, Y: 1, Z: 3})

	// ratio 0.5 is left alone
	untouched, axis := RecoverFlatAxis(r3.Vector{X: 2, Y: 1, Z: 1.5}, extent, 0.02)
	test.That(t, axis, test.ShouldEqual, -1)
	test.That(t, untouched, test.ShouldResemble, r3.Vector{X: 2, Y: 1, Z: 1.5})

	// an all zero radius falls back on the first axis
	_, axis = RecoverFlatAxis(r3.Vector{}, extent, 0.02)
	test.That(t, axis, test.ShouldEqual, 0)
}
