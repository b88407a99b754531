package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSingularPoses is returned when the camera axes do not pin down a single focus point, e.g.
// when every camera looks along the same direction.
var ErrSingularPoses = errors.New("camera poses do not determine a focus point")

// openCVToOpenGL flips the y and z camera axes. Stored camera-to-world poses look down +z with y
// pointing down; the estimator works with the opposite handedness.
var openCVToOpenGL = mat.NewDiagDense(4, []float64{1, -1, -1, 1})

// ViewAxis is a camera's viewing ray expressed by its origin and unit direction.
type ViewAxis struct {
	Origin    r3.Vector
	Direction r3.Vector
}

// ViewAxisFromCameraToWorld extracts the viewing axis of a 4x4 camera-to-world transform after
// flipping it out of the stored camera convention.
func ViewAxisFromCameraToWorld(c2w mat.Matrix) (ViewAxis, error) {
	if r, c := c2w.Dims(); r != 4 || c != 4 {
		return ViewAxis{}, errors.Errorf("expected 4x4 camera-to-world transform, got %dx%d", r, c)
	}
	var pose mat.Dense
	pose.Mul(c2w, openCVToOpenGL)
	return ViewAxis{
		Origin:    r3.Vector{X: pose.At(0, 3), Y: pose.At(1, 3), Z: pose.At(2, 3)},
		Direction: r3.Vector{X: pose.At(0, 2), Y: pose.At(1, 2), Z: pose.At(2, 2)},
	}, nil
}

// FocusPoint returns the point nearest, in the least squares sense, to every viewing axis.
// Each axis contributes the projector M = I - d*d^T onto the plane orthogonal to it and the
// result solves mean(M^T*M) * c = mean(M^T*M*o).
func FocusPoint(axes []ViewAxis) (r3.Vector, error) {
	if len(axes) == 0 {
		return r3.Vector{}, errors.Wrap(ErrSingularPoses, "no camera poses")
	}
	normal := mat.NewDense(3, 3, nil)
	rhs := mat.NewVecDense(3, nil)
	for _, axis := range axes {
		d := mat.NewVecDense(3, []float64{axis.Direction.X, axis.Direction.Y, axis.Direction.Z})
		o := mat.NewVecDense(3, []float64{axis.Origin.X, axis.Origin.Y, axis.Origin.Z})

		m := mat.NewDense(3, 3, nil)
		m.Outer(-1, d, d)
		for i := 0; i < 3; i++ {
			m.Set(i, i, m.At(i, i)+1)
		}
		var mtm mat.Dense
		mtm.Mul(m.T(), m)
		normal.Add(normal, &mtm)

		var mo mat.VecDense
		mo.MulVec(&mtm, o)
		rhs.AddVec(rhs, &mo)
	}
	n := float64(len(axes))
	normal.Scale(1/n, normal)
	rhs.ScaleVec(1/n, rhs)

	var inv mat.Dense
	if err := inv.Inverse(normal); err != nil {
		return r3.Vector{}, errors.Wrap(ErrSingularPoses, err.Error())
	}
	var c mat.VecDense
	c.MulVec(&inv, rhs)
	return r3.Vector{X: c.AtVec(0), Y: c.AtVec(1), Z: c.AtVec(2)}, nil
}

// EstimateCenterRadius returns the focus point of the given camera-to-world poses and, per axis,
// the median absolute deviation of the camera origins from it.
func EstimateCenterRadius(c2ws []mat.Matrix) (center, radius r3.Vector, err error) {
	axes := make([]ViewAxis, 0, len(c2ws))
	for i, c2w := range c2ws {
		axis, err := ViewAxisFromCameraToWorld(c2w)
		if err != nil {
			return r3.Vector{}, r3.Vector{}, errors.Wrapf(err, "camera %d", i)
		}
		axes = append(axes, axis)
	}
	center, err = FocusPoint(axes)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}

	for dim := 0; dim < 3; dim++ {
		deviations := make([]float64, len(axes))
		for i, axis := range axes {
			deviations[i] = math.Abs(Component(axis.Origin, dim) - Component(center, dim))
		}
		median, err := stats.Median(deviations)
		if err != nil {
			return r3.Vector{}, r3.Vector{}, errors.Wrapf(err, "median deviation on axis %d", dim)
		}
		radius = WithComponent(radius, dim, median)
	}
	return center, radius, nil
}

// RecoverFlatAxis guards against a near planar camera rig. When the smallest radius is below
// minRatio of the largest, that axis is replaced by half the point extent along it. The replaced
// axis is returned, or -1 when the radius is left alone.
func RecoverFlatAxis(radius, extent r3.Vector, minRatio float64) (r3.Vector, int) {
	minAxis, maxAxis := 0, 0
	for dim := 1; dim < 3; dim++ {
		if Component(radius, dim) < Component(radius, minAxis) {
			minAxis = dim
		}
		if Component(radius, dim) > Component(radius, maxAxis) {
			maxAxis = dim
		}
	}
	largest := Component(radius, maxAxis)
	if largest > 0 && Component(radius, minAxis)/largest >= minRatio {
		return radius, -1
	}
	return WithComponent(radius, minAxis, 0.5*Component(extent, minAxis)), minAxis
}

// LookAtCameraToWorld builds a camera-to-world transform in the stored camera convention
// (x right, y down, z forward) for a camera at eye looking at target.
func LookAtCameraToWorld(eye, target, up r3.Vector) *mat.Dense {
	forward := target.Sub(eye).Normalize()
	right := forward.Cross(up).Normalize()
	down := forward.Cross(right)
	return mat.NewDense(4, 4, []float64{
		right.X, down.X, forward.X, eye.X,
		right.Y, down.Y, forward.Y, eye.Y,
		right.Z, down.Z, forward.Z, eye.Z,
		0, 0, 0, 1,
	})
}
