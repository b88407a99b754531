package scene

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

var testIntrinsics = NewCenteredIntrinsics(100, 80, 100, 100)

// yDown keeps the camera frame aligned with the world frame for a camera looking down +z.
var yDown = r3.Vector{Y: -1}

func TestIntrinsics(t *testing.T) {
	test.That(t, testIntrinsics.CheckValid(), test.ShouldBeNil)
	test.That(t, testIntrinsics.Ppx, test.ShouldEqual, 50.0)
	test.That(t, testIntrinsics.Ppy, test.ShouldEqual, 40.0)

	bad := testIntrinsics
	bad.Fx = 0
	err := bad.CheckValid()
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	var nilIntrinsics *PinholeCameraIntrinsics
	test.That(t, nilIntrinsics.CheckValid(), test.ShouldNotBeNil)

	u, v := testIntrinsics.PointToPixel(1, -2, 10)
	test.That(t, u, test.ShouldAlmostEqual, 60)
	test.That(t, v, test.ShouldAlmostEqual, 20)
	x, y, z := testIntrinsics.PixelToPoint(u, v, 10)
	test.That(t, x, test.ShouldAlmostEqual, 1)
	test.That(t, y, test.ShouldAlmostEqual, -2)
	test.That(t, z, test.ShouldEqual, 10.0)

	u, v = testIntrinsics.PointToPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1.0)
	test.That(t, v, test.ShouldEqual, -1.0)

	centered := NewCenteredIntrinsics(200, 100, 100, 100)
	fovX, _ := centered.FieldOfView()
	test.That(t, fovX, test.ShouldAlmostEqual, math.Pi/2)
}

func TestIntrinsicsDownscaled(t *testing.T) {
	half, err := testIntrinsics.Downscaled(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, half.Width, test.ShouldEqual, 50)
	test.That(t, half.Height, test.ShouldEqual, 40)
	test.That(t, half.Fx, test.ShouldAlmostEqual, 50)
	test.That(t, half.Ppy, test.ShouldAlmostEqual, 20)

	same, err := testIntrinsics.Downscaled(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same, test.ShouldResemble, testIntrinsics)

	_, err = testIntrinsics.Downscaled(0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = testIntrinsics.Downscaled(1000)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCameraLookingAt(t *testing.T) {
	cam, err := NewCameraLookingAt(3, "front", testIntrinsics, r3.Vector{Z: -5}, r3.Vector{}, yDown)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.ID, test.ShouldEqual, 3)
	test.That(t, cam.Center(), test.ShouldResemble, r3.Vector{Z: -5})

	u, v, depth := cam.Project(r3.Vector{})
	test.That(t, u, test.ShouldAlmostEqual, 50)
	test.That(t, v, test.ShouldAlmostEqual, 40)
	test.That(t, depth, test.ShouldAlmostEqual, 5)

	u, v, _ = cam.Project(r3.Vector{X: 1, Y: 1})
	test.That(t, u, test.ShouldAlmostEqual, 70)
	test.That(t, v, test.ShouldAlmostEqual, 60)

	var prod mat.Dense
	prod.Mul(cam.WorldToCamera(), cam.CameraToWorld())
	test.That(t, mat.EqualApprox(&prod, mat.NewDiagDense(4, []float64{1, 1, 1, 1}), 1e-12), test.ShouldBeTrue)

	q := cam.Rotation()
	test.That(t, q.Real, test.ShouldAlmostEqual, 1)

	_, err = NewCameraLookingAt(0, "degenerate", testIntrinsics, r3.Vector{}, r3.Vector{}, yDown)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCameraFromWorldToCamera(t *testing.T) {
	// 90 degrees about z
	q := quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)}
	cam, err := NewCameraFromWorldToCamera(1, "rotated", testIntrinsics, quat.Scale(3, q), r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, err, test.ShouldBeNil)

	center := cam.Center()
	test.That(t, center.X, test.ShouldAlmostEqual, -2)
	test.That(t, center.Y, test.ShouldAlmostEqual, 1)
	test.That(t, center.Z, test.ShouldAlmostEqual, -3)

	got := cam.Rotation()
	test.That(t, got.Real, test.ShouldAlmostEqual, q.Real)
	test.That(t, got.Imag, test.ShouldAlmostEqual, 0)
	test.That(t, got.Kmag, test.ShouldAlmostEqual, q.Kmag)

	// the camera's own center sits at the camera frame origin
	pc := cam.ToCameraFrame(center)
	test.That(t, pc.Norm(), test.ShouldBeLessThan, 1e-9)

	_, err = NewCameraFromWorldToCamera(1, "zero", testIntrinsics, quat.Number{}, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewCameraErrors(t *testing.T) {
	_, err := NewCamera(0, "bad", PinholeCameraIntrinsics{}, mat.NewDiagDense(4, []float64{1, 1, 1, 1}))
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	_, err = NewCamera(0, "bad", testIntrinsics, mat.NewDense(3, 4, nil))
	test.That(t, err, test.ShouldNotBeNil)

	notRigid := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		1, 0, 0, 1,
	})
	_, err = NewCamera(0, "bad", testIntrinsics, notRigid)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rigid")
}

func TestCameraDownscaled(t *testing.T) {
	cam, err := NewCameraLookingAt(0, "front", testIntrinsics, r3.Vector{Z: -5}, r3.Vector{}, yDown)
	test.That(t, err, test.ShouldBeNil)
	small, err := cam.Downscaled(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, small.Intrinsics.Width, test.ShouldEqual, 50)
	test.That(t, small.Center(), test.ShouldResemble, cam.Center())
	// the original is left alone
	test.That(t, cam.Intrinsics.Width, test.ShouldEqual, 100)

	u, _, _ := small.Project(r3.Vector{X: 1})
	test.That(t, u, test.ShouldAlmostEqual, 35)
}
