// Package scene holds the training cameras of a reconstructed scene and loads them from disk.
package scene

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/blockpart/spatialmath"
)

// Camera is a calibrated pinhole camera placed in the world. Camera frames follow the usual
// vision convention of x right, y down and z forward. A Camera is immutable once built.
type Camera struct {
	ID         int
	Name       string
	Intrinsics PinholeCameraIntrinsics

	worldToCamera *mat.Dense
	cameraToWorld *mat.Dense
	center        r3.Vector
}

// NewCamera builds a camera from its intrinsics and 4x4 camera-to-world transform.
func NewCamera(id int, name string, intrinsics PinholeCameraIntrinsics, cameraToWorld mat.Matrix) (*Camera, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "camera %d (%s)", id, name)
	}
	if r, c := cameraToWorld.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("camera %d (%s): expected 4x4 camera-to-world transform, got %dx%d", id, name, r, c)
	}
	c2w := mat.DenseCopyOf(cameraToWorld)
	for j, want := range []float64{0, 0, 0, 1} {
		if c2w.At(3, j) != want {
			return nil, errors.Errorf("camera %d (%s): camera-to-world transform is not rigid", id, name)
		}
	}
	var w2c mat.Dense
	if err := w2c.Inverse(c2w); err != nil {
		return nil, errors.Wrapf(err, "camera %d (%s): inverting camera-to-world transform", id, name)
	}
	return &Camera{
		ID:            id,
		Name:          name,
		Intrinsics:    intrinsics,
		worldToCamera: &w2c,
		cameraToWorld: c2w,
		center:        r3.Vector{X: c2w.At(0, 3), Y: c2w.At(1, 3), Z: c2w.At(2, 3)},
	}, nil
}

// NewCameraFromRotation builds a camera from a row-major 3x3 camera-to-world rotation and the
// camera position in the world.
func NewCameraFromRotation(
	id int, name string, intrinsics PinholeCameraIntrinsics, rotation [9]float64, position r3.Vector,
) (*Camera, error) {
	c2w := mat.NewDense(4, 4, []float64{
		rotation[0], rotation[1], rotation[2], position.X,
		rotation[3], rotation[4], rotation[5], position.Y,
		rotation[6], rotation[7], rotation[8], position.Z,
		0, 0, 0, 1,
	})
	return NewCamera(id, name, intrinsics, c2w)
}

// NewCameraFromWorldToCamera builds a camera from a world-to-camera rotation quaternion and
// translation, as structure-from-motion tools store them.
func NewCameraFromWorldToCamera(
	id int, name string, intrinsics PinholeCameraIntrinsics, q quat.Number, t r3.Vector,
) (*Camera, error) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return nil, errors.Errorf("camera %d (%s): invalid rotation quaternion %v", id, name, q)
	}
	q = quat.Scale(1/n, q)
	w2c := mat.NewDense(4, 4, nil)
	for j, axis := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		col := rotate(q, axis)
		w2c.Set(0, j, col.X)
		w2c.Set(1, j, col.Y)
		w2c.Set(2, j, col.Z)
	}
	w2c.Set(0, 3, t.X)
	w2c.Set(1, 3, t.Y)
	w2c.Set(2, 3, t.Z)
	w2c.Set(3, 3, 1)

	var c2w mat.Dense
	if err := c2w.Inverse(w2c); err != nil {
		return nil, errors.Wrapf(err, "camera %d (%s)", id, name)
	}
	// clean up round off in the last row so the rigid check holds
	for j := 0; j < 3; j++ {
		c2w.Set(3, j, 0)
	}
	c2w.Set(3, 3, 1)
	return NewCamera(id, name, intrinsics, &c2w)
}

// NewCameraLookingAt places a camera at eye looking at target.
func NewCameraLookingAt(id int, name string, intrinsics PinholeCameraIntrinsics, eye, target, up r3.Vector) (*Camera, error) {
	if eye == target {
		return nil, errors.Errorf("camera %d (%s): eye and target coincide", id, name)
	}
	return NewCamera(id, name, intrinsics, spatialmath.LookAtCameraToWorld(eye, target, up))
}

func rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Center returns the camera position in world coordinates.
func (c *Camera) Center() r3.Vector {
	return c.center
}

// CameraToWorld returns a copy of the camera-to-world transform.
func (c *Camera) CameraToWorld() *mat.Dense {
	return mat.DenseCopyOf(c.cameraToWorld)
}

// WorldToCamera returns a copy of the world-to-camera transform.
func (c *Camera) WorldToCamera() *mat.Dense {
	return mat.DenseCopyOf(c.worldToCamera)
}

// Rotation returns the world-to-camera rotation as a unit quaternion.
func (c *Camera) Rotation() quat.Number {
	m := c.worldToCamera
	trace := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q quat.Number
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (m.At(2, 1) - m.At(1, 2)) * s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) * s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) * s,
		}
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m.At(1, 1) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1))
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// ToCameraFrame transforms a world point into the camera frame.
func (c *Camera) ToCameraFrame(p r3.Vector) r3.Vector {
	m := c.worldToCamera
	return r3.Vector{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// RotateToCameraFrame applies only the rotation part of the world-to-camera transform.
func (c *Camera) RotateToCameraFrame(v r3.Vector) r3.Vector {
	m := c.worldToCamera
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// Project returns the subpixel image coordinates and depth of a world point.
func (c *Camera) Project(p r3.Vector) (u, v, depth float64) {
	pc := c.ToCameraFrame(p)
	u, v = c.Intrinsics.PointToPixel(pc.X, pc.Y, pc.Z)
	return u, v, pc.Z
}

// Downscaled returns a copy of the camera rendering at a resolution reduced by factor.
func (c *Camera) Downscaled(factor float64) (*Camera, error) {
	intrinsics, err := c.Intrinsics.Downscaled(factor)
	if err != nil {
		return nil, errors.Wrapf(err, "camera %d (%s)", c.ID, c.Name)
	}
	out := *c
	out.Intrinsics = intrinsics
	return &out, nil
}
