package scene

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// NewCenteredIntrinsics returns intrinsics whose principal point is the image center.
func NewCenteredIntrinsics(width, height int, fx, fy float64) PinholeCameraIntrinsics {
	return PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     fx,
		Fy:     fy,
		Ppx:    float64(width) / 2,
		Ppy:    float64(height) / 2,
	}
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PointToPixel projects a point in the camera frame onto the image plane. Unlike a pixel lookup the
// result is not rounded, so splats can be centered with subpixel accuracy.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
	}
	// if depth is zero, return negative coordinates so that the cropping to image bounds will filter it out
	return -1.0, -1.0
}

// PixelToPoint transforms a pixel with depth to a 3D point in the camera frame.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// FieldOfView returns the horizontal and vertical field of view in radians.
func (params *PinholeCameraIntrinsics) FieldOfView() (float64, float64) {
	return 2 * math.Atan(float64(params.Width)/(2*params.Fx)), 2 * math.Atan(float64(params.Height)/(2*params.Fy))
}

// Downscaled returns intrinsics for an image shrunk by the given factor, keeping the field of view.
// A factor of 1 returns the intrinsics unchanged.
func (params *PinholeCameraIntrinsics) Downscaled(factor float64) (PinholeCameraIntrinsics, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return PinholeCameraIntrinsics{}, errors.Errorf("invalid resolution scale %v", factor)
	}
	if factor == 1 {
		return *params, nil
	}
	width := int(math.Round(float64(params.Width) / factor))
	height := int(math.Round(float64(params.Height) / factor))
	if width < 1 || height < 1 {
		return PinholeCameraIntrinsics{}, errors.Errorf("resolution scale %v leaves an empty %dx%d image", factor, params.Width, params.Height)
	}
	sx := float64(width) / float64(params.Width)
	sy := float64(height) / float64(params.Height)
	return PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     params.Fx * sx,
		Fy:     params.Fy * sy,
		Ppx:    params.Ppx * sx,
		Ppy:    params.Ppy * sy,
	}, nil
}
