package partition

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/pointcloud"
	"go.viam.com/blockpart/scene"
	"go.viam.com/blockpart/spatialmath"
)

// FlatRadiusRatio is the smallest to largest radius ratio under which the camera rig is treated as
// flat along its smallest axis.
const FlatRadiusRatio = 0.02

// ResolveAABB returns the scene box. A given aabb must hold exactly six ordered values. Without
// one the box is centered on the focus point of the cameras and spans, per axis, the median
// camera distance from it.
func ResolveAABB(
	aabb []float64, cams []*scene.Camera, cloud *pointcloud.GaussianCloud, logger logging.Logger,
) (spatialmath.AABB, error) {
	if aabb != nil {
		box, err := spatialmath.NewAABBFromSlice(aabb)
		if err != nil {
			return spatialmath.AABB{}, &ConfigError{Field: "aabb", Reason: err.Error()}
		}
		logger.Debugw("using configured scene box", "aabb", box.String())
		return box, nil
	}

	if len(cams) < 2 {
		return spatialmath.AABB{}, &DegenerateGeometryError{
			Reason: fmt.Sprintf("need at least 2 cameras to estimate the scene box, got %d", len(cams)),
		}
	}
	c2ws := make([]mat.Matrix, len(cams))
	for i, cam := range cams {
		c2ws[i] = cam.CameraToWorld()
	}
	center, radius, err := spatialmath.EstimateCenterRadius(c2ws)
	if err != nil {
		return spatialmath.AABB{}, &DegenerateGeometryError{Reason: "estimating scene center", Err: err}
	}

	extent, err := cloud.Extent()
	if err != nil {
		return spatialmath.AABB{}, &DegenerateGeometryError{Reason: "measuring point extent", Err: err}
	}
	recovered, axis := spatialmath.RecoverFlatAxis(radius, extent, FlatRadiusRatio)
	if axis >= 0 {
		logger.Infow("camera rig is flat, using the point extent instead",
			"axis", axis,
			"radius", spatialmath.Component(radius, axis),
			"replacement", spatialmath.Component(recovered, axis))
	}

	box := boxFromCenterRadius(center, recovered)
	logger.Infow("estimated scene box", "center", center, "radius", recovered, "aabb", box.String())
	return box, nil
}

// boxFromCenterRadius is the box [center - radius, center + radius].
func boxFromCenterRadius(center, radius r3.Vector) spatialmath.AABB {
	return spatialmath.NewAABB(center.Sub(radius), center.Add(radius))
}
