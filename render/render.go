// Package render turns a Gaussian cloud seen from a camera into an image.
package render

import (
	"context"

	"go.viam.com/blockpart/pointcloud"
	"go.viam.com/blockpart/rimage"
	"go.viam.com/blockpart/scene"
)

// A Renderer draws cloud from cam over a uniform background. Implementations must not modify the
// camera or the cloud and must return an image of the camera's size.
type Renderer interface {
	Render(ctx context.Context, cam *scene.Camera, cloud *pointcloud.GaussianCloud, background rimage.RGB) (*rimage.Image, error)
}

// A NearClipper is a Renderer that never draws a Gaussian whose camera depth is at or below
// NearClip. Nothing behind that plane can change its output.
type NearClipper interface {
	NearClip() float64
}

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(ctx context.Context, cam *scene.Camera, cloud *pointcloud.GaussianCloud, background rimage.RGB) (*rimage.Image, error)

// Render calls f.
func (f RenderFunc) Render(
	ctx context.Context, cam *scene.Camera, cloud *pointcloud.GaussianCloud, background rimage.RGB,
) (*rimage.Image, error) {
	return f(ctx, cam, cloud, background)
}
