package render

import (
	"context"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/blockpart/pointcloud"
	"go.viam.com/blockpart/rimage"
	"go.viam.com/blockpart/scene"
	"go.viam.com/blockpart/spatialmath"
)

// NearPlane is the camera depth below which Gaussians are not drawn.
const NearPlane = 0.2

const (
	// added to the projected covariance so every splat covers about a pixel
	lowPassVariance = 0.3
	minAlpha        = 1.0 / 255
	maxAlpha        = 0.99
	minTransmission = 1e-4
	// splats between context checks
	ctxCheckInterval = 4096
)

// SplatRenderer is a CPU rasterizer of 3D Gaussians. Each Gaussian is projected to a 2D ellipse,
// splats are sorted by depth and alpha blended front to back.
type SplatRenderer struct {
	// ScaleModifier multiplies every Gaussian's scale; zero means 1.
	ScaleModifier float64
}

// NewSplatRenderer returns a renderer with the given scale modifier.
func NewSplatRenderer(scaleModifier float64) *SplatRenderer {
	return &SplatRenderer{ScaleModifier: scaleModifier}
}

type splat struct {
	u, v    float64
	depth   float64
	conic   [3]float64 // inverse 2D covariance as xx, xy, yy
	radius  int
	opacity float64
	color   [3]float64
}

// NearClip implements NearClipper.
func (r *SplatRenderer) NearClip() float64 {
	return NearPlane
}

// Render implements Renderer.
func (r *SplatRenderer) Render(
	ctx context.Context, cam *scene.Camera, cloud *pointcloud.GaussianCloud, background rimage.RGB,
) (*rimage.Image, error) {
	if cam == nil {
		return nil, errors.New("camera is nil")
	}
	if err := cam.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := cloud.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid cloud")
	}
	modifier := r.ScaleModifier
	if modifier == 0 {
		modifier = 1
	}

	splats := make([]splat, 0, cloud.Size())
	for i := 0; i < cloud.Size(); i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if s, ok := project(cam, cloud, i, modifier); ok {
			splats = append(splats, s)
		}
	}
	sort.SliceStable(splats, func(i, j int) bool { return splats[i].depth < splats[j].depth })

	w, h := cam.Intrinsics.Width, cam.Intrinsics.Height
	accum := make([][3]float64, w*h)
	transmission := make([]float64, w*h)
	for k := range transmission {
		transmission[k] = 1
	}

	for n, s := range splats {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		x0, x1 := max(0, int(math.Floor(s.u))-s.radius), min(w-1, int(math.Ceil(s.u))+s.radius)
		y0, y1 := max(0, int(math.Floor(s.v))-s.radius), min(h-1, int(math.Ceil(s.v))+s.radius)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				k := y*w + x
				t := transmission[k]
				if t < minTransmission {
					continue
				}
				dx, dy := float64(x)-s.u, float64(y)-s.v
				power := -0.5*(s.conic[0]*dx*dx+s.conic[2]*dy*dy) - s.conic[1]*dx*dy
				if power > 0 {
					continue
				}
				alpha := math.Min(maxAlpha, s.opacity*math.Exp(power))
				if alpha < minAlpha {
					continue
				}
				for ch := 0; ch < 3; ch++ {
					accum[k][ch] += s.color[ch] * alpha * t
				}
				transmission[k] = t * (1 - alpha)
			}
		}
	}

	img := rimage.NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := y*w + x
			t := transmission[k]
			img.SetXY(x, y, rimage.RGB{
				accum[k][0] + t*background[0],
				accum[k][1] + t*background[1],
				accum[k][2] + t*background[2],
			})
		}
	}
	return img, nil
}

// project computes the screen space footprint of Gaussian i, or reports false when it is behind
// the near plane or degenerate.
func project(cam *scene.Camera, cloud *pointcloud.GaussianCloud, i int, modifier float64) (splat, bool) {
	pos := cloud.Positions[i]
	pc := cam.ToCameraFrame(pos)
	if pc.Z <= NearPlane {
		return splat{}, false
	}
	intr := cam.Intrinsics

	// clamp the Jacobian evaluation point to a little beyond the view frustum
	fovX, fovY := intr.FieldOfView()
	limX, limY := 1.3*math.Tan(fovX/2), 1.3*math.Tan(fovY/2)
	tx := math.Max(-limX, math.Min(limX, pc.X/pc.Z)) * pc.Z
	ty := math.Max(-limY, math.Min(limY, pc.Y/pc.Z)) * pc.Z
	j := [2][3]float64{
		{intr.Fx / pc.Z, 0, -intr.Fx * tx / (pc.Z * pc.Z)},
		{0, intr.Fy / pc.Z, -intr.Fy * ty / (pc.Z * pc.Z)},
	}

	// world covariance R S S^T R^T, rotated into the camera frame
	rot := rotationMatrix(cloud.Rotations[i])
	scale := cloud.ActivatedScale(i).Mul(modifier)
	var cols [3]r3.Vector
	for c := 0; c < 3; c++ {
		axis := r3.Vector{X: rot[0][c], Y: rot[1][c], Z: rot[2][c]}
		cols[c] = cam.RotateToCameraFrame(axis).Mul(spatialmath.Component(scale, c))
	}
	// T = J * W * R * S, covariance = T * T^T
	var t [2][3]float64
	for row := 0; row < 2; row++ {
		for c := 0; c < 3; c++ {
			t[row][c] = j[row][0]*cols[c].X + j[row][1]*cols[c].Y + j[row][2]*cols[c].Z
		}
	}
	a := t[0][0]*t[0][0] + t[0][1]*t[0][1] + t[0][2]*t[0][2] + lowPassVariance
	b := t[0][0]*t[1][0] + t[0][1]*t[1][1] + t[0][2]*t[1][2]
	c := t[1][0]*t[1][0] + t[1][1]*t[1][1] + t[1][2]*t[1][2] + lowPassVariance

	det := a*c - b*b
	if det <= 0 {
		return splat{}, false
	}
	mid := 0.5 * (a + c)
	lambda := mid + math.Sqrt(math.Max(0.1, mid*mid-det))
	radius := int(math.Ceil(3 * math.Sqrt(lambda)))

	u, v := intr.PointToPixel(pc.X, pc.Y, pc.Z)
	if u+float64(radius) < 0 || v+float64(radius) < 0 ||
		u-float64(radius) >= float64(intr.Width) || v-float64(radius) >= float64(intr.Height) {
		return splat{}, false
	}

	return splat{
		u:       u,
		v:       v,
		depth:   pc.Z,
		conic:   [3]float64{c / det, -b / det, a / det},
		radius:  radius,
		opacity: cloud.ActivatedOpacity(i),
		color:   cloud.Color(i, pos.Sub(cam.Center()).Normalize()),
	}, true
}

// rotationMatrix returns the row major rotation of a possibly unnormalized quaternion.
func rotationMatrix(q quat.Number) [3][3]float64 {
	n := quat.Abs(q)
	if n == 0 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	q = quat.Scale(1/n, q)
	r, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - r*z), 2 * (x*z + r*y)},
		{2 * (x*y + r*z), 1 - 2*(x*x+z*z), 2 * (y*z - r*x)},
		{2 * (x*z - r*y), 2 * (y*z + r*x), 1 - 2*(x*x+y*y)},
	}
}
