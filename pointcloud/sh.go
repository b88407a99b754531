package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

const shC1 = 0.4886025119029199

var (
	shC2 = [5]float64{
		1.0925484305920792,
		-1.0925484305920792,
		0.31539156525252005,
		-1.0925484305920792,
		0.5462742152960396,
	}
	shC3 = [7]float64{
		-0.5900435899266435,
		2.890611442640554,
		-0.4570457994644658,
		0.3731763325901154,
		-0.4570457994644658,
		1.445305721320277,
		-0.5900435899266435,
	}
)

// Color returns the RGB color of point i seen along dir, the unit vector from the viewer to the
// point, evaluating every spherical harmonic band the cloud carries. Channels are clamped below at
// zero.
func (c *GaussianCloud) Color(i int, dir r3.Vector) [3]float64 {
	coeffs := (c.SHDegree + 1) * (c.SHDegree + 1)
	rest := c.FeaturesRest[i*RestStride(c.SHDegree) : (i+1)*RestStride(c.SHDegree)]
	// rest is stored channel major: every coefficient of red, then green, then blue
	sh := func(ch, k int) float64 {
		return rest[ch*(coeffs-1)+k-1]
	}

	x, y, z := dir.X, dir.Y, dir.Z
	var rgb [3]float64
	for ch := 0; ch < 3; ch++ {
		v := SHC0 * c.FeaturesDC[i][ch]
		if c.SHDegree > 0 {
			v += -shC1*y*sh(ch, 1) + shC1*z*sh(ch, 2) - shC1*x*sh(ch, 3)
		}
		if c.SHDegree > 1 {
			xx, yy, zz := x*x, y*y, z*z
			v += shC2[0]*x*y*sh(ch, 4) +
				shC2[1]*y*z*sh(ch, 5) +
				shC2[2]*(2*zz-xx-yy)*sh(ch, 6) +
				shC2[3]*x*z*sh(ch, 7) +
				shC2[4]*(xx-yy)*sh(ch, 8)
			if c.SHDegree > 2 {
				v += shC3[0]*y*(3*xx-yy)*sh(ch, 9) +
					shC3[1]*x*y*z*sh(ch, 10) +
					shC3[2]*y*(4*zz-xx-yy)*sh(ch, 11) +
					shC3[3]*z*(2*zz-3*xx-3*yy)*sh(ch, 12) +
					shC3[4]*x*(4*zz-xx-yy)*sh(ch, 13) +
					shC3[5]*z*(xx-yy)*sh(ch, 14) +
					shC3[6]*x*(xx-3*yy)*sh(ch, 15)
			}
		}
		rgb[ch] = math.Max(0, v+0.5)
	}
	return rgb
}
