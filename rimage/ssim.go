package rimage

import (
	"github.com/pkg/errors"
)

const (
	// DefaultSSIMWindow is the side of the Gaussian window SSIM averages over.
	DefaultSSIMWindow = 11
	// DefaultSSIMSigma is the standard deviation of that window.
	DefaultSSIMSigma = 1.5

	ssimC1 = 0.01 * 0.01
	ssimC2 = 0.03 * 0.03
)

var defaultSSIMKernel *Kernel

func init() {
	var err error
	defaultSSIMKernel, err = NewGaussianKernel(DefaultSSIMWindow, DefaultSSIMSigma)
	if err != nil {
		panic(err)
	}
}

// SSIM returns the mean structural similarity of two images with channels in [0, 1], using an
// 11x11 Gaussian window with sigma 1.5. Identical images score 1.
func SSIM(a, b *Image) (float64, error) {
	return SSIMWithKernel(a, b, defaultSSIMKernel)
}

// SSIMWithKernel is SSIM with a caller supplied window. Local statistics are computed per channel
// with zero padding at the borders and the similarity map is averaged over every pixel and channel.
func SSIMWithKernel(a, b *Image, window *Kernel) (float64, error) {
	if a == nil {
		return 0, errors.New("image is nil")
	}
	if err := a.SameSize(b); err != nil {
		return 0, err
	}
	w, h := a.Width(), a.Height()
	if w == 0 || h == 0 {
		return 0, errors.New("cannot compare empty images")
	}

	total := 0.0
	for ch := 0; ch < 3; ch++ {
		x, y := a.Channel(ch), b.Channel(ch)
		xx := make([]float64, len(x))
		yy := make([]float64, len(x))
		xy := make([]float64, len(x))
		for i := range x {
			xx[i] = x[i] * x[i]
			yy[i] = y[i] * y[i]
			xy[i] = x[i] * y[i]
		}

		planes := make([][]float64, 0, 5)
		for _, p := range [][]float64{x, y, xx, yy, xy} {
			filtered, err := ConvolvePlane(p, w, h, window)
			if err != nil {
				return 0, errors.Wrapf(err, "channel %d", ch)
			}
			planes = append(planes, filtered)
		}
		mu1, mu2, e11, e22, e12 := planes[0], planes[1], planes[2], planes[3], planes[4]

		for i := range mu1 {
			mu1mu2 := mu1[i] * mu2[i]
			mu1sq := mu1[i] * mu1[i]
			mu2sq := mu2[i] * mu2[i]
			sigma1sq := e11[i] - mu1sq
			sigma2sq := e22[i] - mu2sq
			sigma12 := e12[i] - mu1mu2
			total += ((2*mu1mu2 + ssimC1) * (2*sigma12 + ssimC2)) /
				((mu1sq + mu2sq + ssimC1) * (sigma1sq + sigma2sq + ssimC2))
		}
	}
	return total / float64(3*w*h), nil
}
