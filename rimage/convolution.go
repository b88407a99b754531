package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// Kernel is a convolution window. A kernel built from two 1D factors is applied separably.
type Kernel struct {
	Content [][]float64
	Height  int
	Width   int

	rowFactor, colFactor []float64
}

// NewKernel wraps a dense window.
func NewKernel(content [][]float64) (*Kernel, error) {
	if len(content) == 0 || len(content[0]) == 0 {
		return nil, errors.New("kernel must not be empty")
	}
	for _, row := range content {
		if len(row) != len(content[0]) {
			return nil, errors.New("kernel rows must have equal length")
		}
	}
	return &Kernel{Content: content, Height: len(content), Width: len(content[0])}, nil
}

// NewGaussianKernel returns a normalized size x size Gaussian window.
func NewGaussianKernel(size int, sigma float64) (*Kernel, error) {
	if size < 1 || size%2 == 0 {
		return nil, errors.Errorf("gaussian kernel size must be odd and positive, got %d", size)
	}
	if sigma <= 0 {
		return nil, errors.Errorf("gaussian kernel sigma must be positive, got %v", sigma)
	}
	g := make([]float64, size)
	sum := 0.0
	for i := range g {
		d := float64(i - size/2)
		g[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += g[i]
	}
	for i := range g {
		g[i] /= sum
	}
	content := make([][]float64, size)
	for y := range content {
		content[y] = make([]float64, size)
		for x := range content[y] {
			content[y][x] = g[y] * g[x]
		}
	}
	return &Kernel{Content: content, Height: size, Width: size, rowFactor: g, colFactor: g}, nil
}

// Size returns the kernel dimensions.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel weight at (x, y).
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// ConvolvePlane filters a row major w x h plane with the kernel anchored at its center. Samples
// outside the plane count as zero, so the output has the input's size.
func ConvolvePlane(plane []float64, w, h int, k *Kernel) ([]float64, error) {
	if len(plane) != w*h {
		return nil, errors.Errorf("plane has %d values for a %dx%d image", len(plane), w, h)
	}
	if k.rowFactor != nil {
		return convolveSeparable(plane, w, h, k.rowFactor, k.colFactor), nil
	}
	out := make([]float64, w*h)
	ax, ay := k.Width/2, k.Height/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for ky := 0; ky < k.Height; ky++ {
				sy := y + ky - ay
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < k.Width; kx++ {
					sx := x + kx - ax
					if sx < 0 || sx >= w {
						continue
					}
					sum += plane[sy*w+sx] * k.Content[ky][kx]
				}
			}
			out[y*w+x] = sum
		}
	}
	return out, nil
}

func convolveSeparable(plane []float64, w, h int, rowFactor, colFactor []float64) []float64 {
	tmp := make([]float64, w*h)
	ax := len(colFactor) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for kx, weight := range colFactor {
				sx := x + kx - ax
				if sx < 0 || sx >= w {
					continue
				}
				sum += plane[y*w+sx] * weight
			}
			tmp[y*w+x] = sum
		}
	}
	out := make([]float64, w*h)
	ay := len(rowFactor) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for ky, weight := range rowFactor {
				sy := y + ky - ay
				if sy < 0 || sy >= h {
					continue
				}
				sum += tmp[sy*w+x] * weight
			}
			out[y*w+x] = sum
		}
	}
	return out
}
