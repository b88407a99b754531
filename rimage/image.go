// Package rimage holds linear float RGB images, the rasterization target of the splat renderer,
// and the structural similarity measure used to compare them.
package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// RGB is a linear color with channels nominally in [0, 1].
type RGB [3]float64

var (
	// Black is the zero background.
	Black = RGB{0, 0, 0}
	// White is the background for scenes trained against white.
	White = RGB{1, 1, 1}
)

// RGBA implements color.Color, clamping each channel to [0, 1].
func (c RGB) RGBA() (r, g, b, a uint32) {
	return channelTo16(c[0]), channelTo16(c[1]), channelTo16(c[2]), 0xffff
}

func channelTo16(v float64) uint32 {
	return uint32(math.Round(clamp01(v) * 0xffff))
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Image is a width x height RGB image with float channels, stored row major with interleaved
// channels.
type Image struct {
	width, height int
	data          []float64
}

// NewImage returns a black image of the given size.
func NewImage(width, height int) *Image {
	return &Image{width: width, height: height, data: make([]float64, 3*width*height)}
}

// NewImageFilled returns an image with every pixel set to c.
func NewImageFilled(width, height int, c RGB) *Image {
	img := NewImage(width, height)
	img.Fill(c)
	return img
}

// ConvertImage copies a standard library image into a float image.
func ConvertImage(img image.Image) *Image {
	b := img.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.SetXY(x, y, RGB{float64(r) / 0xffff, float64(g) / 0xffff, float64(bl) / 0xffff})
		}
	}
	return out
}

// Width returns the horizontal size in pixels.
func (i *Image) Width() int {
	return i.width
}

// Height returns the vertical size in pixels.
func (i *Image) Height() int {
	return i.height
}

// In reports whether (x, y) is inside the image.
func (i *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

func (i *Image) kxy(x, y int) int {
	return 3 * ((y * i.width) + x)
}

// GetXY returns the color at (x, y).
func (i *Image) GetXY(x, y int) RGB {
	k := i.kxy(x, y)
	return RGB{i.data[k], i.data[k+1], i.data[k+2]}
}

// SetXY sets the color at (x, y).
func (i *Image) SetXY(x, y int, c RGB) {
	k := i.kxy(x, y)
	copy(i.data[k:k+3], c[:])
}

// Fill sets every pixel to c.
func (i *Image) Fill(c RGB) {
	for k := 0; k < len(i.data); k += 3 {
		copy(i.data[k:k+3], c[:])
	}
}

// Channel returns a row major copy of one color channel.
func (i *Image) Channel(ch int) []float64 {
	plane := make([]float64, i.width*i.height)
	for k := range plane {
		plane[k] = i.data[3*k+ch]
	}
	return plane
}

// SameSize returns an error unless both images have the same dimensions.
func (i *Image) SameSize(other *Image) error {
	if other == nil {
		return errors.New("image is nil")
	}
	if i.width != other.width || i.height != other.height {
		return errors.Errorf("image sizes differ (%d,%d) != (%d,%d)", i.width, i.height, other.width, other.height)
	}
	return nil
}

// ColorModel implements image.Image.
func (i *Image) ColorModel() color.Model {
	return color.RGBA64Model
}

// Bounds implements image.Image.
func (i *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// At implements image.Image.
func (i *Image) At(x, y int) color.Color {
	if !i.In(x, y) {
		return color.RGBA64{}
	}
	return i.GetXY(x, y)
}
