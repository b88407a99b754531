package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ToNRGBA quantizes the image to 8 bit, clamping channels to [0, 1].
func (i *Image) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(i.Bounds())
	for y := 0; y < i.height; y++ {
		for x := 0; x < i.width; x++ {
			c := i.GetXY(x, y)
			k := out.PixOffset(x, y)
			out.Pix[k] = uint8(clamp01(c[0])*255 + 0.5)
			out.Pix[k+1] = uint8(clamp01(c[1])*255 + 0.5)
			out.Pix[k+2] = uint8(clamp01(c[2])*255 + 0.5)
			out.Pix[k+3] = 0xff
		}
	}
	return out
}

// SaveImage writes the image to fn, choosing the encoding from the file extension.
func SaveImage(img *Image, fn string) error {
	if err := imaging.Save(img.ToNRGBA(), fn); err != nil {
		return errors.Wrapf(err, "saving image %q", fn)
	}
	return nil
}

// NewImageFromFile decodes an image file.
func NewImageFromFile(fn string) (*Image, error) {
	img, err := imaging.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %q", fn)
	}
	return ConvertImage(img), nil
}
