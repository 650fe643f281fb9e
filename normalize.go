package imagepick

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// HasAlphaOrPalette reports whether img's color model carries an alpha
// channel or a palette. Such images are flattened onto white before encoding.
func HasAlphaOrPalette(img image.Image) bool {
	switch img.(type) {
	case *image.Paletted, *image.RGBA, *image.RGBA64, *image.NRGBA, *image.NRGBA64,
		*image.Alpha, *image.Alpha16, *image.NYCbCrA:
		return true
	}
	switch img.ColorModel() {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model,
		color.AlphaModel, color.Alpha16Model, color.NYCbCrAModel:
		return true
	}
	_, paletted := img.ColorModel().(color.Palette)
	return paletted
}

// Normalize returns an opaque three-channel copy of img. Alpha and palette
// images are composited over a white background; everything else (gray,
// CMYK, YCbCr) is converted to RGB.
func Normalize(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if HasAlphaOrPalette(img) {
		draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
		return dst
	}

	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
