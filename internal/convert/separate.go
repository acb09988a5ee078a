package convert

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

var white = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}

// IsRed reports whether a pixel belongs on the red plane: its red channel
// is strictly greater than both green and blue.
func IsRed(c color.NRGBA) bool {
	return c.R > c.G && c.R > c.B
}

// Separate splits a snapshot into a black-channel and a red-channel image of
// the same size. Red pixels are whited out in black and kept in red; every
// other pixel is kept in black and whited out in red.
func Separate(src image.Image) (black, red *image.NRGBA) {
	b := src.Bounds()
	black = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(black, black.Bounds(), src, b.Min, draw.Src)

	red = image.NewNRGBA(black.Bounds())
	copy(red.Pix, black.Pix)

	for y := 0; y < b.Dy(); y++ {
		row := y * black.Stride
		for x := 0; x < b.Dx(); x++ {
			i := row + x*4
			c := color.NRGBA{R: black.Pix[i], G: black.Pix[i+1], B: black.Pix[i+2], A: black.Pix[i+3]}
			if IsRed(c) {
				setPix(black.Pix[i:i+4], white)
			} else {
				setPix(red.Pix[i:i+4], white)
			}
		}
	}
	return black, red
}

func setPix(p []uint8, c color.NRGBA) {
	p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
}

// Rotate turns img counter-clockwise by angle degrees. The canvas grows to
// fit the rotated image and uncovered corners are white.
func Rotate(img image.Image, angle float64) *image.NRGBA {
	if angle == 0 {
		return imaging.Clone(img)
	}
	return imaging.Rotate(img, angle, color.White)
}
