package convert

import (
	"fmt"
	"image"
)

// Plane is a packed 1bpp bitmap as tri-color panel drivers expect it.
//
// Packing:
//
//   - y-major, MSB-first:
//     byteIndex = y*Stride + (x >> 3)
//     mask      = 0x80 >> (x & 7)
//   - 1 = white, 0 = ink. Buffers start all white and only inked pixels
//     get their bit cleared.
type Plane struct {
	Width  int
	Height int
	Stride int
	Bits   []byte
}

// PackPlanes packs the separated black and red images into 1bpp planes.
// Both images must have the same size.
//
//   - black plane: ink where the black image is dark (luma < 128)
//   - red plane:   ink where the red image holds a red pixel
//   - alpha < 128 is treated as white (투명 픽셀은 화면에 보이지 않는다)
func PackPlanes(black, red *image.NRGBA) (Plane, Plane, error) {
	bb, rb := black.Bounds(), red.Bounds()
	if bb.Dx() != rb.Dx() || bb.Dy() != rb.Dy() {
		return Plane{}, Plane{}, fmt.Errorf("convert: plane size mismatch %dx%d vs %dx%d", bb.Dx(), bb.Dy(), rb.Dx(), rb.Dy())
	}

	w, h := bb.Dx(), bb.Dy()
	bp := newPlane(w, h)
	rp := newPlane(w, h)

	for y := 0; y < h; y++ {
		bRow := y * black.Stride
		rRow := y * red.Stride
		for x := 0; x < w; x++ {
			byteIndex := y*bp.Stride + (x >> 3)
			mask := byte(0x80 >> (x & 7))

			if px := black.Pix[bRow+x*4 : bRow+x*4+4]; px[3] >= 128 && luma(px) < 128 {
				bp.Bits[byteIndex] &^= mask
			}
			if px := red.Pix[rRow+x*4 : rRow+x*4+4]; px[3] >= 128 && px[0] > px[1] && px[0] > px[2] {
				rp.Bits[byteIndex] &^= mask
			}
		}
	}
	return bp, rp, nil
}

func newPlane(w, h int) Plane {
	stride := (w + 7) / 8
	bits := make([]byte, stride*h)
	for i := range bits {
		bits[i] = 0xFF
	}
	return Plane{Width: w, Height: h, Stride: stride, Bits: bits}
}

// luma is the perceptual brightness Y = 0.299R + 0.587G + 0.114B.
func luma(px []uint8) float64 {
	return 0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2])
}
