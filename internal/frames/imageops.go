package frames

import (
	"image"

	"golang.org/x/image/draw"
)

// 8-bit luma plane
type greyImage struct {
	width, height int
	pix           []uint8
}

func copyRegion(src image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// zeroes every pixel that has a channel below threshold
func maskDark(img *image.RGBA, threshold uint8) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		if img.Pix[i] < threshold || img.Pix[i+1] < threshold || img.Pix[i+2] < threshold {
			img.Pix[i] = 0
			img.Pix[i+1] = 0
			img.Pix[i+2] = 0
		}
	}
}

// ITU-R BT.601 luma, same weights as image/color.GrayModel
func toGrey(img *image.RGBA) *greyImage {
	b := img.Bounds()
	g := &greyImage{width: b.Dx(), height: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}
	for y := 0; y < g.height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+g.width*4]
		for x := 0; x < g.width; x++ {
			r := uint32(row[x*4])
			gr := uint32(row[x*4+1])
			bl := uint32(row[x*4+2])
			g.pix[y*g.width+x] = uint8((19595*r + 38470*gr + 7471*bl + 1<<15) >> 16)
		}
	}
	return g
}

// counts pixels whose absolute difference exceeds pixelThreshold
func countDiff(a, b *greyImage, pixelThreshold int) int {
	if a.width != b.width || a.height != b.height {
		return len(b.pix)
	}
	n := 0
	for i := range a.pix {
		d := int(a.pix[i]) - int(b.pix[i])
		if d < 0 {
			d = -d
		}
		if d > pixelThreshold {
			n++
		}
	}
	return n
}
