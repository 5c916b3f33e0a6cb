package engine

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
)

// letterbox maps model-space coordinates back to the source image.
type letterbox struct {
	scale  float32
	padX   float32
	padY   float32
	width  float32
	height float32
}

func (lb letterbox) toImage(x, y float32) (float32, float32) {
	x = (x - lb.padX) / lb.scale
	y = (y - lb.padY) / lb.scale
	return clamp(x, 0, lb.width), clamp(y, 0, lb.height)
}

func clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}

var padColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// letterboxImage resizes img into a size x size canvas keeping the aspect
// ratio, pads with gray and returns the CHW float tensor scaled to [0,1].
func letterboxImage(img image.Image, size int) ([]float32, letterbox) {
	b := img.Bounds()
	w, h := float32(b.Dx()), float32(b.Dy())
	scale := math32.Min(float32(size)/w, float32(size)/h)
	nw := int(math32.Max(1, math32.Floor(w*scale+0.5)))
	nh := int(math32.Max(1, math32.Floor(h*scale+0.5)))
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: padColor}, image.Point{}, draw.Src)
	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)
	draw.Draw(canvas, image.Rect(padX, padY, padX+nw, padY+nh), resized, resized.Bounds().Min, draw.Src)

	plane := size * size
	data := make([]float32, plane*3)
	red := data[0:plane]
	green := data[plane : plane*2]
	blue := data[plane*2 : plane*3]
	i := 0
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			red[i] = float32(row[x*4]) / 255.0
			green[i] = float32(row[x*4+1]) / 255.0
			blue[i] = float32(row[x*4+2]) / 255.0
			i++
		}
	}
	return data, letterbox{
		scale:  scale,
		padX:   float32(padX),
		padY:   float32(padY),
		width:  w,
		height: h,
	}
}
