package render

import (
	iface "AnpdServer/interface"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Palette colours boxes by class id.
var Palette = []color.RGBA{
	{R: 0, G: 220, B: 90, A: 255},
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
}

func classColor(id int) color.RGBA {
	if id < 0 {
		id = -id
	}
	return Palette[id%len(Palette)]
}

// Label is the text shown above a box.
func Label(r iface.Result) string {
	s := fmt.Sprintf("%s %.2f", r.Class, r.Conf)
	if r.Text != "" {
		s += " " + r.Text
	}
	return s
}

// Copy returns img as an RGBA whose bounds start at the origin.
func Copy(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Draw renders results onto a copy of img. The input is never modified.
func Draw(img image.Image, results []iface.Result) *image.RGBA {
	dst := Copy(img)
	if len(results) == 0 {
		return dst
	}

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	lineWidth := float64(min(w, h)) / 320
	if lineWidth < 2 {
		lineWidth = 2
	}
	fontSize := lineWidth * 6
	face := truetype.NewFace(font, &truetype.Options{Size: fontSize})
	defer face.Close()

	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(face)
	for _, r := range results {
		c := classColor(r.ClassID)
		x1, y1 := float64(r.Box.LT.X), float64(r.Box.LT.Y)
		bw, bh := float64(r.Box.Width()), float64(r.Box.Height())

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(x1, y1, bw, bh)
		dc.Stroke()

		label := Label(r)
		tw, th := dc.MeasureString(label)
		pad := lineWidth
		ty := y1 - th - 2*pad
		if ty < 0 {
			ty = y1
		}
		dc.SetColor(c)
		dc.DrawRectangle(x1, ty, tw+2*pad, th+2*pad)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawStringAnchored(label, x1+pad, ty+pad, 0, 1)
	}
	return dst
}
