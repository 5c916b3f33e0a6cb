package engine

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterboxImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 255, A: 255}}, image.Point{}, draw.Src)

	data, lb := letterboxImage(img, 64)
	require.Len(t, data, 3*64*64)
	assert.InDelta(t, 0.32, lb.scale, 1e-6)
	assert.Equal(t, float32(0), lb.padX)
	assert.Equal(t, float32(16), lb.padY)

	plane := 64 * 64
	// top padding row is gray
	assert.InDelta(t, 114.0/255.0, data[0], 1e-6)
	assert.InDelta(t, 114.0/255.0, data[plane], 1e-6)
	// centre pixel is the red image
	c := 32*64 + 32
	assert.InDelta(t, 1.0, data[c], 0.01)
	assert.InDelta(t, 0.0, data[plane+c], 1e-6)
	assert.InDelta(t, 0.0, data[2*plane+c], 1e-6)
}

func TestLetterboxToImage(t *testing.T) {
	lb := letterbox{scale: 0.5, padX: 0, padY: 16, width: 128, height: 64}
	x, y := lb.toImage(32, 32)
	assert.Equal(t, float32(64), x)
	assert.Equal(t, float32(32), y)

	x, y = lb.toImage(-10, 100)
	assert.Equal(t, float32(0), x)
	assert.Equal(t, float32(64), y)
}
