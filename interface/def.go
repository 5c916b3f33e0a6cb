package iface

import (
	"image"
	"math"
)

type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

type Box struct {
	LT Position `json:"lt"`
	RT Position `json:"rt"`
	RB Position `json:"rb"`
	LB Position `json:"lb"`
}

// NewBox builds the four corners from a left-top / right-bottom pair.
func NewBox(x1, y1, x2, y2 float32) Box {
	return Box{
		LT: Position{X: x1, Y: y1},
		RT: Position{X: x2, Y: y1},
		RB: Position{X: x2, Y: y2},
		LB: Position{X: x1, Y: y2},
	}
}

func (b Box) Width() float32  { return b.RB.X - b.LT.X }
func (b Box) Height() float32 { return b.RB.Y - b.LT.Y }
func (b Box) Area() float32 {
	if b.Width() <= 0 || b.Height() <= 0 {
		return 0
	}
	return b.Width() * b.Height()
}

func (b Box) Center() Position {
	return Position{
		X: (b.LT.X + b.RB.X) / 2,
		Y: (b.LT.Y + b.RB.Y) / 2,
	}
}

// Rect rounds the box outwards to whole pixels.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(b.LT.X))),
		int(math.Floor(float64(b.LT.Y))),
		int(math.Ceil(float64(b.RB.X))),
		int(math.Ceil(float64(b.RB.Y))),
	).Canon()
}

// IoU is the intersection over union of two boxes, 0 when either is empty.
func (b Box) IoU(o Box) float32 {
	ix1 := max(b.LT.X, o.LT.X)
	iy1 := max(b.LT.Y, o.LT.Y)
	ix2 := min(b.RB.X, o.RB.X)
	iy2 := min(b.RB.Y, o.RB.Y)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Result is one detected plate. Text and TextConf are only set when a
// plate reader is configured.
type Result struct {
	ClassID  int      `json:"classId"`
	Class    string   `json:"class"`
	Conf     float32  `json:"confidence"`
	Box      Box      `json:"box"`
	Center   Position `json:"center"`
	Text     string   `json:"text,omitempty"`
	TextConf float32  `json:"textConfidence,omitempty"`
}

type EngineConfig struct {
	ModelPath string   `json:"modelPath"`
	Names     []string `json:"names"`
	Conf      float32  `json:"confidence"`
	Iou       float32  `json:"iou"`
	InputSize int      `json:"inputSize"`
}
