package iface

import (
	"context"
	"image"
)

// Backend is a loaded detection model. size is the letterbox target; 0
// selects the model's native input size.
type Backend interface {
	Detect(ctx context.Context, img image.Image, size int) ([]Result, error)
	CheckConfig() EngineConfig
	Destroy() error
}
