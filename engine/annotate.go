package engine

import (
	iface "AnpdServer/interface"
	"AnpdServer/monitor"
	"AnpdServer/render"
	"context"
	"image"
	"time"
)

// BackendSource hands out the shared backend. *Provider implements it.
type BackendSource interface {
	Get(ctx context.Context) (iface.Backend, error)
}

// PlateReader fills in plate text for detections.
type PlateReader interface {
	Read(ctx context.Context, img image.Image, results []iface.Result) []iface.Result
}

// Annotated is a rendered copy of the input plus what was found on it.
type Annotated struct {
	Image      *image.RGBA
	Detections []iface.Result
}

type Annotator struct {
	Source BackendSource
	Reader PlateReader
	// Label tags inference metrics, e.g. "upload" or "camera".
	Label string
}

func (a *Annotator) Annotate(ctx context.Context, img image.Image, size int) (*Annotated, error) {
	backend, err := a.Source.Get(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	results, err := backend.Detect(ctx, img, size)
	if err != nil {
		return nil, err
	}
	monitor.ObserveInference(a.Label, time.Since(start))
	if a.Reader != nil && len(results) > 0 {
		results = a.Reader.Read(ctx, img, results)
	}
	if results == nil {
		results = []iface.Result{}
	}
	return &Annotated{
		Image:      render.Draw(img, results),
		Detections: results,
	}, nil
}
