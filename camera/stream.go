package camera

import (
	"AnpdServer/engine"
	iface "AnpdServer/interface"
	"AnpdServer/logger"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Annotator runs detection on a frame. *engine.Annotator implements it.
type Annotator interface {
	Annotate(ctx context.Context, img image.Image, size int) (*engine.Annotated, error)
}

type Frame struct {
	Seq        int
	Image      *image.RGBA
	Detections []iface.Result
}

type Options struct {
	// Size is the letterbox size, 0 for the model default.
	Size int
	// MaxFPS caps the loop rate, 0 for unlimited.
	MaxFPS float64
}

// Stream opens a source and emits annotated frames until ctx is cancelled,
// a read fails or emit returns an error. Cancellation returns nil. The source
// is closed exactly once on every path.
func Stream(ctx context.Context, open Opener, ann Annotator, emit func(Frame) error, opts Options) error {
	src, err := open()
	if err != nil {
		if errors.Is(err, ErrOpen) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrOpen, err)
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := src.Close(); err != nil {
				logger.Log().Warn("camera release failed", zap.Error(err))
			}
		})
	}
	defer release()

	var limiter *rate.Limiter
	if opts.MaxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxFPS), 1)
	}

	for seq := 1; ; seq++ {
		if ctx.Err() != nil {
			return nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		img, err := src.Read()
		if err != nil {
			if errors.Is(err, ErrRead) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrRead, err)
		}

		res, err := ann.Annotate(ctx, img, opts.Size)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := emit(Frame{Seq: seq, Image: res.Image, Detections: res.Detections}); err != nil {
			return err
		}
	}
}
