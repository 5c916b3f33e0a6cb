package engine

import (
	iface "AnpdServer/interface"
	"AnpdServer/logger"
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// runner executes one forward pass. The returned slice may be reused by the
// next call.
type runner interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Detector wraps one onnxruntime session. mu serialises inference; state is
// readable without waiting for a running Detect.
type Detector struct {
	mu        sync.Mutex
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	InputSize int
	state     atomic.Int32
	attrs     int
	session   runner
}

func (d *Detector) New() bool {
	return d.state.CompareAndSwap(0, REGISTERED) || d.state.CompareAndSwap(UNREGISTERED, REGISTERED)
}

// State returns UNREGISTERED, REGISTERED, IDLE or BUSY.
func (d *Detector) State() int {
	if s := int(d.state.Load()); s != 0 {
		return s
	}
	return UNREGISTERED
}

// Busy reports whether a Detect call is running.
func (d *Detector) Busy() bool { return d.State() == BUSY }

// LoadModel creates the onnxruntime session for cfg.ModelPath. Any failure
// is returned as a *LoadError.
func (d *Detector) LoadModel(cfg Config) error {
	cfg = cfg.withDefaults()
	session, attrs, err := newOrtRunner(cfg)
	if err != nil {
		return &LoadError{Path: cfg.ModelPath, Err: err}
	}
	if attrs-5 < len(cfg.Names) {
		logger.Log().Warn("model has fewer classes than configured names",
			zap.Int("modelClasses", attrs-5), zap.Int("names", len(cfg.Names)))
	}
	d.attach(cfg, session, attrs)
	logger.Log().Info("model loaded",
		zap.String("ModelPath", cfg.ModelPath),
		zap.Float32("Confidence", cfg.Conf),
		zap.Float32("IoU", cfg.Iou),
		zap.Int("InputSize", cfg.InputSize))
	return nil
}

func (d *Detector) attach(cfg Config, session runner, attrs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ModelPath = cfg.ModelPath
	d.Names = append([]string(nil), cfg.Names...)
	d.Conf = cfg.Conf
	d.Iou = cfg.Iou
	d.InputSize = cfg.InputSize
	d.attrs = attrs
	d.session = session
	d.state.Store(IDLE)
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return iface.EngineConfig{
		ModelPath: d.ModelPath,
		Names:     append([]string(nil), d.Names...),
		Conf:      d.Conf,
		Iou:       d.Iou,
		InputSize: d.InputSize,
	}
}

func (d *Detector) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.session != nil {
		err = d.session.Close()
	}
	d.ModelPath = ""
	d.Names = nil
	d.Conf = 0
	d.Iou = 0
	d.InputSize = 0
	d.attrs = 0
	d.session = nil
	d.state.Store(UNREGISTERED)
	return err
}

// Detect letterboxes img, runs the model and returns the plates left after
// thresholding and NMS, in image coordinates.
func (d *Detector) Detect(ctx context.Context, img image.Image, size int) (results []iface.Result, err error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() != IDLE || d.session == nil {
		return nil, ErrNotLoaded
	}
	if size > 0 && size != d.InputSize {
		return nil, errors.Wrapf(ErrInputSize, "model takes %d, got %d", d.InputSize, size)
	}

	d.state.Store(BUSY)
	defer func() {
		d.state.Store(IDLE)
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("panic during detect: %v", r)
		}
	}()

	input, lb := letterboxImage(img, d.InputSize)
	output, err := d.session.Run(input)
	if err != nil {
		return nil, errors.Wrap(err, "inference")
	}
	results = decodeYOLOv5(output, d.attrs, d.Conf, d.Names, lb)
	return nonMaxSuppression(results, d.Iou), nil
}
