package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

// Defaults of the plate model.
const (
	DefaultModelPath  = "model/last.onnx"
	DefaultConfidence = float32(0.5)
	DefaultIou        = float32(0.45)
	DefaultInputSize  = 640
)

var (
	ErrModelLoad  = errors.New("model load failed")
	ErrNotLoaded  = errors.New("model not loaded")
	ErrEmptyImage = errors.New("image is empty")
	ErrInputSize  = errors.New("unsupported input size")
)

// Config describes how the detector is built.
type Config struct {
	ModelPath      string
	Names          []string
	Conf           float32
	Iou            float32
	InputSize      int
	RuntimeLib     string
	IntraOpThreads int
	InterOpThreads int
}

func (c Config) withDefaults() Config {
	if c.ModelPath == "" {
		c.ModelPath = DefaultModelPath
	}
	if c.Conf <= 0 || c.Conf > 1 {
		c.Conf = DefaultConfidence
	}
	if c.Iou <= 0 || c.Iou > 1 {
		c.Iou = DefaultIou
	}
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if len(c.Names) == 0 {
		c.Names = []string{"plate"}
	}
	return c
}

// LoadError reports that the weights could not be turned into a session.
// It matches ErrModelLoad with errors.Is.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }
