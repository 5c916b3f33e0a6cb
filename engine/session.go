package engine

import (
	"AnpdServer/logger"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	envMu    sync.Mutex
	envReady bool

	// initRuntime loads the shared library and creates the global environment.
	initRuntime = func(libPath string) error {
		if ort.IsInitialized() {
			return nil
		}
		ort.SetSharedLibraryPath(libPath)
		return ort.InitializeEnvironment()
	}
)

// initEnvironment 全局只初始化一次 onnxruntime，失败后下次加载会重试
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envReady {
		return nil
	}
	if err := initRuntime(libPath); err != nil {
		return err
	}
	envReady = true
	return nil
}

type ortRunner struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// newOrtRunner opens the model and allocates fixed input and output tensors.
// It returns the per-anchor attribute count (5 + number of classes).
func newOrtRunner(cfg Config) (*ortRunner, int, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, 0, errors.Wrap(err, "model weights")
	}
	libPath, err := FindRuntimeLibrary(cfg.RuntimeLib)
	if err != nil {
		return nil, 0, err
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, 0, errors.Wrap(err, "initialize onnxruntime")
	}

	inName, outName, anchors, attrs := probeModel(cfg)
	logger.Log().Debug("model io",
		zap.String("input", inName), zap.String("output", outName),
		zap.Int64("anchors", anchors), zap.Int("attrs", attrs))

	s := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return nil, 0, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, anchors, int64(attrs)))
	if err != nil {
		_ = input.Destroy()
		return nil, 0, errors.Wrap(err, "create output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		_ = multierr.Append(input.Destroy(), output.Destroy())
		return nil, 0, errors.Wrap(err, "session options")
	}
	defer options.Destroy()
	if cfg.IntraOpThreads > 0 {
		_ = options.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}
	if cfg.InterOpThreads > 0 {
		_ = options.SetInterOpNumThreads(cfg.InterOpThreads)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inName}, []string{outName},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		_ = multierr.Append(input.Destroy(), output.Destroy())
		return nil, 0, errors.Wrap(err, "create session")
	}
	return &ortRunner{session: session, input: input, output: output}, attrs, nil
}

// probeModel reads tensor names and the output shape from the model file. A
// dynamic or unreadable shape falls back to the YOLOv5 export layout.
func probeModel(cfg Config) (string, string, int64, int) {
	inName, outName := "images", "output0"
	s := int64(cfg.InputSize)
	anchors := 3 * ((s/8)*(s/8) + (s/16)*(s/16) + (s/32)*(s/32))
	attrs := 5 + len(cfg.Names)

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		logger.Log().Warn("cannot read model io info, using defaults", zap.Error(err))
		return inName, outName, anchors, attrs
	}
	if len(inputs) > 0 {
		inName = inputs[0].Name
	}
	if len(outputs) > 0 {
		outName = outputs[0].Name
		dims := outputs[0].Dimensions
		if len(dims) == 3 {
			if dims[1] > 0 {
				anchors = dims[1]
			}
			if dims[2] > 5 {
				attrs = int(dims[2])
			}
		}
	}
	return inName, outName, anchors, attrs
}

func (r *ortRunner) Run(input []float32) ([]float32, error) {
	dst := r.input.GetData()
	if len(input) != len(dst) {
		return nil, errors.Errorf("input length %d, tensor wants %d", len(input), len(dst))
	}
	copy(dst, input)
	if err := r.session.Run(); err != nil {
		return nil, err
	}
	return r.output.GetData(), nil
}

func (r *ortRunner) Close() error {
	var err error
	if r.session != nil {
		err = multierr.Append(err, r.session.Destroy())
		r.session = nil
	}
	if r.input != nil {
		err = multierr.Append(err, r.input.Destroy())
		r.input = nil
	}
	if r.output != nil {
		err = multierr.Append(err, r.output.Destroy())
		r.output = nil
	}
	return err
}
