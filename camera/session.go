package camera

import (
	"AnpdServer/logger"
	"AnpdServer/monitor"
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one start/stop toggle owned by a client connection.
type Session struct {
	ID string

	device *Device
	open   Opener
	ann    Annotator
	opts   Options
	emit   func(Frame) error
	onExit func(error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

func NewSession(device *Device, open Opener, ann Annotator, opts Options, emit func(Frame) error, onExit func(error)) *Session {
	if onExit == nil {
		onExit = func(error) {}
	}
	return &Session{
		ID:     uuid.NewString(),
		device: device,
		open:   open,
		ann:    ann,
		opts:   opts,
		emit:   emit,
		onExit: onExit,
	}
}

func (s *Session) Running() bool { return s.running.Load() }

// Start launches the stream in its own goroutine. Starting a running
// session is a no-op.
func (s *Session) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}
	if !s.device.TryAcquire() {
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running.Store(true)

	log := logger.Named("camera").With(zap.String("session", s.ID))
	log.Info("camera stream started")
	monitor.CameraStreams.Inc()

	go func() {
		err := Stream(ctx, s.open, s.ann, s.emit, s.opts)
		s.device.Release()
		monitor.CameraStreams.Dec()
		s.running.Store(false)
		cancel()
		if err != nil {
			log.Warn("camera stream ended", zap.Error(err))
		} else {
			log.Info("camera stream stopped")
		}
		s.onExit(err)
		close(done)
	}()
	return nil
}

// Stop cancels the stream and waits until the device is released.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
