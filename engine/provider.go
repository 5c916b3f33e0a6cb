package engine

import (
	iface "AnpdServer/interface"
	"AnpdServer/logger"
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loader builds a backend. It is called by Provider at most once per
// successful load.
type Loader func(ctx context.Context) (iface.Backend, error)

// Provider lazily loads a single backend and hands the same instance to every
// caller. A failed load is not remembered; the next Get tries again. After
// Close, Get returns ErrNotLoaded and never loads again.
type Provider struct {
	mu     sync.Mutex
	load   Loader
	handle iface.Backend
	loads  int
	closed bool
}

func NewProvider(load Loader) *Provider {
	return &Provider{load: load}
}

func (p *Provider) Get(ctx context.Context) (iface.Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrNotLoaded
	}
	if p.handle != nil {
		return p.handle, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := p.load(ctx)
	if err != nil {
		logger.Log().Error("model load failed", zap.Error(err))
		return nil, err
	}
	p.handle = h
	p.loads++
	return h, nil
}

// Loads returns how many times the loader produced a backend.
func (p *Provider) Loads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

func (p *Provider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle != nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.handle == nil {
		return nil
	}
	err := p.handle.Destroy()
	p.handle = nil
	return err
}

// ONNXLoader returns a Loader that builds a Detector from cfg.
func ONNXLoader(cfg Config) Loader {
	return func(ctx context.Context) (iface.Backend, error) {
		d := &Detector{}
		d.New()
		if err := d.LoadModel(cfg); err != nil {
			return nil, err
		}
		return d, nil
	}
}
