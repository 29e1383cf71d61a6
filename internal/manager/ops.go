package manager

import (
	"context"

	"modelpilot/internal/provider"
)

// Release returns a handle obtained from Acquire. The model stays loaded and
// becomes evictable once no holder remains. Releasing a handle whose model
// was already evicted is a no-op.
func (m *Manager) Release(h Handle) {
	id := h.ModelID()
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.gen != h.gen || e.state != StateReady {
		m.mu.Unlock()
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	e.lastUsed = m.now()
	refs := e.refs
	m.mu.Unlock()
	m.emit(EventRelease, id, map[string]any{"refs": refs})
}

// Infer runs one inference on a held handle. Inference calls are not
// serialized; concurrent callers share the provider instance.
func (m *Manager) Infer(ctx context.Context, h Handle, req provider.InferRequest) (provider.InferResponse, error) {
	adapter, ok := m.adapters[h.Descriptor.Provider]
	if !ok {
		return provider.InferResponse{}, adapterMissingError{kind: h.Descriptor.Provider}
	}
	m.mu.Lock()
	if e, ok := m.entries[h.ModelID()]; ok && e.gen == h.gen {
		e.lastUsed = m.now()
	}
	m.mu.Unlock()
	return adapter.Infer(ctx, h.Provider, req)
}

// WithModel acquires a model for req, runs fn and releases the model on
// every exit path, panics included.
func (m *Manager) WithModel(ctx context.Context, req AcquireRequest, fn func(ctx context.Context, h Handle) error) error {
	h, err := m.Acquire(ctx, req)
	if err != nil {
		return err
	}
	defer m.Release(h)
	return fn(ctx, h)
}
