package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names.
const (
	EventAcquireStart = "acquire_start"
	EventAcquireHit   = "acquire_hit"
	EventLoadStart    = "load_start"
	EventLoadReady    = "load_ready"
	EventLoadFailed   = "load_failed"
	EventEvict        = "evict"
	EventRelease      = "release"
	EventEvictAll     = "evict_all"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) emit(name, modelID string, fields map[string]any) {
	ev := m.log.Debug().Str("event", name)
	if modelID != "" {
		ev = ev.Str("model", modelID)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("manager")
	if fields == nil {
		fields = map[string]any{}
	}
	m.publisher.Publish(Event{Name: name, ModelID: modelID, Fields: fields})
}
