package sync

// Event types published to the optional sink. The desktop shell
// forwards them to UI clients over a local WebSocket hub.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// Event is one sync lifecycle notification.
type Event struct {
	Type string
	Data map[string]interface{}
}

// SetEventSink registers a listener for sync lifecycle events. Pass
// nil to remove it. Safe to call while auto-sync is running; the new
// sink sees the next event.
func (e *Engine) SetEventSink(fn func(Event)) {
	e.mu.Lock()
	e.events = fn
	e.mu.Unlock()
}

func (e *Engine) emit(eventType string, data map[string]interface{}) {
	e.mu.Lock()
	sink := e.events
	e.mu.Unlock()
	if sink == nil {
		return
	}
	sink(Event{Type: eventType, Data: data})
}
