package types

// Event represents a typed event emitted during desk state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType returns the event type identifier.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}
