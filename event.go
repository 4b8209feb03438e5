package borgmon

import (
	"time"
)

// EventType identifies the kind of fact recorded in a job's event log.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventSuccess EventType = "success"
	EventFailed  EventType = "failed"
	EventLog     EventType = "log"
	EventInfo    EventType = "info"
)

// KnownEventType reports whether t is part of the push vocabulary.
func KnownEventType(t EventType) bool {
	switch t {
	case EventStart, EventStop, EventSuccess, EventFailed, EventLog, EventInfo:
		return true
	}
	return false
}

// Terminal reports whether t ends a backup session.
// 'stop' is bookkeeping only and never settles a session.
func (t EventType) Terminal() bool {
	return t == EventSuccess || t == EventFailed
}

// Event is an immutable fact appended to a job's log. The ID is a
// monotonic, gap-free sequence within the job. Events are never updated
// or deleted after append.
type Event struct {
	ID        uint64            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	HasInfo   bool              `json:"has_info"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// WarningFlagged reports whether the event was externally flagged as a
// partial success by the pushing client.
func (e Event) WarningFlagged() bool {
	return e.Extra["warning"] != ""
}

// MaxEventBodySize bounds the text body attached to a single event.
// Bodies beyond the bound are truncated on ingest, never rejected.
const MaxEventBodySize = 1 << 20
