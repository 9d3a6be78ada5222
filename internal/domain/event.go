package domain

import "time"

// EventKind classifies a trade lifecycle event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
	EventError
	EventHeartbeat
)

// Event is a lifecycle notification emitted by a trader or the orchestrator
// and fanned in to the supervising loop, which forwards it to the operator.
type Event struct {
	Time    time.Time
	Kind    EventKind
	Symbol  string // empty for process-level events (heartbeat)
	Message string // operator-facing plain text
}
