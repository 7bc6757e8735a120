package domain

import "time"

// Priority bands used across the core. Higher values are serviced first;
// anything in between is allowed.
const (
	PriorityLow  = 1
	PriorityHigh = 10
)

// Task is one unit of schedulable work. The core never inspects Payload;
// it is handed verbatim to the executor for Kind.
type Task struct {
	ID          string
	Kind        string
	Payload     []byte
	Priority    int
	SubmittedAt time.Time
	Timeout     time.Duration // zero means no deadline
}

// ViewportItem is one addressable entry in a scrollable sequence. Position
// is its index in the caller's ordering.
type ViewportItem struct {
	ID       string
	Payload  []byte
	Position int
}
