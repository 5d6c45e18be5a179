package models

// Priority orders tasks for dispatch. Lower numeric values are more urgent:
// a critical task always dispatches before a background task enqueued at the
// same time. Ties within a level break FIFO on enqueue time.
type Priority int

const (
	// PriorityCritical is dispatched before all other levels.
	PriorityCritical Priority = 1
	// PriorityHigh is for urgent but non-critical work.
	PriorityHigh Priority = 2
	// PriorityNormal is the default level.
	PriorityNormal Priority = 3
	// PriorityLow is for deferrable work.
	PriorityLow Priority = 4
	// PriorityBackground is dispatched only when nothing else is queued.
	PriorityBackground Priority = 5
)

// Valid returns true if the priority is a known level.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// String returns a human-readable name for the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}
