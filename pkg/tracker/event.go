package tracker

// Event is the optional announce event sent to the tracker.
type Event string

const (
	Regular   Event = ""
	Started   Event = "started"
	Completed Event = "completed"
	Stopped   Event = "stopped"
)
