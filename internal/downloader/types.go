package downloader

import (
	"errors"
)

var ErrNotFound = errors.New("download not found")

// State is the engine-neutral status of one download.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateFailed    State = "failed"
	StateSucceeded State = "succeeded"
)

// IsTerminal reports whether no further byte-count changes are expected.
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateSucceeded
}

// Request describes one download to enqueue.
type Request struct {
	URL     string
	Dir     string // staging directory
	Out     string // staging file name inside Dir
	Headers map[string]string

	// Policy
	Connections   int   // max connections per server, 0 = engine default
	MaxSpeedBytes int64 // bytes/sec, 0 = unlimited
	Paused        bool
}

// Status is a point-in-time view of one download as reported by the engine.
type Status struct {
	Handle          string
	State           State
	BytesDownloaded int64
	BytesTotal      int64
	ReasonCode      int
	ReasonText      string
	ResultLocation  string
}
