package task

import (
	"time"

	"bgdownloader/internal/downloader"
)

// Event names delivered to the event sink.
const (
	EventBegin    = "downloadBegin"
	EventProgress = "downloadProgress"
	EventComplete = "downloadComplete"
	EventFailed   = "downloadFailed"
)

// TaskState is the client-facing state of a download.
type TaskState int

const (
	TaskRunning   TaskState = 0
	TaskSuspended TaskState = 1
	TaskCanceling TaskState = 2
	TaskCompleted TaskState = 3
)

// StateFromEngine maps an engine state to the client-facing state.
func StateFromEngine(s downloader.State) TaskState {
	switch s {
	case downloader.StatePaused:
		return TaskSuspended
	case downloader.StateFailed:
		return TaskCanceling
	case downloader.StateSucceeded:
		return TaskCompleted
	default:
		return TaskRunning
	}
}

// TaskConfig is the durable record of one active download.
type TaskConfig struct {
	ID              string    `json:"id"`
	SourceURL       string    `json:"sourceUrl"`
	DestinationPath string    `json:"destinationPath"`
	Metadata        string    `json:"metadata"`
	ReportedBegin   bool      `json:"reportedBegin"`
	CreatedAt       time.Time `json:"createdAt"`
}

type BeginEvent struct {
	ID              string `json:"id"`
	Metadata        string `json:"metadata"`
	SourceURL       string `json:"sourceUrl"`
	DestinationPath string `json:"destinationPath"`
	ExpectedBytes   int64  `json:"expectedBytes"`
}

// ProgressReport is one entry of a downloadProgress batch.
type ProgressReport struct {
	ID              string `json:"id"`
	BytesDownloaded int64  `json:"bytesDownloaded"`
	BytesTotal      int64  `json:"bytesTotal"`
}

type CompleteEvent struct {
	ID              string `json:"id"`
	Location        string `json:"location"`
	BytesDownloaded int64  `json:"bytesDownloaded"`
	BytesTotal      int64  `json:"bytesTotal"`
}

type FailedEvent struct {
	ID           string `json:"id"`
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Snapshot describes a download found in the engine at enumeration time.
type Snapshot struct {
	ID              string    `json:"id"`
	Metadata        string    `json:"metadata"`
	State           TaskState `json:"state"`
	BytesDownloaded int64     `json:"bytesDownloaded"`
	BytesTotal      int64     `json:"bytesTotal"`
}
