package models

// EventStatus names a progress event. The set is closed.
type EventStatus string

const (
	EventStarted         EventStatus = "started"
	EventInfo            EventStatus = "info"
	EventAudioExtracted  EventStatus = "audioExtracted"
	EventModelProcessing EventStatus = "modelProcessing"
	EventModelStarted    EventStatus = "modelStarted"
	EventCompleted       EventStatus = "completed"
	EventError           EventStatus = "error"
)

// IsTerminal reports whether a client should stop waiting after this event.
func (s EventStatus) IsTerminal() bool {
	return s == EventCompleted || s == EventError
}

// ProgressEventName is the single event type used on the real-time channel.
const ProgressEventName = "processingUpdate"

// ProgressEvent is a transient status notification. It is broadcast once and never stored.
type ProgressEvent struct {
	Status     EventStatus `json:"status"`
	Message    string      `json:"message"`
	JobID      string      `json:"jobId,omitempty"`
	AssetID    string      `json:"assetId,omitempty"`
	AudioPath  string      `json:"audioPath,omitempty"`
	VideoPath  string      `json:"videoPath,omitempty"`
	ReportFile string      `json:"reportFile,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}
