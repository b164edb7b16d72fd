// Package fsm implements the pipeline state machine: the events that drive it,
// the transition function, and the FIFO queue the driver consumes.
package fsm

import "time"

// EventKind tags the active variant of an Event.
type EventKind string

const (
	EventDownload            EventKind = "Download"
	EventDownloadingError    EventKind = "DownloadingError"
	EventDownloadingComplete EventKind = "DownloadingComplete"
	EventProcess             EventKind = "Process"
	EventProcessingError     EventKind = "ProcessingError"
	EventProcessingComplete  EventKind = "ProcessingComplete"
	EventIndex               EventKind = "Index"
	EventIndexingError       EventKind = "IndexingError"
	EventIndexingComplete    EventKind = "IndexingComplete"
	EventValidate            EventKind = "Validate"
	EventValidationError     EventKind = "ValidationError"
	EventValidationComplete  EventKind = "ValidationComplete"
	EventReset               EventKind = "Reset"
)

// EventKinds lists every event variant.
func EventKinds() []EventKind {
	return []EventKind{
		EventDownload,
		EventDownloadingError,
		EventDownloadingComplete,
		EventProcess,
		EventProcessingError,
		EventProcessingComplete,
		EventIndex,
		EventIndexingError,
		EventIndexingComplete,
		EventValidate,
		EventValidationError,
		EventValidationComplete,
		EventReset,
	}
}

// Event is an input to the state machine. Path, Duration and Details are only
// set on the variants that carry them.
type Event struct {
	Kind     EventKind
	Path     string
	Duration time.Duration
	Details  string
}

func Download() Event { return Event{Kind: EventDownload} }

func DownloadingError(details string) Event {
	return Event{Kind: EventDownloadingError, Details: details}
}

func DownloadingComplete(path string, d time.Duration) Event {
	return Event{Kind: EventDownloadingComplete, Path: path, Duration: d}
}

func Process(path string) Event { return Event{Kind: EventProcess, Path: path} }

func ProcessingError(details string) Event {
	return Event{Kind: EventProcessingError, Details: details}
}

func ProcessingComplete(path string, d time.Duration) Event {
	return Event{Kind: EventProcessingComplete, Path: path, Duration: d}
}

func Index(path string) Event { return Event{Kind: EventIndex, Path: path} }

func IndexingError(details string) Event {
	return Event{Kind: EventIndexingError, Details: details}
}

func IndexingComplete(d time.Duration) Event {
	return Event{Kind: EventIndexingComplete, Duration: d}
}

func Validate() Event { return Event{Kind: EventValidate} }

func ValidationError(details string) Event {
	return Event{Kind: EventValidationError, Details: details}
}

func ValidationComplete() Event { return Event{Kind: EventValidationComplete} }

func Reset() Event { return Event{Kind: EventReset} }

func (e Event) String() string { return string(e.Kind) }
