// pkg/schema/state.go
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// StateKind tags the active variant of a pipeline State.
type StateKind string

const (
	StateNotAvailable          StateKind = "NotAvailable"
	StateDownloadingInProgress StateKind = "DownloadingInProgress"
	StateDownloadingError      StateKind = "DownloadingError"
	StateDownloaded            StateKind = "Downloaded"
	StateProcessingInProgress  StateKind = "ProcessingInProgress"
	StateProcessingError       StateKind = "ProcessingError"
	StateProcessed             StateKind = "Processed"
	StateIndexingInProgress    StateKind = "IndexingInProgress"
	StateIndexingError         StateKind = "IndexingError"
	StateIndexed               StateKind = "Indexed"
	StateValidationInProgress  StateKind = "ValidationInProgress"
	StateValidationError       StateKind = "ValidationError"
	StateAvailable             StateKind = "Available"
	StateFailure               StateKind = "Failure"
)

// StateKinds lists every variant in pipeline order.
func StateKinds() []StateKind {
	return []StateKind{
		StateNotAvailable,
		StateDownloadingInProgress,
		StateDownloadingError,
		StateDownloaded,
		StateProcessingInProgress,
		StateProcessingError,
		StateProcessed,
		StateIndexingInProgress,
		StateIndexingError,
		StateIndexed,
		StateValidationInProgress,
		StateValidationError,
		StateAvailable,
		StateFailure,
	}
}

// State is a snapshot of pipeline progress. Only the fields owned by Kind are
// meaningful; use the constructors below rather than building values by hand.
type State struct {
	Kind      StateKind
	FilePath  string
	StartedAt time.Time
	Duration  time.Duration
	Details   string
	Message   string
}

func NotAvailable() State { return State{Kind: StateNotAvailable} }

func DownloadingInProgress(startedAt time.Time) State {
	return State{Kind: StateDownloadingInProgress, StartedAt: startedAt}
}

func DownloadingError(details string) State {
	return State{Kind: StateDownloadingError, Details: details}
}

func Downloaded(filePath string, d time.Duration) State {
	return State{Kind: StateDownloaded, FilePath: filePath, Duration: d}
}

func ProcessingInProgress(filePath string, startedAt time.Time) State {
	return State{Kind: StateProcessingInProgress, FilePath: filePath, StartedAt: startedAt}
}

func ProcessingError(details string) State {
	return State{Kind: StateProcessingError, Details: details}
}

func Processed(filePath string, d time.Duration) State {
	return State{Kind: StateProcessed, FilePath: filePath, Duration: d}
}

func IndexingInProgress(filePath string, startedAt time.Time) State {
	return State{Kind: StateIndexingInProgress, FilePath: filePath, StartedAt: startedAt}
}

func IndexingError(details string) State {
	return State{Kind: StateIndexingError, Details: details}
}

func Indexed(d time.Duration) State { return State{Kind: StateIndexed, Duration: d} }

func ValidationInProgress() State { return State{Kind: StateValidationInProgress} }

func ValidationError(details string) State {
	return State{Kind: StateValidationError, Details: details}
}

func Available() State { return State{Kind: StateAvailable} }

func Failure(message string) State { return State{Kind: StateFailure, Message: message} }

func (s State) String() string { return string(s.Kind) }

// IsError reports whether s is one of the recoverable *Error states.
func (s State) IsError() bool {
	switch s.Kind {
	case StateDownloadingError, StateProcessingError, StateIndexingError, StateValidationError:
		return true
	}
	return false
}

// IsTerminal reports whether no reaction follows s within the current run.
func (s State) IsTerminal() bool {
	return s.Kind == StateAvailable || s.Kind == StateFailure
}

// Finished reports whether an observer should stop listening after seeing s.
// NotAvailable is only ever published after a Reset, so it marks an aborted run.
func (s State) Finished() bool {
	return s.Kind == StateNotAvailable || s.IsTerminal()
}

type field uint8

const (
	fieldFilePath field = 1 << iota
	fieldStartedAt
	fieldDuration
	fieldDetails
	fieldMessage
)

var stateFields = map[StateKind]field{
	StateNotAvailable:          0,
	StateDownloadingInProgress: fieldStartedAt,
	StateDownloadingError:      fieldDetails,
	StateDownloaded:            fieldFilePath | fieldDuration,
	StateProcessingInProgress:  fieldFilePath | fieldStartedAt,
	StateProcessingError:       fieldDetails,
	StateProcessed:             fieldFilePath | fieldDuration,
	StateIndexingInProgress:    fieldFilePath | fieldStartedAt,
	StateIndexingError:         fieldDetails,
	StateIndexed:               fieldDuration,
	StateValidationInProgress:  0,
	StateValidationError:       fieldDetails,
	StateAvailable:             0,
	StateFailure:               fieldMessage,
}

// wireState is the self-describing form published to subscribers.
type wireState struct {
	State      StateKind  `json:"state" msgpack:"state"`
	FilePath   *string    `json:"file_path,omitempty" msgpack:"file_path,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty" msgpack:"duration_ms,omitempty"`
	Details    *string    `json:"details,omitempty" msgpack:"details,omitempty"`
	Message    *string    `json:"message,omitempty" msgpack:"message,omitempty"`
}

func (s State) wire() (wireState, error) {
	fields, ok := stateFields[s.Kind]
	if !ok {
		return wireState{}, fmt.Errorf("unknown state %q", s.Kind)
	}
	w := wireState{State: s.Kind}
	if fields&fieldFilePath != 0 {
		path := s.FilePath
		w.FilePath = &path
	}
	if fields&fieldStartedAt != 0 {
		startedAt := s.StartedAt.UTC()
		w.StartedAt = &startedAt
	}
	if fields&fieldDuration != 0 {
		ms := s.Duration.Milliseconds()
		w.DurationMs = &ms
	}
	if fields&fieldDetails != 0 {
		details := s.Details
		w.Details = &details
	}
	if fields&fieldMessage != 0 {
		msg := s.Message
		w.Message = &msg
	}
	return w, nil
}

func (w wireState) state() (State, error) {
	fields, ok := stateFields[w.State]
	if !ok {
		return State{}, fmt.Errorf("unknown state %q", w.State)
	}
	s := State{Kind: w.State}
	if fields&fieldFilePath != 0 {
		if w.FilePath == nil {
			return State{}, fmt.Errorf("state %s missing file_path", w.State)
		}
		s.FilePath = *w.FilePath
	}
	if fields&fieldStartedAt != 0 {
		if w.StartedAt == nil {
			return State{}, fmt.Errorf("state %s missing started_at", w.State)
		}
		s.StartedAt = *w.StartedAt
	}
	if fields&fieldDuration != 0 {
		if w.DurationMs == nil {
			return State{}, fmt.Errorf("state %s missing duration_ms", w.State)
		}
		s.Duration = time.Duration(*w.DurationMs) * time.Millisecond
	}
	if fields&fieldDetails != 0 && w.Details != nil {
		s.Details = *w.Details
	}
	if fields&fieldMessage != 0 && w.Message != nil {
		s.Message = *w.Message
	}
	return s, nil
}

func (s State) MarshalJSON() ([]byte, error) {
	w, err := s.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.state()
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s State) EncodeMsgpack(enc *msgpack.Encoder) error {
	w, err := s.wire()
	if err != nil {
		return err
	}
	return enc.Encode(w)
}

func (s *State) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w wireState
	if err := dec.Decode(&w); err != nil {
		return err
	}
	decoded, err := w.state()
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
