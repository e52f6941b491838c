package service

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the coarse job state.
type State int

const (
	StateRunning State = iota
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// progressMarker prefixes the status text of a job that is advancing row by row.
const progressMarker = "Processing row"

// Status is a job's position in the state machine:
// Running{Row, Total, Note} | Finished | Error{Message}.
type Status struct {
	State State
	// Running only. Row is the last completed row, 1-based; 0 before the first row.
	Row   int
	Total int
	// Note replaces the progress text after a failed checkpoint until the next row.
	Note string
	// Error only.
	Message string
}

// Running is the status after completing row of total.
func Running(row, total int) Status {
	return Status{State: StateRunning, Row: row, Total: total}
}

// Finished is the terminal success status.
func Finished() Status {
	return Status{State: StateFinished}
}

// Errored is the terminal failure status.
func Errored(message string) Status {
	return Status{State: StateError, Message: message}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s.State != StateRunning
}

// Advancing reports whether the job is visibly working through rows.
// Jobs that have not reached row 1, or whose last checkpoint failed, are not.
func (s Status) Advancing() bool {
	return strings.Contains(s.String(), progressMarker)
}

// String renders the status text shown to pollers.
func (s Status) String() string {
	switch s.State {
	case StateFinished:
		return "finished"
	case StateError:
		return "error: " + s.Message
	}
	switch {
	case s.Note != "":
		return s.Note
	case s.Row == 0:
		return "running"
	default:
		return fmt.Sprintf("%s %d/%d", progressMarker, s.Row, s.Total)
	}
}

// MarshalJSON renders the status as its text.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
