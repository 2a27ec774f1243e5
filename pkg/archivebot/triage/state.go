package triage

import (
	"errors"
	"fmt"
)

// State is the phase of the scheduler loop. It is process-local and always
// starts at StateInit.
type State int

const (
	StateInit State = iota
	StateAuthenticating
	StateArchiveOpening
	StateScanning
	StateIdleBackoff
	StateCycleRunning
	StateErrorRecovery
	StateStopped
)

var stateNames = map[State]string{
	StateInit:           "init",
	StateAuthenticating: "authenticating",
	StateArchiveOpening: "archive_opening",
	StateScanning:       "scanning",
	StateIdleBackoff:    "idle_backoff",
	StateCycleRunning:   "cycle_running",
	StateErrorRecovery:  "error_recovery",
	StateStopped:        "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped
}

// Event drives a state transition.
type Event int

const (
	EventStart Event = iota
	EventAuthOK
	EventAuthFailed
	EventArchiveOpened
	EventArchiveFailed
	EventScanEmpty
	EventScanFound
	// EventDefer skips a scan result or the scan itself (outside active
	// hours, reply budget exhausted) and idles instead.
	EventDefer
	EventBackoffDone
	EventCycleDone
	EventFault
	EventRecovered
	EventStop
)

var eventNames = map[Event]string{
	EventStart:         "start",
	EventAuthOK:        "auth_ok",
	EventAuthFailed:    "auth_failed",
	EventArchiveOpened: "archive_opened",
	EventArchiveFailed: "archive_failed",
	EventScanEmpty:     "scan_empty",
	EventScanFound:     "scan_found",
	EventDefer:         "defer",
	EventBackoffDone:   "backoff_done",
	EventCycleDone:     "cycle_done",
	EventFault:         "fault",
	EventRecovered:     "recovered",
	EventStop:          "stop",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var (
	// ErrInvalidTransition is returned by Transition for an event the
	// current state does not accept.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotAuthenticated means the authentication gate timed out or the
	// operator refused to confirm the session.
	ErrNotAuthenticated = errors.New("session not authenticated")

	// ErrArchiveUnavailable means the archive view could not be opened.
	ErrArchiveUnavailable = errors.New("archive folder unavailable")
)

type edge struct {
	from State
	on   Event
}

var transitions = map[edge]State{
	{StateInit, EventStart}:                   StateAuthenticating,
	{StateAuthenticating, EventAuthOK}:        StateArchiveOpening,
	{StateAuthenticating, EventAuthFailed}:    StateStopped,
	{StateArchiveOpening, EventArchiveOpened}: StateScanning,
	{StateArchiveOpening, EventArchiveFailed}: StateStopped,
	{StateScanning, EventScanEmpty}:           StateIdleBackoff,
	{StateScanning, EventDefer}:               StateIdleBackoff,
	{StateScanning, EventScanFound}:           StateCycleRunning,
	{StateScanning, EventFault}:               StateErrorRecovery,
	{StateIdleBackoff, EventBackoffDone}:      StateScanning,
	{StateCycleRunning, EventCycleDone}:       StateScanning,
	{StateCycleRunning, EventFault}:           StateErrorRecovery,
	{StateErrorRecovery, EventRecovered}:      StateScanning,
}

// Transition returns the state reached from s on event e. It has no side
// effects. Stop is accepted from every non-terminal state.
func Transition(s State, e Event) (State, error) {
	if s.Terminal() {
		return s, fmt.Errorf("%w: %s is terminal (event %s)", ErrInvalidTransition, s, e)
	}
	if e == EventStop {
		return StateStopped, nil
	}
	next, ok := transitions[edge{s, e}]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
	}
	return next, nil
}
