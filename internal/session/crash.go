package session

import (
	"errors"
	"fmt"
)

// CrashKind classifies why a session was marked crashed.
type CrashKind int

const (
	CrashNone CrashKind = iota
	// CrashDoubleStart: MarkStart called more than once.
	CrashDoubleStart
	// CrashStopBeforeStart: MarkStop called without a recorded start.
	CrashStopBeforeStart
	// CrashSend: the report could not be built or the request could not be issued.
	CrashSend
)

func (k CrashKind) String() string {
	switch k {
	case CrashNone:
		return "none"
	case CrashDoubleStart:
		return "double_start"
	case CrashStopBeforeStart:
		return "stop_before_start"
	case CrashSend:
		return "send"
	default:
		return fmt.Sprintf("CrashKind(%d)", int(k))
	}
}

// Crash is the most recent failure that compromised a session.
type Crash struct {
	Kind   CrashKind
	Reason string
}

func (c Crash) Error() string { return c.Reason }

// ErrCrashed matches any Crash via errors.Is.
var ErrCrashed = errors.New("session crashed")

func (c Crash) Is(target error) bool { return target == ErrCrashed }
