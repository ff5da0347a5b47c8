package occurrence

import (
	"fmt"
	"time"
)

// InvalidRuleError reports a malformed recurrence rule, or one that cannot be
// expanded within bounds.
type InvalidRuleError struct {
	TaskID string
	Rule   string
	Reason string
	Err    error
}

func (e *InvalidRuleError) Error() string {
	msg := fmt.Sprintf("occurrence: invalid rule for task %q", e.TaskID)
	if e.Rule != "" {
		msg += fmt.Sprintf(" (%s)", e.Rule)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidRuleError) Unwrap() error { return e.Err }

// InvalidTimezoneError reports an unrecognized IANA zone name. TaskID is empty
// when the window's zone is at fault.
type InvalidTimezoneError struct {
	TaskID string
	Name   string
	Err    error
}

func (e *InvalidTimezoneError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("occurrence: unknown timezone %q in window", e.Name)
	}
	return fmt.Sprintf("occurrence: unknown timezone %q for task %q", e.Name, e.TaskID)
}

func (e *InvalidTimezoneError) Unwrap() error { return e.Err }

// InvalidWindowError reports a window whose end precedes its start.
type InvalidWindowError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("occurrence: window end %s is before start %s",
		e.End.UTC().Format(time.RFC3339), e.Start.UTC().Format(time.RFC3339))
}
