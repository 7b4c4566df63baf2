package common

import (
	"errors"
	"fmt"
	"time"
)

// InputError reports a bad boundary file, date or argument. Always fatal and
// always raised before any network call.
type InputError struct {
	Msg string
	Err error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input error: %s: %v", e.Msg, e.Err)
	}
	return "input error: " + e.Msg
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError creates an InputError wrapping err (which may be nil)
func NewInputError(err error, format string, args ...any) *InputError {
	return &InputError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// ConfigErrorKind distinguishes an absent credential from an unusable one
type ConfigErrorKind string

const (
	ConfigMissing   ConfigErrorKind = "missing"
	ConfigMalformed ConfigErrorKind = "malformed"
	ConfigInvalid   ConfigErrorKind = "invalid"
)

// ConfigError reports an unresolved or malformed credential or setting
type ConfigError struct {
	Kind   ConfigErrorKind
	Source string // where the value came from, if anywhere
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error (%s): %s", e.Kind, e.Msg)
	if e.Source != "" {
		msg += " [" + e.Source + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FetchError reports a chunk whose retry budget was exhausted. The chunk
// contributes zero detections and is recorded as a coverage gap.
type FetchError struct {
	Start    time.Time
	Days     int
	Attempts int
	Status   int // last HTTP status, 0 if none was received
	Err      error
}

func (e *FetchError) Error() string {
	end := e.Start.AddDate(0, 0, e.Days-1)
	msg := fmt.Sprintf("fetch %s..%s failed after %d attempt(s)",
		FormatISO8601(e.Start), FormatISO8601(end), e.Attempts)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (last status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmptyResultError reports a run with zero detections in the statistics view
type EmptyResultError struct {
	Range DateRange
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("no fire detections found between %s and %s",
		FormatISO8601(e.Range.Start), FormatISO8601(e.Range.End))
}

// RenderError reports a period whose frame could not be drawn normally
type RenderError struct {
	Period string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Period, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ErrGapAbort is returned when coverage gaps are configured to be fatal
var ErrGapAbort = errors.New("coverage gap with gap policy abort")

// Exit codes returned by the command line
const (
	ExitOK     = 0
	ExitFatal  = 1
	ExitInput  = 2
	ExitConfig = 3
)

// ExitCode maps an error from a run to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return ExitInput
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	return ExitFatal
}
