package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/daniil-berg/callbot/internal/auth"
)

// Severity classifies how a call ended.
type Severity int

const (
	// SeverityInfo is a regular end of call: hangup, disconnect, function
	// requested goodbye.
	SeverityInfo Severity = iota
	// SeverityWarning is an end of call that is worth a look: timeouts,
	// answering machines.
	SeverityWarning
	// SeverityError is an end of call caused by an unexpected failure.
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// EndCallError is returned by any call activity that intentionally ends the
// call.
type EndCallError struct {
	Severity Severity
	Reason   string
	// Function is set when a function handler requested the end.
	Function string
	Err      error
}

func (e *EndCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *EndCallError) Unwrap() error {
	return e.Err
}

// EndCall creates an end-call condition of the given severity.
func EndCall(severity Severity, format string, args ...any) *EndCallError {
	return &EndCallError{Severity: severity, Reason: fmt.Sprintf(format, args...)}
}

// Hangup is an informational end of call.
func Hangup(format string, args ...any) *EndCallError {
	return EndCall(SeverityInfo, format, args...)
}

// TelephonyStop is returned when Twilio reports the end of the stream.
func TelephonyStop() *EndCallError {
	return Hangup("Twilio stop message received")
}

// TelephonyDisconnected is returned when the Twilio websocket closes.
func TelephonyDisconnected() *EndCallError {
	return Hangup("Twilio websocket disconnected")
}

// FunctionEndCall wraps an end-call condition raised by a function.
func FunctionEndCall(function string, cause *EndCallError) *EndCallError {
	return &EndCallError{
		Severity: cause.Severity,
		Reason:   fmt.Sprintf("Function '%s' requested the call to end", function),
		Function: function,
		Err:      cause,
	}
}

// SpeechStartTimeout is returned by the watchdog when nobody spoke in time.
func SpeechStartTimeout(timeout time.Duration) *EndCallError {
	return EndCall(SeverityWarning, "No speech started for %s", timeout)
}

// AnsweringMachineDetected aborts a call answered by a machine.
func AnsweringMachineDetected(answeredBy string, detectionTime time.Duration) *EndCallError {
	return EndCall(SeverityWarning, "Answering machine detected: %s (after %d ms)", answeredBy, detectionTime.Milliseconds())
}

// ActivityError wraps an unexpected failure of a call activity.
func ActivityError(activity string, err error) *EndCallError {
	return &EndCallError{
		Severity: SeverityError,
		Reason:   fmt.Sprintf("Error in %s", activity),
		Err:      err,
	}
}

// AuthError is returned when the Twilio stream fails to authenticate.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Detail is the close reason shown to the peer.
func (e *AuthError) Detail() string {
	switch {
	case errors.Is(e.Err, auth.ErrTokenMissingID):
		return auth.ErrTokenMissingID.Error()
	case errors.Is(e.Err, auth.ErrTokenReused):
		return auth.ErrTokenReused.Error()
	default:
		return auth.ErrTokenInvalid.Error()
	}
}

// AsEndCall reports whether err carries an end-call condition.
func AsEndCall(err error) (*EndCallError, bool) {
	var endCall *EndCallError
	if errors.As(err, &endCall) {
		return endCall, true
	}
	return nil, false
}
