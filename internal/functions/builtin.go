package functions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/internal/call"
)

// HangUpReason is why the AI ended the call.
type HangUpReason string

const (
	ReasonGoodbye   HangUpReason = "goodbye"
	ReasonVoicemail HangUpReason = "voicemail"
	ReasonFailure   HangUpReason = "failure"
	ReasonOther     HangUpReason = "other"
)

// HangUpArguments are the arguments of hang_up.
type HangUpArguments struct {
	Reason      HangUpReason `json:"reason"`
	Explanation string       `json:"explanation,omitempty"`
}

func (a *HangUpArguments) Validate() error {
	switch a.Reason {
	case ReasonGoodbye, ReasonVoicemail, ReasonFailure, ReasonOther:
		return nil
	default:
		return fmt.Errorf("unknown reason %q", a.Reason)
	}
}

// Severity maps the reason to the severity of the end of call.
func (a *HangUpArguments) Severity() call.Severity {
	switch a.Reason {
	case ReasonVoicemail, ReasonFailure:
		return call.SeverityWarning
	default:
		return call.SeverityInfo
	}
}

const hangUpDescription = "Ends the call. Example scenarios for appropriate function calls: " +
	"1) Conversation is over. The other person said good-bye. " +
	"2) You reached an answering machine/voicemail. " +
	"3) You got no response for a prolonged period of time. " +
	"4) The connection was so bad, you only heard noise/static. " +
	"ALWAYS PASS ARGUMENTS IN VALID JSON!"

// HangUp lets the AI end the call.
func HangUp() Function {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"enum": []any{"goodbye", "voicemail", "failure", "other"},
				"description": `The reason you consider the conversation to be over. ` +
					`Use "goodbye", if it ended normally. ` +
					`Use "voicemail", if you reached an answering machine/voicemail. ` +
					`Use "failure", if the connection was faulty or you were cut off from continuing the conversation. ` +
					`Use "other", for any other reason, and provide an explanation via the explanation property.`,
			},
			"explanation": map[string]any{
				"type":        "string",
				"description": `If the reason is "other", describe it in one or two sentences. Otherwise omit this property.`,
			},
		},
		"required":             []any{"reason"},
		"additionalProperties": false,
	}
	return New("hang_up", hangUpDescription, params, func(_ context.Context, m *call.Manager, args HangUpArguments) error {
		msg := fmt.Sprintf("Reason: '%s'", args.Reason)
		if args.Reason == ReasonOther && args.Explanation != "" {
			msg += fmt.Sprintf(" (%s)", args.Explanation)
		}
		if c := m.Session().Contact(); c != nil && c.Phone != "" {
			msg += fmt.Sprintf(". Contact: %s <%s>", c.FullName(), c.Phone)
		}
		return call.EndCall(args.Severity(), "%s", msg)
	})
}

// ContinueWaitingArguments are the arguments of continue_waiting.
type ContinueWaitingArguments struct {
	Reason string `json:"reason"`
}

const continueWaitingDescription = "Call this function when you receive input that is not directed " +
	"towards you. This will skip this input and wait for the next. " +
	"This is also a tool you can use to let the other person have the " +
	"last word, which you should do often (as there is no utility in " +
	"responding to thanks or superfluous conversation). " +
	"ALWAYS PASS ARGUMENTS IN VALID JSON!"

// ContinueWaiting lets the AI stay silent.
func ContinueWaiting() Function {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why you chose not to respond.",
			},
		},
		"required":             []any{"reason"},
		"additionalProperties": false,
	}
	return New("continue_waiting", continueWaitingDescription, params, func(_ context.Context, m *call.Manager, args ContinueWaitingArguments) error {
		m.Logger().Info("Continue waiting", zap.String("reason", args.Reason))
		return nil
	})
}

// Builtin returns the functions every deployment offers.
func Builtin() []Function {
	return []Function{HangUp(), ContinueWaiting()}
}
