package robot

import (
	"fmt"

	"github.com/ahrdadan/shoprobot/internal/failure"
)

// Outcome is the single result of a run: a success with title and price, or a
// failure with a kind. Exactly one of the two halves is populated.
type Outcome struct {
	OK      bool         `json:"ok"`
	Title   string       `json:"title,omitempty"`
	Price   string       `json:"price,omitempty"`
	Target  string       `json:"target"`
	Kind    failure.Kind `json:"kind,omitempty"`
	Stage   Stage        `json:"stage,omitempty"`
	Message string       `json:"message"`
}

// Succeeded builds a success outcome for flow.
func Succeeded(flow Flow, target, title, price string) Outcome {
	var msg string
	switch flow {
	case FlowLogin:
		msg = fmt.Sprintf("Success! %q is priced at %s", title, price)
	default:
		msg = fmt.Sprintf("Success! First result for %q is %q priced at %s", target, title, price)
	}
	return Outcome{OK: true, Title: title, Price: price, Target: target, Message: msg}
}

// Failed builds a failure outcome.
func Failed(target string, kind failure.Kind, stage Stage, message string) Outcome {
	return Outcome{
		Target:  target,
		Kind:    kind,
		Stage:   stage,
		Message: fmt.Sprintf("Failure [%s]: %s", kind, message),
	}
}

// String returns the one-line report.
func (o Outcome) String() string {
	return o.Message
}

// ExitCode is 0 for success and 1 otherwise.
func (o Outcome) ExitCode() int {
	if o.OK {
		return 0
	}
	return 1
}
