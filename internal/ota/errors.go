package ota

import (
	"fmt"

	"github.com/mdario971/cactus-flasher/internal/models"
)

// FailureKind classifies why an upload did not go through.
type FailureKind string

const (
	Unreachable       FailureKind = "unreachable"
	Rejected          FailureKind = "rejected"
	Timeout           FailureKind = "timeout"
	IntegrityMismatch FailureKind = "integrity-mismatch"
)

// Error is returned by Engine.Flash for every failed delivery.
type Error struct {
	Kind    FailureKind
	Target  string // OTA:<port> or WEB:<port>
	Status  int    // HTTP status when the board answered
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the shared error class and the transport cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.class()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) class() error {
	switch e.Kind {
	case Unreachable:
		return models.ErrUnreachable
	case Timeout:
		return models.ErrTimeout
	default:
		return models.ErrProtocol
	}
}

// fallbackAllowed reports whether the web-port path may be tried after this failure.
// A timeout is terminal: the whole-upload budget is already spent.
func (e *Error) fallbackAllowed() bool {
	return e.Kind != Timeout
}

func unreachable(target string, err error) *Error {
	return &Error{Kind: Unreachable, Target: target, Err: err,
		Message: fmt.Sprintf("Connection failed (%s): %v", target, err)}
}

func timedOut(target string, err error) *Error {
	return &Error{Kind: Timeout, Target: target, Err: err,
		Message: fmt.Sprintf("Flash timed out (%s)", target)}
}

func rejected(target string, status int, body string) *Error {
	kind := Rejected
	if mentionsMD5(body) {
		kind = IntegrityMismatch
	}
	msg := fmt.Sprintf("Flash failed (%s): HTTP %d", target, status)
	if body != "" {
		msg += " - " + body
	}
	return &Error{Kind: kind, Target: target, Status: status, Message: msg}
}

// combine merges the primary and fallback failures into one error.
func combine(primary, fallback *Error) *Error {
	kind := fallback.Kind
	if kind == Unreachable && primary.Kind != Unreachable {
		kind = primary.Kind
	}
	return &Error{
		Kind:    kind,
		Target:  fallback.Target,
		Status:  fallback.Status,
		Message: fmt.Sprintf("OTA failed: %s | Web fallback failed: %s", primary.Message, fallback.Message),
		Err:     fallback.Err,
	}
}
