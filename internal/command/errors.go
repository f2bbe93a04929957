package command

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedCustomID = errors.New("malformed custom id")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrUnknownAction     = errors.New("unknown action")
)

// MissingArgumentError reports a required option with no matching argument.
type MissingArgumentError struct {
	Name string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing required argument %q", e.Name)
}

// CoercionError reports a raw value that does not convert to its declared type.
type CoercionError struct {
	Name  string
	Type  Type
	Value string
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("argument %q: cannot use %q as %s: %v", e.Name, e.Value, e.Type, e.Err)
}

func (e *CoercionError) Unwrap() error { return e.Err }

// UserError is a failure the invoking user caused or can act on: bad input,
// a missing role, or state that changed under them. It is shown to the user
// ephemerally and never escalated.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

func UserErrorf(format string, args ...any) *UserError {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// UserMessage returns the text to show the user for err, and false if err
// is not user-facing.
func UserMessage(err error) (string, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Msg, true
	}
	var me *MissingArgumentError
	if errors.As(err, &me) {
		return fmt.Sprintf("Missing required option `%s`.", me.Name), true
	}
	var ce *CoercionError
	if errors.As(err, &ce) {
		return fmt.Sprintf("Option `%s`: %q is not a valid %s.", ce.Name, ce.Value, ce.Type), true
	}
	return "", false
}
