package command

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// CustomIDDelimiter separates the action name and its parameters.
	CustomIDDelimiter = "_"
	// MaxCustomIDLen is the platform's component identifier limit.
	MaxCustomIDLen = 100
)

// EncodeCustomID builds "action_param1_param2...". Parameters may be
// strings, ints, int64s or bools. Values containing the delimiter, and
// results over MaxCustomIDLen, are rejected because they would not decode
// back to the same values.
func EncodeCustomID(action string, params ...any) (string, error) {
	if action == "" || strings.Contains(action, CustomIDDelimiter) {
		return "", fmt.Errorf("%w: bad action name %q", ErrMalformedCustomID, action)
	}
	var b strings.Builder
	b.WriteString(action)
	for i, p := range params {
		var s string
		switch v := p.(type) {
		case string:
			s = v
		case int:
			s = strconv.Itoa(v)
		case int64:
			s = strconv.FormatInt(v, 10)
		case bool:
			s = strconv.FormatBool(v)
		default:
			return "", fmt.Errorf("%w: param %d has unsupported type %T", ErrMalformedCustomID, i, p)
		}
		if s == "" || strings.Contains(s, CustomIDDelimiter) {
			return "", fmt.Errorf("%w: param %d value %q cannot be encoded", ErrMalformedCustomID, i, s)
		}
		b.WriteString(CustomIDDelimiter)
		b.WriteString(s)
	}
	if b.Len() > MaxCustomIDLen {
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrMalformedCustomID, b.Len(), MaxCustomIDLen)
	}
	return b.String(), nil
}

// MustCustomID is EncodeCustomID for identifiers whose shape the registry
// already validated. It panics on error.
func MustCustomID(action string, params ...any) string {
	id, err := EncodeCustomID(action, params...)
	if err != nil {
		panic(err)
	}
	return id
}

// DecodeCustomID splits id into the action name and raw parameter tokens.
func DecodeCustomID(id string) (string, []string, error) {
	if id == "" || len(id) > MaxCustomIDLen {
		return "", nil, ErrMalformedCustomID
	}
	parts := strings.Split(id, CustomIDDelimiter)
	if parts[0] == "" {
		return "", nil, ErrMalformedCustomID
	}
	for _, p := range parts[1:] {
		if p == "" {
			return "", nil, ErrMalformedCustomID
		}
	}
	return parts[0], parts[1:], nil
}

// paramWidth is the worst-case encoded width of one parameter.
func paramWidth(p Param) int {
	switch p.Type {
	case TypeInteger:
		return len("-9223372036854775808")
	case TypeUser, TypeChannel, TypeRole:
		return 20
	case TypeBoolean:
		return len("false")
	default:
		return p.MaxLen
	}
}

// worstCaseLen is the longest identifier a for this action can produce.
func worstCaseLen(a *Action) int {
	n := len(a.Name)
	for _, p := range a.Params {
		n += len(CustomIDDelimiter) + paramWidth(p)
	}
	return n
}
