package command

import (
	"errors"
	"strconv"
	"strings"
)

// Values holds bound, typed arguments keyed by option name.
type Values struct {
	m     map[string]any
	order []Argument
}

func (v Values) Has(name string) bool {
	_, ok := v.m[name]
	return ok
}

func (v Values) String(name string) string {
	s, _ := v.m[name].(string)
	return s
}

func (v Values) Int(name string) int64 {
	n, _ := v.m[name].(int64)
	return n
}

func (v Values) Bool(name string) bool {
	b, _ := v.m[name].(bool)
	return b
}

// User returns the bound user id.
func (v Values) User(name string) string { return v.String(name) }

// Channel returns the bound channel id.
func (v Values) Channel(name string) string { return v.String(name) }

// Role returns the bound role id.
func (v Values) Role(name string) string { return v.String(name) }

// Arguments returns the bound values in canonical raw form, in declaration
// order. Binding the result again yields equal Values.
func (v Values) Arguments() []Argument {
	return append([]Argument(nil), v.order...)
}

// Bind validates args against opts and produces typed Values.
//
// Required options without a matching argument fail with
// *MissingArgumentError; unconvertible values and values outside a static
// choice list fail with *CoercionError. Arguments naming no option are
// ignored. When a name repeats, the first occurrence wins.
func Bind(opts []Option, args []Argument) (Values, error) {
	raw := make(map[string]string, len(args))
	for _, a := range args {
		if _, dup := raw[a.Name]; !dup {
			raw[a.Name] = a.Value
		}
	}

	out := Values{m: make(map[string]any, len(opts))}
	for _, o := range opts {
		s, ok := raw[o.Name]
		if !ok {
			if o.Required {
				return Values{}, &MissingArgumentError{Name: o.Name}
			}
			continue
		}
		val, canon, err := coerce(o.Type, s)
		if err != nil {
			return Values{}, &CoercionError{Name: o.Name, Type: o.Type, Value: s, Err: err}
		}
		if len(o.Choices) > 0 && !inChoices(o, canon) {
			return Values{}, &CoercionError{Name: o.Name, Type: o.Type, Value: s, Err: errNotAChoice}
		}
		out.m[o.Name] = val
		out.order = append(out.order, Argument{Name: o.Name, Value: canon})
	}
	return out, nil
}

// BindPositional binds custom-id parameter tokens in declaration order.
// Every parameter is required and the token count must match exactly.
func BindPositional(params []Param, tokens []string) (Values, error) {
	if len(tokens) != len(params) {
		return Values{}, ErrMalformedCustomID
	}
	opts := make([]Option, len(params))
	args := make([]Argument, len(params))
	for i, p := range params {
		opts[i] = Option{Name: p.Name, Type: p.Type, Required: true}
		args[i] = Argument{Name: p.Name, Value: tokens[i]}
	}
	return Bind(opts, args)
}

var (
	errNotAChoice = errors.New("not one of the allowed choices")
	errNotAnID    = errors.New("not an id or mention")
)

func inChoices(o Option, canon string) bool {
	for _, c := range o.Choices {
		if c.Value == canon {
			return true
		}
	}
	return false
}

// coerce converts s to t, returning the typed value and its canonical string.
func coerce(t Type, s string) (any, string, error) {
	s = strings.TrimSpace(s)
	switch t {
	case TypeString:
		return s, s, nil
	case TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, "", err
		}
		return n, strconv.FormatInt(n, 10), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, "", err
		}
		return b, strconv.FormatBool(b), nil
	case TypeUser:
		id, err := parseID(s, "<@!", "<@")
		return id, id, err
	case TypeChannel:
		id, err := parseID(s, "<#")
		return id, id, err
	case TypeRole:
		id, err := parseID(s, "<@&")
		return id, id, err
	default:
		return nil, "", errors.New("unsupported type")
	}
}

// parseID accepts a bare numeric id or one wrapped in a mention with one of
// the given prefixes.
func parseID(s string, prefixes ...string) (string, error) {
	if strings.HasSuffix(s, ">") {
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				s = s[len(p) : len(s)-1]
				break
			}
		}
	}
	if !IsSnowflake(s) {
		return "", errNotAnID
	}
	return s, nil
}

// IsSnowflake reports whether s is a plausible platform id: 1-20 decimal digits.
func IsSnowflake(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
