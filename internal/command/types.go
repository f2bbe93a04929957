package command

import (
	"context"
	"strings"

	"raidbot/internal/transport"
)

// Type is the semantic type of an option or action parameter.
type Type int

const (
	TypeString Type = iota + 1
	TypeInteger
	TypeBoolean
	TypeUser
	TypeChannel
	TypeRole
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeUser:
		return "user"
	case TypeChannel:
		return "channel"
	case TypeRole:
		return "role"
	default:
		return "unknown"
	}
}

func (t Type) platform() transport.OptionType {
	switch t {
	case TypeInteger:
		return transport.OptionTypeInteger
	case TypeBoolean:
		return transport.OptionTypeBoolean
	case TypeUser:
		return transport.OptionTypeUser
	case TypeChannel:
		return transport.OptionTypeChannel
	case TypeRole:
		return transport.OptionTypeRole
	default:
		return transport.OptionTypeString
	}
}

// ChoiceProvider computes an option's choice list at registration time.
type ChoiceProvider func(ctx context.Context, r *Registry) []transport.Choice

// Option is one declared command option.
type Option struct {
	Name        string
	Description string
	Type        Type
	Required    bool
	// Choices constrains accepted values at bind time.
	Choices []transport.Choice
	// ChoiceProvider only feeds the platform's choice list; binding does not consult it.
	ChoiceProvider ChoiceProvider
}

// Param is one positional action parameter carried in a custom id.
type Param struct {
	Name string
	Type Type
	// MaxLen bounds encoded string params. Required for TypeString.
	MaxLen int
}

// Argument is an untyped name/value pair, as received or as persisted.
type Argument struct {
	Name  string
	Value string
}

// Handler is the execution entry point of a command or action.
type Handler interface {
	Handle(ctx context.Context, req *Request) error
}

type HandlerFunc func(ctx context.Context, req *Request) error

func (f HandlerFunc) Handle(ctx context.Context, req *Request) error { return f(ctx, req) }

// SubCommandHandler is implemented by dynamic commands that parse their own
// nested option tree.
type SubCommandHandler interface {
	HandleSubCommand(ctx context.Context, req *Request, options []transport.OptionNode) error
}

// Command describes a slash command or sub-command.
type Command struct {
	Name        string
	Description string
	// Parent is the route of the parent command ("" for top level).
	Parent string
	// AdminOnly hides the command from non-administrators unless roles are
	// configured for it.
	AdminOnly bool
	Options   []Option
	// Actions names the button actions this command's messages carry.
	Actions []string
	// Schedulable commands can be replayed by the scheduler.
	Schedulable bool

	Handler Handler

	// Dynamic commands receive their raw option subtree via SubHandler, and
	// declare it for registration through OptionTree.
	Dynamic    bool
	SubHandler SubCommandHandler
	OptionTree func(ctx context.Context, r *Registry) []transport.OptionSpec
}

// Route is the space-separated command path, e.g. "schedule add".
func (c *Command) Route() string {
	if c.Parent == "" {
		return c.Name
	}
	return c.Parent + " " + c.Name
}

// TopLevel is the first segment of the route.
func (c *Command) TopLevel() string {
	r := c.Route()
	if i := strings.IndexByte(r, ' '); i >= 0 {
		return r[:i]
	}
	return r
}

// Action describes a button handler addressed by custom id.
type Action struct {
	Name   string
	Params []Param
	// Command is the route of the owning command (informational).
	Command string
	Handler Handler
}
