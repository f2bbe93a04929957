package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"raidbot/internal/transport"
)

// maxRouteDepth is the platform's nesting limit: command, group, sub-command.
const maxRouteDepth = 3

// Registry is the immutable index of commands and actions built at startup.
type Registry struct {
	commands map[string]*Command
	children map[string][]*Command
	topLevel []*Command
	actions  map[string]*Action
}

// NewRegistry indexes cmds and acts and validates them. Any inconsistency is
// returned as one joined error and the registry must not be used.
func NewRegistry(cmds []Command, acts []Action) (*Registry, error) {
	r := &Registry{
		commands: make(map[string]*Command, len(cmds)),
		children: map[string][]*Command{},
		actions:  make(map[string]*Action, len(acts)),
	}
	var errs []error

	for i := range acts {
		a := &acts[i]
		switch {
		case a.Name == "":
			errs = append(errs, fmt.Errorf("action #%d: empty name", i))
			continue
		case strings.Contains(a.Name, CustomIDDelimiter):
			errs = append(errs, fmt.Errorf("action %q: name contains delimiter %q", a.Name, CustomIDDelimiter))
		case r.actions[a.Name] != nil:
			errs = append(errs, fmt.Errorf("action %q: name collides with an existing action", a.Name))
			continue
		}
		if a.Handler == nil {
			errs = append(errs, fmt.Errorf("action %q: no handler", a.Name))
		}
		errs = append(errs, checkParams(a)...)
		if n := worstCaseLen(a); n > MaxCustomIDLen {
			errs = append(errs, fmt.Errorf("action %q: worst-case custom id is %d characters (limit %d)", a.Name, n, MaxCustomIDLen))
		}
		r.actions[a.Name] = a
	}

	for i := range cmds {
		c := &cmds[i]
		route := c.Route()
		if c.Name == "" || strings.ContainsRune(c.Name, ' ') {
			errs = append(errs, fmt.Errorf("command #%d: invalid name %q", i, c.Name))
			continue
		}
		if r.commands[route] != nil {
			errs = append(errs, fmt.Errorf("command %q: duplicate route", route))
			continue
		}
		if len(strings.Fields(route)) > maxRouteDepth {
			errs = append(errs, fmt.Errorf("command %q: nested deeper than %d levels", route, maxRouteDepth))
		}
		errs = append(errs, checkOptions(c)...)
		r.commands[route] = c
	}

	for _, c := range r.commands {
		route := c.Route()
		if c.Parent == "" {
			r.topLevel = append(r.topLevel, c)
		} else if parent := r.commands[c.Parent]; parent == nil {
			errs = append(errs, fmt.Errorf("command %q: parent %q is not a registered command", route, c.Parent))
		} else {
			r.children[c.Parent] = append(r.children[c.Parent], c)
		}
		for _, an := range c.Actions {
			if r.actions[an] == nil {
				errs = append(errs, fmt.Errorf("command %q: references unknown action %q", route, an))
			}
		}
	}

	for _, c := range r.commands {
		route := c.Route()
		kids := r.children[route]
		switch {
		case c.Dynamic:
			if c.SubHandler == nil {
				errs = append(errs, fmt.Errorf("command %q: dynamic without sub-command handler", route))
			}
			if len(kids) > 0 {
				errs = append(errs, fmt.Errorf("command %q: dynamic command cannot have registered sub-commands", route))
			}
		case len(kids) > 0:
			if len(c.Options) > 0 {
				errs = append(errs, fmt.Errorf("command %q: has sub-commands and options", route))
			}
		default:
			if c.Handler == nil {
				errs = append(errs, fmt.Errorf("command %q: no handler", route))
			}
		}
		if c.Schedulable && (c.Dynamic || len(kids) > 0) {
			errs = append(errs, fmt.Errorf("command %q: only leaf commands can be scheduled", route))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sortCommands(r.topLevel)
	for k := range r.children {
		sortCommands(r.children[k])
	}
	return r, nil
}

func checkParams(a *Action) []error {
	var errs []error
	seen := map[string]bool{}
	for _, p := range a.Params {
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("action %q: duplicate parameter %q", a.Name, p.Name))
		}
		seen[p.Name] = true
		if p.Type == TypeString && p.MaxLen <= 0 {
			errs = append(errs, fmt.Errorf("action %q: string parameter %q needs MaxLen", a.Name, p.Name))
		}
	}
	return errs
}

func checkOptions(c *Command) []error {
	var errs []error
	seen := map[string]bool{}
	for _, o := range c.Options {
		if seen[o.Name] {
			errs = append(errs, fmt.Errorf("command %q: duplicate option %q", c.Route(), o.Name))
		}
		seen[o.Name] = true
		if o.Type < TypeString || o.Type > TypeRole {
			errs = append(errs, fmt.Errorf("command %q: option %q has no type", c.Route(), o.Name))
		}
	}
	return errs
}

func sortCommands(cs []*Command) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}

// Command looks up a command by route.
func (r *Registry) Command(route string) (*Command, bool) {
	c, ok := r.commands[route]
	return c, ok
}

func (r *Registry) Action(name string) (*Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// ActionsFor returns the actions declared by the command at route.
func (r *Registry) ActionsFor(route string) []*Action {
	c, ok := r.commands[route]
	if !ok {
		return nil
	}
	out := make([]*Action, 0, len(c.Actions))
	for _, n := range c.Actions {
		out = append(out, r.actions[n])
	}
	return out
}

// SubCommands returns the direct children of route, sorted by name.
func (r *Registry) SubCommands(route string) []*Command {
	return r.children[route]
}

func (r *Registry) TopLevel() []*Command { return r.topLevel }

// Schedulable returns the routes of commands that can be scheduled, sorted.
func (r *Registry) Schedulable() []string {
	var out []string
	for route, c := range r.commands {
		if c.Schedulable {
			out = append(out, route)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateArguments checks that args would bind for the schedulable command at
// route, and that no argument names an undeclared option.
func (r *Registry) ValidateArguments(route string, args []Argument) error {
	c, ok := r.commands[route]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, route)
	}
	if !c.Schedulable {
		return UserErrorf("Command `/%s` cannot be scheduled.", route)
	}
	declared := make(map[string]bool, len(c.Options))
	for _, o := range c.Options {
		declared[o.Name] = true
	}
	for _, a := range args {
		if !declared[a.Name] {
			return UserErrorf("Command `/%s` has no option `%s`.", route, a.Name)
		}
	}
	_, err := Bind(c.Options, args)
	return err
}

// Specs builds the platform registration payload, resolving choice providers.
func (r *Registry) Specs(ctx context.Context) []transport.CommandSpec {
	out := make([]transport.CommandSpec, 0, len(r.topLevel))
	for _, c := range r.topLevel {
		out = append(out, transport.CommandSpec{
			Name:        c.Name,
			Description: c.Description,
			AdminOnly:   c.AdminOnly,
			Options:     r.optionSpecs(ctx, c),
		})
	}
	return out
}

func (r *Registry) optionSpecs(ctx context.Context, c *Command) []transport.OptionSpec {
	if kids := r.children[c.Route()]; len(kids) > 0 {
		out := make([]transport.OptionSpec, 0, len(kids))
		for _, k := range kids {
			typ := transport.OptionTypeSubCommand
			if k.Dynamic || len(r.children[k.Route()]) > 0 {
				typ = transport.OptionTypeSubCommandGroup
			}
			out = append(out, transport.OptionSpec{
				Name:        k.Name,
				Description: k.Description,
				Type:        typ,
				Options:     r.optionSpecs(ctx, k),
			})
		}
		return out
	}
	if c.Dynamic {
		if c.OptionTree == nil {
			return nil
		}
		return c.OptionTree(ctx, r)
	}

	out := make([]transport.OptionSpec, 0, len(c.Options))
	for _, o := range c.Options {
		choices := o.Choices
		if o.ChoiceProvider != nil {
			choices = o.ChoiceProvider(ctx, r)
		}
		out = append(out, transport.OptionSpec{
			Name:        o.Name,
			Description: o.Description,
			Type:        o.Type.platform(),
			Required:    o.Required,
			Choices:     choices,
		})
	}
	// Required options must precede optional ones on the platform.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Required && !out[j].Required })
	return out
}

// OptionSpecs exposes a command's registration options, for dynamic commands
// that mirror other commands.
func (r *Registry) OptionSpecs(ctx context.Context, c *Command) []transport.OptionSpec {
	return r.optionSpecs(ctx, c)
}
