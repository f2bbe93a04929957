package access

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"raidbot/internal/command"
	"raidbot/internal/transport"
)

// CommandScope is the action choice meaning "the command itself".
const CommandScope = "*"

// Commands returns /roles and its sub-commands.
func Commands(s *Store) []command.Command {
	return []command.Command{
		{Name: "roles", Description: "Manage which roles may use commands and buttons", AdminOnly: true},
		{
			Name:        "show",
			Parent:      "roles",
			Description: "List role requirements for this server",
			Handler:     command.HandlerFunc(s.handleShow),
		},
		{
			Name:        "clear",
			Parent:      "roles",
			Description: "Remove all role requirements for a command or button",
			Options: []command.Option{
				{Name: "command", Description: "Command name", Type: command.TypeString, Required: true, ChoiceProvider: commandChoices},
				{Name: "action", Description: "Button action (omit for the command itself)", Type: command.TypeString},
			},
			Handler: command.HandlerFunc(s.handleClear),
		},
		{
			Name:        "require",
			Parent:      "roles",
			Description: "Require a role for a command or one of its buttons",
			Dynamic:     true,
			SubHandler:  requireHandler{s: s},
			OptionTree:  requireOptionTree,
		},
	}
}

func commandChoices(_ context.Context, r *command.Registry) []transport.Choice {
	var out []transport.Choice
	for _, c := range r.TopLevel() {
		out = append(out, transport.Choice{Name: c.Name, Value: c.Name})
	}
	return out
}

// actionsUnder collects the action names declared anywhere under route.
func actionsUnder(r *command.Registry, route string) []string {
	seen := map[string]bool{}
	var walk func(route string)
	walk = func(route string) {
		for _, a := range r.ActionsFor(route) {
			seen[a.Name] = true
		}
		for _, c := range r.SubCommands(route) {
			walk(c.Route())
		}
	}
	walk(route)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// requireOptionTree generates one sub-command per top-level command, each
// with its own action choice list.
func requireOptionTree(_ context.Context, r *command.Registry) []transport.OptionSpec {
	var out []transport.OptionSpec
	for _, c := range r.TopLevel() {
		choices := []transport.Choice{{Name: "(the command itself)", Value: CommandScope}}
		for _, a := range actionsUnder(r, c.Name) {
			choices = append(choices, transport.Choice{Name: a, Value: a})
		}
		out = append(out, transport.OptionSpec{
			Name:        c.Name,
			Description: fmt.Sprintf("Require a role for /%s", c.Name),
			Type:        transport.OptionTypeSubCommand,
			Options: []transport.OptionSpec{
				{Name: "action", Description: "What to restrict", Type: transport.OptionTypeString, Required: true, Choices: choices},
				{Name: "role", Description: "Role to require", Type: transport.OptionTypeRole, Required: true},
			},
		})
	}
	return out
}

type requireHandler struct{ s *Store }

var requireOptions = []command.Option{
	{Name: "action", Type: command.TypeString, Required: true},
	{Name: "role", Type: command.TypeRole, Required: true},
}

func (h requireHandler) HandleSubCommand(ctx context.Context, req *command.Request, opts []transport.OptionNode) error {
	if req.GuildID == "" {
		return command.UserErrorf("Role requirements can only be set inside a server.")
	}
	if len(opts) != 1 || opts[0].Kind != transport.OptionSubCommand {
		return command.UserErrorf("Pick a command to restrict.")
	}
	target := opts[0].Name
	if _, ok := req.Registry.Command(target); !ok {
		return command.UserErrorf("Unknown command `/%s`.", target)
	}

	args := make([]command.Argument, 0, len(opts[0].Options))
	for _, o := range opts[0].Options {
		args = append(args, command.Argument{Name: o.Name, Value: o.Value})
	}
	v, err := command.Bind(requireOptions, args)
	if err != nil {
		return err
	}

	action := v.String("action")
	if action == CommandScope {
		action = ""
	} else if !contains(actionsUnder(req.Registry, target), action) {
		return command.UserErrorf("`/%s` has no button action `%s`.", target, action)
	}

	added, err := h.s.AddRole(req.GuildID, target, action, v.Role("role"))
	if err != nil {
		return fmt.Errorf("save permission document: %w", err)
	}
	msg := fmt.Sprintf("<@&%s> is now required for %s.", v.Role("role"), describe(target, action))
	if !added {
		msg = fmt.Sprintf("<@&%s> was already required for %s.", v.Role("role"), describe(target, action))
	}
	return req.ReplyEphemeral(ctx, transport.MessageSend{Content: msg})
}

func (s *Store) handleShow(ctx context.Context, req *command.Request) error {
	if req.GuildID == "" {
		return command.UserErrorf("Role requirements only exist inside a server.")
	}
	rules := s.Rules(req.GuildID)
	if len(rules) == 0 {
		return req.ReplyEphemeral(ctx, transport.MessageSend{Content: "No role requirements are configured; everyone may use every command."})
	}
	fields := make([]transport.EmbedField, 0, len(rules))
	for _, r := range rules {
		mentions := make([]string, len(r.Roles))
		for i, id := range r.Roles {
			mentions[i] = "<@&" + id + ">"
		}
		fields = append(fields, transport.EmbedField{Name: describe(r.Command, r.Action), Value: strings.Join(mentions, " ")})
	}
	return req.ReplyEphemeral(ctx, transport.MessageSend{Embeds: []transport.Embed{{Title: "Role requirements", Fields: fields}}})
}

func (s *Store) handleClear(ctx context.Context, req *command.Request) error {
	if req.GuildID == "" {
		return command.UserErrorf("Role requirements only exist inside a server.")
	}
	cmd := req.Values.String("command")
	action := req.Values.String("action")
	if action == CommandScope {
		action = ""
	}
	cleared, err := s.Clear(req.GuildID, cmd, action)
	if err != nil {
		return fmt.Errorf("save permission document: %w", err)
	}
	msg := "Cleared role requirements for " + describe(cmd, action) + "."
	if !cleared {
		msg = "There were no role requirements for " + describe(cmd, action) + "."
	}
	return req.ReplyEphemeral(ctx, transport.MessageSend{Content: msg})
}

func describe(cmd, action string) string {
	if action == "" {
		return "`/" + cmd + "`"
	}
	return "`/" + cmd + "` button `" + action + "`"
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
