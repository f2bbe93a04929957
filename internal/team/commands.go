package team

import (
	"context"

	"raidbot/internal/command"
	"raidbot/internal/transport"
)

var (
	sizeParam = command.Param{Name: "size", Type: command.TypeInteger}
	userParam = command.Param{Name: "user", Type: command.TypeUser}
)

// Commands returns /team and its sub-commands.
func Commands(s *Service) []command.Command {
	return []command.Command{
		{Name: Top, Description: "Assemble event teams"},
		{
			Name:        "signup",
			Parent:      Top,
			Description: "Open signups for a boss",
			Options: []command.Option{
				{Name: "boss", Description: "Which boss", Type: command.TypeString, Required: true, ChoiceProvider: s.bossChoices},
			},
			Actions:     []string{ActSignup, ActQuit, ActFinalize, ActAdd, ActRemove, ActConfirm, ActCancel, ActEdit},
			Schedulable: true,
			Handler:     command.HandlerFunc(s.handleSignupCommand),
		},
		{
			Name:        "status",
			Parent:      Top,
			Description: "List teams currently being edited",
			Handler:     command.HandlerFunc(s.handleStatus),
		},
	}
}

// Actions returns the button handlers of the team workflow.
func Actions(s *Service) []command.Action {
	const route = Top + " signup"
	return []command.Action{
		{Name: ActSignup, Params: []command.Param{{Name: "max", Type: command.TypeInteger}}, Command: route, Handler: command.HandlerFunc(s.handleJoin)},
		{Name: ActQuit, Command: route, Handler: command.HandlerFunc(s.handleQuit)},
		{Name: ActFinalize, Params: []command.Param{sizeParam}, Command: route, Handler: command.HandlerFunc(s.handleFinalize)},
		{Name: ActAdd, Params: []command.Param{sizeParam, userParam}, Command: route, Handler: command.HandlerFunc(s.handleAdd)},
		{Name: ActRemove, Params: []command.Param{sizeParam, userParam}, Command: route, Handler: command.HandlerFunc(s.handleRemove)},
		{Name: ActConfirm, Params: []command.Param{sizeParam}, Command: route, Handler: command.HandlerFunc(s.handleConfirm)},
		{Name: ActCancel, Command: route, Handler: command.HandlerFunc(s.handleCancel)},
		{Name: ActEdit, Params: []command.Param{sizeParam}, Command: route, Handler: command.HandlerFunc(s.handleEdit)},
	}
}

func (s *Service) bossChoices(context.Context, *command.Registry) []transport.Choice {
	bosses := s.Teams().Bosses
	out := make([]transport.Choice, 0, len(bosses))
	for _, b := range bosses {
		name := b.Name
		if name == "" {
			name = b.Key
		}
		out = append(out, transport.Choice{Name: name, Value: b.Key})
	}
	return out
}
