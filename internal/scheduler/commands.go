package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"raidbot/internal/command"
	"raidbot/internal/transport"
)

const maxListFields = 25

// Commands returns /schedule and its sub-commands.
func Commands(s *Service) []command.Command {
	return []command.Command{
		{Name: "schedule", Description: "Run commands on a recurring schedule", AdminOnly: true},
		{
			Name:        "add",
			Parent:      "schedule",
			Description: "Schedule a command to run repeatedly",
			Options: []command.Option{
				{Name: "command", Description: "Command to run", Type: command.TypeString, Required: true, ChoiceProvider: schedulableChoices},
				{Name: "frequency", Description: "How often, e.g. 168h or 24:00", Type: command.TypeString, Required: true},
				{Name: "start", Description: "First run, 'YYYY-MM-DD HH:MM' (default now)", Type: command.TypeString},
				{Name: "delete-previous", Description: "Delete the previous run's message", Type: command.TypeBoolean},
				{Name: "arguments", Description: "Command options as name=value;name=value", Type: command.TypeString},
				{Name: "channel", Description: "Where to post (default this channel)", Type: command.TypeChannel},
			},
			Handler: command.HandlerFunc(s.handleAdd),
		},
		{
			Name:        "remove",
			Parent:      "schedule",
			Description: "Remove a scheduled command",
			Options: []command.Option{
				{Name: "id", Description: "Entry id from /schedule list", Type: command.TypeString, Required: true},
			},
			Handler: command.HandlerFunc(s.handleRemove),
		},
		{
			Name:        "list",
			Parent:      "schedule",
			Description: "List scheduled commands for this server",
			Handler:     command.HandlerFunc(s.handleList),
		},
	}
}

func schedulableChoices(_ context.Context, r *command.Registry) []transport.Choice {
	var out []transport.Choice
	for _, route := range r.Schedulable() {
		out = append(out, transport.Choice{Name: route, Value: route})
	}
	return out
}

func (s *Service) handleAdd(ctx context.Context, req *command.Request) error {
	if req.GuildID == "" {
		return command.UserErrorf("Commands can only be scheduled inside a server.")
	}
	v := req.Values
	route := strings.TrimSpace(v.String("command"))
	target, ok := req.Registry.Command(route)
	if !ok {
		return command.UserErrorf("Unknown command `/%s`.", route)
	}
	// Scheduling a command means running it with the scheduler's authority
	// later; the caller must be allowed to run it now.
	if err := req.Require(target.TopLevel(), ""); err != nil {
		return err
	}

	freq, err := ParseFrequency(v.String("frequency"))
	if err != nil {
		return command.UserErrorf("Invalid frequency: %v.", err)
	}
	start, err := ParseStart(v.String("start"), s.Location(), s.now())
	if err != nil {
		return command.UserErrorf("Invalid start: %v.", err)
	}
	args, err := ParseArguments(v.String("arguments"))
	if err != nil {
		return command.UserErrorf("Invalid arguments: %v.", err)
	}
	channelID := req.ChannelID
	if v.Has("channel") {
		channelID = v.Channel("channel")
	}

	guid, err := s.Add(ctx, AddRequest{
		GuildID:        req.GuildID,
		ScheduledBy:    req.UserID,
		ChannelID:      channelID,
		Start:          start,
		Frequency:      freq,
		DeletePrevious: v.Bool("delete-previous"),
		Command:        route,
		Arguments:      args,
	})
	switch {
	case errors.Is(err, ErrIntervalTooShort):
		return command.UserErrorf("Frequency must be at least %s.", s.MinInterval())
	case errors.Is(err, command.ErrUnknownCommand):
		return command.UserErrorf("Unknown command `/%s`.", route)
	case err != nil:
		return err
	}

	msg := fmt.Sprintf("Scheduled `/%s` in <#%s> every %s, starting %s. Id: `%s`",
		route, channelID, freq, start.In(s.Location()).Format("2006-01-02 15:04 MST"), guid)
	return req.ReplyEphemeral(ctx, transport.MessageSend{Content: msg})
}

func (s *Service) handleRemove(ctx context.Context, req *command.Request) error {
	if req.GuildID == "" {
		return command.UserErrorf("Schedules only exist inside a server.")
	}
	guid := strings.TrimSpace(req.Values.String("id"))
	removed, err := s.Remove(ctx, req.GuildID, guid)
	if err != nil {
		return err
	}
	if !removed {
		return command.UserErrorf("No scheduled command with id `%s`.", guid)
	}
	return req.ReplyEphemeral(ctx, transport.MessageSend{Content: fmt.Sprintf("Removed scheduled command `%s`.", guid)})
}

func (s *Service) handleList(ctx context.Context, req *command.Request) error {
	if req.GuildID == "" {
		return command.UserErrorf("Schedules only exist inside a server.")
	}
	entries := s.Entries(req.GuildID)
	if len(entries) == 0 {
		return req.ReplyEphemeral(ctx, transport.MessageSend{Content: "Nothing is scheduled."})
	}
	now := s.now()
	e := transport.Embed{Title: "Scheduled commands"}
	for i, en := range entries {
		if i == maxListFields {
			e.Footer = fmt.Sprintf("%d more not shown", len(entries)-i)
			break
		}
		e.Fields = append(e.Fields, transport.EmbedField{Name: "/" + en.Command, Value: describeEntry(en, now)})
	}
	return req.ReplyEphemeral(ctx, transport.MessageSend{Embeds: []transport.Embed{e}})
}

func describeEntry(en Entry, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Id `%s` in <#%s> every %s", en.GUID, en.ChannelID, time.Duration(en.Frequency))
	if en.DeletePrevious {
		b.WriteString(", replacing the previous post")
	}
	if len(en.Arguments) > 0 {
		args := make([]command.Argument, len(en.Arguments))
		for i, a := range en.Arguments {
			args[i] = command.Argument{Name: a.Name, Value: a.Value}
		}
		fmt.Fprintf(&b, "\nArguments: `%s`", FormatArguments(args))
	}
	switch {
	case !en.Next.IsZero():
		fmt.Fprintf(&b, "\nNext run %s", humanize.RelTime(en.Next, now, "ago", "from now"))
	default:
		b.WriteString("\nNot armed")
	}
	if !en.LastRun.IsZero() {
		fmt.Fprintf(&b, ", last run %s", humanize.RelTime(en.LastRun, now, "ago", "from now"))
	}
	if en.ScheduledBy != "" {
		fmt.Fprintf(&b, "\nScheduled by <@%s>", en.ScheduledBy)
	}
	return b.String()
}
