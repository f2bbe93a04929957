package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"raidbot/internal/command"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

// Invocation is a synthetic command invocation replayed by the scheduler.
type Invocation struct {
	GuildID   string
	ChannelID string
	// UserID is the user who scheduled the entry.
	UserID    string
	Route     string
	Arguments []command.Argument
}

// RunScheduled binds inv's persisted arguments and runs the command handler
// synchronously, posting its public output into inv.ChannelID. It returns
// the last public message produced.
func (d *Dispatcher) RunScheduled(ctx context.Context, inv Invocation) (transport.MessageRef, error) {
	cmd, ok := d.registry.Command(inv.Route)
	if !ok {
		return transport.MessageRef{}, fmt.Errorf("%w: %q", command.ErrUnknownCommand, inv.Route)
	}
	if cmd.Handler == nil || cmd.Dynamic {
		return transport.MessageRef{}, fmt.Errorf("command %q cannot run unattended", inv.Route)
	}

	vals, err := command.Bind(cmd.Options, inv.Arguments)
	if err != nil {
		return transport.MessageRef{}, err
	}

	rid := newReqID()
	resp := &channelResponder{platform: d.platform, channelID: inv.ChannelID}
	req := &command.Request{
		GuildID:   inv.GuildID,
		ChannelID: inv.ChannelID,
		UserID:    inv.UserID,
		Route:     cmd.Route(),
		Values:    vals,
		ReqID:     rid,
		Scheduled: true,
		Log: d.log.With(
			logx.String("rid", rid),
			logx.String("guild_id", inv.GuildID),
			logx.String("channel_id", inv.ChannelID),
			logx.String("user_id", inv.UserID),
			logx.String("cmd", cmd.Route()),
		),
		Platform:    d.platform,
		Registry:    d.registry,
		Permissions: d.permissions,
		Responder:   resp,
	}

	err = d.chain(cmd.Handler.Handle)(ctx, req)
	if err == nil {
		if notes := resp.privateNotes(); notes != "" && req.LastPublic().IsZero() {
			err = errors.New(notes)
		}
	}
	return req.LastPublic(), err
}

// Validate checks that args would bind for the schedulable command at route.
func (d *Dispatcher) Validate(route string, args []command.Argument) error {
	return d.registry.ValidateArguments(route, args)
}

// channelResponder posts public replies into a channel. Ephemeral replies
// have no audience in a scheduled run; they are kept so a run that produced
// nothing else can report them.
type channelResponder struct {
	platform  transport.Adapter
	channelID string

	mu    sync.Mutex
	notes []string
}

func (r *channelResponder) Respond(ctx context.Context, resp transport.Response) (transport.MessageRef, error) {
	if resp.Ephemeral {
		r.mu.Lock()
		r.notes = append(r.notes, strings.TrimSpace(resp.Content))
		r.mu.Unlock()
		return transport.MessageRef{}, nil
	}
	if resp.Kind == transport.ResponseUpdate {
		return transport.MessageRef{}, errors.New("scheduled run cannot update an interaction message")
	}
	return r.platform.SendMessage(ctx, r.channelID, resp.MessageSend)
}

func (r *channelResponder) privateNotes() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.TrimSpace(strings.Join(r.notes, "\n"))
}
