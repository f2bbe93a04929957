package command

import (
	"context"
	"errors"
	"sync"

	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

// Permissions resolves role requirements. An empty result means everyone is allowed.
type Permissions interface {
	RolesRequiredFor(guildID, command, action string) []string
}

// Responder delivers a handler's responses. Interactive requests answer the
// interaction; scheduled runs post into the target channel.
type Responder interface {
	Respond(ctx context.Context, r transport.Response) (transport.MessageRef, error)
}

// Request is the handler context shared by commands and actions.
type Request struct {
	// Interaction is nil for scheduled runs.
	Interaction *transport.Interaction

	GuildID   string
	ChannelID string
	UserID    string

	// Route is the resolved command route; Action is set on the action path.
	Route  string
	Action string
	Values Values

	ReqID     string
	Scheduled bool

	Log         logx.Logger
	Platform    transport.Adapter
	Registry    *Registry
	Permissions Permissions
	Responder   Responder

	mu         sync.Mutex
	responded  bool
	lastPublic transport.MessageRef
}

var errNoResponder = errors.New("request has no responder")

func (r *Request) respond(ctx context.Context, resp transport.Response) (transport.MessageRef, error) {
	if r.Responder == nil {
		return transport.MessageRef{}, errNoResponder
	}
	ref, err := r.Responder.Respond(ctx, resp)
	if err != nil {
		return ref, err
	}
	r.mu.Lock()
	r.responded = true
	if !resp.Ephemeral && !ref.IsZero() {
		r.lastPublic = ref
	}
	r.mu.Unlock()
	return ref, nil
}

// Reply posts a new public message.
func (r *Request) Reply(ctx context.Context, msg transport.MessageSend) (transport.MessageRef, error) {
	return r.respond(ctx, transport.Response{Kind: transport.ResponseMessage, MessageSend: msg})
}

// ReplyEphemeral answers only the invoking user.
func (r *Request) ReplyEphemeral(ctx context.Context, msg transport.MessageSend) error {
	_, err := r.respond(ctx, transport.Response{Kind: transport.ResponseMessage, Ephemeral: true, MessageSend: msg})
	return err
}

// Update replaces the message carrying the pressed button.
func (r *Request) Update(ctx context.Context, msg transport.MessageSend) error {
	_, err := r.respond(ctx, transport.Response{Kind: transport.ResponseUpdate, MessageSend: msg})
	return err
}

// Responded reports whether any response was delivered.
func (r *Request) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

// LastPublic is the most recent public message this request produced.
func (r *Request) LastPublic() transport.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPublic
}

// Message is the message carrying the pressed component, or nil.
func (r *Request) Message() *transport.Message {
	if r.Interaction == nil || r.Interaction.Component == nil {
		return nil
	}
	return r.Interaction.Component.Message
}

// Allowed reports whether the invoking user satisfies the role requirement
// for (command, action). Scheduled runs were authorized when scheduled.
func (r *Request) Allowed(command, action string) bool {
	if r.Permissions == nil || r.Interaction == nil {
		return true
	}
	required := r.Permissions.RolesRequiredFor(r.GuildID, command, action)
	if len(required) == 0 {
		return true
	}
	if r.Interaction.IsAdmin {
		return true
	}
	for _, have := range r.Interaction.MemberRoles {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Require returns a *UserError when Allowed is false.
func (r *Request) Require(command, action string) error {
	if r.Allowed(command, action) {
		return nil
	}
	if action != "" {
		return UserErrorf("You don't have a role required to use this button.")
	}
	return UserErrorf("You don't have a role required to use `/%s`.", command)
}
