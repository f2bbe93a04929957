// Package fake is an in-memory transport.Adapter for tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"raidbot/internal/transport"
)

// Call records one interaction response.
type Call struct {
	InteractionID string
	Response      transport.Response
	Ref           transport.MessageRef
}

// Adapter stores messages in memory. Interaction responses of kind
// ResponseMessage create messages (ephemeral ones too, flagged), and
// ResponseUpdate edits the message carrying the component.
type Adapter struct {
	mu sync.Mutex

	seq       int
	messages  map[string]*transport.Message
	ephemeral map[string]bool
	deleted   []transport.MessageRef
	responses []Call
	specs     []transport.CommandSpec
	members   map[string]*transport.Member

	// FailDM makes OpenDM fail.
	FailDM bool
	// FailSend makes SendMessage fail for channels in the set.
	FailSend map[string]bool
}

var _ transport.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{
		messages:  map[string]*transport.Message{},
		ephemeral: map[string]bool{},
		members:   map[string]*transport.Member{},
		FailSend:  map[string]bool{},
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Interaction) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error                                   { return nil }

func (a *Adapter) RegisterCommands(ctx context.Context, specs []transport.CommandSpec) error {
	a.mu.Lock()
	a.specs = append([]transport.CommandSpec(nil), specs...)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) nextIDLocked() string {
	a.seq++
	return fmt.Sprintf("%d", 1000+a.seq)
}

func (a *Adapter) storeLocked(channelID, guildID string, msg transport.MessageSend) *transport.Message {
	m := &transport.Message{
		ID:         a.nextIDLocked(),
		ChannelID:  channelID,
		GuildID:    guildID,
		AuthorID:   "bot",
		Content:    msg.Content,
		Embeds:     cloneEmbeds(msg.Embeds),
		Components: cloneRows(msg.Components),
	}
	a.messages[m.ID] = m
	return m
}

func (a *Adapter) Respond(ctx context.Context, it *transport.Interaction, r transport.Response) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ref transport.MessageRef
	switch r.Kind {
	case transport.ResponseUpdate:
		if it.Component == nil || it.Component.Message == nil {
			return ref, fmt.Errorf("fake: update without component message")
		}
		m, ok := a.messages[it.Component.Message.ID]
		if !ok {
			return ref, transport.ErrNotFound
		}
		m.Content = r.Content
		m.Embeds = cloneEmbeds(r.Embeds)
		m.Components = cloneRows(r.Components)
		ref = m.Ref()
	default:
		m := a.storeLocked(it.ChannelID, it.GuildID, r.MessageSend)
		a.ephemeral[m.ID] = r.Ephemeral
		ref = m.Ref()
	}
	a.responses = append(a.responses, Call{InteractionID: it.ID, Response: r, Ref: ref})
	return ref, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, msg transport.MessageSend) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailSend[channelID] {
		return transport.MessageRef{}, fmt.Errorf("fake: send to %s failed", channelID)
	}
	return a.storeLocked(channelID, "", msg).Ref(), nil
}

func (a *Adapter) EditMessage(ctx context.Context, ref transport.MessageRef, msg transport.MessageSend) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.messages[ref.MessageID]
	if !ok {
		return transport.ErrNotFound
	}
	m.Content = msg.Content
	m.Embeds = cloneEmbeds(msg.Embeds)
	m.Components = cloneRows(msg.Components)
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.messages[ref.MessageID]; !ok {
		return transport.ErrNotFound
	}
	delete(a.messages, ref.MessageID)
	a.deleted = append(a.deleted, ref)
	return nil
}

func (a *Adapter) FetchMessage(ctx context.Context, ref transport.MessageRef) (*transport.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.messages[ref.MessageID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (a *Adapter) OpenDM(ctx context.Context, userID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailDM {
		return "", fmt.Errorf("fake: cannot DM %s", userID)
	}
	return "dm-" + userID, nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (*transport.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.members[guildID+"/"+userID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// AddMember makes userID resolvable in guildID.
func (a *Adapter) AddMember(guildID, userID, name string) {
	a.mu.Lock()
	a.members[guildID+"/"+userID] = &transport.Member{UserID: userID, DisplayName: name}
	a.mu.Unlock()
}

// Put stores msg under a fresh id and returns it.
func (a *Adapter) Put(channelID, guildID string, msg transport.MessageSend) *transport.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneMessage(a.storeLocked(channelID, guildID, msg))
}

// Message returns a copy of the stored message, or nil.
func (a *Adapter) Message(id string) *transport.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.messages[id]
	if !ok {
		return nil
	}
	return cloneMessage(m)
}

// MessagesIn lists public messages currently in channelID in creation order.
func (a *Adapter) MessagesIn(channelID string) []*transport.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*transport.Message
	for i := 1; i <= a.seq; i++ {
		id := fmt.Sprintf("%d", 1000+i)
		if m, ok := a.messages[id]; ok && m.ChannelID == channelID && !a.ephemeral[id] {
			out = append(out, cloneMessage(m))
		}
	}
	return out
}

func (a *Adapter) Responses() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.responses...)
}

// LastResponse returns the most recent interaction response.
func (a *Adapter) LastResponse() (Call, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.responses) == 0 {
		return Call{}, false
	}
	return a.responses[len(a.responses)-1], true
}

func (a *Adapter) Deleted() []transport.MessageRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transport.MessageRef(nil), a.deleted...)
}

func (a *Adapter) Specs() []transport.CommandSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transport.CommandSpec(nil), a.specs...)
}

func cloneMessage(m *transport.Message) *transport.Message {
	cp := *m
	cp.Embeds = cloneEmbeds(m.Embeds)
	cp.Components = cloneRows(m.Components)
	return &cp
}

func cloneEmbeds(in []transport.Embed) []transport.Embed {
	if in == nil {
		return nil
	}
	out := make([]transport.Embed, len(in))
	for i, e := range in {
		e.Fields = append([]transport.EmbedField(nil), e.Fields...)
		out[i] = e
	}
	return out
}

func cloneRows(in []transport.ActionRow) []transport.ActionRow {
	if in == nil {
		return nil
	}
	out := make([]transport.ActionRow, len(in))
	for i, r := range in {
		out[i] = transport.ActionRow{Buttons: append([]transport.Button(nil), r.Buttons...)}
	}
	return out
}
