package transport

import (
	"context"
	"errors"
)

// ErrNotFound is returned by the platform when a message, channel or member
// no longer exists.
var ErrNotFound = errors.New("transport: not found")

type InteractionKind string

const (
	InteractionCommand   InteractionKind = "command"
	InteractionComponent InteractionKind = "component"
)

// Interaction is an inbound event: a slash command invocation or a button press.
type Interaction struct {
	ID    string
	Token string
	Kind  InteractionKind

	GuildID   string
	ChannelID string
	UserID    string
	Username  string

	// MemberRoles is empty for interactions outside a guild (e.g. DMs).
	MemberRoles []string
	IsAdmin     bool

	Command   *CommandData
	Component *ComponentData
}

// InDM reports whether the interaction happened in a direct message channel.
func (it *Interaction) InDM() bool { return it != nil && it.GuildID == "" }

type CommandData struct {
	Name    string
	Options []OptionNode
}

type OptionKind int

const (
	OptionValue OptionKind = iota
	OptionSubCommand
	OptionSubCommandGroup
)

// OptionNode is one node of the nested option tree delivered with a command
// invocation. Values are delivered untyped; the binder coerces them.
type OptionNode struct {
	Name    string
	Kind    OptionKind
	Value   string
	Options []OptionNode
}

type ComponentData struct {
	CustomID string
	// Message is the message that carries the pressed component.
	Message *Message
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

func (r MessageRef) IsZero() bool { return r.MessageID == "" }

type Message struct {
	ID         string
	ChannelID  string
	GuildID    string
	AuthorID   string
	Content    string
	Embeds     []Embed
	Components []ActionRow
}

func (m *Message) Ref() MessageRef {
	if m == nil {
		return MessageRef{}
	}
	return MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}
}

// FirstEmbed returns the first embed, or nil if the message has none.
func (m *Message) FirstEmbed() *Embed {
	if m == nil || len(m.Embeds) == 0 {
		return nil
	}
	return &m.Embeds[0]
}

type Embed struct {
	Title       string
	Description string
	Footer      string
	Thumbnail   string
	Color       int
	Fields      []EmbedField
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

type Button struct {
	Label    string
	Style    ButtonStyle
	CustomID string
	Disabled bool
}

type ActionRow struct {
	Buttons []Button
}

// MessageSend is the outbound payload for send/edit operations.
type MessageSend struct {
	Content    string
	Embeds     []Embed
	Components []ActionRow
}

type ResponseKind int

const (
	// ResponseMessage posts a new reply to the interaction.
	ResponseMessage ResponseKind = iota
	// ResponseUpdate replaces the message carrying the pressed component.
	ResponseUpdate
)

type Response struct {
	Kind      ResponseKind
	Ephemeral bool
	MessageSend
}

type Member struct {
	UserID      string
	DisplayName string
	Roles       []string
}

// OptionType is the platform-facing type of a declared command option.
type OptionType int

const (
	OptionTypeString OptionType = iota + 1
	OptionTypeInteger
	OptionTypeBoolean
	OptionTypeUser
	OptionTypeChannel
	OptionTypeRole
	OptionTypeSubCommand
	OptionTypeSubCommandGroup
)

type Choice struct {
	Name  string
	Value string
}

// CommandSpec is the registration payload for one top-level command.
type CommandSpec struct {
	Name        string
	Description string
	AdminOnly   bool
	Options     []OptionSpec
}

type OptionSpec struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
	Choices     []Choice
	Options     []OptionSpec
}

// Adapter is the chat-platform collaborator.
type Adapter interface {
	Start(ctx context.Context, out chan<- Interaction) error
	Stop(ctx context.Context) error

	RegisterCommands(ctx context.Context, specs []CommandSpec) error

	Respond(ctx context.Context, it *Interaction, r Response) (MessageRef, error)

	SendMessage(ctx context.Context, channelID string, msg MessageSend) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, msg MessageSend) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	FetchMessage(ctx context.Context, ref MessageRef) (*Message, error)

	// OpenDM returns the direct-message channel id for userID.
	OpenDM(ctx context.Context, userID string) (string, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)
}
