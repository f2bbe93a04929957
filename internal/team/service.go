// Package team runs the signup, finalize, edit and confirm workflow for
// team-assembly messages.
//
// The public message's embed is the durable state: its description lists
// the participants. While a team is being finalized, the private editor
// message (a DM to the editor) carries the selection and a footer pointing
// back to the public message. Concurrent edits of one public message are
// excluded through the edit-lock store.
package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"raidbot/internal/command"
	"raidbot/internal/config"
	"raidbot/internal/editlock"
	"raidbot/internal/eventbus"
	"raidbot/internal/storage"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

// Top is the top-level command all team actions belong to for role lookups.
const Top = "team"

// Action names carried in button custom ids.
const (
	ActSignup   = "team-signup"
	ActQuit     = "team-quit"
	ActFinalize = "team-finalize"
	ActAdd      = "add-user-to-team"
	ActRemove   = "remove-user-from-team"
	ActConfirm  = "team-confirm"
	ActCancel   = "team-cancel"
	ActEdit     = "team-edit"
)

// AuditSink records workflow transitions.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Change is the payload of team events.
type Change struct {
	MessageID string
	ChannelID string
	ActorID   string
	Members   []string
}

type Service struct {
	log   logx.Logger
	locks *editlock.Store
	audit AuditSink
	bus   eventbus.Bus
	teams atomic.Pointer[config.TeamsConfig]
	now   func() time.Time
}

func New(log logx.Logger, locks *editlock.Store, audit AuditSink, bus eventbus.Bus, teams config.TeamsConfig) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{log: log, locks: locks, audit: audit, bus: bus, now: time.Now}
	s.SetTeams(teams)
	return s
}

// SetTeams swaps the boss table. Safe during hot reload.
func (s *Service) SetTeams(t config.TeamsConfig) {
	t.Bosses = append([]config.BossConfig(nil), t.Bosses...)
	s.teams.Store(&t)
}

func (s *Service) Teams() config.TeamsConfig { return *s.teams.Load() }

func (s *Service) handleSignupCommand(ctx context.Context, req *command.Request) error {
	key := req.Values.String("boss")
	b, ok := s.Teams().Boss(key)
	if !ok {
		return command.UserErrorf("Unknown boss `%s`.", key)
	}
	ref, err := req.Reply(ctx, signupView(b, nil))
	if err != nil {
		return fmt.Errorf("post signup message: %w", err)
	}
	req.Log.Info("signup opened", logx.String("boss", b.Key), logx.String("message_id", ref.MessageID))
	return nil
}

func (s *Service) handleStatus(ctx context.Context, req *command.Request) error {
	sessions := s.locks.Sessions(req.GuildID)
	if len(sessions) == 0 {
		return req.ReplyEphemeral(ctx, transport.MessageSend{Content: "No teams are being edited right now."})
	}
	now := s.now()
	fields := make([]transport.EmbedField, 0, len(sessions))
	for _, sess := range sessions {
		link := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", sess.GuildID, sess.ChannelID, sess.MessageID)
		detail := fmt.Sprintf("<@%s>, opened %s, %d candidates", sess.EditorID, relTime(sess.OpenedAt, now), len(sess.Snapshot))
		fields = append(fields, transport.EmbedField{Name: link, Value: detail})
	}
	return req.ReplyEphemeral(ctx, transport.MessageSend{Embeds: []transport.Embed{{Title: "Teams being edited", Fields: fields}}})
}

// publicMessage is the team message carrying the pressed button.
func publicMessage(req *command.Request) (*transport.Message, *transport.Embed, error) {
	msg := req.Message()
	e := msg.FirstEmbed()
	if e == nil {
		return nil, nil, command.UserErrorf("This message has no team attached.")
	}
	return msg, e, nil
}

func (s *Service) handleJoin(ctx context.Context, req *command.Request) error {
	if err := req.Require(Top, ActSignup); err != nil {
		return err
	}
	msg, e, err := publicMessage(req)
	if err != nil {
		return err
	}
	if s.locks.Locked(msg.ID) {
		return command.UserErrorf("This team is being finalized; signups are closed.")
	}
	ids := parseMentions(e.Description)
	if contains(ids, req.UserID) {
		return command.UserErrorf("You're already signed up.")
	}
	limit := int(req.Values.Int("max"))
	if limit > 0 && len(ids) >= limit {
		return command.UserErrorf("Signups are full (%d/%d).", len(ids), limit)
	}
	ids = append(ids, req.UserID)
	if err := req.Update(ctx, withSignups(msg, ids, limit)); err != nil {
		return fmt.Errorf("update signup message: %w", err)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TeamSignup, Time: s.now(), GuildID: req.GuildID,
		Data: Change{MessageID: msg.ID, ChannelID: msg.ChannelID, ActorID: req.UserID, Members: ids}})
	return nil
}

func (s *Service) handleQuit(ctx context.Context, req *command.Request) error {
	msg, e, err := publicMessage(req)
	if err != nil {
		return err
	}
	if s.locks.Locked(msg.ID) {
		return command.UserErrorf("This team is being finalized; signups are closed.")
	}
	ids := parseMentions(e.Description)
	if !contains(ids, req.UserID) {
		return command.UserErrorf("You're not signed up.")
	}
	ids = difference(ids, []string{req.UserID})
	if err := req.Update(ctx, withSignups(msg, ids, signupMax(msg))); err != nil {
		return fmt.Errorf("update signup message: %w", err)
	}
	return nil
}

// signupMax recovers the signup cap from the message's signup button.
func signupMax(msg *transport.Message) int {
	for _, r := range msg.Components {
		for _, b := range r.Buttons {
			name, params, err := command.DecodeCustomID(b.CustomID)
			if err != nil || name != ActSignup || len(params) != 1 {
				continue
			}
			v, err := command.BindPositional([]command.Param{{Name: "max", Type: command.TypeInteger}}, params)
			if err == nil {
				return int(v.Int("max"))
			}
		}
	}
	return 0
}

func (s *Service) handleFinalize(ctx context.Context, req *command.Request) error {
	return s.openEditor(ctx, req, false)
}

func (s *Service) handleEdit(ctx context.Context, req *command.Request) error {
	return s.openEditor(ctx, req, true)
}

// openEditor locks the public message, snapshots its participant list and
// sends the editor a private editing surface.
func (s *Service) openEditor(ctx context.Context, req *command.Request, confirmedBefore bool) error {
	if err := req.Require(Top, ActFinalize); err != nil {
		return err
	}
	msg, e, err := publicMessage(req)
	if err != nil {
		return err
	}
	ids := parseMentions(e.Description)
	if len(ids) == 0 {
		return command.UserErrorf("There is nobody on this team to finalize.")
	}
	size := int(req.Values.Int("size"))
	if size <= 0 {
		return command.UserErrorf("This button is no longer valid.")
	}
	channelID := msg.ChannelID
	if channelID == "" {
		channelID = req.ChannelID
	}

	if !s.locks.TryAcquireSession(editlock.Session{
		MessageID: msg.ID,
		ChannelID: channelID,
		GuildID:   req.GuildID,
		EditorID:  req.UserID,
		Snapshot:  ids,
	}) {
		return command.UserErrorf("This team is already being edited by someone else.")
	}
	locked := true
	defer func() {
		if locked {
			s.locks.Release(msg.ID)
		}
	}()

	meta := Meta{GuildID: req.GuildID, ChannelID: channelID, MessageID: msg.ID, ConfirmedBefore: confirmedBefore}
	selected := ids[:min(size, len(ids))]
	names := resolveNames(ctx, req.Platform, req.GuildID, ids, req.Log)

	dm, err := req.Platform.OpenDM(ctx, req.UserID)
	if err != nil {
		req.Log.Warn("open dm failed", logx.Err(err))
		return command.UserErrorf("I couldn't send you a direct message. Allow DMs from server members and try again.")
	}
	dmRef, err := req.Platform.SendMessage(ctx, dm, editorView(e.Title, meta, size, selected, ids, names))
	if err != nil {
		req.Log.Warn("send editor failed", logx.Err(err))
		return command.UserErrorf("I couldn't send you a direct message. Allow DMs from server members and try again.")
	}

	if err := req.Update(ctx, markEditing(msg, req.UserID)); err != nil {
		if derr := req.Platform.DeleteMessage(ctx, dmRef); derr != nil {
			req.Log.Warn("delete orphaned editor failed", logx.Err(derr))
		}
		return fmt.Errorf("mark team message as being edited: %w", err)
	}
	locked = false

	if err := req.ReplyEphemeral(ctx, transport.MessageSend{Content: "I've sent you the team editor in a direct message."}); err != nil {
		req.Log.Debug("editor notice failed", logx.Err(err))
	}
	s.record(ctx, req, eventbus.TeamFinalize, meta, selected)
	req.Log.Info("edit session opened",
		logx.String("message_id", msg.ID),
		logx.Int("candidates", len(ids)),
		logx.Bool("confirmed_before", confirmedBefore),
	)
	return nil
}

// editor is the decoded state of a private editing message.
type editor struct {
	msg      *transport.Message
	title    string
	meta     Meta
	pool     []string
	selected []string
}

func (s *Service) loadEditor(req *command.Request) (*editor, error) {
	msg := req.Message()
	e := msg.FirstEmbed()
	if e == nil {
		return nil, command.UserErrorf("This editor is no longer valid.")
	}
	meta, ok := ParseMeta(e.Footer)
	if !ok {
		return nil, command.UserErrorf("This editor is missing its team reference.")
	}
	sess, err := s.locks.Session(meta.MessageID)
	if errors.Is(err, editlock.ErrNotFound) {
		return nil, command.UserErrorf("This edit session is no longer open.")
	}
	if err != nil {
		return nil, err
	}
	if sess.EditorID != req.UserID {
		return nil, command.UserErrorf("This edit session belongs to someone else.")
	}
	return &editor{
		msg:      msg,
		title:    strings.TrimPrefix(e.Title, editingPrefix),
		meta:     meta,
		pool:     sess.Snapshot,
		selected: inOrder(sess.Snapshot, parseMentions(e.Description)),
	}, nil
}

func (s *Service) rerender(ctx context.Context, req *command.Request, ed *editor, size int) error {
	names := resolveNames(ctx, req.Platform, ed.meta.GuildID, ed.pool, req.Log)
	if err := req.Update(ctx, editorView(ed.title, ed.meta, size, ed.selected, ed.pool, names)); err != nil {
		return fmt.Errorf("update editor: %w", err)
	}
	return nil
}

func (s *Service) handleAdd(ctx context.Context, req *command.Request) error {
	ed, err := s.loadEditor(req)
	if err != nil {
		return err
	}
	uid := req.Values.User("user")
	size := int(req.Values.Int("size"))
	switch {
	case contains(ed.selected, uid):
		return command.UserErrorf("<@%s> is already on the team.", uid)
	case !contains(ed.pool, uid):
		return command.UserErrorf("<@%s> did not sign up for this team.", uid)
	case len(ed.selected) >= size:
		return command.UserErrorf("The team is full (%d/%d). Remove someone first.", len(ed.selected), size)
	}
	ed.selected = inOrder(ed.pool, append(ed.selected, uid))
	return s.rerender(ctx, req, ed, size)
}

func (s *Service) handleRemove(ctx context.Context, req *command.Request) error {
	ed, err := s.loadEditor(req)
	if err != nil {
		return err
	}
	uid := req.Values.User("user")
	if !contains(ed.selected, uid) {
		return command.UserErrorf("<@%s> is not on the team.", uid)
	}
	ed.selected = difference(ed.selected, []string{uid})
	return s.rerender(ctx, req, ed, int(req.Values.Int("size")))
}

func (s *Service) handleConfirm(ctx context.Context, req *command.Request) error {
	ed, err := s.loadEditor(req)
	if err != nil {
		return err
	}
	if len(ed.selected) == 0 {
		return command.UserErrorf("Select at least one member before confirming.")
	}
	size := int(req.Values.Int("size"))
	pub := transport.MessageRef{ChannelID: ed.meta.ChannelID, MessageID: ed.meta.MessageID}

	orig, err := req.Platform.FetchMessage(ctx, pub)
	if errors.Is(err, transport.ErrNotFound) {
		s.closeEditor(ctx, req, ed)
		return command.UserErrorf("The team message was deleted; the edit session is closed.")
	}
	if err != nil {
		return fmt.Errorf("fetch team message: %w", err)
	}
	if err := req.Platform.EditMessage(ctx, pub, confirmedView(orig.FirstEmbed(), ed.selected, size)); err != nil {
		return fmt.Errorf("write confirmed team: %w", err)
	}

	s.locks.Release(ed.meta.MessageID)
	if err := req.ReplyEphemeral(ctx, transport.MessageSend{
		Content: fmt.Sprintf("Team confirmed with %d of %d members.", len(ed.selected), size),
	}); err != nil {
		req.Log.Debug("confirm notice failed", logx.Err(err))
	}
	s.deleteEditor(ctx, req, ed)
	s.record(ctx, req, eventbus.TeamConfirm, ed.meta, ed.selected)
	return nil
}

func (s *Service) handleCancel(ctx context.Context, req *command.Request) error {
	ed, err := s.loadEditor(req)
	if err != nil {
		return err
	}
	pub := transport.MessageRef{ChannelID: ed.meta.ChannelID, MessageID: ed.meta.MessageID}

	orig, err := req.Platform.FetchMessage(ctx, pub)
	switch {
	case errors.Is(err, transport.ErrNotFound):
		req.Log.Info("team message gone; closing editor", logx.String("message_id", pub.MessageID))
	case err != nil:
		return fmt.Errorf("fetch team message: %w", err)
	default:
		if err := req.Platform.EditMessage(ctx, pub, restore(orig)); err != nil {
			return fmt.Errorf("restore team message: %w", err)
		}
	}

	msg := "Finalize cancelled; signups are open again."
	if ed.meta.ConfirmedBefore {
		msg = "Edit cancelled; the previous team stands."
	}
	s.locks.Release(ed.meta.MessageID)
	if err := req.ReplyEphemeral(ctx, transport.MessageSend{Content: msg}); err != nil {
		req.Log.Debug("cancel notice failed", logx.Err(err))
	}
	s.deleteEditor(ctx, req, ed)
	s.record(ctx, req, eventbus.TeamCancel, ed.meta, ed.selected)
	return nil
}

func (s *Service) closeEditor(ctx context.Context, req *command.Request, ed *editor) {
	s.locks.Release(ed.meta.MessageID)
	s.deleteEditor(ctx, req, ed)
}

func (s *Service) deleteEditor(ctx context.Context, req *command.Request, ed *editor) {
	if ed.msg == nil || ed.msg.ID == "" {
		return
	}
	if err := req.Platform.DeleteMessage(ctx, ed.msg.Ref()); err != nil && !errors.Is(err, transport.ErrNotFound) {
		req.Log.Warn("delete editor failed", logx.Err(err))
	}
}

// record publishes a team event and appends an audit entry. Audit failures
// are logged only.
func (s *Service) record(ctx context.Context, req *command.Request, typ string, meta Meta, members []string) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), GuildID: meta.GuildID, Data: Change{
		MessageID: meta.MessageID,
		ChannelID: meta.ChannelID,
		ActorID:   req.UserID,
		Members:   append([]string(nil), members...),
	}})
	if s.audit == nil {
		return
	}
	err := s.audit.AppendAudit(ctx, storage.AuditEntry{
		At:        s.now(),
		GuildID:   meta.GuildID,
		ChannelID: meta.ChannelID,
		ActorID:   req.UserID,
		Action:    typ,
		Target:    meta.MessageID,
		Detail:    strings.Join(members, ","),
	})
	if err != nil {
		req.Log.Warn("audit append failed", logx.String("action", typ), logx.Err(err))
	}
}
