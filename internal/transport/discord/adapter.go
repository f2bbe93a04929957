package discord

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "raidbot/internal/runtime/supervisor"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

type Config struct {
	Token         string
	ApplicationID string
	// GuildIDs limits command registration to these guilds. Empty registers globally.
	GuildIDs []string
}

// Interaction tokens stay valid for 15 minutes; answered ids are kept that long.
const interactionTTL = 15 * time.Minute

var _ transport.Adapter = (*Adapter)(nil)

type Adapter struct {
	cfg Config
	log logx.Logger

	s       *discordgo.Session
	out     atomic.Value // stores (chan<- transport.Interaction)
	appID   atomic.Value // stores string
	runMu   sync.Mutex
	running bool

	// sup owns the adapter's background goroutines. Created on Start and
	// cancelled on Stop.
	sup *rtsup.Supervisor

	// droppedInteractions counts interactions dropped because the
	// dispatcher's inbox was full. Reported periodically.
	droppedInteractions atomic.Uint64

	// answered maps interaction id -> first response time. Later responses
	// to the same interaction go out as followups.
	answered sync.Map

	cmdMu   sync.Mutex
	cmdHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, s: s}
	// Ensure the atomic.Values hold stable dynamic types.
	var nilOut chan<- transport.Interaction
	a.out.Store(nilOut)
	a.appID.Store(strings.TrimSpace(cfg.ApplicationID))
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		if a.applicationID() == "" {
			a.appID.Store(r.User.ID)
		}
		a.log.Info("gateway ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
	})

	// Handlers forward to the CURRENT output channel. Start may swap it.
	a.s.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		it, ok := fromInteraction(ic.Interaction)
		if !ok {
			return
		}
		a.sendInteraction(it)
	})
}

func (a *Adapter) applicationID() string {
	id, _ := a.appID.Load().(string)
	if id == "" && a.s.State != nil && a.s.State.User != nil {
		// State is filled from READY inside Open, before handlers run.
		id = a.s.State.User.ID
	}
	return id
}

func (a *Adapter) sendInteraction(it transport.Interaction) {
	out, _ := a.out.Load().(chan<- transport.Interaction)
	if out == nil {
		return
	}
	select {
	case out <- it:
	default:
		a.droppedInteractions.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Interaction) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.out.Store(out)
	if err := a.s.Open(); err != nil {
		var nilOut chan<- transport.Interaction
		a.out.Store(nilOut)
		a.runMu.Unlock()
		return err
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		// Adapter housekeeping must not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("interactions.housekeeping", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case now := <-ticker.C:
				a.reportDropped(cap(out))
				a.pruneAnswered(now)
			}
		}
	})

	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedInteractions.Swap(0); n > 0 {
		a.log.Warn("incoming interactions dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) pruneAnswered(now time.Time) {
	a.answered.Range(func(k, v any) bool {
		if at, ok := v.(time.Time); ok && now.Sub(at) > interactionTTL {
			a.answered.Delete(k)
		}
		return true
	})
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Interaction
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("discord stop called but not running")
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_interactions_pending", a.droppedInteractions.Load()))

	if sup != nil {
		sup.Cancel()
	}
	closeErr := a.s.Close()

	if sup != nil {
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("discord stop timed out", logx.Err(err))
		}
	}
	return closeErr
}

// RegisterCommands replaces the application's commands. It skips the
// network call when the payload has not changed since the last success.
func (a *Adapter) RegisterCommands(ctx context.Context, specs []transport.CommandSpec) error {
	appID := a.applicationID()
	if appID == "" {
		return errors.New("discord application id unknown (set discord.application_id or start the adapter first)")
	}
	cmds := toApplicationCommands(specs)

	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	b, err := json.Marshal(cmds)
	if err != nil {
		return err
	}
	h := fnv.New64a()
	h.Write(b)
	for _, g := range a.cfg.GuildIDs {
		h.Write([]byte{0})
		h.Write([]byte(g))
	}
	sum := h.Sum64()
	if sum == a.cmdHash {
		return nil
	}

	guilds := a.cfg.GuildIDs
	if len(guilds) == 0 {
		guilds = []string{""}
	}
	for _, g := range guilds {
		if _, err := a.s.ApplicationCommandBulkOverwrite(appID, g, cmds, discordgo.WithContext(ctx)); err != nil {
			return mapErr(err)
		}
	}
	a.cmdHash = sum
	a.log.Info("commands registered", logx.Int("count", len(cmds)), logx.Int("guilds", len(a.cfg.GuildIDs)))
	return nil
}

func (a *Adapter) interaction(it *transport.Interaction) *discordgo.Interaction {
	return &discordgo.Interaction{ID: it.ID, AppID: a.applicationID(), Token: it.Token}
}

// Respond answers the interaction on the first call and sends followups
// after that.
func (a *Adapter) Respond(ctx context.Context, it *transport.Interaction, r transport.Response) (transport.MessageRef, error) {
	if it == nil {
		return transport.MessageRef{}, errors.New("discord: respond without interaction")
	}
	di := a.interaction(it)
	opt := discordgo.WithContext(ctx)

	if _, loaded := a.answered.LoadOrStore(it.ID, time.Now()); loaded {
		return a.followup(ctx, it, di, r)
	}

	data := &discordgo.InteractionResponseData{
		Content:    r.Content,
		Embeds:     toEmbeds(r.Embeds),
		Components: toComponents(r.Components),
	}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	typ := discordgo.InteractionResponseChannelMessageWithSource
	if r.Kind == transport.ResponseUpdate {
		typ = discordgo.InteractionResponseUpdateMessage
	}
	if err := a.s.InteractionRespond(di, &discordgo.InteractionResponse{Type: typ, Data: data}, opt); err != nil {
		a.answered.Delete(it.ID)
		return transport.MessageRef{}, mapErr(err)
	}

	switch {
	case r.Kind == transport.ResponseUpdate:
		if it.Component != nil && it.Component.Message != nil {
			return it.Component.Message.Ref(), nil
		}
		return transport.MessageRef{}, nil
	case r.Ephemeral:
		return transport.MessageRef{}, nil
	}
	m, err := a.s.InteractionResponse(di, opt)
	if err != nil {
		// The reply is out; only its id is unknown.
		a.log.Warn("fetch interaction response failed", logx.Err(err))
		return transport.MessageRef{}, nil
	}
	return transport.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (a *Adapter) followup(ctx context.Context, it *transport.Interaction, di *discordgo.Interaction, r transport.Response) (transport.MessageRef, error) {
	if r.Kind == transport.ResponseUpdate {
		if it.Component == nil || it.Component.Message == nil {
			return transport.MessageRef{}, errors.New("discord: update without component message")
		}
		ref := it.Component.Message.Ref()
		return ref, a.EditMessage(ctx, ref, r.MessageSend)
	}
	params := &discordgo.WebhookParams{
		Content:    r.Content,
		Embeds:     toEmbeds(r.Embeds),
		Components: toComponents(r.Components),
	}
	if r.Ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	m, err := a.s.FollowupMessageCreate(di, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, mapErr(err)
	}
	if r.Ephemeral || m == nil {
		return transport.MessageRef{}, nil
	}
	return transport.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, msg transport.MessageSend) (transport.MessageRef, error) {
	m, err := a.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     toEmbeds(msg.Embeds),
		Components: toComponents(msg.Components),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, mapErr(err)
	}
	return transport.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (a *Adapter) EditMessage(ctx context.Context, ref transport.MessageRef, msg transport.MessageSend) error {
	content := msg.Content
	embeds := toEmbeds(msg.Embeds)
	components := toComponents(msg.Components)
	edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID)
	edit.Content = &content
	edit.Embeds = &embeds
	edit.Components = &components
	_, err := a.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return mapErr(a.s.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)))
}

func (a *Adapter) FetchMessage(ctx context.Context, ref transport.MessageRef) (*transport.Message, error) {
	m, err := a.s.ChannelMessage(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return fromMessage(m), nil
}

func (a *Adapter) OpenDM(ctx context.Context, userID string) (string, error) {
	ch, err := a.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	return ch.ID, nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (*transport.Member, error) {
	m, err := a.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return fromMember(m), nil
}
