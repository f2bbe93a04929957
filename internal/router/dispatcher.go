package router

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"raidbot/internal/command"
	"raidbot/internal/runtime/supervisor"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

const genericFailure = "Something went wrong while handling that. The error was logged."

type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds each request. Zero means no bound.
	Timeout time.Duration
}

// Dispatcher routes interactions to command and action handlers, and runs
// scheduled invocations through the same binding and middleware.
type Dispatcher struct {
	log         logx.Logger
	platform    transport.Adapter
	registry    *command.Registry
	permissions command.Permissions

	workers int
	timeout atomic.Int64

	jobs chan func()

	runMu   sync.Mutex
	running bool
}

func New(log logx.Logger, platform transport.Adapter, reg *command.Registry, perms command.Permissions, opt Options) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = DefaultWorkers
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		log:         log,
		platform:    platform,
		registry:    reg,
		permissions: perms,
		workers:     opt.Workers,
		jobs:        make(chan func(), opt.QueueSize),
	}
	d.SetTimeout(opt.Timeout)
	return d
}

func (d *Dispatcher) Registry() *command.Registry { return d.registry }

// SetTimeout changes the per-request bound. Safe during hot reload.
func (d *Dispatcher) SetTimeout(t time.Duration) { d.timeout.Store(int64(t)) }

func (d *Dispatcher) requestTimeout() time.Duration { return time.Duration(d.timeout.Load()) }

// tryEnqueue never blocks and tolerates the queue being closed.
func (d *Dispatcher) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case d.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes interactions until ctx ends or in closes. Handlers
// run on a bounded worker pool.
func (d *Dispatcher) DispatchLoop(ctx context.Context, in <-chan transport.Interaction) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(d.log.With(logx.String("comp", "router.workers"))))

	d.runMu.Lock()
	d.running = true
	d.runMu.Unlock()

	d.log.Info("dispatcher started", logx.Int("workers", d.workers), logx.Int("queue_cap", cap(d.jobs)))

	for i := 0; i < d.workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-d.jobs:
					if !ok {
						return nil
					}
					d.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		d.runMu.Lock()
		d.running = false
		close(d.jobs)
		d.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case it, ok := <-in:
			if !ok {
				return nil
			}
			d.route(ctx, it)
		}
	}
}

func (d *Dispatcher) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in dispatch job", logx.Int("worker", worker), logx.Any("panic", r))
		}
	}()
	job()
}

func (d *Dispatcher) route(ctx context.Context, it transport.Interaction) {
	switch it.Kind {
	case transport.InteractionCommand:
		d.routeCommand(ctx, &it)
	case transport.InteractionComponent:
		d.routeAction(ctx, &it)
	default:
		d.log.Debug("ignoring interaction", logx.String("kind", string(it.Kind)))
	}
}

func (d *Dispatcher) newRequest(it *transport.Interaction, route string) *command.Request {
	rid := newReqID()
	return &command.Request{
		Interaction: it,
		GuildID:     it.GuildID,
		ChannelID:   it.ChannelID,
		UserID:      it.UserID,
		Route:       route,
		ReqID:       rid,
		Log: d.log.With(
			logx.String("rid", rid),
			logx.String("guild_id", it.GuildID),
			logx.String("channel_id", it.ChannelID),
			logx.String("user_id", it.UserID),
			logx.String("cmd", route),
		),
		Platform:    d.platform,
		Registry:    d.registry,
		Permissions: d.permissions,
		Responder:   interactionResponder{platform: d.platform, it: it},
	}
}

func (d *Dispatcher) chain(h command.HandlerFunc) command.HandlerFunc {
	return Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(d.requestTimeout()))
}

// enqueue runs h for req on the worker pool and renders its error.
func (d *Dispatcher) enqueue(ctx context.Context, req *command.Request, h command.HandlerFunc) {
	final := d.chain(h)
	ok := d.tryEnqueue(func() {
		err := final(ctx, req)
		d.finish(ctx, req, err)
	})
	if !ok {
		req.Log.Warn("dispatch queue full; rejecting request")
		_ = req.ReplyEphemeral(ctx, transport.MessageSend{Content: "The bot is busy right now, please try again in a moment."})
	}
}

// finish turns handler errors into ephemeral replies. User-facing errors are
// shown as is; anything else gets a generic message.
func (d *Dispatcher) finish(ctx context.Context, req *command.Request, err error) {
	if err == nil {
		return
	}
	msg, ok := command.UserMessage(err)
	if !ok {
		msg = genericFailure
	}
	if rerr := req.ReplyEphemeral(ctx, transport.MessageSend{Content: msg}); rerr != nil {
		req.Log.Warn("error reply failed", logx.Err(rerr))
	}
}

func (d *Dispatcher) routeCommand(ctx context.Context, it *transport.Interaction) {
	if it.Command == nil {
		return
	}
	top, ok := d.registry.Command(it.Command.Name)
	if !ok || top.Parent != "" {
		d.log.Warn("unknown command", logx.String("name", it.Command.Name), logx.String("guild_id", it.GuildID))
		return
	}

	cur := top
	opts := it.Command.Options
	for !cur.Dynamic {
		node, ok := subCommandNode(opts)
		if !ok {
			break
		}
		child, ok := d.registry.Command(cur.Route() + " " + node.Name)
		if !ok {
			d.log.Warn("unknown sub-command", logx.String("route", cur.Route()), logx.String("name", node.Name))
			return
		}
		cur = child
		opts = node.Options
	}

	req := d.newRequest(it, cur.Route())

	if err := d.authorize(req, top); err != nil {
		d.finish(ctx, req, err)
		return
	}

	if cur.Dynamic {
		sub := cur.SubHandler
		d.enqueue(ctx, req, func(ctx context.Context, r *command.Request) error {
			return sub.HandleSubCommand(ctx, r, opts)
		})
		return
	}
	if cur.Handler == nil {
		d.log.Warn("command group invoked without sub-command", logx.String("route", cur.Route()))
		return
	}

	vals, err := command.Bind(cur.Options, flatten(opts))
	if err != nil {
		d.finish(ctx, req, err)
		return
	}
	req.Values = vals
	d.enqueue(ctx, req, cur.Handler.Handle)
}

// authorize applies role requirements for the top-level command. Admin-only
// commands without configured roles need the platform administrator bit.
func (d *Dispatcher) authorize(req *command.Request, top *command.Command) error {
	if d.permissions != nil && len(d.permissions.RolesRequiredFor(req.GuildID, top.Name, "")) > 0 {
		return req.Require(top.Name, "")
	}
	if top.AdminOnly && (req.Interaction == nil || !req.Interaction.IsAdmin) {
		return command.UserErrorf("`/%s` is restricted to server administrators.", top.Name)
	}
	return nil
}

func (d *Dispatcher) routeAction(ctx context.Context, it *transport.Interaction) {
	if it.Component == nil {
		return
	}
	name, tokens, err := command.DecodeCustomID(it.Component.CustomID)
	if err != nil {
		d.log.Debug("ignoring malformed custom id", logx.String("custom_id", it.Component.CustomID))
		return
	}
	act, ok := d.registry.Action(name)
	if !ok {
		d.log.Warn("unknown action", logx.String("name", name))
		return
	}

	req := d.newRequest(it, act.Command)
	req.Action = act.Name
	req.Log = req.Log.With(logx.String("action", act.Name))

	vals, err := command.BindPositional(act.Params, tokens)
	if err != nil {
		req.Log.Debug("action parameters rejected", logx.Err(err))
		d.finish(ctx, req, command.UserErrorf("This button is no longer valid."))
		return
	}
	req.Values = vals
	d.enqueue(ctx, req, act.Handler.Handle)
}

func subCommandNode(opts []transport.OptionNode) (transport.OptionNode, bool) {
	for _, o := range opts {
		if o.Kind == transport.OptionSubCommand || o.Kind == transport.OptionSubCommandGroup {
			return o, true
		}
	}
	return transport.OptionNode{}, false
}

func flatten(opts []transport.OptionNode) []command.Argument {
	out := make([]command.Argument, 0, len(opts))
	for _, o := range opts {
		if o.Kind == transport.OptionValue {
			out = append(out, command.Argument{Name: o.Name, Value: o.Value})
		}
	}
	return out
}

type interactionResponder struct {
	platform transport.Adapter
	it       *transport.Interaction
}

func (r interactionResponder) Respond(ctx context.Context, resp transport.Response) (transport.MessageRef, error) {
	return r.platform.Respond(ctx, r.it, resp)
}

var ridSeq atomic.Uint64

// newReqID is a short, process-unique request id: base36 time + sequence.
func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36)
}

// Running reports whether DispatchLoop is active.
func (d *Dispatcher) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.running
}
