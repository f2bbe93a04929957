package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"raidbot/internal/command"
	"raidbot/internal/transport"
	"raidbot/internal/transport/fake"
	logx "raidbot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	vals  []command.Values
	subs  [][]transport.OptionNode
}

func (r *recorder) add(s string, v command.Values) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) HandleSubCommand(ctx context.Context, req *command.Request, opts []transport.OptionNode) error {
	r.mu.Lock()
	r.subs = append(r.subs, opts)
	r.mu.Unlock()
	r.add("dyn:"+req.Route, command.Values{})
	return nil
}

type perms map[string][]string

func (p perms) RolesRequiredFor(guild, cmd, action string) []string { return p[cmd+"/"+action] }

func newTestDispatcher(t *testing.T, p command.Permissions) (*Dispatcher, *fake.Adapter, *recorder) {
	t.Helper()
	rec := &recorder{}
	handler := func(name string) command.HandlerFunc {
		return func(ctx context.Context, req *command.Request) error {
			rec.add(name, req.Values)
			_, err := req.Reply(ctx, transport.MessageSend{Content: name})
			return err
		}
	}
	cmds := []command.Command{
		{Name: "ping", Handler: handler("ping"), Schedulable: true, Options: []command.Option{
			{Name: "times", Type: command.TypeInteger, Required: true},
		}},
		{Name: "team", Description: "teams"},
		{Name: "status", Parent: "team", Handler: handler("team status")},
		{Name: "admin", AdminOnly: true, Handler: handler("admin")},
		{Name: "boom", Handler: command.HandlerFunc(func(context.Context, *command.Request) error { panic("kaboom") })},
		{Name: "deny", Handler: command.HandlerFunc(func(context.Context, *command.Request) error {
			return command.UserErrorf("nope")
		})},
		{Name: "quiet", Schedulable: true, Handler: command.HandlerFunc(func(ctx context.Context, req *command.Request) error {
			return req.ReplyEphemeral(ctx, transport.MessageSend{Content: "nothing to post"})
		})},
		{Name: "roles", Description: "roles"},
		{Name: "require", Parent: "roles", Dynamic: true, SubHandler: rec},
	}
	acts := []command.Action{
		{Name: "remove-user-from-team", Params: []command.Param{
			{Name: "size", Type: command.TypeInteger}, {Name: "user", Type: command.TypeUser},
		}, Handler: handler("remove")},
	}
	reg, err := command.NewRegistry(cmds, acts)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	platform := fake.New()
	return New(logx.Nop(), platform, reg, p, Options{Workers: 2, QueueSize: 8, Timeout: time.Second}), platform, rec
}

func runLoop(t *testing.T, d *Dispatcher) chan<- transport.Interaction {
	t.Helper()
	in := make(chan transport.Interaction)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.DispatchLoop(ctx, in)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func cmdInteraction(id, name string, opts ...transport.OptionNode) transport.Interaction {
	return transport.Interaction{
		ID: id, Kind: transport.InteractionCommand, GuildID: "g", ChannelID: "c", UserID: "u",
		Command: &transport.CommandData{Name: name, Options: opts},
	}
}

func lastResponseFor(p *fake.Adapter, id string) (fake.Call, bool) {
	var out fake.Call
	found := false
	for _, c := range p.Responses() {
		if c.InteractionID == id {
			out, found = c, true
		}
	}
	return out, found
}

func TestCommandPathBindsAndRuns(t *testing.T) {
	t.Parallel()

	d, p, rec := newTestDispatcher(t, nil)
	in := runLoop(t, d)

	in <- cmdInteraction("i1", "ping", transport.OptionNode{Name: "times", Value: "3"})
	waitFor(t, "ping handled", func() bool { return len(rec.snapshot()) == 1 })
	rec.mu.Lock()
	got := rec.vals[0].Int("times")
	rec.mu.Unlock()
	if got != 3 {
		t.Fatalf("times = %d", got)
	}
	waitFor(t, "ping reply", func() bool { _, ok := lastResponseFor(p, "i1"); return ok })
}

func TestCommandPathSubCommandAndDynamic(t *testing.T) {
	t.Parallel()

	d, _, rec := newTestDispatcher(t, nil)
	in := runLoop(t, d)

	in <- cmdInteraction("i1", "team", transport.OptionNode{Name: "status", Kind: transport.OptionSubCommand})
	in <- cmdInteraction("i2", "roles", transport.OptionNode{
		Name: "require", Kind: transport.OptionSubCommandGroup,
		Options: []transport.OptionNode{{Name: "team", Kind: transport.OptionSubCommand}},
	})
	waitFor(t, "both handled", func() bool { return len(rec.snapshot()) == 2 })

	calls := strings.Join(rec.snapshot(), ",")
	if !strings.Contains(calls, "team status") || !strings.Contains(calls, "dyn:roles require") {
		t.Fatalf("calls = %s", calls)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.subs) != 1 || rec.subs[0][0].Name != "team" {
		t.Fatalf("dynamic handler got %+v", rec.subs)
	}
}

func TestCommandPathErrors(t *testing.T) {
	t.Parallel()

	d, p, rec := newTestDispatcher(t, perms{"deny/": nil})
	in := runLoop(t, d)

	tests := []struct {
		it   transport.Interaction
		want string
	}{
		{cmdInteraction("missing", "ping"), "Missing required option `times`"},
		{cmdInteraction("coerce", "ping", transport.OptionNode{Name: "times", Value: "many"}), "not a valid integer"},
		{cmdInteraction("admin", "admin"), "restricted to server administrators"},
		{cmdInteraction("user", "deny"), "nope"},
		{cmdInteraction("panic", "boom"), genericFailure},
	}
	for _, tt := range tests {
		in <- tt.it
	}
	for _, tt := range tests {
		id := tt.it.ID
		waitFor(t, id+" reply", func() bool { _, ok := lastResponseFor(p, id); return ok })
		c, _ := lastResponseFor(p, id)
		if !c.Response.Ephemeral || !strings.Contains(c.Response.Content, tt.want) {
			t.Errorf("%s: response = %+v, want ephemeral containing %q", id, c.Response, tt.want)
		}
	}

	// Unknown commands are dropped without a reply; the loop keeps working.
	in <- cmdInteraction("unknown", "nosuch")
	in <- cmdInteraction("after", "team", transport.OptionNode{Name: "status", Kind: transport.OptionSubCommand})
	waitFor(t, "loop alive", func() bool { return len(rec.snapshot()) == 1 })
	if _, ok := lastResponseFor(p, "unknown"); ok {
		t.Fatal("unknown command got a reply")
	}
}

func TestCommandPathRoleRequirement(t *testing.T) {
	t.Parallel()

	d, p, rec := newTestDispatcher(t, perms{"ping/": {"r1"}, "admin/": {"r1"}})
	in := runLoop(t, d)

	denied := cmdInteraction("denied", "ping", transport.OptionNode{Name: "times", Value: "1"})
	denied.MemberRoles = []string{"r2"}
	in <- denied
	waitFor(t, "denied reply", func() bool { _, ok := lastResponseFor(p, "denied"); return ok })
	if c, _ := lastResponseFor(p, "denied"); !c.Response.Ephemeral {
		t.Fatalf("denied response = %+v", c.Response)
	}

	// Roles configured on an admin-only command let non-admins in.
	allowed := cmdInteraction("allowed", "admin")
	allowed.MemberRoles = []string{"r1"}
	in <- allowed
	waitFor(t, "admin handled", func() bool { return len(rec.snapshot()) == 1 })
}

func TestActionPath(t *testing.T) {
	t.Parallel()

	d, p, rec := newTestDispatcher(t, nil)
	in := runLoop(t, d)

	press := func(id, customID string) transport.Interaction {
		return transport.Interaction{
			ID: id, Kind: transport.InteractionComponent, GuildID: "g", ChannelID: "c", UserID: "u",
			Component: &transport.ComponentData{CustomID: customID},
		}
	}

	in <- press("bad", "remove-user-from-team_x_1")
	waitFor(t, "bad reply", func() bool { _, ok := lastResponseFor(p, "bad"); return ok })

	in <- press("malformed", "remove-user-from-team__")
	in <- press("unknown", "ghost_1")
	in <- press("ok", "remove-user-from-team_3_123456789012345678")
	waitFor(t, "remove handled", func() bool { return len(rec.snapshot()) == 1 })

	rec.mu.Lock()
	v := rec.vals[0]
	rec.mu.Unlock()
	if v.Int("size") != 3 || v.User("user") != "123456789012345678" {
		t.Fatalf("values: size=%d user=%s", v.Int("size"), v.User("user"))
	}
	for _, id := range []string{"malformed", "unknown"} {
		if _, ok := lastResponseFor(p, id); ok {
			t.Fatalf("%s got a reply", id)
		}
	}
}

func TestRunScheduled(t *testing.T) {
	t.Parallel()

	d, p, rec := newTestDispatcher(t, nil)
	ctx := context.Background()

	ref, err := d.RunScheduled(ctx, Invocation{GuildID: "g", ChannelID: "chan", UserID: "u", Route: "ping",
		Arguments: []command.Argument{{Name: "times", Value: "2"}}})
	if err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	if ref.IsZero() || ref.ChannelID != "chan" {
		t.Fatalf("ref = %+v", ref)
	}
	if msgs := p.MessagesIn("chan"); len(msgs) != 1 || msgs[0].Content != "ping" {
		t.Fatalf("channel messages = %+v", msgs)
	}
	if len(rec.snapshot()) != 1 {
		t.Fatal("handler not called")
	}

	if _, err := d.RunScheduled(ctx, Invocation{ChannelID: "chan", Route: "ping"}); err == nil {
		t.Fatal("missing argument accepted")
	}
	if _, err := d.RunScheduled(ctx, Invocation{ChannelID: "chan", Route: "boom"}); err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("panic err = %v", err)
	}
	if _, err := d.RunScheduled(ctx, Invocation{ChannelID: "chan", Route: "quiet"}); err == nil || !strings.Contains(err.Error(), "nothing to post") {
		t.Fatalf("quiet err = %v", err)
	}
	if _, err := d.RunScheduled(ctx, Invocation{ChannelID: "chan", Route: "gone"}); err == nil {
		t.Fatal("unknown route accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t, nil)
	if err := d.Validate("ping", []command.Argument{{Name: "times", Value: "1"}}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := d.Validate("ping", []command.Argument{{Name: "times", Value: "1"}, {Name: "x", Value: "y"}}); err == nil {
		t.Fatal("unknown option accepted")
	}
}
