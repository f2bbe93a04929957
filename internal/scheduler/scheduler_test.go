package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"raidbot/internal/command"
	"raidbot/internal/eventbus"
	"raidbot/internal/router"
	"raidbot/internal/storage"
	"raidbot/internal/transport"
	"raidbot/internal/transport/fake"
	logx "raidbot/pkg/logx"
)

const (
	guildID   = "100"
	channelID = "200"
)

// recordingRunner posts one message per run into the invocation's channel.
type recordingRunner struct {
	p   *fake.Adapter
	reg *command.Registry

	mu    sync.Mutex
	calls []router.Invocation
	fired chan struct{}

	err   error
	panic bool
	block chan struct{}
}

func newRunner(p *fake.Adapter) *recordingRunner {
	return &recordingRunner{p: p, fired: make(chan struct{}, 16)}
}

func (r *recordingRunner) RunScheduled(ctx context.Context, inv router.Invocation) (transport.MessageRef, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	block, err, shouldPanic := r.block, r.err, r.panic
	r.mu.Unlock()
	r.fired <- struct{}{}

	if block != nil {
		<-block
	}
	if shouldPanic {
		panic("handler blew up")
	}
	if err != nil {
		return transport.MessageRef{}, err
	}
	return r.p.SendMessage(ctx, inv.ChannelID, transport.MessageSend{Content: "output of /" + inv.Route})
}

func (r *recordingRunner) Validate(route string, args []command.Argument) error {
	if r.reg == nil {
		return nil
	}
	return r.reg.ValidateArguments(route, args)
}

func (r *recordingRunner) Calls() []router.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]router.Invocation(nil), r.calls...)
}

func waitFired(t *testing.T, r *recordingRunner) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run did not fire")
	}
}

type fixture struct {
	p      *fake.Adapter
	store  *storage.Memory
	runner *recordingRunner
	bus    eventbus.Bus
	svc    *Service
	clock  time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		p:     fake.New(),
		store: storage.NewMemory(),
		bus:   eventbus.New(),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.runner = newRunner(f.p)
	f.svc = New(cfg, f.store, f.runner, f.p, logx.Nop(), f.bus)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) add(t *testing.T, r AddRequest) string {
	t.Helper()
	if r.GuildID == "" {
		r.GuildID = guildID
	}
	if r.ChannelID == "" {
		r.ChannelID = channelID
	}
	if r.Command == "" {
		r.Command = "ping"
	}
	guid, err := f.svc.Add(context.Background(), r)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return guid
}

func (f *fixture) persisted(t *testing.T, guid string) storage.ScheduleRecord {
	t.Helper()
	doc, err := f.store.LoadSchedules(context.Background())
	if err != nil {
		t.Fatalf("LoadSchedules: %v", err)
	}
	for _, rec := range doc[guildID] {
		if rec.GUID == guid {
			return rec
		}
	}
	t.Fatalf("entry %s not persisted; doc=%+v", guid, doc)
	return storage.ScheduleRecord{}
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "168h", want: 168 * time.Hour},
		{raw: " 2h30m ", want: 150 * time.Minute},
		{raw: "01:30", want: 90 * time.Minute},
		{raw: "168:00", want: 168 * time.Hour},
		{raw: "00:00", wantErr: true},
		{raw: "01:75", wantErr: true},
		{raw: "-1h", wantErr: true},
		{raw: "weekly", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFrequency(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFrequency(%q) = %v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrequency(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseFrequency(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseStart(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "", want: now},
		{raw: "NOW", want: now},
		{raw: "2026-03-02 20:00", want: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{raw: "2026-03-02T20:00", want: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{raw: "2026-03-02", want: time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)},
		{raw: "2026-03-02T20:00:00Z", want: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseStart(tt.raw, loc, now)
		if err != nil {
			t.Fatalf("ParseStart(%q) error: %v", tt.raw, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParseStart(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	if _, err := ParseStart("tomorrow", loc, now); err == nil {
		t.Fatal("expected error for unparseable start")
	}
}

func TestParseArguments(t *testing.T) {
	t.Parallel()
	got, err := ParseArguments(" boss=hydra ; note=a=b;;")
	if err != nil {
		t.Fatalf("ParseArguments error: %v", err)
	}
	want := []command.Argument{{Name: "boss", Value: "hydra"}, {Name: "note", Value: "a=b"}}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if s := FormatArguments(got); s != "boss=hydra;note=a=b" {
		t.Fatalf("FormatArguments = %q", s)
	}

	if args, err := ParseArguments(""); err != nil || len(args) != 0 {
		t.Fatalf("empty input = %+v, %v", args, err)
	}
	for _, bad := range []string{"boss", "=x", "a=1;oops"} {
		if _, err := ParseArguments(bad); err == nil {
			t.Fatalf("ParseArguments(%q): expected error", bad)
		}
	}
}

func TestFirstFire(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hour := storage.Duration(time.Hour)

	tests := []struct {
		name string
		rec  storage.ScheduleRecord
		want time.Time
	}{
		{
			name: "future start waits for start",
			rec:  storage.ScheduleRecord{Start: now.Add(90 * time.Minute), Frequency: hour},
			want: now.Add(90 * time.Minute),
		},
		{
			name: "never run fires now",
			rec:  storage.ScheduleRecord{Start: now.Add(-5 * time.Hour), Frequency: hour},
			want: now,
		},
		{
			name: "overdue after downtime fires once now",
			rec:  storage.ScheduleRecord{Start: now.Add(-3 * time.Hour), LastRun: now.Add(-2 * time.Hour), Frequency: hour},
			want: now,
		},
		{
			name: "recent run waits one frequency",
			rec:  storage.ScheduleRecord{Start: now.Add(-3 * time.Hour), LastRun: now.Add(-20 * time.Minute), Frequency: hour},
			want: now.Add(40 * time.Minute),
		},
		{
			name: "exactly one frequency ago fires now",
			rec:  storage.ScheduleRecord{Start: now.Add(-3 * time.Hour), LastRun: now.Add(-time.Hour), Frequency: hour},
			want: now,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := firstFire(tt.rec, now); !got.Equal(tt.want) {
				t.Fatalf("firstFire = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryScheduleNext(t *testing.T) {
	t.Parallel()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newEntrySchedule(first, time.Hour)

	// The first call returns first even though it is already past.
	if got := s.Next(first.Add(time.Minute)); !got.Equal(first) {
		t.Fatalf("first Next = %v, want %v", got, first)
	}
	if got := s.Next(first.Add(time.Second)); !got.Equal(first.Add(time.Hour)) {
		t.Fatalf("second Next = %v, want %v", got, first.Add(time.Hour))
	}
	// A late wake-up stays on the grid and never returns a past time.
	late := first.Add(3*time.Hour + 10*time.Minute)
	if got := s.Next(late); !got.Equal(first.Add(4 * time.Hour)) {
		t.Fatalf("late Next = %v, want %v", got, first.Add(4*time.Hour))
	}
	if got := s.Next(first.Add(-time.Hour)); !got.Equal(first) {
		t.Fatalf("Next before first = %v, want %v", got, first)
	}
}

func TestAddValidatesAndPersists(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MinInterval: time.Hour})
	ctx := context.Background()

	_, err := f.svc.Add(ctx, AddRequest{GuildID: guildID, ChannelID: channelID, Command: "ping", Frequency: 30 * time.Minute})
	if !errors.Is(err, ErrIntervalTooShort) {
		t.Fatalf("short frequency err = %v, want ErrIntervalTooShort", err)
	}
	if _, err := f.svc.Add(ctx, AddRequest{GuildID: guildID, Command: "ping", Frequency: time.Hour}); err == nil {
		t.Fatal("expected error without a channel")
	}

	f.runner.reg = mustRegistry(t, f.svc)
	_, err = f.svc.Add(ctx, AddRequest{GuildID: guildID, ChannelID: channelID, Command: "nope", Frequency: time.Hour})
	if !errors.Is(err, command.ErrUnknownCommand) {
		t.Fatalf("unknown command err = %v", err)
	}

	guid := f.add(t, AddRequest{
		ScheduledBy:    "7",
		Frequency:      2 * time.Hour,
		DeletePrevious: true,
		Arguments:      []command.Argument{{Name: "times", Value: "3"}},
	})
	rec := f.persisted(t, guid)
	if !rec.Start.Equal(f.clock) {
		t.Fatalf("Start = %v, want now (%v)", rec.Start, f.clock)
	}
	if time.Duration(rec.Frequency) != 2*time.Hour || !rec.DeletePrevious || rec.ScheduledBy != "7" {
		t.Fatalf("persisted record = %+v", rec)
	}
	if len(rec.Arguments) != 1 || rec.Arguments[0].Name != "times" || rec.Arguments[0].Value != "3" {
		t.Fatalf("persisted arguments = %+v", rec.Arguments)
	}

	entries := f.svc.Entries(guildID)
	if len(entries) != 1 || entries[0].GUID != guid {
		t.Fatalf("Entries = %+v", entries)
	}
	if !entries[0].Next.IsZero() {
		t.Fatalf("entry armed while scheduler stopped: next=%v", entries[0].Next)
	}
	if got := f.svc.Entries("999"); len(got) != 0 {
		t.Fatalf("other guild sees %d entries", len(got))
	}
}

func TestRemoveScopedToGuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	guid := f.add(t, AddRequest{Frequency: time.Hour})
	ctx := context.Background()

	removed, err := f.svc.Remove(ctx, "999", guid)
	if err != nil || removed {
		t.Fatalf("Remove from other guild = %v, %v", removed, err)
	}
	removed, err = f.svc.Remove(ctx, guildID, guid)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	doc, _ := f.store.LoadSchedules(ctx)
	if len(doc[guildID]) != 0 {
		t.Fatalf("entry still persisted: %+v", doc)
	}
	if removed, _ := f.svc.Remove(ctx, guildID, guid); removed {
		t.Fatal("second Remove reported success")
	}
}

func TestFireRecordsRunAndReplacesPrevious(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	guid := f.add(t, AddRequest{
		ScheduledBy:    "7",
		Frequency:      time.Hour,
		DeletePrevious: true,
		Arguments:      []command.Argument{{Name: "times", Value: "2"}},
	})

	f.svc.fire(guid)
	calls := f.runner.Calls()
	if len(calls) != 1 {
		t.Fatalf("runner calls = %d, want 1", len(calls))
	}
	inv := calls[0]
	if inv.GuildID != guildID || inv.ChannelID != channelID || inv.UserID != "7" || inv.Route != "ping" {
		t.Fatalf("invocation = %+v", inv)
	}
	if len(inv.Arguments) != 1 || inv.Arguments[0] != (command.Argument{Name: "times", Value: "2"}) {
		t.Fatalf("replayed arguments = %+v", inv.Arguments)
	}
	first := f.persisted(t, guid)
	if first.PreviousMessageID == "" || !first.LastRun.Equal(f.clock) {
		t.Fatalf("after first run: %+v", first)
	}

	ev := <-events
	if ev.Type != eventbus.ScheduleFired || ev.GuildID != guildID {
		t.Fatalf("event = %+v", ev)
	}

	f.svc.fire(guid)
	deleted := f.p.Deleted()
	if len(deleted) != 1 || deleted[0].MessageID != first.PreviousMessageID {
		t.Fatalf("deleted = %+v, want %s", deleted, first.PreviousMessageID)
	}
	second := f.persisted(t, guid)
	if second.PreviousMessageID == "" || second.PreviousMessageID == first.PreviousMessageID {
		t.Fatalf("previous message id not replaced: %+v", second)
	}
	if n := len(f.p.MessagesIn(channelID)); n != 1 {
		t.Fatalf("channel has %d messages, want 1", n)
	}
}

func TestFireFailureIsReported(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		setup  func(r *recordingRunner)
		reason string
	}{
		{
			name:   "user error",
			setup:  func(r *recordingRunner) { r.err = command.UserErrorf("Unknown boss `x`.") },
			reason: "Unknown boss `x`.",
		},
		{
			name:   "platform error",
			setup:  func(r *recordingRunner) { r.err = errors.New("send: 503") },
			reason: "send: 503",
		},
		{
			name:   "panic",
			setup:  func(r *recordingRunner) { r.panic = true },
			reason: "panic: handler blew up",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, Config{})
			events, unsub := f.bus.Subscribe(8)
			defer unsub()
			tt.setup(f.runner)
			guid := f.add(t, AddRequest{Frequency: time.Hour})

			f.svc.fire(guid)

			msgs := f.p.MessagesIn(channelID)
			if len(msgs) != 1 {
				t.Fatalf("channel has %d messages, want the failure report", len(msgs))
			}
			if !strings.Contains(msgs[0].Content, guid) || !strings.Contains(msgs[0].Content, tt.reason) {
				t.Fatalf("report = %q, want guid and %q", msgs[0].Content, tt.reason)
			}
			ev := <-events
			fe, ok := ev.Data.(FireEvent)
			if ev.Type != eventbus.ScheduleFailed || !ok || fe.Error == "" {
				t.Fatalf("event = %+v", ev)
			}
			if rec := f.persisted(t, guid); !rec.LastRun.Equal(f.clock) {
				t.Fatalf("LastRun = %v, want %v", rec.LastRun, f.clock)
			}

			// The entry keeps working after a failure.
			f.runner.mu.Lock()
			f.runner.err, f.runner.panic = nil, false
			f.runner.mu.Unlock()
			f.svc.fire(guid)
			if got := len(f.runner.Calls()); got != 2 {
				t.Fatalf("runner calls = %d, want 2", got)
			}
		})
	}
}

func TestFireSkipsOverlap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	release := make(chan struct{})
	f.runner.block = release
	guid := f.add(t, AddRequest{Frequency: time.Hour})

	done := make(chan struct{})
	go func() {
		f.svc.fire(guid)
		close(done)
	}()
	waitFired(t, f.runner)

	f.svc.fire(guid)
	if got := len(f.runner.Calls()); got != 1 {
		t.Fatalf("overlapping fire ran: calls=%d", got)
	}
	close(release)
	<-done
}

func seed(t *testing.T, store *storage.Memory, rec storage.ScheduleRecord) {
	t.Helper()
	if err := store.SaveSchedules(context.Background(), storage.ScheduleDocument{guildID: {rec}}); err != nil {
		t.Fatalf("SaveSchedules: %v", err)
	}
}

func TestStartRefiresOverdueEntryOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, Timezone: "UTC"})
	f.svc.now = time.Now
	now := time.Now()
	seed(t, f.store, storage.ScheduleRecord{
		GUID:      "g-1",
		Start:     now.Add(-3 * time.Hour),
		LastRun:   now.Add(-2 * time.Hour),
		Frequency: storage.Duration(time.Hour),
		ChannelID: channelID,
		Command:   "ping",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.svc.Stop(context.Background())

	waitFired(t, f.runner)
	time.Sleep(300 * time.Millisecond)
	if got := len(f.runner.Calls()); got != 1 {
		t.Fatalf("fires after restart = %d, want exactly 1", got)
	}

	entries := f.svc.Entries(guildID)
	if len(entries) != 1 {
		t.Fatalf("Entries = %+v", entries)
	}
	if next := entries[0].Next; next.Before(now.Add(59*time.Minute)) || next.After(now.Add(61*time.Minute)) {
		t.Fatalf("next fire = %v, want about an hour from %v", next, now)
	}
}

func TestStartFutureEntryWaitsForStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true})
	f.svc.now = time.Now
	start := time.Now().Add(time.Hour).Truncate(time.Second)
	seed(t, f.store, storage.ScheduleRecord{
		GUID:      "g-2",
		Start:     start,
		Frequency: storage.Duration(time.Hour),
		ChannelID: channelID,
		Command:   "ping",
	})

	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.svc.Stop(context.Background())

	time.Sleep(200 * time.Millisecond)
	if got := len(f.runner.Calls()); got != 0 {
		t.Fatalf("entry fired %d times before start", got)
	}
	if next := f.svc.Entries(guildID)[0].Next; !next.Equal(start) {
		t.Fatalf("next fire = %v, want %v", next, start)
	}
}

func TestStartDisabledLoadsWithoutArming(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: false})
	seed(t, f.store, storage.ScheduleRecord{
		GUID:      "g-3",
		Start:     f.clock.Add(-time.Hour),
		Frequency: storage.Duration(time.Hour),
		ChannelID: channelID,
		Command:   "ping",
	})
	// Invalid records are dropped on load.
	doc, _ := f.store.LoadSchedules(context.Background())
	doc[guildID] = append(doc[guildID], storage.ScheduleRecord{GUID: "bad"})
	_ = f.store.SaveSchedules(context.Background(), doc)

	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	entries := f.svc.Entries(guildID)
	if len(entries) != 1 || entries[0].GUID != "g-3" || !entries[0].Next.IsZero() {
		t.Fatalf("Entries = %+v", entries)
	}

	f.svc.Apply(Config{Enabled: true})
	defer f.svc.Stop(context.Background())
	if next := f.svc.Entries(guildID)[0].Next; next.IsZero() {
		t.Fatal("entry not armed after enabling")
	}
}

func mustRegistry(t *testing.T, s *Service) *command.Registry {
	t.Helper()
	ping := command.Command{
		Name:        "ping",
		Description: "Ping",
		Schedulable: true,
		Options:     []command.Option{{Name: "times", Type: command.TypeInteger}},
		Handler:     command.HandlerFunc(func(context.Context, *command.Request) error { return nil }),
	}
	reg, err := command.NewRegistry(append(Commands(s), ping), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

type testResponder struct {
	p  *fake.Adapter
	it *transport.Interaction
}

func (r testResponder) Respond(ctx context.Context, resp transport.Response) (transport.MessageRef, error) {
	return r.p.Respond(ctx, r.it, resp)
}

// invoke binds args for route and runs its handler as an administrator.
func invoke(t *testing.T, f *fixture, reg *command.Registry, route string, args ...command.Argument) (string, error) {
	t.Helper()
	cmd, ok := reg.Command(route)
	if !ok {
		t.Fatalf("no command %q", route)
	}
	vals, err := command.Bind(cmd.Options, args)
	if err != nil {
		return "", err
	}
	it := &transport.Interaction{ID: "i-" + route, Kind: transport.InteractionCommand, GuildID: guildID, ChannelID: channelID, UserID: "7", IsAdmin: true}
	req := &command.Request{
		Interaction: it,
		GuildID:     guildID,
		ChannelID:   channelID,
		UserID:      "7",
		Route:       route,
		Values:      vals,
		Log:         logx.Nop(),
		Platform:    f.p,
		Registry:    reg,
		Responder:   testResponder{p: f.p, it: it},
	}
	if err := cmd.Handler.Handle(context.Background(), req); err != nil {
		return "", err
	}
	call, ok := f.p.LastResponse()
	if !ok {
		t.Fatalf("%s produced no response", route)
	}
	if !call.Response.Ephemeral {
		t.Fatalf("%s replied publicly", route)
	}
	content := call.Response.Content
	for _, e := range call.Response.Embeds {
		for _, fl := range e.Fields {
			content += "\n" + fl.Name + ": " + fl.Value
		}
	}
	return content, nil
}

func TestScheduleCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MinInterval: time.Hour, Timezone: "UTC"})
	reg := mustRegistry(t, f.svc)
	f.runner.reg = reg

	arg := func(name, value string) command.Argument { return command.Argument{Name: name, Value: value} }

	userErrs := []struct {
		name string
		args []command.Argument
		want string
	}{
		{"bad frequency", []command.Argument{arg("command", "ping"), arg("frequency", "often")}, "Invalid frequency"},
		{"too frequent", []command.Argument{arg("command", "ping"), arg("frequency", "10m")}, "at least 1h0m0s"},
		{"bad start", []command.Argument{arg("command", "ping"), arg("frequency", "2h"), arg("start", "soon")}, "Invalid start"},
		{"unknown command", []command.Argument{arg("command", "nope"), arg("frequency", "2h")}, "Unknown command"},
		{"not schedulable", []command.Argument{arg("command", "schedule list"), arg("frequency", "2h")}, "cannot be scheduled"},
		{"undeclared option", []command.Argument{arg("command", "ping"), arg("frequency", "2h"), arg("arguments", "boss=x")}, "no option `boss`"},
		{"bad option value", []command.Argument{arg("command", "ping"), arg("frequency", "2h"), arg("arguments", "times=lots")}, "not a valid integer"},
	}
	for _, tt := range userErrs {
		_, err := invoke(t, f, reg, "schedule add", tt.args...)
		msg, ok := command.UserMessage(err)
		if !ok || !strings.Contains(msg, tt.want) {
			t.Fatalf("%s: err = %v, want user error containing %q", tt.name, err, tt.want)
		}
	}

	out, err := invoke(t, f, reg, "schedule add",
		arg("command", "ping"),
		arg("frequency", "24:00"),
		arg("start", "2026-03-05 20:00"),
		arg("delete-previous", "true"),
		arg("arguments", "times=3"),
		arg("channel", "<#300>"),
	)
	if err != nil {
		t.Fatalf("schedule add: %v", err)
	}
	entries := f.svc.Entries(guildID)
	if len(entries) != 1 {
		t.Fatalf("Entries = %+v", entries)
	}
	en := entries[0]
	if !strings.Contains(out, en.GUID) || !strings.Contains(out, "<#300>") {
		t.Fatalf("add reply = %q", out)
	}
	if en.ChannelID != "300" || time.Duration(en.Frequency) != 24*time.Hour || !en.DeletePrevious {
		t.Fatalf("entry = %+v", en)
	}
	if !en.Start.Equal(time.Date(2026, 3, 5, 20, 0, 0, 0, time.UTC)) {
		t.Fatalf("Start = %v", en.Start)
	}

	out, err = invoke(t, f, reg, "schedule list")
	if err != nil {
		t.Fatalf("schedule list: %v", err)
	}
	for _, want := range []string{"/ping", en.GUID, "times=3", "Not armed", "<@7>"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list = %q, missing %q", out, want)
		}
	}

	_, err = invoke(t, f, reg, "schedule remove", arg("id", "missing"))
	if msg, ok := command.UserMessage(err); !ok || !strings.Contains(msg, "No scheduled command") {
		t.Fatalf("remove unknown: %v", err)
	}
	if _, err := invoke(t, f, reg, "schedule remove", arg("id", en.GUID)); err != nil {
		t.Fatalf("schedule remove: %v", err)
	}
	out, err = invoke(t, f, reg, "schedule list")
	if err != nil || out != "Nothing is scheduled." {
		t.Fatalf("list after remove = %q, %v", out, err)
	}
}
