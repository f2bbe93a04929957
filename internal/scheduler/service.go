package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"raidbot/internal/command"
	"raidbot/internal/eventbus"
	"raidbot/internal/router"
	"raidbot/internal/storage"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

type entry struct {
	guildID string
	rec     storage.ScheduleRecord
	cronID  cron.EntryID
	// running is held while a fire is in flight; it outlives cron restarts.
	running atomic.Bool
}

// Service owns the scheduled entries. One mutex covers the entry set, the
// cron instance and persistence, so load/mutate/save is a single critical
// section.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	cfg       Config
	loc       *time.Location
	bus       eventbus.Bus
	store     storage.Store
	runner    Runner
	messenger Messenger

	c       *cron.Cron
	entries map[string]*entry
	loaded  bool
	baseCtx context.Context

	now   func() time.Time
	newID func() string
}

func New(cfg Config, store storage.Store, runner Runner, messenger Messenger, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	s := &Service{
		log:       log,
		cfg:       cfg,
		bus:       bus,
		store:     store,
		runner:    runner,
		messenger: messenger,
		entries:   map[string]*entry{},
		baseCtx:   context.Background(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Location is the timezone start times are read in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) MinInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MinInterval
}

// Start loads the persisted entries and, if enabled, arms one cron entry
// per scheduled entry. ctx bounds the lifetime of scheduled runs.
func (s *Service) Start(ctx context.Context) error {
	doc, err := s.store.LoadSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	s.entries = make(map[string]*entry)
	for guildID, recs := range doc {
		for _, rec := range recs {
			if rec.GUID == "" || rec.Frequency <= 0 {
				s.log.Warn("dropping invalid persisted entry", logx.String("guild_id", guildID), logx.String("guid", rec.GUID))
				continue
			}
			rec.Arguments = append([]storage.ArgumentRecord(nil), rec.Arguments...)
			s.entries[rec.GUID] = &entry{guildID: guildID, rec: rec}
		}
	}
	s.loaded = true

	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; entries loaded but not armed", logx.Int("entries", len(s.entries)))
		return nil
	}
	s.startCronLocked()
	return nil
}

// Stop disarms every entry and waits for in-flight runs until ctx ends.
// Persisted entries stay and resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.entries {
		e.cronID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("stop timed out waiting for scheduled runs")
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply takes a new config. A timezone change or enable toggle re-arms
// every entry from its persisted state.
func (s *Service) Apply(cfg Config) {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.loc = s.loadLocationLocked()

	if !s.loaded {
		return
	}
	switch {
	case !cfg.Enabled && s.c != nil:
		s.stopCronLocked()
		s.log.Info("scheduler disabled")
	case cfg.Enabled && s.c == nil:
		s.startCronLocked()
	case cfg.Enabled && oldTZ != strings.TrimSpace(cfg.Timezone):
		s.stopCronLocked()
		s.startCronLocked()
	}
}

func (s *Service) startCronLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for _, e := range s.entries {
		s.armLocked(e)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("entries", len(s.entries)))
}

// stopCronLocked stops triggering without waiting for in-flight runs; the
// per-entry running flag keeps a restarted cron from overlapping them.
func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	for _, e := range s.entries {
		e.cronID = 0
	}
}

func (s *Service) armLocked(e *entry) {
	if s.c == nil {
		return
	}
	first := firstFire(e.rec, s.now())
	guid := e.rec.GUID
	e.cronID = s.c.Schedule(newEntrySchedule(first, time.Duration(e.rec.Frequency)), cron.FuncJob(func() {
		s.fire(guid)
	}))
	s.log.Debug("entry armed",
		logx.String("guid", guid),
		logx.String("cmd", e.rec.Command),
		logx.Time("first", first),
		logx.Duration("every", time.Duration(e.rec.Frequency)),
	)
}

// Add validates, persists and arms a new entry and returns its guid.
func (s *Service) Add(ctx context.Context, r AddRequest) (string, error) {
	if r.GuildID == "" || r.ChannelID == "" {
		return "", errors.New("scheduler: guild and channel required")
	}
	if r.Frequency <= 0 {
		return "", fmt.Errorf("%w: frequency must be > 0", ErrIntervalTooShort)
	}
	if err := s.runner.Validate(r.Command, r.Arguments); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if floor := s.cfg.MinInterval; floor > 0 && r.Frequency < floor {
		return "", fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, r.Frequency, floor)
	}

	rec := storage.ScheduleRecord{
		GUID:           s.newID(),
		Start:          r.Start,
		Frequency:      storage.Duration(r.Frequency),
		DeletePrevious: r.DeletePrevious,
		ScheduledBy:    r.ScheduledBy,
		ChannelID:      r.ChannelID,
		Command:        r.Command,
	}
	for _, a := range r.Arguments {
		rec.Arguments = append(rec.Arguments, storage.ArgumentRecord{Name: a.Name, Value: a.Value})
	}
	if rec.Start.IsZero() {
		rec.Start = s.now()
	}

	e := &entry{guildID: r.GuildID, rec: rec}
	s.entries[rec.GUID] = e
	if err := s.saveLocked(ctx); err != nil {
		delete(s.entries, rec.GUID)
		return "", err
	}
	s.armLocked(e)
	s.log.Info("entry added",
		logx.String("guid", rec.GUID),
		logx.String("guild_id", r.GuildID),
		logx.String("cmd", rec.Command),
		logx.Duration("every", r.Frequency),
	)
	return rec.GUID, nil
}

// Remove disarms and deletes the entry. It reports false if guildID has no
// entry with that guid.
func (s *Service) Remove(ctx context.Context, guildID, guid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[guid]
	if !ok || e.guildID != guildID {
		return false, nil
	}
	delete(s.entries, guid)
	if err := s.saveLocked(ctx); err != nil {
		s.entries[guid] = e
		return false, err
	}
	if s.c != nil && e.cronID != 0 {
		s.c.Remove(e.cronID)
	}
	e.cronID = 0
	s.log.Info("entry removed", logx.String("guid", guid), logx.String("guild_id", guildID))
	return true, nil
}

// Entries lists guildID's entries ("" lists all), ordered by start time.
func (s *Service) Entries(guildID string) []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if guildID != "" && e.guildID != guildID {
			continue
		}
		rec := e.rec
		rec.Arguments = append([]storage.ArgumentRecord(nil), e.rec.Arguments...)
		v := Entry{GuildID: e.guildID, ScheduleRecord: rec}
		if s.c != nil && e.cronID != 0 {
			v.Next = s.c.Entry(e.cronID).Next
		}
		out = append(out, v)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].GUID < out[j].GUID
	})
	return out
}

// fire runs one scheduled invocation. A fire that arrives while the
// previous run of the same entry is still going is skipped.
func (s *Service) fire(guid string) {
	s.mu.Lock()
	e, ok := s.entries[guid]
	var rec storage.ScheduleRecord
	var guildID string
	if ok {
		rec = e.rec
		rec.Arguments = append([]storage.ArgumentRecord(nil), e.rec.Arguments...)
		guildID = e.guildID
	}
	base, timeout := s.baseCtx, s.cfg.RunTimeout
	s.mu.Unlock()
	if !ok {
		return
	}

	log := s.log.With(logx.String("guid", guid), logx.String("guild_id", guildID), logx.String("cmd", rec.Command))
	if !e.running.CompareAndSwap(false, true) {
		log.Warn("previous run still in flight; skipping")
		return
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	if rec.DeletePrevious && rec.PreviousMessageID != "" {
		ref := transport.MessageRef{ChannelID: rec.ChannelID, MessageID: rec.PreviousMessageID}
		if err := s.messenger.DeleteMessage(ctx, ref); err != nil && !errors.Is(err, transport.ErrNotFound) {
			log.Warn("delete previous output failed", logx.Err(err))
		}
	}

	args := make([]command.Argument, len(rec.Arguments))
	for i, a := range rec.Arguments {
		args[i] = command.Argument{Name: a.Name, Value: a.Value}
	}
	started := time.Now()
	ref, runErr := s.runScheduled(ctx, router.Invocation{
		GuildID:   guildID,
		ChannelID: rec.ChannelID,
		UserID:    rec.ScheduledBy,
		Route:     rec.Command,
		Arguments: args,
	})

	// The run may have used up ctx; bookkeeping gets its own budget.
	post, cancelPost := context.WithTimeout(context.WithoutCancel(base), postRunTimeout)
	defer cancelPost()

	s.mu.Lock()
	if cur, ok := s.entries[guid]; ok {
		cur.rec.LastRun = s.now()
		switch {
		case !ref.IsZero():
			cur.rec.PreviousMessageID = ref.MessageID
		case rec.DeletePrevious:
			cur.rec.PreviousMessageID = ""
		}
		if err := s.saveLocked(post); err != nil {
			log.Error("persist after run failed", logx.Err(err))
		}
	}
	s.mu.Unlock()

	ev := FireEvent{GUID: guid, Command: rec.Command, ChannelID: rec.ChannelID, MessageID: ref.MessageID}
	if runErr != nil {
		ev.Error = runErr.Error()
		log.Warn("scheduled run failed", logx.Err(runErr), logx.Duration("took", time.Since(started)))
		s.report(post, log, rec, runErr)
		s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleFailed, Time: s.now(), GuildID: guildID, Data: ev})
		return
	}
	log.Info("scheduled run done", logx.String("message_id", ref.MessageID), logx.Duration("took", time.Since(started)))
	s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleFired, Time: s.now(), GuildID: guildID, Data: ev})
}

// runScheduled turns a runner panic into an error so the entry keeps firing.
func (s *Service) runScheduled(ctx context.Context, inv router.Invocation) (ref transport.MessageRef, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.runner.RunScheduled(ctx, inv)
}

const (
	maxReportLen   = 1500
	postRunTimeout = 15 * time.Second
)

// report posts a run failure into the entry's channel.
func (s *Service) report(ctx context.Context, log logx.Logger, rec storage.ScheduleRecord, runErr error) {
	reason, ok := command.UserMessage(runErr)
	if !ok {
		reason = runErr.Error()
	}
	if len(reason) > maxReportLen {
		reason = reason[:maxReportLen] + "..."
	}
	msg := fmt.Sprintf("Scheduled `/%s` (`%s`) failed: %s", rec.Command, rec.GUID, reason)
	if _, err := s.messenger.SendMessage(ctx, rec.ChannelID, transport.MessageSend{Content: msg}); err != nil {
		log.Error("failure report could not be posted", logx.Err(err))
	}
}

// saveLocked rewrites the persisted document from the entry set.
func (s *Service) saveLocked(ctx context.Context) error {
	doc := storage.ScheduleDocument{}
	for _, e := range s.entries {
		doc[e.guildID] = append(doc[e.guildID], e.rec)
	}
	for g := range doc {
		recs := doc[g]
		sort.Slice(recs, func(i, j int) bool { return recs[i].GUID < recs[j].GUID })
	}
	if err := s.store.SaveSchedules(ctx, doc.Clone()); err != nil {
		return fmt.Errorf("save schedules: %w", err)
	}
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
