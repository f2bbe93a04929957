package scheduler

import (
	"sync/atomic"
	"time"

	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
)

// firstFire is when a freshly armed entry fires first:
//   - start in the future: at start;
//   - never run, or the last run is at least one frequency ago: now;
//   - otherwise: one frequency after the last run.
func firstFire(rec storage.ScheduleRecord, now time.Time) time.Time {
	if rec.Start.After(now) {
		return rec.Start
	}
	if rec.LastRun.IsZero() {
		return now
	}
	if next := rec.LastRun.Add(time.Duration(rec.Frequency)); next.After(now) {
		return next
	}
	return now
}

// entrySchedule is a cron.Schedule that returns first on its first call,
// even when first is already past, and then every `every` on the grid
// anchored at first. Times are absolute instants, so fires line up with
// the wall clock across restarts.
type entrySchedule struct {
	first time.Time
	every time.Duration
	armed atomic.Bool
}

func newEntrySchedule(first time.Time, every time.Duration) *entrySchedule {
	return &entrySchedule{first: first, every: every}
}

func (s *entrySchedule) Next(t time.Time) time.Time {
	if s.armed.CompareAndSwap(false, true) || t.Before(s.first) {
		return s.first
	}
	if s.every <= 0 {
		return time.Time{}
	}
	n := t.Sub(s.first)/s.every + 1
	return s.first.Add(n * s.every)
}

// cronLogger adapts logx to cron.Logger for the recover wrapper.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
