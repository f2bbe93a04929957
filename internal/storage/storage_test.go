package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "raidbot/pkg/logx"
)

func sampleDoc() ScheduleDocument {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	return ScheduleDocument{
		"100": {
			{
				GUID:              "a1",
				Start:             start,
				Frequency:         Duration(168 * time.Hour),
				DeletePrevious:    true,
				ScheduledBy:       "42",
				ChannelID:         "200",
				Command:           "team signup",
				Arguments:         []ArgumentRecord{{Name: "boss", Value: "hydra"}},
				LastRun:           start.Add(168 * time.Hour),
				PreviousMessageID: "300",
			},
			{
				GUID:        "a2",
				Start:       start,
				Frequency:   Duration(time.Hour),
				ScheduledBy: "42",
				ChannelID:   "201",
				Command:     "team status",
			},
		},
	}
}

func assertDocEqual(t *testing.T, got, want ScheduleDocument) {
	t.Helper()
	gb, _ := json.Marshal(got)
	wb, _ := json.Marshal(want)
	if string(gb) != string(wb) {
		t.Fatalf("document mismatch\n got: %s\nwant: %s", gb, wb)
	}
}

func TestFileStoreSchedulesRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	empty, err := st.LoadSchedules(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("initial load = %v, %v", empty, err)
	}

	want := sampleDoc()
	if err := st.SaveSchedules(ctx, want); err != nil {
		t.Fatalf("SaveSchedules: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bot.schedules.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	// A fresh store must see the same document.
	st2, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot")}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err := st2.LoadSchedules(ctx)
	if err != nil {
		t.Fatalf("LoadSchedules: %v", err)
	}
	assertDocEqual(t, got, want)
}

func TestFileStoreAppendAudit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	for _, a := range []string{"team.finalize", "team.confirm"} {
		if err := st.AppendAudit(ctx, AuditEntry{GuildID: "1", Action: a}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "bot.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 || lines[1].Action != "team.confirm" || lines[0].At.IsZero() {
		t.Fatalf("audit lines = %+v", lines)
	}
}

func TestSQLiteStoreSchedulesRoundTrip(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.sqlite"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	want := sampleDoc()
	if err := st.SaveSchedules(ctx, want); err != nil {
		t.Fatalf("SaveSchedules: %v", err)
	}
	got, err := st.LoadSchedules(ctx)
	if err != nil {
		t.Fatalf("LoadSchedules: %v", err)
	}
	assertDocEqual(t, got, want)

	// Wholesale rewrite drops entries missing from the new document.
	if err := st.SaveSchedules(ctx, ScheduleDocument{}); err != nil {
		t.Fatalf("SaveSchedules(empty): %v", err)
	}
	got, err = st.LoadSchedules(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("after clear = %v, %v", got, err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Action: "schedule.add"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}

func TestOpenDisabledIsMemory(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	want := sampleDoc()
	if err := st.SaveSchedules(ctx, want); err != nil {
		t.Fatal(err)
	}
	// Mutating the caller's copy must not leak into the store.
	want["100"][0].Command = "changed"
	got, _ := st.LoadSchedules(ctx)
	if got["100"][0].Command != "team signup" {
		t.Fatalf("store aliased caller document")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
