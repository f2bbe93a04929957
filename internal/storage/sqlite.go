package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "raidbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) (ScheduleDocument, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, guid, start_at, frequency_ns, delete_previous, scheduled_by,
		       channel_id, command, arguments, last_run, previous_message_id
		FROM schedules ORDER BY guild_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc := ScheduleDocument{}
	for rows.Next() {
		var (
			guild, start, args string
			freq               int64
			del                int
			lastRun, prevMsg   sql.NullString
			r                  ScheduleRecord
		)
		if err := rows.Scan(&guild, &r.GUID, &start, &freq, &del, &r.ScheduledBy,
			&r.ChannelID, &r.Command, &args, &lastRun, &prevMsg); err != nil {
			return nil, err
		}
		if r.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("schedule %s: start: %w", r.GUID, err)
		}
		if lastRun.Valid && lastRun.String != "" {
			if r.LastRun, err = time.Parse(time.RFC3339Nano, lastRun.String); err != nil {
				return nil, fmt.Errorf("schedule %s: last_run: %w", r.GUID, err)
			}
		}
		if err := json.Unmarshal([]byte(args), &r.Arguments); err != nil {
			return nil, fmt.Errorf("schedule %s: arguments: %w", r.GUID, err)
		}
		r.Frequency = Duration(freq)
		r.DeletePrevious = del != 0
		r.PreviousMessageID = prevMsg.String
		doc[guild] = append(doc[guild], r)
	}
	return doc, rows.Err()
}

// SaveSchedules rewrites the table in one transaction.
func (s *sqliteStore) SaveSchedules(ctx context.Context, doc ScheduleDocument) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schedules(guild_id, guid, start_at, frequency_ns, delete_previous, scheduled_by,
		                      channel_id, command, arguments, last_run, previous_message_id, position)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for guild, recs := range doc {
		for i, r := range recs {
			args, mErr := json.Marshal(r.Arguments)
			if mErr != nil {
				return mErr
			}
			if r.Arguments == nil {
				args = []byte("[]")
			}
			if _, err = stmt.ExecContext(ctx,
				guild, r.GUID, r.Start.Format(time.RFC3339Nano), int64(r.Frequency), boolInt(r.DeletePrevious),
				r.ScheduledBy, r.ChannelID, r.Command, string(args), nullTime(r.LastRun), nullStr(r.PreviousMessageID), i,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, guild_id, channel_id, actor_id, action, target, detail) VALUES(?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.GuildID), nullStr(e.ChannelID), nullStr(e.ActorID),
		e.Action, nullStr(e.Target), nullStr(e.Detail),
	)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
