package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON document + JSON Lines audit log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", an in-memory store is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the scheduler and the team workflow.
type Store interface {
	// LoadSchedules returns the whole scheduler document keyed by guild id.
	LoadSchedules(ctx context.Context) (ScheduleDocument, error)
	// SaveSchedules replaces the whole scheduler document.
	SaveSchedules(ctx context.Context, doc ScheduleDocument) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// ScheduleDocument maps guild id to that guild's scheduled entries.
type ScheduleDocument map[string][]ScheduleRecord

// Clone returns a deep copy.
func (d ScheduleDocument) Clone() ScheduleDocument {
	out := make(ScheduleDocument, len(d))
	for g, recs := range d {
		cp := make([]ScheduleRecord, len(recs))
		for i, r := range recs {
			r.Arguments = append([]ArgumentRecord(nil), r.Arguments...)
			cp[i] = r
		}
		out[g] = cp
	}
	return out
}

// ScheduleRecord is the persisted form of one recurring command invocation.
type ScheduleRecord struct {
	GUID              string           `json:"guid"`
	Start             time.Time        `json:"start"`
	Frequency         Duration         `json:"frequency"`
	DeletePrevious    bool             `json:"delete_previous"`
	ScheduledBy       string           `json:"scheduled_by"`
	ChannelID         string           `json:"channel_id"`
	Command           string           `json:"command"`
	Arguments         []ArgumentRecord `json:"arguments,omitempty"`
	LastRun           time.Time        `json:"last_run,omitempty"`
	PreviousMessageID string           `json:"previous_message_id,omitempty"`
}

type ArgumentRecord struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Duration marshals as a Go duration string ("168h0m0s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// AuditEntry records a state-changing user action. Keep it compact and
// schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	GuildID   string    `json:"guild_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
