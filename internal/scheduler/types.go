package scheduler

import (
	"context"
	"errors"
	"time"

	"raidbot/internal/command"
	"raidbot/internal/router"
	"raidbot/internal/storage"
	"raidbot/internal/transport"
)

var ErrIntervalTooShort = errors.New("scheduler: frequency below minimum interval")

const (
	DefaultMinInterval = time.Hour
	DefaultRunTimeout  = 2 * time.Minute
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ; start times without an offset are read in it
	// MinInterval is the shortest accepted frequency. Zero disables the check.
	MinInterval time.Duration
	RunTimeout  time.Duration
}

// Runner replays a command invocation. *router.Dispatcher implements it.
type Runner interface {
	RunScheduled(ctx context.Context, inv router.Invocation) (transport.MessageRef, error)
	Validate(route string, args []command.Argument) error
}

// Messenger is the part of the platform the scheduler talks to directly.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, msg transport.MessageSend) (transport.MessageRef, error)
	DeleteMessage(ctx context.Context, ref transport.MessageRef) error
}

// AddRequest describes a new recurring entry.
type AddRequest struct {
	GuildID        string
	ScheduledBy    string
	ChannelID      string
	Start          time.Time
	Frequency      time.Duration
	DeletePrevious bool
	Command        string
	Arguments      []command.Argument
}

// Entry is a read-only view of one scheduled entry.
type Entry struct {
	GuildID string
	storage.ScheduleRecord
	// Next is the upcoming fire time, zero if the entry is not armed.
	Next time.Time
}

// FireEvent is the payload of schedule.fired and schedule.failed events.
type FireEvent struct {
	GUID      string
	Command   string
	ChannelID string
	MessageID string
	Error     string
}
