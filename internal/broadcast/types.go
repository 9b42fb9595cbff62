package broadcast

import (
	"errors"
	"sync"
	"time"

	"kolpulse/internal/eventbus"
	"kolpulse/internal/model"
	"kolpulse/internal/runtime/supervisor"
	"kolpulse/internal/transport"
	"kolpulse/pkg/logx"
)

var (
	// ErrTargetSetEmpty means no recipient matched; no job is created.
	ErrTargetSetEmpty = errors.New("broadcast: no recipients match the filter")
	// ErrRecipientUnreachable marks a recipient no channel could deliver to.
	ErrRecipientUnreachable = errors.New("broadcast: recipient unreachable")
	// ErrQueueFull means the job was created but could not be scheduled; it is
	// completed immediately with every recipient failed.
	ErrQueueFull = errors.New("broadcast: queue full")
	ErrInvalid   = errors.New("broadcast: invalid request")
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
	defaultSendDelay = 50 * time.Millisecond
	defaultRetryMax  = 2
)

type Config struct {
	Workers   int
	QueueSize int
	// SendDelay is the pause between two consecutive sends of one job.
	SendDelay time.Duration
	// RetryMax is the number of extra attempts for transient send errors.
	RetryMax int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.SendDelay <= 0 {
		c.SendDelay = defaultSendDelay
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

// Request is the input of Dispatch.
type Request struct {
	Content    string           `json:"content"`
	Target     model.TargetKind `json:"target"`
	Filter     model.FilterKind `json:"filter"`
	CampaignID int64            `json:"campaign_id,omitempty"`
}

// recipient is one frozen entry of a job's target set. Group recipients carry
// only a chat; DM recipients carry the KOL and its active links, private first.
type recipient struct {
	kol    model.KOL
	chatID int64
	links  []model.DeliveryLink
}

type job struct {
	id         string
	target     model.TargetKind
	content    string
	recipients []recipient
}

// JobStatus is the live, in-memory progress of a job.
type JobStatus struct {
	ID        string    `json:"id"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Fallbacks int       `json:"fallbacks"`
	Failures  []int64   `json:"failures,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	DoneAt    time.Time `json:"done_at,omitempty"`
	Running   bool      `json:"running"`
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	store  Store
	sender transport.Sender
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	queue chan job
	sup   *supervisor.Supervisor
	drain chan struct{}

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
}
