// Package housekeeping runs periodic cleanup jobs on a cron schedule.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kolpulse/internal/observability/metrics"
	"kolpulse/pkg/logx"
)

const (
	DefaultSchedule = "@every 10m"
	historySize     = 50
	jobTimeout      = time.Minute
)

type Config struct {
	Schedule string
	Timezone string
}

// Job is one cleanup step. Run returns how many items it removed or fixed.
type Job struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

type Run struct {
	Job      string        `json:"job"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Affected int64         `json:"affected"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	jobs   []Job
	now    func() time.Time

	hmu     sync.Mutex
	history []Run
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule reports whether spec is a valid schedule.
func ParseSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("housekeeping.schedule: %w", err)
	}
	return nil
}

func New(cfg Config, log logx.Logger, jobs ...Job) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "housekeeping")),
		parser: parser,
		jobs:   jobs,
		now:    time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	loc := s.location()
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(spec, func() { s.RunAll(ctx) }); err != nil {
		return fmt.Errorf("housekeeping schedule %q: %w", spec, err)
	}
	s.c = c
	c.Start()
	s.log.Info("housekeeping started", logx.String("schedule", spec), logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("housekeeping stopped")
	case <-ctx.Done():
		s.log.Warn("housekeeping stop timed out; a run is still in progress")
	}
}

// RunAll runs every job once, in order. A failing job does not stop the rest.
func (s *Service) RunAll(ctx context.Context) []Run {
	out := make([]Run, 0, len(s.jobs))
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		out = append(out, s.runOne(ctx, j))
	}
	return out
}

func (s *Service) runOne(ctx context.Context, j Job) Run {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := s.now()
	r := Run{Job: j.Name, Started: start}
	n, err := j.Run(ctx, start)
	r.Duration = time.Since(start)
	r.Affected = n

	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.Error = err.Error()
		s.log.Warn("housekeeping job failed", logx.String("job", j.Name), logx.Err(err))
	} else if n > 0 {
		s.log.Debug("housekeeping job done", logx.String("job", j.Name), logx.Int64("affected", n), logx.Duration("dur", r.Duration))
	}
	metrics.HousekeepingRunsTotal.WithLabelValues(j.Name, outcome).Inc()

	s.hmu.Lock()
	s.history = append(s.history, r)
	if over := len(s.history) - historySize; over > 0 {
		s.history = append([]Run(nil), s.history[over:]...)
	}
	s.hmu.Unlock()
	return r
}

// History returns the most recent runs, oldest first.
func (s *Service) History() []Run {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]Run(nil), s.history...)
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes cron's own messages (panics, skipped runs) into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	if err == nil {
		err = errors.New("unknown")
	}
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
