// Package heartbeat posts dispatcher statistics to a chat on a schedule, so
// a silent channel can be told apart from a dead service.
package heartbeat

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"loggerbot/internal/delivery"
	"loggerbot/internal/format"
	logx "loggerbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string
	// Project receives the message; empty means the default destination.
	Project  string
	Timezone string
}

// Poster is satisfied by *reporter.Service.
type Poster interface {
	Info(ctx context.Context, project, text string) error
}

// parser accepts 5-field and 6-field (with seconds) specs and descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule accepts a cron expression, a Go duration ("30m") or HH:MM
// ("02:30", an interval) and returns the cron schedule.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parser.Parse(s)
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		s = (time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute).String()
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use cron like '0 */6 * * *', HH:MM like '02:30', or duration like '55m')", raw)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return cron.Every(d), nil
}

type Service struct {
	stats func() delivery.Stats
	post  Poster
	log   logx.Logger
	start time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context
}

func New(cfg Config, stats func() delivery.Stats, post Poster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		stats: stats,
		post:  post,
		log:   log.With(logx.String("comp", "heartbeat")),
		start: time.Now(),
	}
}

// Start runs the schedule until Stop. A disabled config is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	sched, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("heartbeat timezone: %w", err)
		}
		loc = l
	}
	project := s.cfg.Project

	s.c = cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	ctx := s.ctx
	s.c.Schedule(sched, cron.FuncJob(func() { s.beat(ctx, project) }))
	s.c.Start()
	s.log.Info("heartbeat scheduled", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Apply reschedules when the config changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	s.stopLocked()
	return s.startLocked()
}

func (s *Service) beat(ctx context.Context, project string) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	text := Render(s.stats(), time.Since(s.start))
	if err := s.post.Info(ctx, project, text); err != nil {
		s.log.Warn("heartbeat not queued", logx.String("project", project), logx.Err(err))
	}
}

// Render formats st as a Markdown-safe message body.
func Render(st delivery.Stats, uptime time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Heartbeat, up %s\n", uptime.Truncate(time.Second))
	fmt.Fprintf(&b, "Pending: %d\n", st.Pending)
	fmt.Fprintf(&b, "Delivered: %d\n", st.Delivered)
	fmt.Fprintf(&b, "Failed: %d, exhausted: %d, cancelled: %d\n", st.Failed, st.Exhausted, st.Cancelled)
	fmt.Fprintf(&b, "Throttle retries: %d", st.ThrottleRetries)
	if !st.LastDeliveredAt.IsZero() {
		fmt.Fprintf(&b, "\nLast delivery: %s", st.LastDeliveredAt.Format(format.TimeLayout))
	}
	return b.String()
}
