// Package reporter is the caller-facing API: it resolves a project to its
// chat, renders the message and hands it to the delivery queue.
//
// Every call returns as soon as the event is queued. The only error a caller
// can observe is a submission error (unknown project, empty text); delivery
// outcomes are reported through logs, the event bus and the audit log.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"loggerbot/internal/delivery"
	"loggerbot/internal/format"
	kit "loggerbot/internal/transport"
	logx "loggerbot/pkg/logx"
)

var ErrUnknownProject = errors.New("chat id not found for project")

// Enqueuer is satisfied by *delivery.Dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev delivery.Event)
}

type Config struct {
	// Default receives messages submitted without a project name.
	Default  kit.ChatTarget
	Projects map[string]kit.ChatTarget
	// Environment is shown in error reports when set.
	Environment string
}

// Entry is a single log submission.
type Entry struct {
	Project string
	Level   format.Level
	Text    string
	// Attachment, when set, is sent as a document with the rendered text as
	// caption.
	Attachment *delivery.Attachment
}

type Service struct {
	q   Enqueuer
	log logx.Logger
	now func() time.Time

	mu       sync.RWMutex
	def      kit.ChatTarget
	projects map[string]kit.ChatTarget
	env      string
}

func New(cfg Config, q Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		q:   q,
		log: log.With(logx.String("comp", "reporter")),
		now: time.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply replaces the project table. Project names are case-insensitive.
func (s *Service) Apply(cfg Config) {
	projects := make(map[string]kit.ChatTarget, len(cfg.Projects))
	for name, to := range cfg.Projects {
		projects[normalizeProject(name)] = to
	}
	s.mu.Lock()
	s.def = cfg.Default
	s.projects = projects
	s.env = cfg.Environment
	s.mu.Unlock()
}

// Resolve returns the destination for project; an empty name selects the
// default destination.
func (s *Service) Resolve(project string) (kit.ChatTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name := normalizeProject(project)
	if name == "" {
		if s.def.IsZero() {
			return kit.ChatTarget{}, fmt.Errorf("%w: default destination is not configured", ErrUnknownProject)
		}
		return s.def, nil
	}
	to, ok := s.projects[name]
	if !ok || to.IsZero() {
		return kit.ChatTarget{}, fmt.Errorf("%w: %q", ErrUnknownProject, project)
	}
	return to, nil
}

func (s *Service) environment() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

// Log renders e and queues it. It returns the event id.
func (s *Service) Log(ctx context.Context, e Entry) (string, error) {
	to, err := s.Resolve(e.Project)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(e.Text) == "" && e.Attachment == nil {
		return "", delivery.ErrEmptyBody
	}
	text := format.Format(e.Level, s.now(), e.Text)

	var ev delivery.Event
	if e.Attachment != nil {
		ev, err = delivery.NewDocumentEvent(to, text, e.Attachment.Name, e.Attachment.Data)
	} else {
		ev, err = delivery.NewTextEvent(to, text)
	}
	if err != nil {
		return "", err
	}
	s.q.Enqueue(ctx, ev)
	return ev.ID, nil
}

func (s *Service) Error(ctx context.Context, project, text string) error {
	_, err := s.Log(ctx, Entry{Project: project, Level: format.LevelError, Text: text})
	return err
}

func (s *Service) Info(ctx context.Context, project, text string) error {
	_, err := s.Log(ctx, Entry{Project: project, Level: format.LevelInfo, Text: text})
	return err
}

func (s *Service) Warning(ctx context.Context, project, text string) error {
	_, err := s.Log(ctx, Entry{Project: project, Level: format.LevelWarning, Text: text})
	return err
}

func (s *Service) Success(ctx context.Context, project, text string) error {
	_, err := s.Log(ctx, Entry{Project: project, Level: format.LevelSuccess, Text: text})
	return err
}

func (s *Service) Message(ctx context.Context, project, text string) error {
	_, err := s.Log(ctx, Entry{Project: project, Level: format.LevelMessage, Text: text})
	return err
}

// ErrorFile sends an error message with data attached as details.json.
func (s *Service) ErrorFile(ctx context.Context, project, text string, data []byte) error {
	_, err := s.Log(ctx, Entry{
		Project:    project,
		Level:      format.LevelError,
		Text:       text,
		Attachment: &delivery.Attachment{Name: delivery.DefaultAttachmentName, Data: data},
	})
	return err
}

// Exception reports err. The short form is a text message with the error
// type, first cause and caller frames; the detailed form attaches the whole
// error tree as JSON with the error message as caption.
func (s *Service) Exception(ctx context.Context, project string, err error, detailed bool) error {
	if err == nil {
		return nil
	}
	to, rerr := s.Resolve(project)
	if rerr != nil {
		return rerr
	}
	now := s.now()
	env := s.environment()
	frames := format.Callers(1)

	var ev delivery.Event
	if detailed {
		data, merr := format.ErrorDetails(err, env, now, frames)
		if merr != nil {
			return fmt.Errorf("render error details: %w", merr)
		}
		ev, rerr = delivery.NewDocumentEvent(to, format.EscapeMarkdown(err.Error()), delivery.DefaultAttachmentName, data)
	} else {
		ev, rerr = delivery.NewTextEvent(to, format.ErrorReport(err, env, now, frames))
	}
	if rerr != nil {
		return rerr
	}
	s.q.Enqueue(ctx, ev)
	return nil
}

// Sink returns a logx.Sink that queues chat log records as plain messages.
func (s *Service) Sink() logx.Sink {
	return logx.SinkFunc(func(to kit.ChatTarget, text string) {
		if to.IsZero() {
			var err error
			if to, err = s.Resolve(""); err != nil {
				return
			}
		}
		ev, err := delivery.NewTextEvent(to, format.EscapeMarkdown(text))
		if err != nil {
			return
		}
		s.q.Enqueue(context.Background(), ev)
	})
}

func normalizeProject(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
