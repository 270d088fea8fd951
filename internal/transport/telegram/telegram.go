// Package telegram delivers events through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"loggerbot/internal/delivery"
	kit "loggerbot/internal/transport"
	logx "loggerbot/pkg/logx"
)

const (
	textLimit    = 4000
	captionLimit = 1024

	// progressLimit bounds the resume table for split messages.
	progressLimit = 256
)

type Config struct {
	Token  string
	APIURL string // empty means the public Bot API

	ParseMode      string
	DisablePreview bool
	// Silent sends messages without a notification sound.
	Silent  bool
	Timeout time.Duration
}

// sender is the subset of *tele.Bot the transport uses.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Transport implements delivery.Transport on top of telebot.
type Transport struct {
	log logx.Logger
	bot sender

	mu  sync.Mutex
	opt kit.SendOptions
	// progress remembers how many chunks of a split message already went out,
	// so a throttled retry resumes instead of repeating them.
	progress map[string]int
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		URL:   cfg.APIURL,
		// Send-only: skip getMe at startup so a flaky network does not block boot.
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return newTransport(cfg, log, b), nil
}

func newTransport(cfg Config, log logx.Logger, s sender) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Transport{
		log:      log.With(logx.String("comp", "telegram"), logx.Local()),
		bot:      s,
		progress: map[string]int{},
	}
	t.Apply(cfg)
	return t
}

// Apply updates rendering options. Token and API URL changes need a new
// Transport.
func (t *Transport) Apply(cfg Config) {
	t.mu.Lock()
	t.opt = kit.SendOptions{
		ParseMode:           cfg.ParseMode,
		DisablePreview:      cfg.DisablePreview,
		DisableNotification: cfg.Silent,
	}
	t.mu.Unlock()
}

func (t *Transport) options() kit.SendOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opt
}

func (t *Transport) Send(ctx context.Context, ev delivery.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := t.options()
	chat := &tele.Chat{ID: ev.Target.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.DisableNotification,
		ThreadID:              ev.Target.ThreadID,
	}

	if ev.Attachment != nil {
		doc := &tele.Document{
			File:     tele.FromReader(bytes.NewReader(ev.Attachment.Data)),
			FileName: ev.Attachment.Name,
			Caption:  truncateRunes(ev.Text, captionLimit),
		}
		_, err := t.bot.Send(chat, doc, sendOpt)
		return classify(err)
	}

	chunks := splitText(ev.Text, textLimit, opt.ParseMode)
	from := t.resumeAt(ev.ID)
	if from >= len(chunks) {
		from = 0
	}
	if from > 0 {
		t.log.Debug("resuming split message", logx.String("id", ev.ID), logx.Int("chunk", from+1), logx.Int("chunks", len(chunks)))
	}
	for i := from; i < len(chunks); i++ {
		if i > from {
			if err := ctx.Err(); err != nil {
				t.forget(ev.ID)
				return err
			}
		}
		if _, err := t.bot.Send(chat, chunks[i], sendOpt); err != nil {
			err = classify(err)
			if _, throttled := delivery.RetryAfter(err); throttled && i > 0 {
				t.remember(ev.ID, i)
			} else {
				t.forget(ev.ID)
			}
			return err
		}
	}
	t.forget(ev.ID)
	return nil
}

func (t *Transport) resumeAt(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress[id]
}

func (t *Transport) remember(id string, next int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.progress) >= progressLimit {
		// Entries of events that ran out of retries are never forgotten
		// explicitly; start over rather than grow.
		t.progress = map[string]int{}
	}
	t.progress[id] = next
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	delete(t.progress, id)
	t.mu.Unlock()
}

// classify maps Bot API rate-limit rejections to delivery.Throttled.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return delivery.Throttled(time.Duration(flood.RetryAfter)*time.Second, err)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return delivery.Throttled(time.Duration(floodPtr.RetryAfter)*time.Second, err)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr != nil && apiErr.Code == http.StatusTooManyRequests {
		return delivery.Throttled(0, err)
	}
	return err
}
