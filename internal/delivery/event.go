package delivery

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	kit "loggerbot/internal/transport"
)

var (
	ErrEmptyBody       = errors.New("event body is empty")
	ErrNoDestination   = errors.New("event destination is not set")
	ErrEmptyAttachment = errors.New("attachment has no data")
)

// Kind distinguishes the two payload variants.
type Kind int

const (
	KindText Kind = iota
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Attachment is a binary payload sent as a document; the event text becomes
// its caption.
type Attachment struct {
	Name string
	Data []byte
}

// Event is one outbound message. Build it with NewTextEvent or
// NewDocumentEvent and treat it as immutable afterwards.
type Event struct {
	ID         string
	Target     kit.ChatTarget
	Text       string
	Attachment *Attachment
}

// DefaultAttachmentName is used when a document is submitted without a name.
const DefaultAttachmentName = "details.json"

func NewTextEvent(to kit.ChatTarget, text string) (Event, error) {
	ev := Event{ID: uuid.NewString(), Target: to, Text: text}
	return ev, ev.Validate()
}

func NewDocumentEvent(to kit.ChatTarget, caption, name string, data []byte) (Event, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultAttachmentName
	}
	// Copy so later mutation of the caller's slice can't change a queued event.
	buf := append([]byte(nil), data...)
	ev := Event{ID: uuid.NewString(), Target: to, Text: caption, Attachment: &Attachment{Name: name, Data: buf}}
	return ev, ev.Validate()
}

func (e Event) Kind() Kind {
	if e.Attachment != nil {
		return KindDocument
	}
	return KindText
}

func (e Event) Validate() error {
	if e.Target.IsZero() {
		return ErrNoDestination
	}
	if strings.TrimSpace(e.Text) == "" {
		return ErrEmptyBody
	}
	if e.Attachment != nil && len(e.Attachment.Data) == 0 {
		return ErrEmptyAttachment
	}
	return nil
}
