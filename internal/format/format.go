// Package format renders log entries into Telegram Markdown message bodies.
package format

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is used for the timestamp in message headers.
const TimeLayout = "2006-01-02 15:04:05"

var ErrUnknownLevel = errors.New("unknown level")

// Level is the severity tag shown in front of a message.
type Level int

const (
	LevelMessage Level = iota
	LevelInfo
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelSuccess:
		return "SUCCESS"
	default:
		return "MESSAGE"
	}
}

func (l Level) Emoji() string {
	switch l {
	case LevelError:
		return "❌"
	case LevelInfo:
		return "ℹ️"
	case LevelWarning:
		return "⚠️"
	case LevelSuccess:
		return "✅"
	default:
		return "📩"
	}
}

// Tag returns the bold "[emoji LEVEL]" header prefix.
func (l Level) Tag() string {
	return "*[" + l.Emoji() + l.String() + "]*"
}

// ParseLevel accepts level names case-insensitively, plus the common
// aliases "warn" and "err".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "message", "msg":
		return LevelMessage, nil
	case "info":
		return LevelInfo, nil
	case "success", "ok":
		return LevelSuccess, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error", "err":
		return LevelError, nil
	}
	return LevelMessage, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Format renders a plain message:
//
//	*[❌ERROR]* 2026-01-02 15:04:05:
//
//	text
func Format(level Level, now time.Time, text string) string {
	var b strings.Builder
	b.Grow(len(text) + 48)
	b.WriteString(level.Tag())
	b.WriteByte(' ')
	b.WriteString(now.Format(TimeLayout))
	b.WriteString(":\n\n")
	b.WriteString(text)
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

// EscapeMarkdown escapes the characters that legacy Markdown treats as
// entity delimiters. Use it for machine-generated text such as error
// messages and file paths.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
