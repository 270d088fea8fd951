// Package transport holds the platform-neutral types shared by the delivery
// core and the concrete chat transports.
package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse modes understood by the Telegram transport.
const (
	ParseModeNone       = ""
	ParseModeMarkdown   = "Markdown"
	ParseModeMarkdownV2 = "MarkdownV2"
	ParseModeHTML       = "HTML"
)

// ChatTarget identifies a chat and, optionally, a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return fmt.Sprintf("%d:%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseChatTarget parses "chat" or "chat:thread".
func ParseChatTarget(raw string) (ChatTarget, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("empty chat target")
	}
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q: %w", chatPart, err)
	}
	if chatID == 0 {
		return ChatTarget{}, fmt.Errorf("chat id must be non-zero")
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("invalid thread id %q", threadPart)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// SendOptions are transport-wide rendering options.
type SendOptions struct {
	ParseMode           string
	DisablePreview      bool
	DisableNotification bool
}
