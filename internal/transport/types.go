package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

// ChatTarget addresses a chat either by numeric id or by public @username
// (channels are usually configured as "@name").
type ChatTarget struct {
	ChatID   int64
	Username string
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

func (t ChatTarget) String() string {
	if t.Username != "" {
		return "@" + t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

var ErrInvalidTarget = errors.New("invalid chat target")

// ParseChatTarget accepts "-1001234567890", "123" or "@channel_name".
func ParseChatTarget(raw string) (ChatTarget, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatTarget{}, ErrInvalidTarget
	}
	if strings.HasPrefix(s, "@") {
		name := s[1:]
		if name == "" || strings.ContainsAny(name, " \t\n/@") {
			return ChatTarget{}, ErrInvalidTarget
		}
		return ChatTarget{Username: name}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, ErrInvalidTarget
	}
	return ChatTarget{ChatID: id}, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// InlineButton is a transport-neutral inline keyboard button.
type InlineButton struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons renders an inline keyboard, one slice per row.
	Buttons [][]InlineButton
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
