package publisher

import (
	"context"
	"fmt"
	"html"
	"strings"

	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

// Executor performs one publication: validate, generate, send.
// It never touches the schedule record.
type Executor struct {
	gen        Generator
	send       Sender
	reviewChat string
	log        logx.Logger
}

// NewExecutor builds an executor. reviewChat may be empty.
func NewExecutor(gen Generator, send Sender, reviewChat string, log logx.Logger) *Executor {
	return &Executor{gen: gen, send: send, reviewChat: strings.TrimSpace(reviewChat), log: log}
}

// ValidateChannelID accepts a numeric chat id or "@username".
func ValidateChannelID(channelID string) error {
	if _, err := kit.ParseChatTarget(channelID); err != nil {
		return fmt.Errorf("%w: channel id %q", ErrConfiguration, channelID)
	}
	return nil
}

// Run publishes one generated post to channelID.
func (e *Executor) Run(ctx context.Context, channelID string) error {
	if err := ValidateChannelID(channelID); err != nil {
		return err
	}
	if e.gen == nil || e.send == nil {
		return fmt.Errorf("%w: generator or sender missing", ErrConfiguration)
	}

	content, err := e.gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if strings.TrimSpace(content.Message) == "" {
		return fmt.Errorf("%w: empty message", ErrGeneration)
	}

	opt := &kit.SendOptions{ParseMode: "HTML"}
	if err := e.send.Send(ctx, channelID, content.Message, opt); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	e.log.Info("post published", logx.String("channel", channelID), logx.String("topic", content.Topic))

	if e.reviewChat != "" {
		review := content.Message
		if content.Topic != "" {
			review += "\n\n📚 Topic: " + html.EscapeString(content.Topic)
		}
		if err := e.send.Send(ctx, e.reviewChat, review, opt); err != nil {
			e.log.Warn("review copy failed", logx.String("chat", e.reviewChat), logx.Err(err))
		}
	}
	return nil
}

// AdapterSender sends through a transport adapter.
type AdapterSender struct {
	Adapter kit.Adapter
}

func (s AdapterSender) Send(ctx context.Context, chatID, text string, opt *kit.SendOptions) error {
	to, err := kit.ParseChatTarget(chatID)
	if err != nil {
		return err
	}
	_, err = s.Adapter.SendText(ctx, to, text, opt)
	return err
}
