package commands

import (
	"context"
	"fmt"

	kit "quotebot/internal/transport"
	"quotebot/internal/transport/telegram/router"
	logx "quotebot/pkg/logx"
)

// Submit forwards a private text message to the channel, signed with the
// sender's @username, and thanks the sender.
func (s *Set) Submit(ctx context.Context, req *router.Request) error {
	if !s.d.AcceptSubmissions() || req.Text == "" {
		return nil
	}
	raw, err := s.channel()
	if err != nil {
		return nil
	}
	target, err := kit.ParseChatTarget(raw)
	if err != nil {
		return fmt.Errorf("submission target: %w", err)
	}

	text := req.Text
	if req.FromUsername != "" {
		text += "\n\n@" + req.FromUsername
	}
	// Plain text: user input is never interpreted as markup.
	if _, err := req.Adapter.SendText(ctx, target, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		_ = req.Reply(ctx, "Sorry, your message could not be delivered right now.", nil)
		return fmt.Errorf("forward submission: %w", err)
	}
	req.Logger.Info("submission forwarded", logx.String("username", req.FromUsername))
	return req.Reply(ctx, "Thank you! Your message has been published.", nil)
}
