package adapter

import (
	"cmp"
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"quotebot/internal/metrics"
	rtsup "quotebot/internal/runtime/supervisor"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

var errPollerExited = errors.New("telegram poller exited")

// Adapter bridges telebot to the transport-neutral kit types.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and its helpers; created by Start, cancelled by Stop.
	sup *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Supervisor exposes the adapter goroutines for /health output.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsPrivate:    m.Private(),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:           cb.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       cb.Sender.ID,
				FromUsername: cb.Sender.Username,
				MessageID:    m.ID,
				Data:         cb.Data,
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		// First drop of a burst is logged; the counter carries the rest.
		if a.dropped.Add(1) == 1 {
			a.log.Warn("incoming update dropped, router queue full", logx.Int("chan_cap", cap(out)))
		}
		metrics.ObserveDroppedUpdate()
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; an early return while the context is
	// alive counts as a failure and is restarted with backoff.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errPollerExited
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates", a.dropped.Swap(0)))
	sup.Cancel()

	// Long polling may still be waiting on getUpdates; never hold shutdown
	// longer than a short grace window.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// usernameRecipient addresses public chats by @name.
type usernameRecipient string

func (u usernameRecipient) Recipient() string { return "@" + string(u) }

func recipient(to kit.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return usernameRecipient(to.Username)
	}
	return &tele.Chat{ID: to.ChatID}
}

func inlineMarkup(rows [][]kit.InlineButton) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]tele.Btn, 0, len(r))
		for _, b := range r {
			btns = append(btns, tele.Btn{Text: b.Text, Data: b.Data})
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Inline(out...)
	return rm
}

func (a *Adapter) sendOptions(opt *kit.SendOptions, threadID int, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
	if withMarkup {
		if rm := inlineMarkup(opt.Buttons); rm != nil {
			so.ReplyMarkup = rm
		}
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if to.IsZero() {
		return kit.MessageRef{}, kit.ErrInvalidTarget
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	rcpt := recipient(to)

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		// Keyboard goes on the first chunk only.
		msg, err := a.send(ctx, rcpt, chunk, a.sendOptions(opt, to.ThreadID, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: msg.Chat.ID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// maxFloodWait caps how long a send waits on a 429 before giving up.
const maxFloodWait = 30 * time.Second

// send retries once when Telegram answers with a flood-control wait that
// fits both maxFloodWait and the caller's deadline.
func (a *Adapter) send(ctx context.Context, to tele.Recipient, text string, so *tele.SendOptions) (*tele.Message, error) {
	msg, err := a.bot.Send(to, text, so)
	wait, ok := floodWait(err)
	if !ok || wait > maxFloodWait {
		return msg, err
	}
	if dl, has := ctx.Deadline(); has && time.Until(dl) < wait {
		return msg, err
	}
	a.log.Warn("telegram flood control, retrying", logx.Duration("wait", wait))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return a.bot.Send(to, text, so)
}

func floodWait(err error) (time.Duration, bool) {
	var fv tele.FloodError
	if errors.As(err, &fv) {
		return time.Duration(fv.RetryAfter) * time.Second, true
	}
	var fp *tele.FloodError
	if errors.As(err, &fp) && fp != nil {
		return time.Duration(fp.RetryAfter) * time.Second, true
	}
	return 0, false
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands publishes the command menu, skipping the call when
// the list is unchanged since the last success.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list := menuCommands(cmds)
	sum := menuSum(list)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

// Bot API limits for setMyCommands.
const (
	maxMenuCommands   = 100
	maxMenuDescLength = 256
)

func menuCommands(cmds []kit.BotCommand) []tele.Command {
	out := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Command), "/")
		if name == "" {
			continue
		}
		d := cmp.Or(strings.TrimSpace(c.Description), name)
		if len(d) > maxMenuDescLength {
			d = d[:maxMenuDescLength]
		}
		out = append(out, tele.Command{Text: name, Description: d})
		if len(out) == maxMenuCommands {
			break
		}
	}
	return out
}

func menuSum(list []tele.Command) uint64 {
	h := fnv.New64a()
	for _, c := range list {
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
