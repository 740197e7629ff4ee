package router

import (
	"context"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "quotebot/internal/runtime/supervisor"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline buttons whose data is "<prefix>:<action>[:payload]".
// Callbacks are owner-only unless Public is set.
type CallbackRoute struct {
	Prefix  string
	Action  string
	Public  bool
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Private      bool
	Command      string
	Args         []string
	Text         string // full message text
	Payload      string // callback payload
	Answer       string // callback toast text, set by the handler
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	return r.Reply(ctx, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

type Options struct {
	Log         logx.Logger
	Adapter     kit.Adapter
	Owners      []int64
	Workers     int // <=0 means NumCPU, at least 2
	Supervisors *SupervisorRegistry
	// Audit, when set, records owner-only commands and callbacks.
	Audit AuditFunc
}

// Manager routes updates to commands, callbacks and the free-text handler.
type Manager struct {
	log     logx.Logger
	adapter kit.Adapter
	sups    *SupervisorRegistry
	audit   AuditFunc
	workers int

	mu        sync.RWMutex
	owners    []int64
	commands  map[string]*Command // name and aliases
	ordered   []Command
	callbacks map[string]CallbackRoute // "prefix:action"
	onText    HandlerFunc

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(o Options) *Manager {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	workers := o.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	return &Manager{
		log:       o.Log,
		adapter:   o.Adapter,
		sups:      o.Supervisors,
		audit:     o.Audit,
		workers:   workers,
		owners:    slices.Clone(o.Owners),
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		jobs:      make(chan func(), 256),
	}
}

// SetOwners replaces the owner list; safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Manager) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetRegistry installs the command set, callback routes and the handler for
// private non-command text (nil to ignore such text). /help is added
// automatically.
func (m *Manager) SetRegistry(cmds []Command, cbs []CallbackRoute, onText HandlerFunc) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.FromID))
		},
	})

	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name != "" && c.Handle != nil {
			ordered = append(ordered, c)
		}
	}
	byName := map[string]*Command{}
	for i := range ordered {
		byName[ordered[i].Name] = &ordered[i]
	}
	for i := range ordered {
		for _, a := range ordered[i].Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = &ordered[i]
				}
			}
		}
	}

	cb := map[string]CallbackRoute{}
	for _, r := range cbs {
		p, a := strings.TrimSpace(r.Prefix), strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		cb[p+":"+a] = r
	}

	m.mu.Lock()
	m.commands = byName
	m.ordered = ordered
	m.callbacks = cb
	m.onText = onText
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Supervisor returns the worker pool supervisor while dispatching.
func (m *Manager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Manager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue never blocks; it reports false when the queue is full or closed.
func (m *Manager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx ends or updates closes. Handlers
// run on a bounded worker pool.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.sups.Set("telegram.router", sup)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.sups.Delete("telegram.router")
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case kit.UpdateMessage:
				m.routeMessage(ctx, up)
			case kit.UpdateCallback:
				m.routeCallback(ctx, up)
			}
		}
	}
}

func (m *Manager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		m.mu.RLock()
		onText := m.onText
		m.mu.RUnlock()
		if onText == nil || !msg.IsPrivate || text == "" {
			return
		}
		req := m.newRequest(up, chat, msg.FromID, msg.FromUsername, "text")
		req.Private = true
		req.Text = text
		m.enqueue(root, req, Command{Name: "text", Handle: onText, Timeout: time.Minute})
		return
	}

	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	m.mu.RLock()
	cmd, ok := m.commands[word]
	m.mu.RUnlock()
	if !ok {
		if msg.IsPrivate {
			_, _ = m.adapter.SendText(root, chat, "Unknown command. Try /help", nil)
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.IsOwner(msg.FromID) {
		_, _ = m.adapter.SendText(root, chat, "unauthorized", nil)
		return
	}

	req := m.newRequest(up, chat, msg.FromID, msg.FromUsername, cmd.Name)
	req.Private = msg.IsPrivate
	req.Args = parts[1:]
	req.Text = text
	m.enqueue(root, req, *cmd)
}

func (m *Manager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	key := parts[0] + ":" + parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.mu.RLock()
	route, ok := m.callbacks[key]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	if !route.Public && !m.IsOwner(cb.FromID) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	req := m.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, cb.FromUsername, "cb:"+key)
	req.Payload = payload
	access := AccessOwnerOnly
	if route.Public {
		access = AccessEveryone
	}
	cmd := Command{
		Name:    "cb:" + key,
		Access:  access,
		Timeout: route.Timeout,
		Handle: func(ctx context.Context, r *Request) error {
			err := route.Handle(ctx, r, payload)
			// Also clears the button's loading state.
			_ = m.adapter.AnswerCallback(ctx, cb.ID, r.Answer)
			return err
		},
	}
	if !m.enqueue(root, req, cmd) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func (m *Manager) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, username, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:       up,
		Chat:         chat,
		FromID:       fromID,
		FromUsername: username,
		Command:      command,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (m *Manager) enqueue(root context.Context, req *Request, cmd Command) bool {
	mws := []Middleware{MWPanicRecover(m.log), MWRequestLog(m.log)}
	if m.audit != nil && cmd.Access == AccessOwnerOnly {
		mws = append(mws, MWAudit(m.audit))
	}
	mws = append(mws, MWTimeout(cmd.Timeout))
	final := Chain(cmd.Handle, mws...)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		if req.Update.Kind == kit.UpdateMessage {
			_ = req.Reply(root, "busy, try again", nil)
		}
		return false
	}
	return true
}
