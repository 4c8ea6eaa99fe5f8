package hub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duet-canvas/internal/engine"
	"github.com/DoyleJ11/duet-canvas/internal/lobby"
	"github.com/DoyleJ11/duet-canvas/internal/metrics"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrCodeSpaceExhausted = errors.New("no free join code")
var ErrHubStopped = errors.New("hub stopped")

// maxCodeAttempts bounds regeneration on collision.
const maxCodeAttempts = 32

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Reply chan Created
}

type Created struct {
	Code  string
	Lobby *lobby.Lobby
	Err   error
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type CountSessions struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetLobby) isHubMsg()      {}
func (CountSessions) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Options struct {
	// LobbyOptions is the template for every new session; Code is filled in.
	LobbyOptions lobby.Options
	NewCode      func() (string, error)
	NewPrompt    func() string
	InboxSize    int
	Logger       *zap.Logger
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.NewCode == nil {
		opts.NewCode = GenerateCode
	}
	if opts.NewPrompt == nil {
		opts.NewPrompt = engine.RandomPrompt
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.LobbyOptions.Logger == nil {
		opts.LobbyOptions.Logger = log
	}

	h := &Hub{
		inbox:   make(chan HubMsg, opts.InboxSize),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				msg.Reply <- h.create()

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case CountSessions:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				for _, lb := range h.lobbies {
					_ = lb.Send(h.ctx, lobby.Shutdown{})
				}
				clear(h.lobbies)
				metrics.SetSessionsActive(0)
				h.cancel()
			}
		}
	}
}

// create runs on the hub goroutine, so the collision check and the insert
// are atomic.
func (h *Hub) create() Created {
	var code string
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			return Created{Err: ErrCodeSpaceExhausted}
		}
		c, err := h.opts.NewCode()
		if err != nil {
			return Created{Err: err}
		}
		if _, taken := h.lobbies[c]; !taken {
			code = c
			break
		}
		h.log.Debug("collision on code, regenerating", zap.String("code", c))
	}

	opts := h.opts.LobbyOptions
	opts.Code = code
	state := engine.NewState(h.opts.NewPrompt())
	lb := lobby.NewLobby(h.ctx, state, opts)
	h.lobbies[code] = lb

	metrics.IncSessionsCreated()
	metrics.SetSessionsActive(len(h.lobbies))
	h.log.Info("session created", zap.String("code", code), zap.String("prompt", state.Prompt))
	return Created{Code: code, Lobby: lb}
}

// Create asks the hub for a new session.
func (h *Hub) Create(ctx context.Context) (Created, error) {
	reply := make(chan Created, 1)
	if err := h.send(ctx, CreateSession{Reply: reply}); err != nil {
		return Created{}, err
	}
	select {
	case c := <-reply:
		return c, c.Err
	case <-h.ctx.Done():
		return Created{}, ErrHubStopped
	case <-ctx.Done():
		return Created{}, ctx.Err()
	}
}

// Lookup returns the session for code or ErrSessionNotFound.
func (h *Hub) Lookup(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, GetLobby{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case lb := <-reply:
		if lb == nil {
			return nil, ErrSessionNotFound
		}
		return lb, nil
	case <-h.ctx.Done():
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Count reports the number of live sessions.
func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountSessions{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.ctx.Done():
		return 0, ErrHubStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	if h.ctx.Err() != nil {
		return ErrHubStopped
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
