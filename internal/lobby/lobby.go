package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duet-canvas/internal/engine"
	"github.com/DoyleJ11/duet-canvas/internal/inpaint"
	"github.com/DoyleJ11/duet-canvas/internal/metrics"
)

var ErrClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	ParticipantID string
	Cmd           engine.Command
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ParticipantID string
	ConnID        string
	Outbox        chan engine.Event // where this connection wants to receive events
	Reply         chan JoinResult
}

func (Join) isLobbyMsg() {}

type JoinResult struct {
	SeatIndex int
	Err       error
}

// Leave is ignored unless ConnID is still the participant's bound connection.
type Leave struct {
	ParticipantID string
	ConnID        string
}

func (Leave) isLobbyMsg() {}

type Start struct {
	Reply chan struct{} // optional
}

func (Start) isLobbyMsg() {}

type InpaintFinished struct {
	Result inpaint.Result
}

func (InpaintFinished) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Code       string
	Phase      engine.Phase
	NumClients int
	State      engine.State
	Job        *inpaint.Job // nil until the inpainting job launched
	Archived   bool
}

// Inpainter launches the detached completion job.
type Inpainter interface {
	Launch(ctx context.Context, req engine.InpaintRequest, onDone func(inpaint.Result)) *inpaint.Job
}

type Archiver interface {
	Archive(ctx context.Context, s engine.Summary) error
}

type Options struct {
	Code           string
	Inpainter      Inpainter
	Archiver       Archiver // optional
	ArchiveTimeout time.Duration
	InboxSize      int
	Logger         *zap.Logger
}

type client struct {
	connID string
	outbox chan engine.Event
}

type Lobby struct {
	code      string
	inbox     chan Msg
	state     engine.State
	clients   map[string]client
	inpainter Inpainter
	job       *inpaint.Job
	archiver  Archiver
	archived  bool
	archiveTO time.Duration
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewLobby(parent context.Context, initial engine.State, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	l := &Lobby{
		code:      opts.Code,
		inbox:     make(chan Msg, opts.InboxSize),
		state:     initial,
		clients:   make(map[string]client),
		inpainter: opts.Inpainter,
		archiver:  opts.Archiver,
		archiveTO: opts.ArchiveTimeout,
		log:       log.With(zap.String("code", opts.Code)),
		ctx:       ctx,
		cancel:    cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.join(msg)

			case Leave:
				c, ok := l.clients[msg.ParticipantID]
				if !ok || c.connID != msg.ConnID {
					break // superseded connection
				}
				close(c.outbox)
				delete(l.clients, msg.ParticipantID)
				l.state.Leave(msg.ParticipantID)
				l.log.Info("participant left",
					zap.String("participant", msg.ParticipantID),
					zap.Int("ready", l.state.ReadyCount),
				)

			case FromClient:
				fx, err := l.state.Apply(msg.ParticipantID, msg.Cmd)
				if err != nil {
					l.log.Debug("ignoring client message",
						zap.String("participant", msg.ParticipantID),
						zap.String("type", string(msg.Cmd.Type)),
						zap.Error(err),
					)
					break
				}
				l.deliver(fx.Deliveries)
				if engine.ContainsEvent(fx.Deliveries, engine.EvtRound2Start) {
					l.log.Info("round 2 started")
				}
				if fx.Inpaint != nil {
					l.launch(*fx.Inpaint)
				}
				if msg.Cmd.Type == engine.CmdGameOver {
					l.log.Info("game over", zap.String("job", string(l.state.Job.Status)))
				}
				l.maybeArchive()

			case Start:
				l.deliver(l.state.Start())
				l.log.Info("game started", zap.Int("seats", l.state.SeatCount()))
				if msg.Reply != nil {
					msg.Reply <- struct{}{}
				}

			case InpaintFinished:
				l.deliver(l.state.FinishJob(msg.Result.Payload, msg.Result.Err))
				l.maybeArchive()

			case GetState:
				msg.Reply <- View{
					Code:       l.code,
					Phase:      l.state.Phase(),
					NumClients: len(l.clients),
					State:      l.state.Clone(),
					Job:        l.job,
					Archived:   l.archived,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) join(msg Join) {
	idx, ds, err := l.state.Join(msg.ParticipantID)
	if err != nil {
		metrics.IncBindRejection("capacity")
		l.log.Warn("rejecting participant", zap.String("participant", msg.ParticipantID), zap.Error(err))
		msg.Reply <- JoinResult{SeatIndex: -1, Err: err}
		return
	}

	if old, ok := l.clients[msg.ParticipantID]; ok && old.connID != msg.ConnID {
		// Reconnection: the previous connection stops receiving.
		close(old.outbox)
	}
	l.clients[msg.ParticipantID] = client{connID: msg.ConnID, outbox: msg.Outbox}
	l.deliver(ds)

	l.log.Info("participant joined",
		zap.String("participant", msg.ParticipantID),
		zap.String("side", string(engine.SideFor(idx))),
	)
	msg.Reply <- JoinResult{SeatIndex: idx}
}

func (l *Lobby) launch(req engine.InpaintRequest) {
	if l.inpainter == nil {
		l.deliver(l.state.FinishJob("", errors.New("inpainting disabled")))
		return
	}
	l.job = l.inpainter.Launch(l.ctx, req, func(res inpaint.Result) {
		_ = l.Send(context.Background(), InpaintFinished{Result: res})
	})
}

func (l *Lobby) maybeArchive() {
	if l.archiver == nil || l.archived || !l.state.Concluded {
		return
	}
	if l.state.Job.Status == engine.JobRunning {
		return // archived once the result lands
	}
	l.archived = true

	summary := l.state.Summary(l.code, time.Now().UTC())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.archiveTO)
		defer cancel()
		if err := l.archiver.Archive(ctx, summary); err != nil {
			l.log.Warn("archiving game failed", zap.Error(err))
		}
	}()
}

func (l *Lobby) shutdown() {
	l.cancel()
	for id, c := range l.clients {
		close(c.outbox) // Tell the connection no more events
		delete(l.clients, id)
	}
	l.rejectPending()
}

// rejectPending answers joins still queued in the inbox so their
// connections are not left waiting. Everything else queued is dropped.
func (l *Lobby) rejectPending() {
	for {
		select {
		case m := <-l.inbox:
			j, ok := m.(Join)
			if !ok {
				continue
			}
			select {
			case j.Reply <- JoinResult{SeatIndex: -1, Err: ErrClosed}:
			default:
			}
		default:
			return
		}
	}
}

// deliver never blocks: a full outbox drops the event.
func (l *Lobby) deliver(ds []engine.Delivery) {
	for _, d := range ds {
		c, ok := l.clients[d.To]
		if !ok {
			continue
		}
		select {
		case c.outbox <- d.Event:
			//ok
		default:
			metrics.IncMessagesDropped()
			l.log.Warn("outbox full, dropping event",
				zap.String("participant", d.To),
				zap.String("event", string(d.Event.Type)),
			)
		}
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) Code() string { return l.code }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

// Send enqueues m unless the lobby has shut down or ctx ends first.
func (l *Lobby) Send(ctx context.Context, m Msg) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case l.inbox <- m:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("sending to lobby %s: %w", l.code, ctx.Err())
	}
}
