package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duet-canvas/internal/engine"
	"github.com/DoyleJ11/duet-canvas/internal/hub"
	"github.com/DoyleJ11/duet-canvas/internal/lobby"
	"github.com/DoyleJ11/duet-canvas/internal/metrics"
	"github.com/DoyleJ11/duet-canvas/internal/types"
)

type Options struct {
	// OriginPatterns are the browser origins allowed to upgrade.
	OriginPatterns []string
	OutboxSize     int
	ReadLimit      int64
	// ReadTimeout of zero waits forever for the next frame.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Handler binds a websocket at /ws/{code}/{participantID} to the session's lobby.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	baseLog := opts.Logger
	if baseLog == nil {
		baseLog = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		participantID := chi.URLParam(r, "participantID")
		if participantID == "" {
			http.Error(w, "missing participant id", http.StatusBadRequest)
			return
		}

		if !hub.ValidCode(code) {
			metrics.IncBindRejection("not_found")
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		lb, err := h.Lookup(r.Context(), code)
		if err != nil {
			if errors.Is(err, hub.ErrSessionNotFound) {
				metrics.IncBindRejection("not_found")
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			baseLog.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		if opts.ReadLimit > 0 {
			conn.SetReadLimit(opts.ReadLimit)
		}

		connID := uuid.NewString()
		log := baseLog.With(
			zap.String("code", code),
			zap.String("participant", participantID),
			zap.String("conn", connID),
		)

		out := make(chan engine.Event, opts.OutboxSize)
		reply := make(chan lobby.JoinResult, 1)
		if err := lb.Send(r.Context(), lobby.Join{ParticipantID: participantID, ConnID: connID, Outbox: out, Reply: reply}); err != nil {
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		}
		// Leave is a no-op unless this connection is still the bound one.
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.WriteTimeout)
			defer cancel()
			_ = lb.Send(ctx, lobby.Leave{ParticipantID: participantID, ConnID: connID})
		}()

		var res lobby.JoinResult
		select {
		case res = <-reply:
		case <-lb.Done():
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		case <-r.Context().Done():
			return
		}
		if res.Err != nil {
			switch {
			case errors.Is(res.Err, engine.ErrCapacityExceeded):
				conn.Close(websocket.StatusPolicyViolation, "session full")
				return
			case errors.Is(res.Err, lobby.ErrClosed):
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			conn.Close(websocket.StatusInternalError, "join failed")
			return
		}

		metrics.ConnectionOpened()
		defer metrics.ConnectionClosed()
		log.Debug("connection bound", zap.Int("seat", res.SeatIndex))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writeLoop(ctx, conn, out, opts.WriteTimeout, log)
		}()

		readLoop(ctx, conn, lb, participantID, opts.ReadTimeout, log)
		cancel()
		<-writerDone
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, lb *lobby.Lobby, participantID string, timeout time.Duration, log *zap.Logger) {
	for {
		readCtx, readCancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			readCtx, readCancel = context.WithTimeout(ctx, timeout)
		}
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("connection closed by peer")
			default:
				log.Debug("read ended", zap.Error(err))
			}
			return
		}

		cmd, err := toEngineCommand(data)
		if err != nil {
			log.Debug("ignoring frame", zap.Error(err))
			continue
		}
		if err := lb.Send(ctx, lobby.FromClient{ParticipantID: participantID, Cmd: cmd}); err != nil {
			log.Debug("lobby unavailable", zap.Error(err))
			return
		}
	}
}

// writeLoop drains the outbox until the lobby closes it or ctx ends. A closed
// outbox means the lobby released this connection, so the socket is closed.
func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan engine.Event, timeout time.Duration, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-out:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "released")
				return
			}
			payload, err := types.Encode(ev)
			if err != nil {
				log.Error("encoding event", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				// Send failures never reach the session.
				log.Warn("write failed", zap.String("event", string(ev.Type)), zap.Error(err))
			}
		}
	}
}

func toEngineCommand(data []byte) (engine.Command, error) {
	var cm types.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		return engine.Command{}, fmt.Errorf("decoding frame: %w", err)
	}

	switch engine.CommandType(cm.Type) {
	case engine.CmdStroke:
		// The whole frame is the stroke; clients replay it as-is.
		return engine.Command{Type: engine.CmdStroke, Stroke: engine.Stroke(data)}, nil
	case engine.CmdRound1Done:
		return engine.Command{Type: engine.CmdRound1Done, Canvas: cm.Canvas()}, nil
	case engine.CmdGameOver:
		return engine.Command{Type: engine.CmdGameOver}, nil
	default:
		return engine.Command{}, fmt.Errorf("%w: %q", engine.ErrUnsupportedCommand, cm.Type)
	}
}
