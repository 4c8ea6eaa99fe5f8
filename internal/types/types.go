package types

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/duet-canvas/internal/engine"
)

// ClientMessage is the envelope of every inbound frame. Stroke frames carry
// arbitrary extra fields; those travel as the raw frame, not through here.
// CanvasB64 stays raw so a mistyped value never fails the whole frame.
type ClientMessage struct {
	Type      string          `json:"type"`
	CanvasB64 json.RawMessage `json:"canvas_b64,omitempty"`
}

// Canvas returns canvas_b64 when it is a JSON string, "" otherwise.
func (m ClientMessage) Canvas() string {
	var canvas string
	if len(m.CanvasB64) == 0 || json.Unmarshal(m.CanvasB64, &canvas) != nil {
		return ""
	}
	return canvas
}

type InitMessage struct {
	Type        string      `json:"type"`
	Side        engine.Side `json:"side"`
	Prompt      string      `json:"prompt"`
	Round       int         `json:"round"`
	PlayerIndex int         `json:"player_index"`
}

type GameStartMessage struct {
	Type string `json:"type"`
}

type PartnerStrokeMessage struct {
	Type     string          `json:"type"`
	Stroke   json.RawMessage `json:"stroke"`
	FromSide engine.Side     `json:"from_side"`
}

type Round2StartMessage struct {
	Type           string            `json:"type"`
	PartnerStrokes []json.RawMessage `json:"partner_strokes"`
	YourNewSide    engine.Side       `json:"your_new_side"`
}

// AICanvasMessage is shared by game_over and ai_result_ready.
type AICanvasMessage struct {
	Type     string `json:"type"`
	AICanvas string `json:"ai_canvas"`
}

// FromEvent maps an engine event onto its wire struct.
func FromEvent(ev engine.Event) (any, error) {
	typ := string(ev.Type)
	switch ev.Type {
	case engine.EvtInit:
		return InitMessage{Type: typ, Side: ev.Side, Prompt: ev.Prompt, Round: ev.Round, PlayerIndex: ev.SeatIndex}, nil
	case engine.EvtGameStart:
		return GameStartMessage{Type: typ}, nil
	case engine.EvtPartnerStroke:
		return PartnerStrokeMessage{Type: typ, Stroke: ev.Stroke, FromSide: ev.FromSide}, nil
	case engine.EvtRound2Start:
		strokes := make([]json.RawMessage, len(ev.PartnerStrokes))
		copy(strokes, ev.PartnerStrokes)
		return Round2StartMessage{Type: typ, PartnerStrokes: strokes, YourNewSide: ev.NewSide}, nil
	case engine.EvtGameOver, engine.EvtAIResultReady:
		return AICanvasMessage{Type: typ, AICanvas: ev.AICanvas}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func Encode(ev engine.Event) ([]byte, error) {
	msg, err := FromEvent(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
