package engine

import (
	"encoding/json"
	"errors"
	"slices"
	"time"
)

var ErrCapacityExceeded = errors.New("session is full")
var ErrNotSeated = errors.New("participant has no seat")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrNoParticipantID = errors.New("participant id is empty")

const (
	MaxSeats       = 2
	ReadyThreshold = 2

	// AIOrientation is the half the inpainting job regenerates. Seat 0 owns
	// the left half, so the model always completes the right.
	AIOrientation = SideRight
)

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

func SideFor(seatIndex int) Side {
	if seatIndex == 0 {
		return SideLeft
	}
	return SideRight
}

func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseRound1    Phase = "round1"
	PhaseRound2    Phase = "round2"
	PhaseConcluded Phase = "concluded"
)

type JobStatus string

const (
	JobNotStarted JobStatus = "not_started"
	JobRunning    JobStatus = "running"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

type AIJob struct {
	Status  JobStatus
	Payload string
}

// Canvas is the payload reported to clients: the result when Done, "" otherwise.
func (j AIJob) Canvas() string {
	if j.Status == JobDone {
		return j.Payload
	}
	return ""
}

func (j AIJob) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}

// Stroke is an opaque client drawing event, relayed byte-for-byte.
type Stroke = json.RawMessage

type State struct {
	Prompt     string
	Round      int
	Started    bool
	Concluded  bool
	Seats      [MaxSeats]string // participant ids by fixed seat, "" when empty
	Strokes    map[string][]Stroke
	ReadyCount int
	Canvas     string // first round-1 snapshot, base64 PNG
	Job        AIJob
}

type CommandType string

const (
	CmdStroke     CommandType = "stroke"
	CmdRound1Done CommandType = "round1_done"
	CmdGameOver   CommandType = "game_over"
)

type Command struct {
	Type   CommandType
	Stroke Stroke
	Canvas string
}

type EventType string

const (
	EvtInit          EventType = "init"
	EvtGameStart     EventType = "game_start"
	EvtPartnerStroke EventType = "partner_stroke"
	EvtRound2Start   EventType = "round2_start"
	EvtGameOver      EventType = "game_over"
	EvtAIResultReady EventType = "ai_result_ready"
)

type Event struct {
	Type           EventType
	Side           Side
	Prompt         string
	Round          int
	SeatIndex      int
	Stroke         Stroke
	FromSide       Side
	PartnerStrokes []Stroke
	NewSide        Side
	AICanvas       string
}

// Delivery addresses an event to a participant. Delivery to a participant
// without a live connection is the caller's concern.
type Delivery struct {
	To    string
	Event Event
}

type InpaintRequest struct {
	Canvas   string
	Prompt   string
	Complete Side
}

type Effects struct {
	Deliveries []Delivery
	Inpaint    *InpaintRequest // set at most once per session
}

// Summary is a read-only record of a concluded session.
type Summary struct {
	Code        string
	Prompt      string
	Strokes     map[string][]Stroke
	AICanvas    string
	ConcludedAt time.Time
}

// Join seats participantID, or returns its existing seat on reconnection.
// The returned deliveries bring the joining participant up to date.
func (s *State) Join(participantID string) (int, []Delivery, error) {
	idx := s.SeatIndex(participantID)
	if idx < 0 {
		if participantID == "" {
			return -1, nil, ErrNoParticipantID
		}
		idx = slices.Index(s.Seats[:], "")
		if idx < 0 {
			return -1, nil, ErrCapacityExceeded
		}
		s.Seats[idx] = participantID
		s.Strokes[participantID] = []Stroke{}
	}

	out := []Delivery{{
		To: participantID,
		Event: Event{
			Type:      EvtInit,
			Side:      SideFor(idx),
			Prompt:    s.Prompt,
			Round:     s.Round,
			SeatIndex: idx,
		},
	}}
	if s.Started {
		out = append(out, Delivery{To: participantID, Event: Event{Type: EvtGameStart}})
	}
	return idx, out, nil
}

// Leave empties the participant's seat. The other seat keeps its index and
// side. Stroke log and ready count are kept.
func (s *State) Leave(participantID string) {
	if idx := s.SeatIndex(participantID); idx >= 0 {
		s.Seats[idx] = ""
	}
}

func (s *State) Start() []Delivery {
	s.Started = true
	return s.broadcast(Event{Type: EvtGameStart})
}

func (s *State) Apply(participantID string, cmd Command) (Effects, error) {
	idx := s.SeatIndex(participantID)
	if idx < 0 {
		return Effects{}, ErrNotSeated
	}

	switch cmd.Type {
	case CmdStroke:
		s.Strokes[participantID] = append(s.Strokes[participantID], cmd.Stroke)
		partner := s.Seats[1-idx]
		if partner == "" {
			return Effects{}, nil
		}
		return Effects{Deliveries: []Delivery{{
			To:    partner,
			Event: Event{Type: EvtPartnerStroke, Stroke: cmd.Stroke, FromSide: SideFor(idx)},
		}}}, nil

	case CmdRound1Done:
		var fx Effects
		s.ReadyCount++

		if cmd.Canvas != "" && s.Canvas == "" {
			s.Canvas = cmd.Canvas
			s.Job.Status = JobRunning
			fx.Inpaint = &InpaintRequest{Canvas: cmd.Canvas, Prompt: s.Prompt, Complete: AIOrientation}
		}

		if s.ReadyCount >= ReadyThreshold && s.Round == 1 {
			s.Round = 2
			for i, id := range s.Seats {
				if id == "" {
					continue
				}
				fx.Deliveries = append(fx.Deliveries, Delivery{
					To: id,
					Event: Event{
						Type:           EvtRound2Start,
						PartnerStrokes: s.partnerStrokes(i),
						NewSide:        SideFor(i).Opposite(),
					},
				})
			}
		}
		return fx, nil

	case CmdGameOver:
		s.Concluded = true
		return Effects{Deliveries: s.broadcast(Event{Type: EvtGameOver, AICanvas: s.Job.Canvas()})}, nil

	default:
		return Effects{}, ErrUnsupportedCommand
	}
}

// FinishJob records the inpainting outcome. Only the first call after the
// job started has any effect.
func (s *State) FinishJob(payload string, err error) []Delivery {
	if s.Job.Status != JobRunning {
		return nil
	}
	if err != nil {
		s.Job = AIJob{Status: JobFailed}
	} else {
		s.Job = AIJob{Status: JobDone, Payload: payload}
	}
	return s.broadcast(Event{Type: EvtAIResultReady, AICanvas: s.Job.Canvas()})
}

func (s *State) broadcast(ev Event) []Delivery {
	out := make([]Delivery, 0, MaxSeats)
	for _, id := range s.Seats {
		if id == "" {
			continue
		}
		out = append(out, Delivery{To: id, Event: ev})
	}
	return out
}

func (s *State) partnerStrokes(seatIndex int) []Stroke {
	partner := s.Seats[1-seatIndex]
	if partner == "" {
		return []Stroke{}
	}
	out := make([]Stroke, len(s.Strokes[partner]))
	copy(out, s.Strokes[partner])
	return out
}
