package engine

import (
	"slices"
	"time"
)

func NewState(prompt string) State {
	return State{
		Prompt:  prompt,
		Round:   1,
		Strokes: map[string][]Stroke{},
		Job:     AIJob{Status: JobNotStarted},
	}
}

// SeatIndex returns the participant's seat, or -1.
func (s *State) SeatIndex(participantID string) int {
	if participantID == "" {
		return -1
	}
	return slices.Index(s.Seats[:], participantID)
}

func (s *State) SeatCount() int {
	n := 0
	for _, id := range s.Seats {
		if id != "" {
			n++
		}
	}
	return n
}

func (s *State) Phase() Phase {
	return DerivePhase(*s)
}

func DerivePhase(s State) Phase {
	switch {
	case s.Concluded:
		return PhaseConcluded
	case s.Round >= 2:
		return PhaseRound2
	case s.Started:
		return PhaseRound1
	default:
		return PhaseLobby
	}
}

// Clone returns a copy that shares no mutable storage with s.
func (s State) Clone() State {
	c := s
	c.Strokes = make(map[string][]Stroke, len(s.Strokes))
	for id, log := range s.Strokes {
		c.Strokes[id] = slices.Clone(log)
	}
	return c
}

func (s *State) Summary(code string, at time.Time) Summary {
	return Summary{
		Code:        code,
		Prompt:      s.Prompt,
		Strokes:     s.Clone().Strokes,
		AICanvas:    s.Job.Canvas(),
		ConcludedAt: at,
	}
}

func ContainsEvent(deliveries []Delivery, eventType EventType) bool {
	for _, d := range deliveries {
		if d.Event.Type == eventType {
			return true
		}
	}
	return false
}
