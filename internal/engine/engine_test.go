package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func seatedState(ids ...string) State {
	s := NewState("a cat being the president")
	for _, id := range ids {
		if _, _, err := s.Join(id); err != nil {
			panic(err)
		}
	}
	return s
}

func stroke(x, y int) Stroke {
	return Stroke(fmt.Sprintf(`{"type":"stroke","x":%d,"y":%d}`, x, y))
}

func deliveriesTo(ds []Delivery, id string) []Event {
	var out []Event
	for _, d := range ds {
		if d.To == id {
			out = append(out, d.Event)
		}
	}
	return out
}

func TestJoinAssignsSeatsByArrival(t *testing.T) {
	cases := []struct {
		name      string
		joins     []string
		joiner    string
		wantIndex int
		wantSide  Side
		wantErr   error
	}{
		{name: "first participant sits left", joins: nil, joiner: "p1", wantIndex: 0, wantSide: SideLeft},
		{name: "second participant sits right", joins: []string{"p1"}, joiner: "p2", wantIndex: 1, wantSide: SideRight},
		{name: "reconnection keeps seat", joins: []string{"p1", "p2"}, joiner: "p1", wantIndex: 0, wantSide: SideLeft},
		{name: "third participant rejected", joins: []string{"p1", "p2"}, joiner: "p3", wantIndex: -1, wantErr: ErrCapacityExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := seatedState(tc.joins...)
			idx, ds, err := s.Join(tc.joiner)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tc.wantErr)
			}
			if idx != tc.wantIndex {
				t.Fatalf("index: got %d, want %d", idx, tc.wantIndex)
			}
			if tc.wantErr != nil {
				if s.SeatCount() != MaxSeats {
					t.Fatalf("rejected join changed seats: %v", s.Seats)
				}
				return
			}
			if len(ds) != 1 || ds[0].Event.Type != EvtInit {
				t.Fatalf("want single init delivery, got %+v", ds)
			}
			init := ds[0].Event
			if init.Side != tc.wantSide || init.SeatIndex != tc.wantIndex || init.Round != 1 || init.Prompt != s.Prompt {
				t.Fatalf("unexpected init: %+v", init)
			}
		})
	}
}

func TestJoinAfterStartCatchesUp(t *testing.T) {
	s := seatedState("p1")
	s.Start()

	_, ds, err := s.Join("p2")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(ds) != 2 || ds[0].Event.Type != EvtInit || ds[1].Event.Type != EvtGameStart {
		t.Fatalf("want init then game_start, got %+v", ds)
	}
}

func TestStartBroadcastsToSeats(t *testing.T) {
	s := seatedState("p1", "p2")
	ds := s.Start()
	if !s.Started || s.Phase() != PhaseRound1 {
		t.Fatalf("expected started round1, got phase %v", s.Phase())
	}
	if len(ds) != 2 || ds[0].To != "p1" || ds[1].To != "p2" {
		t.Fatalf("unexpected deliveries: %+v", ds)
	}
}

func TestStrokeRelayedToPartner(t *testing.T) {
	s := seatedState("p1", "p2")

	fx, err := s.Apply("p1", Command{Type: CmdStroke, Stroke: stroke(1, 1)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got := deliveriesTo(fx.Deliveries, "p2")
	if len(got) != 1 {
		t.Fatalf("want one relay to p2, got %+v", fx.Deliveries)
	}
	if got[0].Type != EvtPartnerStroke || got[0].FromSide != SideLeft || string(got[0].Stroke) != string(stroke(1, 1)) {
		t.Fatalf("unexpected relay: %+v", got[0])
	}
	if len(s.Strokes["p1"]) != 1 {
		t.Fatalf("stroke not logged: %+v", s.Strokes)
	}
}

func TestStrokeWithoutPartnerIsOnlyLogged(t *testing.T) {
	s := seatedState("p1")
	fx, err := s.Apply("p1", Command{Type: CmdStroke, Stroke: stroke(3, 4)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(fx.Deliveries) != 0 {
		t.Fatalf("expected no relay, got %+v", fx.Deliveries)
	}
	if len(s.Strokes["p1"]) != 1 {
		t.Fatalf("stroke not logged")
	}
}

func TestApplyRejectsUnseated(t *testing.T) {
	s := seatedState("p1")
	_, err := s.Apply("ghost", Command{Type: CmdStroke, Stroke: stroke(0, 0)})
	if !errors.Is(err, ErrNotSeated) {
		t.Fatalf("want ErrNotSeated, got %v", err)
	}
}

func TestApplyRejectsUnknownCommand(t *testing.T) {
	s := seatedState("p1")
	_, err := s.Apply("p1", Command{Type: "chat"})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
}

func TestRoundTransitionFiresOnce(t *testing.T) {
	s := seatedState("p1", "p2")
	_, _ = s.Apply("p1", Command{Type: CmdStroke, Stroke: stroke(1, 1)})
	_, _ = s.Apply("p2", Command{Type: CmdStroke, Stroke: stroke(9, 9)})

	fx, _ := s.Apply("p1", Command{Type: CmdRound1Done})
	if s.Round != 1 || ContainsEvent(fx.Deliveries, EvtRound2Start) {
		t.Fatalf("round advanced after a single ready")
	}

	fx, _ = s.Apply("p2", Command{Type: CmdRound1Done})
	if s.Round != 2 {
		t.Fatalf("want round 2, got %d", s.Round)
	}
	p1 := deliveriesTo(fx.Deliveries, "p1")
	p2 := deliveriesTo(fx.Deliveries, "p2")
	if len(p1) != 1 || len(p2) != 1 {
		t.Fatalf("want one round2_start each, got %+v", fx.Deliveries)
	}
	if p1[0].NewSide != SideRight || p2[0].NewSide != SideLeft {
		t.Fatalf("sides not swapped: p1=%v p2=%v", p1[0].NewSide, p2[0].NewSide)
	}
	if len(p1[0].PartnerStrokes) != 1 || string(p1[0].PartnerStrokes[0]) != string(stroke(9, 9)) {
		t.Fatalf("p1 got wrong partner strokes: %s", p1[0].PartnerStrokes)
	}
	if len(p2[0].PartnerStrokes) != 1 || string(p2[0].PartnerStrokes[0]) != string(stroke(1, 1)) {
		t.Fatalf("p2 got wrong partner strokes: %s", p2[0].PartnerStrokes)
	}

	fx, _ = s.Apply("p1", Command{Type: CmdRound1Done})
	if s.Round != 2 || ContainsEvent(fx.Deliveries, EvtRound2Start) {
		t.Fatalf("third round1_done re-fired the transition")
	}
}

func TestRound2StartWithoutPartnerSendsEmptyStrokes(t *testing.T) {
	s := seatedState("p1", "p2")
	_, _ = s.Apply("p2", Command{Type: CmdRound1Done})
	s.Leave("p2")

	fx, _ := s.Apply("p1", Command{Type: CmdRound1Done})
	got := deliveriesTo(fx.Deliveries, "p1")
	if len(got) != 1 || got[0].PartnerStrokes == nil || len(got[0].PartnerStrokes) != 0 {
		t.Fatalf("want empty non-nil partner strokes, got %+v", got)
	}
}

func TestCanvasFirstSnapshotWinsAndJobStartsOnce(t *testing.T) {
	s := seatedState("p1", "p2")

	fx, _ := s.Apply("p1", Command{Type: CmdRound1Done, Canvas: "first"})
	if fx.Inpaint == nil {
		t.Fatalf("expected inpaint request")
	}
	if fx.Inpaint.Canvas != "first" || fx.Inpaint.Complete != SideRight || fx.Inpaint.Prompt != s.Prompt {
		t.Fatalf("unexpected request: %+v", fx.Inpaint)
	}
	if s.Job.Status != JobRunning {
		t.Fatalf("want running job, got %v", s.Job.Status)
	}

	fx, _ = s.Apply("p2", Command{Type: CmdRound1Done, Canvas: "second"})
	if fx.Inpaint != nil {
		t.Fatalf("inpaint requested twice")
	}
	if s.Canvas != "first" {
		t.Fatalf("canvas overwritten: %q", s.Canvas)
	}
}

func TestOrientationIgnoresReporter(t *testing.T) {
	s := seatedState("p1", "p2")
	fx, _ := s.Apply("p2", Command{Type: CmdRound1Done, Canvas: "c"})
	if fx.Inpaint == nil || fx.Inpaint.Complete != SideRight {
		t.Fatalf("want right-half completion regardless of reporter, got %+v", fx.Inpaint)
	}
}

func TestGameOverBeforeJobCompletes(t *testing.T) {
	s := seatedState("p1", "p2")
	_, _ = s.Apply("p1", Command{Type: CmdRound1Done, Canvas: "c"})

	fx, _ := s.Apply("p2", Command{Type: CmdGameOver})
	if !s.Concluded || s.Phase() != PhaseConcluded {
		t.Fatalf("expected concluded")
	}
	for _, d := range fx.Deliveries {
		if d.Event.Type != EvtGameOver || d.Event.AICanvas != "" {
			t.Fatalf("want empty placeholder, got %+v", d)
		}
	}
	if len(fx.Deliveries) != 2 {
		t.Fatalf("want broadcast to both seats, got %d", len(fx.Deliveries))
	}

	ds := s.FinishJob("result", nil)
	if len(ds) != 2 || ds[0].Event.Type != EvtAIResultReady || ds[0].Event.AICanvas != "result" {
		t.Fatalf("unexpected follow-up: %+v", ds)
	}
}

func TestGameOverAfterJobCompletes(t *testing.T) {
	s := seatedState("p1", "p2")
	_, _ = s.Apply("p1", Command{Type: CmdRound1Done, Canvas: "c"})
	_ = s.FinishJob("result", nil)

	fx, _ := s.Apply("p1", Command{Type: CmdGameOver})
	if len(fx.Deliveries) != 2 || fx.Deliveries[0].Event.AICanvas != "result" {
		t.Fatalf("want ready payload in game_over, got %+v", fx.Deliveries)
	}
}

func TestFinishJobFailureUsesEmptyPayload(t *testing.T) {
	s := seatedState("p1", "p2")
	_, _ = s.Apply("p1", Command{Type: CmdRound1Done, Canvas: "c"})

	ds := s.FinishJob("ignored", errors.New("upstream 503"))
	if s.Job.Status != JobFailed || s.Job.Payload != "" {
		t.Fatalf("want failed job with empty payload, got %+v", s.Job)
	}
	if len(ds) != 2 || ds[0].Event.AICanvas != "" {
		t.Fatalf("unexpected deliveries: %+v", ds)
	}
	if again := s.FinishJob("late", nil); again != nil {
		t.Fatalf("terminal job transitioned twice")
	}
}

func TestFinishJobWithoutRunningJobIsIgnored(t *testing.T) {
	s := seatedState("p1")
	if ds := s.FinishJob("x", nil); ds != nil || s.Job.Status != JobNotStarted {
		t.Fatalf("job finished without starting: %+v", s.Job)
	}
}

func TestLeaveKeepsLogsAndReadiness(t *testing.T) {
	s := seatedState("p1", "p2")
	_, _ = s.Apply("p2", Command{Type: CmdStroke, Stroke: stroke(5, 5)})
	_, _ = s.Apply("p2", Command{Type: CmdRound1Done})

	s.Leave("p2")
	if s.SeatCount() != 1 || s.SeatIndex("p2") != -1 || s.SeatIndex("p1") != 0 {
		t.Fatalf("seat not removed: %v", s.Seats)
	}
	if s.ReadyCount != 1 || len(s.Strokes["p2"]) != 1 {
		t.Fatalf("leave touched readiness or logs: ready=%d strokes=%v", s.ReadyCount, s.Strokes)
	}
}

func TestLeaveKeepsRemainingSeatFixed(t *testing.T) {
	s := seatedState("p1", "p2")
	_, _ = s.Apply("p2", Command{Type: CmdStroke, Stroke: stroke(7, 7)})
	s.Leave("p1")

	idx, ds, err := s.Join("p3")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if init := ds[0].Event; idx != 0 || init.Side != SideLeft || init.SeatIndex != 0 {
		t.Fatalf("newcomer should take the freed left seat, got index %d init %+v", idx, init)
	}
	if s.SeatIndex("p2") != 1 {
		t.Fatalf("p2 moved to seat %d", s.SeatIndex("p2"))
	}

	fx, _ := s.Apply("p2", Command{Type: CmdStroke, Stroke: stroke(8, 8)})
	relay := deliveriesTo(fx.Deliveries, "p3")
	if len(relay) != 1 || relay[0].FromSide != SideRight {
		t.Fatalf("p2 stroke should come from the right: %+v", relay)
	}

	_, _ = s.Apply("p3", Command{Type: CmdRound1Done})
	fx, _ = s.Apply("p2", Command{Type: CmdRound1Done})
	p2 := deliveriesTo(fx.Deliveries, "p2")
	p3 := deliveriesTo(fx.Deliveries, "p3")
	if len(p2) != 1 || p2[0].NewSide != SideLeft || len(p2[0].PartnerStrokes) != 0 {
		t.Fatalf("p2 round2_start: %+v", p2)
	}
	if len(p3) != 1 || p3[0].NewSide != SideRight || len(p3[0].PartnerStrokes) != 2 {
		t.Fatalf("p3 round2_start: %+v", p3)
	}
}

func TestJoinRejectsEmptyParticipantID(t *testing.T) {
	s := seatedState("p1")
	if _, _, err := s.Join(""); !errors.Is(err, ErrNoParticipantID) {
		t.Fatalf("want ErrNoParticipantID, got %v", err)
	}
	if s.SeatCount() != 1 || s.SeatIndex("") != -1 {
		t.Fatalf("empty id took a seat: %v", s.Seats)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := seatedState("p1")
	_, _ = s.Apply("p1", Command{Type: CmdStroke, Stroke: stroke(1, 2)})
	c := s.Clone()
	_, _ = s.Apply("p1", Command{Type: CmdStroke, Stroke: stroke(3, 4)})
	if len(c.Strokes["p1"]) != 1 {
		t.Fatalf("clone shares stroke storage")
	}
}

func TestEndToEndScenario(t *testing.T) {
	s := NewState("a cat being the president")

	_, ds, _ := s.Join("p1")
	if e := ds[0].Event; e.Side != SideLeft || e.Round != 1 || e.SeatIndex != 0 {
		t.Fatalf("p1 init: %+v", e)
	}
	_, ds, _ = s.Join("p2")
	if e := ds[0].Event; e.Side != SideRight || e.Round != 1 || e.SeatIndex != 1 {
		t.Fatalf("p2 init: %+v", e)
	}

	sent := Stroke(`{"type":"stroke","x":1,"y":1}`)
	fx, _ := s.Apply("p1", Command{Type: CmdStroke, Stroke: sent})
	relay := deliveriesTo(fx.Deliveries, "p2")
	if len(relay) != 1 || relay[0].FromSide != SideLeft {
		t.Fatalf("p2 relay: %+v", relay)
	}
	var got, want map[string]any
	_ = json.Unmarshal(relay[0].Stroke, &got)
	_ = json.Unmarshal(sent, &want)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("relayed stroke %v, want %v", got, want)
	}

	inpaints := 0
	fx, _ = s.Apply("p1", Command{Type: CmdRound1Done, Canvas: "Y2FudmFz"})
	if fx.Inpaint != nil {
		inpaints++
	}
	fx, _ = s.Apply("p2", Command{Type: CmdRound1Done})
	if fx.Inpaint != nil {
		inpaints++
	}
	if inpaints != 1 {
		t.Fatalf("want exactly one inpaint start, got %d", inpaints)
	}
	if r := deliveriesTo(fx.Deliveries, "p1"); len(r) != 1 || r[0].NewSide != SideRight || len(r[0].PartnerStrokes) != 0 {
		t.Fatalf("p1 round2_start: %+v", r)
	}
	if r := deliveriesTo(fx.Deliveries, "p2"); len(r) != 1 || r[0].NewSide != SideLeft || len(r[0].PartnerStrokes) != 1 {
		t.Fatalf("p2 round2_start: %+v", r)
	}
}

func TestDerivePhase(t *testing.T) {
	cases := []struct {
		name  string
		setup State
		want  Phase
	}{
		{name: "fresh session", setup: NewState("x"), want: PhaseLobby},
		{name: "started", setup: State{Round: 1, Started: true}, want: PhaseRound1},
		{name: "second round", setup: State{Round: 2, Started: true}, want: PhaseRound2},
		{name: "concluded wins", setup: State{Round: 2, Concluded: true}, want: PhaseConcluded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DerivePhase(tc.setup); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPropertyAtMostTwoSeats(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOf(rapid.SampledFrom([]string{"a", "b", "c", "d", "e"})).Draw(t, "joins")
		s := NewState("x")
		distinct := map[string]bool{}
		for _, id := range ids {
			_, _, err := s.Join(id)
			if err == nil {
				distinct[id] = true
			} else if !errors.Is(err, ErrCapacityExceeded) {
				t.Fatalf("unexpected err: %v", err)
			}
		}
		if s.SeatCount() > MaxSeats || len(distinct) > MaxSeats {
			t.Fatalf("seats exceeded: %v", s.Seats)
		}
	})
}

func TestPropertyRelayPreservesSenderOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(t, "n")
		sender := rapid.SampledFrom([]string{"p1", "p2"}).Draw(t, "sender")
		partner := "p2"
		if sender == "p2" {
			partner = "p1"
		}
		s := seatedState("p1", "p2")

		var relayed []Stroke
		for i := 0; i < n; i++ {
			fx, err := s.Apply(sender, Command{Type: CmdStroke, Stroke: stroke(i, -i)})
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			for _, e := range deliveriesTo(fx.Deliveries, partner) {
				relayed = append(relayed, e.Stroke)
			}
		}
		if len(relayed) != n {
			t.Fatalf("want %d relays, got %d", n, len(relayed))
		}
		for i, st := range relayed {
			if string(st) != string(stroke(i, -i)) {
				t.Fatalf("relay %d out of order: %s", i, st)
			}
		}
	})
}

func TestPropertyInpaintStartsOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		canvases := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z0-9]{0,6}`), 1, 8).Draw(t, "canvases")
		s := seatedState("p1", "p2")
		starts := 0
		first := ""
		for i, c := range canvases {
			if first == "" {
				first = c
			}
			fx, _ := s.Apply([]string{"p1", "p2"}[i%2], Command{Type: CmdRound1Done, Canvas: c})
			if fx.Inpaint != nil {
				starts++
			}
		}
		if first == "" && starts != 0 || first != "" && starts != 1 {
			t.Fatalf("starts=%d for canvases %q", starts, canvases)
		}
		if s.Canvas != first {
			t.Fatalf("stored canvas %q, want %q", s.Canvas, first)
		}
	})
}
