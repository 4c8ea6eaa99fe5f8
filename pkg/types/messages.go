package types

// Client -> Server (websocket /ws/{join_code}/{participant_id})
// stroke:
//   any extra fields; the whole frame is logged and relayed verbatim
//
// round1_done:
//   canvas_b64?: string // base64 PNG of the round-1 canvas
//
// game_over: {}

// Server -> Client
// init:
//   side: "left" | "right"
//   prompt: string
//   round: number
//   player_index: 0 | 1
//
// game_start: {}
//
// partner_stroke:
//   stroke: object // the partner's stroke frame
//   from_side: "left" | "right"
//
// round2_start:
//   partner_strokes: object[] // partner's full round-1 log, possibly empty
//   your_new_side: "left" | "right"
//
// game_over:
//   ai_canvas: string // "" until the completion is done
//
// ai_result_ready:
//   ai_canvas: string // "" when the completion failed
//
// A third participant is closed with status 1008 "session full".
// An unknown join code is answered 404 before the upgrade.
