package types

// HTTP
// GET  /create_server      -> 200 { join_code: "NNNNNN" }
// POST /sessions           -> 201 { join_code: "NNNNNN" }
// GET  /start_game/{code}  -> 200 { status: "started" } | 404 { error: "Session not found" }
// GET  /healthz, GET /metrics
//
// GameRecord (archive table game_records, one row per concluded game;
// unique on (code, concluded_at) since codes repeat across restarts):
//   id: number
//   code: string
//   prompt: string
//   strokes: { [participant_id]: object[] }
//   ai_canvas: string
//   concluded_at: timestamp
