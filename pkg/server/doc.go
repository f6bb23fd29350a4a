// Package server exposes a room registry over HTTP and WebSocket.
//
// Each WebSocket connection joins one room. A connection runs two
// goroutines:
//
//   - ReadLoop decodes request frames and hands them to the registry
//   - WriteLoop drains the member outbox and sends heartbeat pings
//
// WriteLoop is the only writer on the socket. Replies produced by the read
// side (pongs, decode errors) are queued on a small control channel.
//
// Routes:
//
//	GET /ws/{roomID}?producer=<id>   WebSocket upgrade
//	GET /rooms                       JSON room list
//	GET /rooms/{roomID}              JSON snapshot, or ?format=frame for a binary snapshot frame
//	GET /rooms/{roomID}/members      JSON member list
//	GET /rooms/{roomID}/canvas.svg   SVG render of the visible canvas
//	GET /healthz                     liveness
//	GET /metrics                     Prometheus exposition
package server
