// Package api wires the HTTP routes.
//
// The HTTP surface is thin: room creation and lookup, the join QR code, the
// game catalogue and the websocket endpoint that carries everything else.
package api
