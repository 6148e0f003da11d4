// Package middleware holds gin middleware shared by every route.
//
// Request logging lives here. The server has no accounts, so there is no
// authentication middleware: players are identified per device over the
// websocket.
package middleware
