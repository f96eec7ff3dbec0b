// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the game socket.
const (
	BadSubprotocolError websocket.StatusCode = 3000 // Client connected without the salvo subprotocol.
	ServerShutdownError websocket.StatusCode = 3001 // Server is shutting down; reconnect elsewhere.
)
