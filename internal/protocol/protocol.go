// Package protocol defines the WebSocket wire protocol between the browser
// terminal and the bridge. Control messages travel as JSON text frames;
// terminal data in both directions travels as raw binary frames.
package protocol

import "github.com/coder/websocket"

// Server frame types.
const (
	TypeSessionID = "session-id"
	TypeError     = "error"
	TypeExit      = "exit"
	TypePong      = "pong"
)

// Client frame types.
const (
	TypeResize = "resize"
	TypePing   = "ping"
)

// Error codes carried in error frames.
const (
	CodeAuthFailed    = "auth-failed"
	CodeCapacity      = "capacity"
	CodeNotFound      = "not-found"
	CodeStartupFailed = "startup-failed"
	CodeBadHandshake  = "bad-handshake"
)

// Close codes. 4xxx codes are bridge-specific so clients can distinguish a
// policy-rejected handshake from a server-initiated eviction.
const (
	CloseBadHandshake    websocket.StatusCode = 4400
	CloseAuthFailed      websocket.StatusCode = 4401
	CloseEvicted         websocket.StatusCode = 4408
	CloseAlreadyAttached websocket.StatusCode = 4409
	CloseCapacity        websocket.StatusCode = 4429
	CloseInternal        websocket.StatusCode = 4500
)

// Handshake is the first frame a client sends after connecting.
type Handshake struct {
	APIKey      string `json:"apiKey,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
}

// ClientFrame is any post-handshake JSON control frame from the client.
type ClientFrame struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// ServerFrame is any JSON control frame sent to the client.
type ServerFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func SessionIDFrame(id string) ServerFrame {
	return ServerFrame{Type: TypeSessionID, ID: id}
}

func ErrorFrame(code, message string) ServerFrame {
	return ServerFrame{Type: TypeError, Code: code, Message: message}
}

func ExitFrame(exitCode *int, reason string) ServerFrame {
	return ServerFrame{Type: TypeExit, ExitCode: exitCode, Reason: reason}
}
