// Package protocol defines the JSON messages exchanged with browser terminals
// and the WebSocket close codes the bridge uses.
package protocol

import (
	"encoding/json"
	"errors"
)

// Message types, client to server.
const (
	TypeInput   = "input"
	TypeExecute = "execute"
	TypeResize  = "resize"
	TypePing    = "ping"
)

// Message types, server to client.
const (
	TypeSession = "session"
	TypeOutput  = "output"
	TypeError   = "error"
	TypeExit    = "exit"
	TypePong    = "pong"
)

// Error codes carried in TypeError messages.
const (
	ErrCodeBlocked     = "dangerous_command"
	ErrCodeCrashed     = "process_crashed"
	ErrCodeSpawnFailed = "spawn_failed"
	ErrCodeBadMessage  = "bad_message"
	ErrCodeWriteFailed = "write_failed"
)

// Close codes. 1000/1001 are the standard normal/going-away codes; the 4xxx
// range is application defined.
const (
	CloseSessionEnded     = 1000
	CloseServerShutdown   = 1001
	CloseReplaced         = 4001
	CloseSlowConsumer     = 4008
	CloseRateLimited      = 4029
	CloseMalformed        = 4400
	CloseUnauthorized     = 4401
	CloseUnknownRunspace  = 4404
	CloseRunspaceMismatch = 4409
	CloseSpawnFailed      = 4500
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Command string `json:"command,omitempty"`
	Cols    uint16 `json:"cols,omitempty"`
	Rows    uint16 `json:"rows,omitempty"`
}

// ServerMessage is a frame sent to the browser.
type ServerMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	Code       string `json:"code,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	RunspaceID string `json:"runspaceId,omitempty"`
	Resumed    bool   `json:"resumed,omitempty"`
	ExitCode   *int   `json:"exitCode,omitempty"`
}

var ErrUnknownType = errors.New("unknown message type")

// DecodeClient parses and validates a client frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, err
	}
	switch msg.Type {
	case TypeInput, TypeExecute, TypeResize, TypePing:
		return msg, nil
	default:
		return msg, ErrUnknownType
	}
}

// Output builds an output frame.
func Output(data []byte) ServerMessage {
	return ServerMessage{Type: TypeOutput, Data: string(data)}
}

// Error builds an error frame.
func Error(code, text string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Data: text}
}

// Exit builds an exit frame.
func Exit(code int) ServerMessage {
	return ServerMessage{Type: TypeExit, ExitCode: &code}
}
