package pcminfo

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Buffer and command limits shared by the client and the server.
const (
	// HandshakeBufferSize bounds the first read on a new connection, before
	// the daemon has told us its max_output_len.
	HandshakeBufferSize = 1024

	// MaxInputLen is the largest request the daemon accepts. Longer requests
	// make it drop the connection.
	MaxInputLen = 1024

	// MaxCommandLen bounds a registered command name.
	MaxCommandLen = 64

	// DefaultMaxOutputLen is what Server advertises unless configured.
	DefaultMaxOutputLen = 16 * 1024

	// MaxOutputLimit is the largest max_output_len a hello may carry. Every
	// receive allocates a buffer of that size.
	MaxOutputLimit = 1 << 20
)

const (
	// ListCommand is the reserved request that enumerates daemon commands.
	ListCommand = "/"

	// InfoCommand returns pid, version and buffer limits of the daemon.
	InfoCommand = "/pcm/info"

	// QuitCommand ends a session locally and is never sent.
	QuitCommand = "quit"

	// ParamSeparator splits a request into command and parameters.
	ParamSeparator = ","
)

var (
	// ErrConnect wraps OS-level dial failures. It is recoverable: the caller
	// moves on to the next endpoint.
	ErrConnect = errors.New("connect failed")

	// ErrDecode is returned when a reply is not valid JSON.
	ErrDecode = errors.New("reply is not valid json")

	// ErrProtocol is returned when a reply parses but lacks a required key.
	ErrProtocol = errors.New("protocol violation")

	// ErrSessionClosed is returned for any use of a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrInputClosed is returned by the shell when its input reaches EOF.
	ErrInputClosed = errors.New("input closed")

	// ErrServerAlreadyRunning is returned by Server.Listen when another server
	// holds the socket lock.
	ErrServerAlreadyRunning = errors.New("server already running")
)

// Hello is the message a daemon sends unprompted right after accepting a
// connection.
type Hello struct {
	Version      string `json:"version,omitempty"`
	Pid          int    `json:"pid,omitempty"`
	MaxOutputLen int    `json:"max_output_len"`
}

// InfoReply is the payload of the /pcm/info command.
type InfoReply struct {
	Pid       int    `json:"pid"`
	Version   string `json:"version"`
	MaxBuffer int    `json:"maxbuffer"`
}

// ErrorReply is what the daemon sends for invalid commands.
type ErrorReply struct {
	Error string `json:"error"`
}

// decodeHello parses the handshake message. A missing max_output_len is a
// protocol violation.
func decodeHello(data []byte) (Hello, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return Hello{}, err
	}
	raw, ok := fields["max_output_len"]
	if !ok {
		return Hello{}, fmt.Errorf("%w: hello has no max_output_len", ErrProtocol)
	}
	var h Hello
	if err := json.Unmarshal(data, &h); err != nil {
		return Hello{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if h.MaxOutputLen <= 0 {
		return Hello{}, fmt.Errorf("%w: max_output_len must be positive, got %s", ErrProtocol, raw)
	}
	if h.MaxOutputLen > MaxOutputLimit {
		return Hello{}, fmt.Errorf("%w: max_output_len %d exceeds %d", ErrProtocol, h.MaxOutputLen, MaxOutputLimit)
	}
	return h, nil
}

// decodeCommandList parses the reply to ListCommand.
func decodeCommandList(data []byte) ([]string, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	raw, ok := fields[ListCommand]
	if !ok {
		return nil, fmt.Errorf("%w: command list has no %q key", ErrProtocol, ListCommand)
	}
	var cmds []string
	if err := json.Unmarshal(raw, &cmds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return cmds, nil
}

// decodeObject parses data as a JSON object. Invalid JSON is a decode
// failure; valid JSON of another shape is a protocol violation.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	if !json.Valid(data) {
		return nil, ErrDecode
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return fields, nil
}

// checkReply verifies that data holds a single JSON value.
func checkReply(data []byte) (json.RawMessage, error) {
	if !json.Valid(data) {
		return nil, ErrDecode
	}
	return json.RawMessage(data), nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Version is reported by the MCP server and the protocol server.
const Version = "0.1.0"
