package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

// Wire keys.
const (
	KeyMsgType    = "MsgType"
	KeyClientGUID = "ClientGuid"
	KeyClients    = "Clients"
)

// Errors
var (
	// ErrIncomplete means no delimiter has been buffered yet. It is not a
	// failure: the caller keeps the bytes and reads more.
	ErrIncomplete = errors.New("incomplete frame")

	// ErrFrameTooLarge means a single frame exceeded the decoder's limit.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// MsgType is the message kind tag.
type MsgType string

const (
	MsgPing MsgType = "PING"
	MsgSync MsgType = "SYNC"
)

// Known reports whether t is a message kind the server handles.
func (t MsgType) Known() bool {
	return t == MsgPing || t == MsgSync
}

// Message is a decoded wire message.
//
// Clients is nil when the roster is absent (every request) and non-nil,
// possibly empty, on SYNC replies. State holds any other top-level fields;
// a SYNC request's State becomes the client's record state.
type Message struct {
	MsgType    MsgType
	ClientGUID string
	Clients    []ClientInfo
	State      map[string]json.RawMessage
}

// ClientInfo is one roster entry: the client identifier plus its opaque state.
type ClientInfo struct {
	ClientGUID string
	State      map[string]json.RawMessage
}

// DecodeError reports a delimited frame that is not a valid message.
// The frame has already been consumed from the buffer.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
