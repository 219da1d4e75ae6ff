package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Encode serializes m and appends the frame delimiter.
//
// Key order is MsgType, ClientGuid, Clients (only when non-nil), then the
// remaining state keys sorted. State keys that collide with a wire key are
// dropped.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')
	if err := writeField(&buf, KeyMsgType, string(m.MsgType), false); err != nil {
		return nil, err
	}
	if err := writeField(&buf, KeyClientGUID, m.ClientGUID, true); err != nil {
		return nil, err
	}
	if m.Clients != nil {
		buf.WriteByte(',')
		if err := writeKey(&buf, KeyClients); err != nil {
			return nil, err
		}
		buf.WriteByte('[')
		for i, c := range m.Clients {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeClient(&buf, c); err != nil {
				return nil, fmt.Errorf("encode client %q: %w", c.ClientGUID, err)
			}
		}
		buf.WriteByte(']')
	}
	if err := writeState(&buf, m.State, true, KeyMsgType, KeyClientGUID, KeyClients); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	buf.WriteByte(Delimiter)

	return buf.Bytes(), nil
}

// Decode extracts the next frame from buf.
//
// It returns the message and the unconsumed remainder. With no delimiter in
// buf it returns ErrIncomplete and buf unchanged. A frame that does not parse
// yields a *DecodeError together with the remainder after that frame, so the
// caller can drop it and continue. Blank frames are skipped.
func Decode(buf []byte) (Message, []byte, error) {
	for {
		i := bytes.IndexByte(buf, Delimiter)
		if i < 0 {
			return Message{}, buf, ErrIncomplete
		}
		frame, rest := buf[:i], buf[i+1:]
		frame = bytes.TrimSuffix(frame, []byte{'\r'})

		if len(bytes.TrimSpace(frame)) == 0 {
			buf = rest
			continue
		}

		msg, err := parseFrame(frame)
		if err != nil {
			return Message{}, rest, &DecodeError{Frame: bytes.Clone(frame), Err: err}
		}
		return msg, rest, nil
	}
}

// Decoder accumulates stream reads and yields complete messages.
// It is not safe for concurrent use; each session owns one.
type Decoder struct {
	buf      []byte
	maxFrame int
}

// NewDecoder returns a Decoder that rejects frames longer than maxFrame
// bytes. maxFrame <= 0 disables the limit.
func NewDecoder(maxFrame int) *Decoder {
	return &Decoder{maxFrame: maxFrame}
}

// Feed appends bytes read from the stream.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete message.
//
// ErrIncomplete means more bytes are needed. A *DecodeError means one frame
// was discarded and Next may be called again. ErrFrameTooLarge is terminal:
// the stream can no longer be framed reliably.
func (d *Decoder) Next() (Message, error) {
	if d.maxFrame > 0 {
		end := bytes.IndexByte(d.buf, Delimiter)
		if (end < 0 && len(d.buf) > d.maxFrame) || end > d.maxFrame {
			return Message{}, ErrFrameTooLarge
		}
	}

	msg, rest, err := Decode(d.buf)

	// Shift the remainder to the front so the backing array is reused.
	d.buf = append(d.buf[:0], rest...)
	return msg, err
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// parseFrame decodes one frame without its delimiter.
func parseFrame(frame []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return Message{}, err
	}
	if fields == nil {
		return Message{}, errors.New("frame is not a JSON object")
	}

	var msg Message

	var msgType string
	if err := takeString(fields, KeyMsgType, &msgType); err != nil {
		return Message{}, err
	}
	msg.MsgType = MsgType(msgType)

	if err := takeString(fields, KeyClientGUID, &msg.ClientGUID); err != nil {
		return Message{}, err
	}

	if raw, ok := fields[KeyClients]; ok {
		delete(fields, KeyClients)
		if !isNull(raw) {
			clients := []ClientInfo{}
			if err := json.Unmarshal(raw, &clients); err != nil {
				return Message{}, fmt.Errorf("%s: %w", KeyClients, err)
			}
			msg.Clients = clients
		}
	}

	if len(fields) > 0 {
		msg.State = fields
	}
	return msg, nil
}

// MarshalJSON encodes the entry as a flat object with ClientGuid first.
func (c ClientInfo) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeClient(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON splits a flat roster object into ClientGuid and state.
func (c *ClientInfo) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("roster entry is not a JSON object")
	}

	var info ClientInfo
	if err := takeString(fields, KeyClientGUID, &info.ClientGUID); err != nil {
		return err
	}
	if len(fields) > 0 {
		info.State = fields
	}
	*c = info
	return nil
}

// takeString removes key from fields and decodes it into dst.
// A missing key or JSON null leaves dst empty.
func takeString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	if isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func writeClient(buf *bytes.Buffer, c ClientInfo) error {
	buf.WriteByte('{')
	if err := writeField(buf, KeyClientGUID, c.ClientGUID, false); err != nil {
		return err
	}
	if err := writeState(buf, c.State, true, KeyClientGUID); err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

func writeState(buf *bytes.Buffer, state map[string]json.RawMessage, comma bool, reserved ...string) error {
	for _, k := range slices.Sorted(maps.Keys(state)) {
		if slices.Contains(reserved, k) {
			continue
		}
		if comma {
			buf.WriteByte(',')
		}
		comma = true
		if err := writeKey(buf, k); err != nil {
			return err
		}
		raw := state[k]
		if len(raw) == 0 {
			buf.WriteString("null")
			continue
		}
		// Compact validates the value and strips any newlines between tokens.
		if err := json.Compact(buf, raw); err != nil {
			return fmt.Errorf("state field %q: %w", k, err)
		}
	}
	return nil
}

func writeField(buf *bytes.Buffer, key, value string, comma bool) error {
	if comma {
		buf.WriteByte(',')
	}
	if err := writeKey(buf, key); err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(v)
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}
