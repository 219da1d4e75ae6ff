package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func sampleMessages() map[string]Message {
	return map[string]Message{
		"ping": {MsgType: MsgPing, ClientGUID: "A"},
		"sync request": {MsgType: MsgSync, ClientGUID: "B"},
		"sync request with state": {
			MsgType:    MsgSync,
			ClientGUID: "C",
			State: map[string]json.RawMessage{
				"Name":   raw(`"Viper"`),
				"Radios": raw(`[{"freq":251000000,"modulation":0}]`),
			},
		},
		"sync reply": {
			MsgType: MsgSync,
			Clients: []ClientInfo{
				{ClientGUID: "A"},
				{ClientGUID: "B", State: map[string]json.RawMessage{"Coalition": raw(`2`)}},
			},
		},
		"sync reply empty roster": {MsgType: MsgSync, Clients: []ClientInfo{}},
		"unknown type":            {MsgType: "UPDATE", ClientGUID: "Z"},
		"escaped newline in state": {
			MsgType:    MsgSync,
			ClientGUID: "D",
			State:      map[string]json.RawMessage{"Note": raw(`"line1\nline2"`)},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for name, m := range sampleMessages() {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(m)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			got, rest, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(rest) != 0 {
				t.Errorf("rest = %q, want empty", rest)
			}
			if diff := cmp.Diff(m, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_SingleTrailingDelimiter(t *testing.T) {
	for name, m := range sampleMessages() {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("%s: Encode failed: %v", name, err)
		}
		if n := bytes.Count(data, []byte{Delimiter}); n != 1 {
			t.Errorf("%s: %d delimiters in %q, want 1", name, n, data)
		}
		if data[len(data)-1] != Delimiter {
			t.Errorf("%s: encoding does not end with delimiter: %q", name, data)
		}
	}
}

func TestEncode_WireShape(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "sync request has no Clients",
			msg:  Message{MsgType: MsgSync, ClientGUID: "A"},
			want: `{"MsgType":"SYNC","ClientGuid":"A"}` + "\n",
		},
		{
			name: "sync reply carries empty ClientGuid and roster",
			msg:  Message{MsgType: MsgSync, Clients: []ClientInfo{{ClientGUID: "A"}}},
			want: `{"MsgType":"SYNC","ClientGuid":"","Clients":[{"ClientGuid":"A"}]}` + "\n",
		},
		{
			name: "empty roster is distinguishable from absent",
			msg:  Message{MsgType: MsgSync, Clients: []ClientInfo{}},
			want: `{"MsgType":"SYNC","ClientGuid":"","Clients":[]}` + "\n",
		},
		{
			name: "state keys sorted and compacted",
			msg: Message{MsgType: MsgSync, ClientGUID: "A", State: map[string]json.RawMessage{
				"b": raw("{ \"x\" :\n 1 }"),
				"a": raw(`true`),
			}},
			want: `{"MsgType":"SYNC","ClientGuid":"A","a":true,"b":{"x":1}}` + "\n",
		},
		{
			name: "reserved state keys dropped",
			msg: Message{MsgType: MsgPing, ClientGUID: "A", State: map[string]json.RawMessage{
				"MsgType": raw(`"SYNC"`),
			}},
			want: `{"MsgType":"PING","ClientGuid":"A"}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncode_InvalidState(t *testing.T) {
	_, err := Encode(Message{MsgType: MsgSync, ClientGUID: "A", State: map[string]json.RawMessage{
		"bad": raw(`{not json`),
	}})
	if err == nil {
		t.Fatal("expected error for invalid raw state")
	}
}

func TestDecode_Incomplete(t *testing.T) {
	buf := []byte(`{"MsgType":"PING","Client`)

	_, rest, err := Decode(buf)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
	if !bytes.Equal(rest, buf) {
		t.Errorf("rest = %q, want input unchanged", rest)
	}
}

func TestDecode_SplitAtEveryBoundary(t *testing.T) {
	m := sampleMessages()["sync reply"]
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for i := 0; i <= len(data); i++ {
		d := NewDecoder(0)

		d.Feed(data[:i])
		if i < len(data) {
			if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
				t.Fatalf("split %d: first Next err = %v, want ErrIncomplete", i, err)
			}
		}

		d.Feed(data[i:])
		got, err := d.Next()
		if err != nil {
			t.Fatalf("split %d: Next failed: %v", i, err)
		}
		if diff := cmp.Diff(m, got); diff != "" {
			t.Fatalf("split %d: mismatch (-want +got):\n%s", i, diff)
		}
		if d.Buffered() != 0 {
			t.Errorf("split %d: Buffered() = %d, want 0", i, d.Buffered())
		}
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	var stream []byte
	want := []Message{
		{MsgType: MsgSync, ClientGUID: "A"},
		{MsgType: MsgPing, ClientGUID: "A"},
		{MsgType: MsgPing, ClientGUID: "B"},
	}
	for _, m := range want {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		stream = append(stream, data...)
	}

	d := NewDecoder(0)
	var got []Message
	for _, b := range stream {
		d.Feed([]byte{b})
		for {
			msg, err := d.Next()
			if errors.Is(err, ErrIncomplete) {
				break
			}
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			got = append(got, msg)
		}
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoder_SeveralFramesAndPartialTail(t *testing.T) {
	d := NewDecoder(0)
	d.Feed([]byte(`{"MsgType":"PING","ClientGuid":"A"}` + "\n" +
		`{"MsgType":"PING","ClientGuid":"B"}` + "\n" +
		`{"MsgType":"SYNC","Clie`))

	for _, want := range []string{"A", "B"} {
		msg, err := d.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if msg.ClientGUID != want {
			t.Errorf("ClientGUID = %q, want %q", msg.ClientGUID, want)
		}
	}

	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
	if d.Buffered() != len(`{"MsgType":"SYNC","Clie`) {
		t.Errorf("Buffered() = %d, want partial tail retained", d.Buffered())
	}

	d.Feed([]byte(`ntGuid":"C"}` + "\n"))
	msg, err := d.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if msg.MsgType != MsgSync || msg.ClientGUID != "C" {
		t.Errorf("msg = %+v, want SYNC from C", msg)
	}
}

func TestDecoder_DecodeErrorDiscardsOnlyThatFrame(t *testing.T) {
	d := NewDecoder(0)
	d.Feed([]byte("not json\n" +
		`{"MsgType":"PING","ClientGuid":42}` + "\n" +
		`[1,2,3]` + "\n" +
		`{"MsgType":"PING","ClientGuid":"A"}` + "\n"))

	for i := 0; i < 3; i++ {
		_, err := d.Next()
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Fatalf("frame %d: err = %v, want *DecodeError", i, err)
		}
		if len(decErr.Frame) == 0 {
			t.Errorf("frame %d: DecodeError.Frame is empty", i)
		}
	}

	msg, err := d.Next()
	if err != nil {
		t.Fatalf("Next after errors failed: %v", err)
	}
	if msg.ClientGUID != "A" {
		t.Errorf("ClientGUID = %q, want A", msg.ClientGUID)
	}
}

func TestDecode_CRLFAndBlankLines(t *testing.T) {
	buf := []byte("\n\r\n" + `{"MsgType":"PING","ClientGuid":"A"}` + "\r\n")

	msg, rest, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.MsgType != MsgPing || msg.ClientGUID != "A" {
		t.Errorf("msg = %+v, want PING from A", msg)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q, want empty", rest)
	}
}

func TestDecode_NullFields(t *testing.T) {
	msg, _, err := Decode([]byte(`{"MsgType":"SYNC","ClientGuid":null,"Clients":null}` + "\n"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.ClientGUID != "" {
		t.Errorf("ClientGUID = %q, want empty", msg.ClientGUID)
	}
	if msg.Clients != nil {
		t.Errorf("Clients = %v, want nil (absent)", msg.Clients)
	}
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	msg, _, err := Decode([]byte(`{"MsgType":"RADIO_UPDATE","ClientGuid":"A"}` + "\n"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.MsgType.Known() {
		t.Errorf("MsgType %q reported as known", msg.MsgType)
	}
}

func TestDecoder_FrameTooLarge(t *testing.T) {
	t.Run("unterminated", func(t *testing.T) {
		d := NewDecoder(16)
		d.Feed([]byte(strings.Repeat("x", 17)))
		if _, err := d.Next(); !errors.Is(err, ErrFrameTooLarge) {
			t.Errorf("err = %v, want ErrFrameTooLarge", err)
		}
	})

	t.Run("terminated", func(t *testing.T) {
		d := NewDecoder(16)
		d.Feed([]byte(`{"MsgType":"PING","ClientGuid":"A"}` + "\n"))
		if _, err := d.Next(); !errors.Is(err, ErrFrameTooLarge) {
			t.Errorf("err = %v, want ErrFrameTooLarge", err)
		}
	})

	t.Run("within limit", func(t *testing.T) {
		d := NewDecoder(64)
		d.Feed([]byte(`{"MsgType":"PING","ClientGuid":"A"}` + "\n"))
		if _, err := d.Next(); err != nil {
			t.Errorf("Next failed: %v", err)
		}
	})
}

func TestClientInfo_JSON(t *testing.T) {
	in := ClientInfo{ClientGUID: "A", State: map[string]json.RawMessage{"Name": raw(`"Viper"`)}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"ClientGuid":"A","Name":"Viper"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var out ClientInfo
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
