// Package protocol implements the client sync wire format.
//
// Every message is one JSON object followed by a single '\n'. encoding/json
// never emits a raw newline, so the delimiter cannot occur inside a frame.
//
//	{"MsgType":"SYNC","ClientGuid":"A"}
//	{"MsgType":"SYNC","ClientGuid":"","Clients":[{"ClientGuid":"A"}]}
//	{"MsgType":"PING","ClientGuid":"A"}
//
// Reads off a stream may carry any number of frames, including a partial
// trailing one. Decode and Decoder keep that remainder for the next read.
package protocol
