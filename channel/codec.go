package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/onionlab/relaysim/protocol"
)

// Codec encodes envelopes and their payloads for one connection. Both ends
// of a connection must agree on the codec; the coordinator fixes it per
// endpoint (msgpack for agents, JSON for viewers).
type Codec interface {
	Name() string

	// FrameType is the websocket message type the codec's frames use.
	FrameType() int

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON frames envelopes as text messages with inline JSON payloads. Used on
// viewer connections, which are browser-facing.
var JSON Codec = jsonCodec{}

// Msgpack frames envelopes as binary messages. Used on agent connections.
var Msgpack Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string                          { return "json" }
func (jsonCodec) FrameType() int                        { return websocket.TextMessage }
func (jsonCodec) Marshal(v any) ([]byte, error)         { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error    { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return "msgpack" }
func (msgpackCodec) FrameType() int                     { return websocket.BinaryMessage }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// Seal builds an envelope of the given type around a codec-encoded payload.
// A nil payload produces an envelope with no data, which is valid for types
// like Heartbeat and AnalyzeRequest.
func Seal[T any](c Codec, typ protocol.MessageType, payload *T) (*protocol.Envelope, error) {
	env := &protocol.Envelope{
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := c.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Data = data
	}
	return env, nil
}

// Open decodes an envelope's payload into the expected type.
func Open[T any](c Codec, env *protocol.Envelope) (*T, error) {
	var payload T
	if err := c.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return &payload, nil
}
