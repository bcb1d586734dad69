package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is a decoded envelope whose payload has not been parsed yet.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// Codec turns envelopes into websocket frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames must be sent as websocket binary messages.
	Binary() bool
	Encode(t MessageType, payload any) ([]byte, error)
	Decode(data []byte) (Frame, error)
	DecodePayload(f Frame, v any) error
}

// CodecByName returns the codec registered under name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// JSONCodec is the default text codec.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(t MessageType, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: t, Payload: payload})
}

func (JSONCodec) Decode(data []byte) (Frame, error) {
	var env struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}
	if env.Type == "" {
		return Frame{}, fmt.Errorf("envelope: %w %q", ErrMissingField, "type")
	}
	return Frame{Type: env.Type, Payload: env.Payload}, nil
}

func (JSONCodec) DecodePayload(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// MsgpackCodec is a binary codec. It reads the json struct tags so the same
// types serve both codecs.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(t MessageType, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	err := enc.Encode(struct {
		Type    MessageType `json:"type"`
		Payload any         `json:"payload"`
	}{t, payload})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (Frame, error) {
	var env struct {
		Type    MessageType        `json:"type"`
		Payload msgpack.RawMessage `json:"payload"`
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&env); err != nil {
		return Frame{}, err
	}
	if env.Type == "" {
		return Frame{}, fmt.Errorf("envelope: %w %q", ErrMissingField, "type")
	}
	return Frame{Type: env.Type, Payload: env.Payload}, nil
}

func (MsgpackCodec) DecodePayload(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(f.Payload))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
