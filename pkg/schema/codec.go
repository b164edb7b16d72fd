package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes State snapshots for the publish channel.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(State) ([]byte, error)
	Unmarshal([]byte) (State, error)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName resolves a configured codec name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s (supported: json, msgpack)", name)
	}
}

// CodecForContentType picks the codec matching a message content type.
// Messages without a content type are assumed to be JSON.
func CodecForContentType(contentType string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "", JSON.ContentType():
		return JSON, nil
	case MsgPack.ContentType():
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(s State) ([]byte, error) { return json.Marshal(s) }

func (jsonCodec) Unmarshal(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode json state: %w", err)
	}
	return s, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string        { return "msgpack" }
func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (msgpackCodec) Marshal(s State) ([]byte, error) { return msgpack.Marshal(s) }

func (msgpackCodec) Unmarshal(data []byte) (State, error) {
	var s State
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode msgpack state: %w", err)
	}
	return s, nil
}
