package runtime

import (
	"bytes"
	"errors"
	"fmt"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	jsoncodec "github.com/drblury/protorelay/internal/runtime/jsoncodec"
)

// ReplyPrefix is the channel prefix replies are published under.
const ReplyPrefix = "REPLY"

// ReplyChannel returns the channel a reply to nonce is published on.
func ReplyChannel(nonce string) string {
	return ReplyPrefix + TopicSeparator + nonce
}

var emptyObject = jsoncodec.RawMessage(`{}`)

// Envelope is a decoded inbound message.
type Envelope struct {
	Nonce string
	Data  jsoncodec.RawMessage
}

// ReplyEnvelope is the wire form of a reply.
type ReplyEnvelope struct {
	Nonce     string `json:"nonce"`
	Data      any    `json:"data"`
	ClusterID string `json:"cluster_id"`
}

// RequestEnvelope is the wire form of a request.
type RequestEnvelope struct {
	Nonce string `json:"nonce"`
	Data  any    `json:"data"`
}

// DecodeEnvelope parses an inbound body. A missing nonce decodes as "" and
// missing or null data as an empty object. Anything that is not a JSON
// object, or carries a non-string nonce, is a *MalformedMessageError.
func DecodeEnvelope(channel string, body []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &errspkg.MalformedMessageError{Channel: channel, Err: errors.New("body is not a JSON object")}
	}

	var fields map[string]jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(trimmed, &fields); err != nil {
		return Envelope{}, &errspkg.MalformedMessageError{Channel: channel, Err: err}
	}

	env := Envelope{Data: emptyObject}
	if raw, ok := fields["nonce"]; ok && !isNull(raw) {
		if err := jsoncodec.Unmarshal(raw, &env.Nonce); err != nil {
			return Envelope{}, &errspkg.MalformedMessageError{Channel: channel, Err: fmt.Errorf("nonce must be a string: %w", err)}
		}
	}
	if raw, ok := fields["data"]; ok && !isNull(raw) {
		env.Data = raw
	}
	return env, nil
}

func isNull(raw jsoncodec.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// PayloadKind tells whether request data was decoded into an endpoint type.
type PayloadKind int

const (
	// RawPayload holds the generic decoded JSON value.
	RawPayload PayloadKind = iota
	// TypedPayload holds the value produced by PayloadShaper.NewPayload.
	TypedPayload
)

func (k PayloadKind) String() string {
	if k == TypedPayload {
		return "typed"
	}
	return "raw"
}

// Payload is request data resolved once, at dispatch.
type Payload struct {
	Kind  PayloadKind
	Raw   jsoncodec.RawMessage
	Value any
}

// Decode unmarshals the raw data into v.
func (p Payload) Decode(v any) error {
	raw := p.Raw
	if len(raw) == 0 {
		raw = emptyObject
	}
	return jsoncodec.Unmarshal(raw, v)
}

// Map returns the value as a JSON object, or false when it is not one.
func (p Payload) Map() (map[string]any, bool) {
	m, ok := p.Value.(map[string]any)
	return m, ok
}

// ResolvePayload decodes data into the endpoint's payload type when it
// implements PayloadShaper, and into a generic value otherwise. Coercion
// failures are *MalformedMessageError.
func ResolvePayload(ep Endpoint, channel string, data jsoncodec.RawMessage) (Payload, error) {
	if len(data) == 0 {
		data = emptyObject
	}
	if shaper, ok := ep.(PayloadShaper); ok {
		if target := shaper.NewPayload(); target != nil {
			if err := jsoncodec.Unmarshal(data, target); err != nil {
				return Payload{}, &errspkg.MalformedMessageError{Channel: channel, Err: fmt.Errorf("decode %T: %w", target, err)}
			}
			return Payload{Kind: TypedPayload, Raw: data, Value: target}, nil
		}
	}

	var value any
	if err := jsoncodec.Unmarshal(data, &value); err != nil {
		return Payload{}, &errspkg.MalformedMessageError{Channel: channel, Err: err}
	}
	return Payload{Kind: RawPayload, Raw: data, Value: value}, nil
}

// EncodeReply serializes a reply envelope. Values that cannot be encoded
// yield an *EncodingError carrying the value.
func EncodeReply(nonce string, data any, clusterID string) ([]byte, error) {
	body, err := jsoncodec.Marshal(ReplyEnvelope{Nonce: nonce, Data: data, ClusterID: clusterID})
	if err != nil {
		return nil, &errspkg.EncodingError{Value: data, Err: err}
	}
	return body, nil
}

// EncodeRequest serializes a request envelope.
func EncodeRequest(nonce string, data any) ([]byte, error) {
	if data == nil {
		data = emptyObject
	}
	body, err := jsoncodec.Marshal(RequestEnvelope{Nonce: nonce, Data: data})
	if err != nil {
		return nil, &errspkg.EncodingError{Value: data, Err: err}
	}
	return body, nil
}

// DecodeReply parses a reply body published on a reply channel.
func DecodeReply(channel string, body []byte) (Reply, error) {
	var wire struct {
		Nonce     string               `json:"nonce"`
		Data      jsoncodec.RawMessage `json:"data"`
		ClusterID any                  `json:"cluster_id"`
	}
	if err := jsoncodec.Unmarshal(body, &wire); err != nil {
		return Reply{}, &errspkg.MalformedMessageError{Channel: channel, Err: err}
	}
	reply := Reply{Channel: channel, Nonce: wire.Nonce, Data: wire.Data}
	switch id := wire.ClusterID.(type) {
	case nil:
	case string:
		reply.ClusterID = id
	default:
		// Some nodes send numeric cluster ids.
		reply.ClusterID = fmt.Sprint(id)
	}
	if len(reply.Data) == 0 {
		reply.Data = emptyObject
	}
	return reply, nil
}

// Reply is a decoded reply as seen by a requester.
type Reply struct {
	Channel   string
	Nonce     string
	Data      jsoncodec.RawMessage
	ClusterID string
}

// Decode unmarshals the reply data into v.
func (r Reply) Decode(v any) error {
	return jsoncodec.Unmarshal(r.Data, v)
}
