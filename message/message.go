package message

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/c360/blinkrelay/errors"
)

// Type is the value of the "type" field.
type Type string

// Message types sent to subscribers.
const (
	TypeHello  Type = "hello"
	TypeBlink  Type = "blink"
	TypeSample Type = "sample"
)

// Message is implemented by every outbound message.
type Message interface {
	MessageType() Type
	Validate() error
}

// Float is a float64 that encodes NaN and infinities as JSON null.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler. null decodes as NaN.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Hello greets a subscriber once, as its first message.
type Hello struct {
	Type Type  `json:"type"`
	Time int64 `json:"time"`
}

// NewHello creates a greeting stamped with nowMs.
func NewHello(nowMs int64) Hello {
	return Hello{Type: TypeHello, Time: nowMs}
}

// MessageType implements Message.
func (h Hello) MessageType() Type { return TypeHello }

// Validate implements Message.
func (h Hello) Validate() error {
	if h.Time < 0 {
		return fmt.Errorf("%w: hello time is negative", errors.ErrInvalidData)
	}
	return nil
}

// Blink is an accepted, sequenced trigger.
type Blink struct {
	Type            Type   `json:"type"`
	Seq             int64  `json:"seq"`
	ProxyTimestamp  int64  `json:"t_proxy"`
	SourceTimestamp *int64 `json:"t_arduino"`
	Value           Float  `json:"value"`
}

// NewBlink creates a blink event. source may be nil.
func NewBlink(seq, proxyMs int64, source *int64, value float64) Blink {
	return Blink{
		Type:            TypeBlink,
		Seq:             seq,
		ProxyTimestamp:  proxyMs,
		SourceTimestamp: source,
		Value:           Float(value),
	}
}

// MessageType implements Message.
func (b Blink) MessageType() Type { return TypeBlink }

// Validate implements Message.
func (b Blink) Validate() error {
	if b.Seq < 1 {
		return fmt.Errorf("%w: blink seq must start at 1, got %d", errors.ErrInvalidData, b.Seq)
	}
	if b.ProxyTimestamp < 0 {
		return fmt.Errorf("%w: blink t_proxy is negative", errors.ErrInvalidData)
	}
	return nil
}

// Sample is a raw non-trigger reading, forwarded only when enabled.
type Sample struct {
	Type           Type  `json:"type"`
	ProxyTimestamp int64 `json:"t_proxy"`
	Value          Float `json:"value"`
	Peak           int64 `json:"peak"`
}

// NewSample creates a raw sample message.
func NewSample(proxyMs int64, value float64, peak int64) Sample {
	return Sample{Type: TypeSample, ProxyTimestamp: proxyMs, Value: Float(value), Peak: peak}
}

// MessageType implements Message.
func (s Sample) MessageType() Type { return TypeSample }

// Validate implements Message.
func (s Sample) Validate() error {
	if s.ProxyTimestamp < 0 {
		return fmt.Errorf("%w: sample t_proxy is negative", errors.ErrInvalidData)
	}
	return nil
}

// Encode validates msg and serializes it.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "message", "Encode", "validate "+string(msg.MessageType()))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "message", "Encode", "marshal "+string(msg.MessageType()))
	}
	return data, nil
}

// Envelope is used to read the type of an inbound frame before decoding it.
type Envelope struct {
	Type Type `json:"type"`
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(err, "message", "Decode", "read envelope")
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeHello:
		var h Hello
		err = json.Unmarshal(data, &h)
		msg = h
	case TypeBlink:
		var b Blink
		err = json.Unmarshal(data, &b)
		msg = b
	case TypeSample:
		var s Sample
		err = json.Unmarshal(data, &s)
		msg = s
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown type %q", errors.ErrInvalidData, env.Type),
			"message", "Decode", "dispatch")
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "Decode", "decode "+string(env.Type))
	}
	return msg, nil
}
