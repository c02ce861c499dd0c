package message

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/blinkrelay/errors"
)

func int64Ptr(v int64) *int64 { return &v }

func TestEncode_Hello(t *testing.T) {
	data, err := Encode(NewHello(1700000000000))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello","time":1700000000000}`, string(data))
}

func TestEncode_BlinkWithSourceTimestamp(t *testing.T) {
	data, err := Encode(NewBlink(1, 1700000000350, int64Ptr(1001), 0.91))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"blink","seq":1,"t_proxy":1700000000350,"t_arduino":1001,"value":0.91}`,
		string(data))
}

func TestEncode_BlinkNullSourceTimestamp(t *testing.T) {
	data, err := Encode(NewBlink(2, 1700000000900, nil, 0.5))
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"blink","seq":2,"t_proxy":1700000000900,"t_arduino":null,"value":0.5}`,
		string(data))
}

func TestEncode_Sample(t *testing.T) {
	data, err := Encode(NewSample(1700000000400, 0.1, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sample","t_proxy":1700000000400,"value":0.1,"peak":0}`, string(data))
}

func TestEncode_NonFiniteValueIsNull(t *testing.T) {
	data, err := Encode(NewBlink(3, 1700000000000, nil, math.Inf(1)))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":null`)

	data, err = Encode(NewSample(1700000000000, math.NaN(), 2))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":null`)
}

func TestEncode_RejectsInvalid(t *testing.T) {
	_, err := Encode(NewBlink(0, 1700000000000, nil, 0.5))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Encode(NewHello(-1))
	assert.Error(t, err)

	_, err = Encode(NewSample(-1, 0.1, 0))
	assert.Error(t, err)
}

func TestEncode_EpochZeroTimestamps(t *testing.T) {
	data, err := Encode(NewBlink(1, 0, nil, 0.91))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"blink","seq":1,"t_proxy":0,"t_arduino":null,"value":0.91}`, string(data))

	_, err = Encode(NewHello(0))
	assert.NoError(t, err)
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"blink","seq":7,"t_proxy":5,"t_arduino":null,"value":0.88}`))
	require.NoError(t, err)

	b, ok := msg.(Blink)
	require.True(t, ok)
	assert.Equal(t, int64(7), b.Seq)
	assert.Nil(t, b.SourceTimestamp)
	assert.InDelta(t, 0.88, float64(b.Value), 1e-9)

	msg, err = Decode([]byte(`{"type":"hello","time":42}`))
	require.NoError(t, err)
	assert.Equal(t, TypeHello, msg.MessageType())

	_, err = Decode([]byte(`{"type":"bogus"}`))
	assert.True(t, errors.IsInvalid(err))

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestFloat_UnmarshalNull(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"sample","t_proxy":5,"value":null,"peak":0}`))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(msg.(Sample).Value)))
}
