package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := New(KindNotification, map[string]int{"id": 1})
	require.NoError(t, err)

	assert.Equal(t, KindNotification, msg.Type)
	assert.JSONEq(t, `{"id":1}`, string(msg.Data))
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)
}

func TestNewMessageWithoutData(t *testing.T) {
	msg, err := New(KindPing, nil)
	require.NoError(t, err)

	assert.Equal(t, KindPing, msg.Type)
	assert.Nil(t, msg.Data)
}

func TestNewMessageUnmarshalablePayload(t *testing.T) {
	_, err := New(KindNotification, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal payload")
}

func TestDecode(t *testing.T) {
	raw := []byte(`{"type":"NOTIFICATION","data":{"id":42},"timestamp":"2025-01-15T10:30:00Z"}`)

	msg, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, KindNotification, msg.Type)
	assert.JSONEq(t, `{"id":42}`, string(msg.Data))
	assert.Equal(t, 2025, msg.Timestamp.Year())
}

func TestDecodeUnknownKind(t *testing.T) {
	// Unknown kinds decode fine; routing decides what to do with them
	msg, err := Decode([]byte(`{"type":"SOMETHING_ELSE","timestamp":"2025-01-15T10:30:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, Kind("SOMETHING_ELSE"), msg.Type)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode frame")
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"data":{"id":1},"timestamp":"2025-01-15T10:30:00Z"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no type")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original, err := New(KindPong, nil)
	require.NoError(t, err)

	raw, err := original.Encode()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, original.Type, decoded.Type)
	assert.True(t, original.Timestamp.Equal(decoded.Timestamp))
}

func TestEncodeTimestampFormat(t *testing.T) {
	msg, err := New(KindPing, nil)
	require.NoError(t, err)

	raw, err := msg.Encode()
	require.NoError(t, err)

	// The wire format carries timestamps as RFC 3339 strings
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))

	var ts string
	require.NoError(t, json.Unmarshal(fields["timestamp"], &ts))
	_, err = time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)
}
