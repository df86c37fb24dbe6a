// ABOUTME: Tests for JSON-RPC frame decoding and error classification
// ABOUTME: Verifies request/notification distinction and param validation

package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Request(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"2.0","method":"room.join","params":{"roomId":"r1"},"id":7}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, "room.join", req.Method)
	assert.False(t, req.IsNotification())
	assert.Equal(t, "7", string(req.ID))
}

func TestDecode_Notification(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"2.0","method":"typing.start","params":{"roomId":"r1"}}`))
	require.Nil(t, rpcErr)
	assert.True(t, req.IsNotification())
}

func TestDecode_NullIDIsNotification(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"2.0","method":"typing.stop","id":null}`))
	require.Nil(t, rpcErr)
	assert.True(t, req.IsNotification())
}

func TestDecode_ParseError(t *testing.T) {
	_, rpcErr := Decode([]byte(`{not json`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeParseError, rpcErr.Code)
}

func TestDecode_InvalidRequest(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"missing version", `{"method":"room.join","id":1}`},
		{"wrong version", `{"jsonrpc":"1.0","method":"room.join","id":1}`},
		{"missing method", `{"jsonrpc":"2.0","id":1}`},
		{"batch array", `[{"jsonrpc":"2.0","method":"room.join","id":1}]`},
		{"bare string", `"room.join"`},
		{"wrong field type", `{"jsonrpc":"2.0","method":7,"id":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rpcErr := Decode([]byte(tt.frame))
			require.NotNil(t, rpcErr)
			assert.Equal(t, CodeInvalidRequest, rpcErr.Code)
		})
	}
}

func TestUnmarshalParams(t *testing.T) {
	req := &Request{JSONRPC: Version, Method: "room.join", Params: json.RawMessage(`{"roomId":"r1"}`)}

	var params struct {
		RoomID string `json:"roomId"`
	}
	require.Nil(t, UnmarshalParams(req, &params))
	assert.Equal(t, "r1", params.RoomID)
}

func TestUnmarshalParams_Missing(t *testing.T) {
	req := &Request{JSONRPC: Version, Method: "room.join"}

	var params struct{}
	rpcErr := UnmarshalParams(req, &params)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestNotificationEncoding(t *testing.T) {
	n := NewNotification("message.delta", map[string]string{"delta": "hi"})
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"message.delta","params":{"delta":"hi"}}`, string(data))
}
