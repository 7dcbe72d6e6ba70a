package protocol

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenabridge/agent/internal/shared/types"
)

func TestDecodeTypedMessage(t *testing.T) {
	raw := []byte(`{"type":"chat_request","request_id":"abc-123","payload":{"messages":[]},"files_to_upload":[{"fileName":"a.png","contentType":"image/png","data":"aGk="}]}`)

	msg, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, TypeChatRequest, msg.Type)
	assert.Equal(t, "abc-123", msg.RequestID)
	require.Len(t, msg.FilesToUpload, 1)
	assert.Equal(t, "a.png", msg.FilesToUpload[0].FileName)
}

func TestDecodeLegacyShape(t *testing.T) {
	// Frames predating the discriminator carry only request_id and payload.
	raw := []byte(`{"request_id":"legacy-1","payload":{"messages":[{"role":"user","content":"hi"}]}}`)

	msg, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, TypeChatRequest, msg.Type)
	assert.Equal(t, "legacy-1", msg.RequestID)
}

func TestDecodeRejectsEmptyFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no fields", `{}`},
		{"payload without id", `{"payload":{}}`},
		{"id without payload", `{"request_id":"x"}`},
		{"not json", `garbage`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeControlMessages(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
	}{
		{"ping", `{"type":"ping","timestamp":1700000000000}`, TypePing},
		{"refresh", `{"type":"refresh_models"}`, TypeRefreshModels},
		{"reconnection ack", `{"type":"reconnection_ack","pending_request_ids":["a","b"]}`, TypeReconnectionAck},
		{"restoration ack", `{"type":"restoration_ack","restored_count":2}`, TypeRestorationAck},
		{"registry ack", `{"type":"model_registry_ack","count":41}`, TypeModelRegistryAck},
		{"abort", `{"type":"abort_request","request_id":"r9"}`, TypeAbortRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
		})
	}
}

func TestRequestKinds(t *testing.T) {
	tests := []struct {
		msgType string
		want    types.RequestKind
	}{
		{TypeChatRequest, types.KindChat},
		{TypeRetryRequest, types.KindRetry},
		{TypeWarmupSession, types.KindWarmup},
	}

	for _, tt := range tests {
		m := &Inbound{Type: tt.msgType, RequestID: "r1", Payload: []byte(`{}`)}
		req := m.Request()
		assert.Equal(t, tt.want, req.Kind)
		assert.Equal(t, "r1", req.ID)
	}
}

func TestDataEnvelopes(t *testing.T) {
	chunk := NewChunk("r1", `a0:"hello"`)
	data, err := Encode(chunk)
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"r1","data":"a0:\"hello\""}`, string(data))

	errMsg := NewError("r1", "upstream failed")
	data, err = Encode(errMsg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"r1","data":{"error":"upstream failed"}}`, string(data))

	done := NewDone("r1")
	data, err = Encode(done)
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"r1","data":"[DONE]"}`, string(data))
}

func TestPongEchoesTimestamp(t *testing.T) {
	pong := NewPong(1700000000123)
	assert.Equal(t, int64(1700000000123), pong.Timestamp)
	assert.Equal(t, TypePong, pong.Type)

	// Zero timestamp is filled in so the orchestrator always gets one.
	assert.NotZero(t, NewPong(0).Timestamp)
}

func TestReconnectionHandshakeNeverNil(t *testing.T) {
	hs := NewReconnectionHandshake(nil)

	data, err := Encode(hs)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, sonic.Unmarshal(data, &decoded))
	assert.Equal(t, []interface{}{}, decoded["pending_request_ids"],
		"pending ids must encode as an empty array, not null")
}

func TestModelRegistryRoundTrip(t *testing.T) {
	reg := types.Registry{
		"test-model": {ID: "id-1", PublicName: "test-model", Type: "chat"},
	}

	data, err := Encode(NewModelRegistry(reg))
	require.NoError(t, err)

	var decoded ModelRegistry
	require.NoError(t, sonic.Unmarshal(data, &decoded))
	assert.Equal(t, TypeModelRegistry, decoded.Type)
	assert.Equal(t, "id-1", decoded.Models["test-model"].ID)
}
