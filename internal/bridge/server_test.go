// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vale/internal/auth"
	"vale/internal/protocol"
	"vale/internal/pubsub"
)

type testHarness struct {
	server  *Server
	bus     *pubsub.MemoryBus
	tokens  *auth.TokenService
	httpSrv *httptest.Server
	wsURL   string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	config := NewDefaultConfig()
	config.Connections.IdleThreshold = "200ms"
	config.Connections.SweepInterval = "50ms"
	require.NoError(t, config.setDefaults())

	bus := pubsub.NewMemoryBus()
	tokens := auth.NewTokenService("test-secret", "", time.Hour)

	server := NewServer(config, bus, tokens)
	require.NoError(t, server.Bootstrap())

	httpSrv := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		httpSrv.Close()
		server.Stop()
		bus.Close()
	})

	return &testHarness{
		server:  server,
		bus:     bus,
		tokens:  tokens,
		httpSrv: httpSrv,
		wsURL:   "ws" + strings.TrimPrefix(httpSrv.URL, "http") + config.Server.WebSocketPath,
	}
}

func (h *testHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

type deviceAck struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	} `json:"payload"`
}

type deviceRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload struct {
		Request    string `json:"request"`
		Parameters string `json:"parameters"`
	} `json:"payload"`
}

func readAck(t *testing.T, ws *websocket.Conn) deviceAck {
	t.Helper()
	var ack deviceAck
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, ws.ReadJSON(&ack))
	return ack
}

// authenticate sends an AUTH frame and asserts the success ack.
func (h *testHarness) authenticate(t *testing.T, ws *websocket.Conn, userID string) {
	t.Helper()

	token, err := h.tokens.Issue(userID)
	require.NoError(t, err)

	require.NoError(t, ws.WriteJSON(map[string]string{
		"type":  protocol.FRAME_AUTH,
		"id":    "auth-1",
		"token": token,
	}))

	ack := readAck(t, ws)
	require.Equal(t, protocol.FRAME_RESULT, ack.Type)
	require.True(t, ack.Payload.Success)
	require.Equal(t, "Authenticated successfully", ack.Payload.Message)
}

func TestAuthSuccessRegistersConnection(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	assert.Equal(t, 1, h.server.Registry().Count())
	assert.NotNil(t, h.server.Registry().Lookup("u1"))
}

func TestAuthFailureClosesConnection(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	require.NoError(t, ws.WriteJSON(map[string]string{
		"type":  protocol.FRAME_AUTH,
		"id":    "auth-1",
		"token": "bogus",
	}))

	ack := readAck(t, ws)
	assert.False(t, ack.Payload.Success)
	assert.Equal(t, "Invalid token", ack.Payload.Message)

	// The bridge closes after a failed authentication.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, h.server.Registry().Count())
}

func TestMalformedFrameIsToleratedWithAck(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("this is not json")))

	ack := readAck(t, ws)
	assert.False(t, ack.Payload.Success)
	assert.Equal(t, "Error processing message", ack.Payload.Message)
	assert.Equal(t, "", ack.ID)

	// Connection survives the parse error and still accepts frames.
	h.authenticate(t, ws, "u1")
}

func TestHeartbeatEcho(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	require.NoError(t, ws.WriteJSON(map[string]string{
		"type": protocol.FRAME_HEARTBEAT,
		"id":   "hb-7",
	}))

	ack := readAck(t, ws)
	assert.Equal(t, protocol.FRAME_HEARTBEAT, ack.Type)
	assert.Equal(t, "hb-7", ack.ID)
}

func TestRequestForwardedToDevice(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	request := &protocol.ActionRequest{
		UserID: "u1",
		ID:     "req-1",
		Action: protocol.Action{Request: "SET_ALARM", Parameters: `{"hour":7}`},
	}
	payload, err := protocol.Serialize(request)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), protocol.CHANNEL_ACTION_REQUEST, string(payload)))

	var frame deviceRequest
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, ws.ReadJSON(&frame))

	assert.Equal(t, protocol.FRAME_REQUEST, frame.Type)
	assert.Equal(t, "req-1", frame.ID)
	assert.Equal(t, "SET_ALARM", frame.Payload.Request)
	assert.Equal(t, `{"hour":7}`, frame.Payload.Parameters)
}

func TestRequestForUnknownUserIsDropped(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	request := &protocol.ActionRequest{
		UserID: "somebody-else",
		ID:     "req-1",
		Action: protocol.Action{Request: "SET_ALARM", Parameters: "{}"},
	}
	payload, err := protocol.Serialize(request)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), protocol.CHANNEL_ACTION_REQUEST, string(payload)))

	// Nothing arrives on the only connection; the drop is silent.
	ws.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}

func TestReAuthSupersedesOldConnection(t *testing.T) {
	h := newTestHarness(t)

	first := h.dial(t)
	h.authenticate(t, first, "u1")

	second := h.dial(t)
	h.authenticate(t, second, "u1")

	assert.Equal(t, 1, h.server.Registry().Count())

	// The first connection was closed when the second registered.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// Requests now go to the newest connection.
	request := &protocol.ActionRequest{
		UserID: "u1",
		ID:     "req-2",
		Action: protocol.Action{Request: "GET_SYSINFO", Parameters: "{}"},
	}
	payload, err := protocol.Serialize(request)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), protocol.CHANNEL_ACTION_REQUEST, string(payload)))

	var frame deviceRequest
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, second.ReadJSON(&frame))
	assert.Equal(t, "req-2", frame.ID)
}

func TestResultRepublishedOnBus(t *testing.T) {
	h := newTestHarness(t)

	resultSub, err := h.bus.Subscribe(context.Background(), protocol.CHANNEL_ACTION_RESULT)
	require.NoError(t, err)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	token, err := h.tokens.Issue("u1")
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"type":  protocol.FRAME_RESULT,
		"id":    "req-9",
		"token": token,
		"payload": map[string]interface{}{
			"success": true,
			"message": "Alarm set",
		},
	}))

	select {
	case msg := <-resultSub.Messages():
		result, err := protocol.DeserializeActionResult(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, "u1", result.UserID)
		assert.Equal(t, "req-9", result.ID)
		assert.True(t, result.Result.Success)
		assert.Equal(t, "Alarm set", result.Result.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("result was not republished on the bus")
	}
}

// The identity on a result comes from the credential presented on that frame,
// not from the authenticated session, so a stale or forged token must keep the
// result off the bus entirely.
func TestResultWithInvalidTokenNotRepublished(t *testing.T) {
	h := newTestHarness(t)

	resultSub, err := h.bus.Subscribe(context.Background(), protocol.CHANNEL_ACTION_RESULT)
	require.NoError(t, err)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"type":  protocol.FRAME_RESULT,
		"id":    "req-9",
		"token": "bogus",
		"payload": map[string]interface{}{
			"success": true,
			"message": "spoofed",
		},
	}))

	ack := readAck(t, ws)
	assert.False(t, ack.Payload.Success)
	assert.Equal(t, "Invalid token", ack.Payload.Message)

	// Connection is closed and nothing reaches the bus.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, readErr := ws.ReadMessage()
	assert.Error(t, readErr)

	select {
	case msg := <-resultSub.Messages():
		t.Fatalf("unexpected result on bus: %+v", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestVitalsForwardedToDevice(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	reading := &protocol.VitalsReading{UserID: "u1", HeartRate: 80, SpO2: 97, Stress: 0.5}
	payload, err := protocol.Serialize(reading)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), protocol.CHANNEL_SENSOR_DATA, string(payload)))

	var frame struct {
		Type    string `json:"type"`
		Payload struct {
			HeartRate float64 `json:"heartRate"`
		} `json:"payload"`
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, ws.ReadJSON(&frame))

	assert.Equal(t, protocol.FRAME_VITALS, frame.Type)
	assert.Equal(t, float64(80), frame.Payload.HeartRate)
}

func TestIdleConnectionsAreSwept(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")
	require.Equal(t, 1, h.server.Registry().Count())

	// Idle threshold is 200ms and the sweep runs every 50ms; with no
	// heartbeats the connection must disappear.
	assert.Eventually(t, func() bool {
		return h.server.Registry().Count() == 0
	}, 2*time.Second, 25*time.Millisecond)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	// Heartbeat faster than the 200ms idle threshold for a while.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, ws.WriteJSON(map[string]string{
			"type": protocol.FRAME_HEARTBEAT,
			"id":   "hb",
		}))
		readAck(t, ws)
		time.Sleep(50 * time.Millisecond)
	}

	assert.Equal(t, 1, h.server.Registry().Count())
}
