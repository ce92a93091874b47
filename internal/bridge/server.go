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
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"vale/internal/auth"
	"vale/internal/logger"
	"vale/internal/protocol"
	"vale/internal/pubsub"
)

// Server terminates device WebSocket connections, authenticates them, forwards
// bus action requests to the matching connection and republishes device
// results onto the bus. It does not queue or retry: a request for a user with
// no live connection is dropped here and surfaces to the caller only as a
// timeout.
type Server struct {
	config    *Config
	bus       pubsub.Bus
	verifier  auth.Verifier
	registry  *Registry
	upgrader  websocket.Upgrader
	server    *http.Server
	sub       pubsub.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a bridge server.
func NewServer(config *Config, bus pubsub.Bus, verifier auth.Verifier) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:   config,
		bus:      bus,
		verifier: verifier,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.New(),
		startTime: time.Now(),
	}
}

// Start subscribes to the bus, launches the idle sweep and serves HTTP until
// Stop is called.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.config.Server.Address).
		Str("websocket_path", s.config.Server.WebSocketPath).
		Dur("idle_threshold", s.config.IdleThreshold()).
		Dur("sweep_interval", s.config.SweepInterval()).
		Msg("Starting device bridge")

	if err := s.Bootstrap(); err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:    s.config.Server.Address,
		Handler: s.Handler(),
	}

	s.logger.Info().Msg("Device bridge started")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge server error: %w", err)
	}

	return nil
}

// Bootstrap opens the bus subscription and starts the forwarding and idle
// sweep loops without binding a listener.
func (s *Server) Bootstrap() error {
	sub, err := s.bus.Subscribe(s.ctx, protocol.CHANNEL_ACTION_REQUEST, protocol.CHANNEL_SENSOR_DATA)
	if err != nil {
		return fmt.Errorf("failed to subscribe to bus: %w", err)
	}
	s.sub = sub

	go s.forwardLoop(sub)
	go s.sweepLoop()

	return nil
}

// Handler returns the HTTP handler serving the WebSocket endpoint and the
// management API.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc(s.config.Server.WebSocketPath, s.handleWebSocket)
	s.registerAPIRoutes(router)
	return router
}

// Stop shuts the bridge down gracefully.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping device bridge")

	s.cancel()

	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing bus subscription")
		}
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down bridge server: %w", err)
		}
	}

	s.logger.Info().Msg("Device bridge stopped")
	return nil
}

// Registry exposes the connection registry (used by the status API and tests).
func (s *Server) Registry() *Registry {
	return s.registry
}

// handleWebSocket upgrades a device connection and runs its read loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn := NewConn(ws)

	s.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("New device connection")

	s.readLoop(conn)
}

// readLoop handles inbound frames until the connection closes. The connection
// starts unauthenticated; only a verified AUTH frame registers it for request
// forwarding.
func (s *Server) readLoop(conn *Conn) {
	defer func() {
		conn.Close()
		if userID, removed := s.registry.RemoveConn(conn); removed {
			s.logger.Info().
				Str("user_id", userID).
				Msg("Device disconnected")
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := protocol.DeserializeInboundFrame(data)
		if err != nil {
			// Parse errors are tolerated; the connection stays open. The ack
			// carries a blank correlation id since none could be read.
			s.logger.Warn().
				Err(err).
				Msg("Malformed frame from device")
			s.writeFrame(conn, protocol.BuildAckFrame("", false, "Error processing message"))
			continue
		}

		switch frame.Type {
		case protocol.FRAME_AUTH:
			if closed := s.handleAuth(conn, frame); closed {
				return
			}
		case protocol.FRAME_HEARTBEAT:
			s.writeFrame(conn, protocol.BuildHeartbeatFrame(frame.ID))
			s.touch(conn)
		case protocol.FRAME_RESULT:
			if closed := s.handleResult(conn, frame); closed {
				return
			}
		}
	}
}

// handleAuth verifies the credential and registers the connection. A failed
// verification is acknowledged and the connection closed; there is no retry
// within the same connection. Re-authentication mid-session re-registers,
// which for the same connection is a harmless overwrite.
func (s *Server) handleAuth(conn *Conn, frame *protocol.InboundFrame) bool {
	userID, err := s.verifier.Verify(frame.Token)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Msg("Device authentication failed")
		s.writeFrame(conn, protocol.BuildAckFrame(frame.ID, false, "Invalid token"))
		conn.Close()
		return true
	}

	conn.setUserID(userID)
	if superseded := s.registry.Register(userID, conn); superseded != nil {
		// Last-writer-wins: close the old connection rather than leak it.
		superseded.Close()
	}

	s.logger.Info().
		Str("user_id", userID).
		Msg("Device authenticated")

	s.writeFrame(conn, protocol.BuildAckFrame(frame.ID, true, "Authenticated successfully"))
	return false
}

// handleResult re-verifies the credential on every RESULT frame rather than
// trusting the auth-time identity, then republishes the outcome on the bus
// keyed by the verified subject and the frame's correlation id.
func (s *Server) handleResult(conn *Conn, frame *protocol.InboundFrame) bool {
	userID, err := s.verifier.Verify(frame.Token)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("frame_id", frame.ID).
			Msg("Rejecting result with invalid credential")
		s.writeFrame(conn, protocol.BuildAckFrame(frame.ID, false, "Invalid token"))
		conn.Close()
		return true
	}

	result := &protocol.ActionResult{
		UserID: userID,
		ID:     frame.ID,
		Result: protocol.ActionOutcome{
			Success: frame.Payload.Success,
			Message: frame.Payload.Message,
		},
	}

	payload, err := protocol.Serialize(result)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize action result")
		return false
	}

	if err := s.bus.Publish(s.ctx, protocol.CHANNEL_ACTION_RESULT, string(payload)); err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Str("request_id", frame.ID).
			Msg("Failed to publish action result")
		return false
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("request_id", frame.ID).
		Bool("success", frame.Payload.Success).
		Msg("Action result published")

	s.registry.Touch(userID)
	return false
}

// forwardLoop relays bus traffic to the matching device connection.
func (s *Server) forwardLoop(sub pubsub.Subscription) {
	s.logger.Debug().Msg("Starting bridge forward loop")

	for msg := range sub.Messages() {
		switch msg.Channel {
		case protocol.CHANNEL_ACTION_REQUEST:
			s.forwardRequest(msg.Payload)
		case protocol.CHANNEL_SENSOR_DATA:
			s.forwardVitals(msg.Payload)
		}
	}

	s.logger.Debug().Msg("Bridge forward loop stopped")
}

// forwardRequest sends an action request to the user's device. A user with no
// live connection gets nothing: the caller's timeout is the only failure
// signal, and this layer neither queues nor retries.
func (s *Server) forwardRequest(payload string) {
	request, err := protocol.DeserializeActionRequest(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed action request")
		return
	}

	conn := s.registry.Lookup(request.UserID)
	if conn == nil {
		s.logger.Debug().
			Str("user_id", request.UserID).
			Str("request_id", request.ID).
			Msg("No connection for user, dropping request")
		return
	}

	if err := s.writeFrame(conn, protocol.BuildRequestFrame(request)); err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", request.UserID).
			Str("request_id", request.ID).
			Msg("Failed to forward request to device")
		return
	}

	s.logger.Debug().
		Str("user_id", request.UserID).
		Str("request_id", request.ID).
		Str("action", request.Action.Request).
		Msg("Request forwarded to device")
}

// forwardVitals pushes a vitals notification to the user's device, if
// connected. Best-effort only.
func (s *Server) forwardVitals(payload string) {
	reading, err := protocol.DeserializeVitalsReading(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed vitals reading")
		return
	}

	conn := s.registry.Lookup(reading.UserID)
	if conn == nil {
		return
	}

	if err := s.writeFrame(conn, protocol.BuildVitalsFrame(reading)); err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", reading.UserID).
			Msg("Failed to forward vitals to device")
	}
}

// sweepLoop periodically evicts connections idle past the threshold, keeping
// the registry honest about which devices are actually reachable.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.config.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, conn := range s.registry.EvictIdle(s.config.IdleThreshold()) {
				conn.Close()
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) touch(conn *Conn) {
	if userID := conn.UserID(); userID != "" {
		s.registry.Touch(userID)
	}
}

func (s *Server) writeFrame(conn *Conn, frame *protocol.OutboundFrame) error {
	if err := conn.WriteFrame(frame); err != nil {
		s.logger.Debug().Err(err).Msg("Write to device failed")
		return err
	}
	return nil
}
