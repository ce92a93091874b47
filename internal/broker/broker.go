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

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"vale/internal/logger"
	"vale/internal/protocol"
	"vale/internal/pubsub"
)

const (
	// TimeoutSentinel is returned when no correlated result arrives before the
	// deadline. It is the only signal an offline or hung device produces.
	TimeoutSentinel = "User's device timed out"

	// FailurePrefix prefixes the device's message when it reports failure.
	FailurePrefix = "Something went wrong: "

	// DefaultRequestTimeout bounds how long a caller waits for a device result.
	DefaultRequestTimeout = 20 * time.Second

	// recentRequestCap bounds the late-result bookkeeping cache.
	recentRequestCap = 512
)

// pendingWait tracks one outstanding IssueRequest call. The path that removes
// it from the pending map (under the broker mutex) is the only one allowed to
// resolve it, so a result and the deadline can never both win.
type pendingWait struct {
	RequestID string
	UserID    string
	Deadline  time.Time
	Response  chan *protocol.ActionOutcome
	Error     chan error
}

// Stats holds broker counters.
type Stats struct {
	RequestsIssued  int       `json:"requests_issued"`
	ResultsMatched  int       `json:"results_matched"`
	RequestsTimeout int       `json:"requests_timeout"`
	LateResults     int       `json:"late_results"`
	UnknownResults  int       `json:"unknown_results"`
	VitalsPublished int       `json:"vitals_published"`
	StartTime       time.Time `json:"start_time"`
	LastRequest     time.Time `json:"last_request"`
}

// Broker publishes action requests for a user's device and resolves the
// matching result from the bus. Many requests may be outstanding at once, for
// the same or different users; one shared result subscription demultiplexes
// by (userId, requestId) to the correct waiter.
type Broker struct {
	bus     pubsub.Bus
	timeout time.Duration
	pending map[string]*pendingWait
	recent  *lru.Cache[string, time.Time]
	sub     pubsub.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	stats   *Stats
	started bool
	mutex   sync.Mutex
}

// NewBroker creates a broker on the given bus.
func NewBroker(bus pubsub.Bus) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	recent, _ := lru.New[string, time.Time](recentRequestCap)

	return &Broker{
		bus:     bus,
		timeout: DefaultRequestTimeout,
		pending: make(map[string]*pendingWait),
		recent:  recent,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.New(),
		stats: &Stats{
			StartTime: time.Now(),
		},
	}
}

// SetTimeout sets the per-request deadline.
func (b *Broker) SetTimeout(timeout time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.timeout = timeout
}

// Start opens the shared result subscription and begins demultiplexing.
func (b *Broker) Start() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.started {
		return fmt.Errorf("broker already started")
	}

	sub, err := b.bus.Subscribe(b.ctx, protocol.CHANNEL_ACTION_RESULT)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", protocol.CHANNEL_ACTION_RESULT, err)
	}

	b.sub = sub
	b.started = true

	go b.resultLoop(sub)

	b.logger.Info().
		Str("channel", protocol.CHANNEL_ACTION_RESULT).
		Dur("timeout", b.timeout).
		Msg("Native request broker started")

	return nil
}

// Stop terminates the result subscription and fails all outstanding waits.
func (b *Broker) Stop() error {
	b.cancel()

	b.mutex.Lock()
	sub := b.sub
	b.sub = nil
	b.started = false

	for id, wait := range b.pending {
		delete(b.pending, id)
		select {
		case wait.Error <- fmt.Errorf("broker shutting down"):
		default:
		}
	}
	b.mutex.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Error closing result subscription")
		}
	}

	b.logger.Info().Msg("Native request broker stopped")
	return nil
}

// IssueRequest publishes an action request for the user's device and waits for
// the correlated result. It resolves with the device's message on success,
// with FailurePrefix + message when the device reports failure, and with
// TimeoutSentinel when no result arrives in time. An unreachable device is
// indistinguishable from a slow one at this layer; absence surfaces only as
// the timeout. Errors are reserved for bus failures, shutdown and caller
// cancellation.
func (b *Broker) IssueRequest(ctx context.Context, userID, actionKind, parameters string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	requestID := uuid.NewString()

	b.mutex.Lock()
	if !b.started {
		b.mutex.Unlock()
		return "", fmt.Errorf("broker not started")
	}
	timeout := b.timeout
	wait := &pendingWait{
		RequestID: requestID,
		UserID:    userID,
		Deadline:  time.Now().Add(timeout),
		Response:  make(chan *protocol.ActionOutcome, 1),
		Error:     make(chan error, 1),
	}
	b.pending[requestID] = wait
	b.stats.RequestsIssued++
	b.stats.LastRequest = time.Now()
	b.mutex.Unlock()

	request := &protocol.ActionRequest{
		UserID: userID,
		ID:     requestID,
		Action: protocol.Action{
			Request:    actionKind,
			Parameters: parameters,
		},
	}

	payload, err := protocol.Serialize(request)
	if err != nil {
		b.abandon(requestID)
		return "", fmt.Errorf("failed to serialize action request: %w", err)
	}

	if err := b.bus.Publish(ctx, protocol.CHANNEL_ACTION_REQUEST, string(payload)); err != nil {
		b.abandon(requestID)
		return "", fmt.Errorf("failed to publish action request: %w", err)
	}

	b.logger.Debug().
		Str("user_id", userID).
		Str("request_id", requestID).
		Str("action", actionKind).
		Dur("timeout", timeout).
		Msg("Action request published")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-wait.Response:
		b.mutex.Lock()
		b.stats.ResultsMatched++
		b.mutex.Unlock()

		b.logger.Debug().
			Str("user_id", userID).
			Str("request_id", requestID).
			Bool("success", outcome.Success).
			Msg("Action result matched")

		if outcome.Success {
			return outcome.Message, nil
		}
		return FailurePrefix + outcome.Message, nil

	case err := <-wait.Error:
		return "", err

	case <-timer.C:
		// The result loop may have resolved the wait between the timer firing
		// and this path taking the lock; removal from the map decides the race.
		if outcome := b.expire(wait); outcome != nil {
			if outcome.Success {
				return outcome.Message, nil
			}
			return FailurePrefix + outcome.Message, nil
		}

		b.logger.Warn().
			Str("user_id", userID).
			Str("request_id", requestID).
			Str("action", actionKind).
			Msg("Action request timed out")

		return TimeoutSentinel, nil

	case <-ctx.Done():
		b.abandon(requestID)
		return "", ctx.Err()

	case <-b.ctx.Done():
		b.abandon(requestID)
		return "", fmt.Errorf("broker shutting down")
	}
}

// PublishVitals pushes a vitals reading onto the sensorData channel. No reply
// is expected and no delivery is guaranteed.
func (b *Broker) PublishVitals(ctx context.Context, reading *protocol.VitalsReading) error {
	if reading.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	payload, err := protocol.Serialize(reading)
	if err != nil {
		return fmt.Errorf("failed to serialize vitals reading: %w", err)
	}

	if err := b.bus.Publish(ctx, protocol.CHANNEL_SENSOR_DATA, string(payload)); err != nil {
		return fmt.Errorf("failed to publish vitals reading: %w", err)
	}

	b.mutex.Lock()
	b.stats.VitalsPublished++
	b.mutex.Unlock()

	return nil
}

// GetStats returns a snapshot of broker counters.
func (b *Broker) GetStats() *Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	stats := *b.stats
	return &stats
}

// GetPendingCount returns the number of outstanding requests.
func (b *Broker) GetPendingCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.pending)
}

// resultLoop demultiplexes bus results to waiting callers.
func (b *Broker) resultLoop(sub pubsub.Subscription) {
	b.logger.Debug().Msg("Starting broker result loop")

	for msg := range sub.Messages() {
		result, err := protocol.DeserializeActionResult(msg.Payload)
		if err != nil {
			b.logger.Warn().
				Err(err).
				Msg("Dropping malformed action result")
			continue
		}

		b.dispatch(result)
	}

	b.logger.Debug().Msg("Broker result loop stopped")
}

// dispatch resolves the waiter matching the result's (userId, requestId), if
// any. Matching is strict equality on both fields; anything else is dropped.
func (b *Broker) dispatch(result *protocol.ActionResult) {
	b.mutex.Lock()

	wait, exists := b.pending[result.ID]
	if exists && wait.UserID == result.UserID {
		delete(b.pending, result.ID)
		b.recent.Add(result.ID, time.Now())
		// Buffered channel, send cannot block; doing it under the lock makes
		// removal and resolution atomic with respect to the deadline path.
		wait.Response <- &protocol.ActionOutcome{
			Success: result.Result.Success,
			Message: result.Result.Message,
		}
		b.mutex.Unlock()
		return
	}

	_, wasRecent := b.recent.Get(result.ID)
	if wasRecent {
		b.stats.LateResults++
	} else {
		b.stats.UnknownResults++
	}
	b.mutex.Unlock()

	if wasRecent {
		b.logger.Debug().
			Str("user_id", result.UserID).
			Str("request_id", result.ID).
			Msg("Dropping late action result for completed request")
	} else {
		b.logger.Debug().
			Str("user_id", result.UserID).
			Str("request_id", result.ID).
			Msg("Dropping action result for unknown request")
	}
}

// expire removes a wait on deadline. If the result loop already resolved it,
// the buffered response is returned so the caller still gets the real result.
func (b *Broker) expire(wait *pendingWait) *protocol.ActionOutcome {
	b.mutex.Lock()

	if _, exists := b.pending[wait.RequestID]; exists {
		delete(b.pending, wait.RequestID)
		b.recent.Add(wait.RequestID, time.Now())
		b.stats.RequestsTimeout++
		b.mutex.Unlock()
		return nil
	}
	b.mutex.Unlock()

	// Lost the race to the result loop. The winning dispatch buffered the
	// outcome before releasing the lock, so a non-blocking receive cannot
	// miss it once the map entry is gone.
	select {
	case outcome := <-wait.Response:
		return outcome
	default:
		return nil
	}
}

// abandon removes a wait without resolving it (publish failure, cancellation).
func (b *Broker) abandon(requestID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.pending, requestID)
}
