package botbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clanops/botbridge/stream"
)

// responseReadBatch bounds how many response entries one wait-loop wake scans.
const responseReadBatch = 64

// Dispatcher pushes command envelopes to the commands stream and waits for the
// correlated response, with bounded linear-backoff retries and a dead-letter
// fallback. It runs on the web backend side of the bridge; many Dispatch calls
// may be in flight concurrently, each tracking its own response cursor.
type Dispatcher struct {
	log         stream.Log
	streams     Streams
	deadLetters *DeadLetterStore
	logger      *zap.Logger
	metrics     MetricsCollector

	maxRetries     int
	retryBackoff   time.Duration
	ackTimeout     time.Duration
	commandsMaxLen int64

	// overridable in tests
	newRequestID func() string
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher over the given log. deadLetters may not
// be nil; exhausted commands are appended there.
func NewDispatcher(log stream.Log, streams Streams, deadLetters *DeadLetterStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		log:            log,
		streams:        streams,
		deadLetters:    deadLetters,
		logger:         zap.NewNop(),
		metrics:        NewNopMetricsCollector(),
		maxRetries:     defaultMaxRetries,
		retryBackoff:   defaultRetryBackoff,
		ackTimeout:     defaultAckTimeout,
		commandsMaxLen: defaultCommandsMaxLen,
		newRequestID:   uuid.NewString,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends one logical command and waits up to timeout per attempt for
// its acknowledgment. A timeout <= 0 uses the configured default.
//
// Every expected outcome (ack, handler failure, timeout, dead-lettering) is
// reported in the DispatchResult; the error return is reserved for context
// cancellation and for failures outside the retry loop. Each retry pushes a
// fresh envelope with a new request id, so a late response to an earlier
// attempt can never be mistaken for the current one.
func (d *Dispatcher) Dispatch(ctx context.Context, commandType string, actorUserID int64, payload interface{}, timeout time.Duration) (DispatchResult, error) {
	if timeout <= 0 {
		timeout = d.ackTimeout
	}

	payloadFields, err := encodePayloadFields(payload)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to encode %s payload: %w", commandType, err)
	}

	start := time.Now()
	defer func() {
		d.metrics.RecordDuration(MetricDispatchDuration, time.Since(start), map[string]string{TagCommandType: commandType})
	}()

	result := DispatchResult{}
	totalAttempts := d.maxRetries + 1
	var lastErr string
	var lastResponse json.RawMessage

	for attempt := 1; attempt <= totalAttempts; attempt++ {
		result.Attempts = attempt

		resp, matched, attemptErr := d.attempt(ctx, commandType, actorUserID, payloadFields, timeout, &result)
		if attemptErr != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			// Transport trouble inside the loop is an attempt outcome, not an
			// exception; the next attempt may find the broker back.
			lastErr = attemptErr.Error()
			lastResponse = nil
			d.countOutcome(commandType, ResultTimeout)
			d.logger.Warn("command attempt failed at transport",
				zap.String("command_type", commandType),
				zap.Int("attempt", attempt),
				zap.Error(attemptErr))
		} else if matched && resp.OK {
			result.Acknowledged = true
			result.Response = resp.Result
			d.countOutcome(commandType, ResultAck)
			d.logger.Debug("command acknowledged",
				zap.String("command_type", commandType),
				zap.String("command_id", result.AttemptCommandIDs[attempt-1]),
				zap.Int("attempt", attempt))
			return result, nil
		} else if matched {
			lastErr = resp.Error
			if lastErr == "" {
				lastErr = "command failed without error detail"
			}
			lastResponse = encodeResponseJSON(resp)
			d.countOutcome(commandType, ResultCommandFailed)
			d.logger.Warn("command rejected by handler",
				zap.String("command_type", commandType),
				zap.Int("attempt", attempt),
				zap.String("error", lastErr))
		} else {
			lastErr = fmt.Sprintf("no acknowledgment within %s", timeout)
			lastResponse = nil
			d.countOutcome(commandType, ResultTimeout)
			d.logger.Warn("command attempt timed out",
				zap.String("command_type", commandType),
				zap.Int("attempt", attempt),
				zap.Duration("timeout", timeout))
		}

		if attempt < totalAttempts {
			d.metrics.IncrementCounter(MetricDispatchRetries, map[string]string{TagCommandType: commandType})
			if err := d.sleep(ctx, d.retryBackoff*time.Duration(attempt)); err != nil {
				return result, err
			}
		}
	}

	result.Error = lastErr
	d.deadLetter(ctx, commandType, actorUserID, payloadFields, lastErr, lastResponse, &result)
	return result, nil
}

// attempt runs one push-and-wait cycle. It returns the matched response (if
// any) or an error for transport failures; a (zero, false, nil) return means
// the wait budget elapsed without a match.
func (d *Dispatcher) attempt(ctx context.Context, commandType string, actorUserID int64, payloadFields map[string]json.RawMessage, timeout time.Duration, result *DispatchResult) (ResponseEnvelope, bool, error) {
	// The response cursor is captured before the push so a response racing the
	// read setup cannot be missed, and nothing older than this attempt can
	// match.
	cursor, err := d.responseCursor(ctx)
	if err != nil {
		return ResponseEnvelope{}, false, err
	}

	requestID := d.newRequestID()
	result.AttemptCommandIDs = append(result.AttemptCommandIDs, requestID)
	if result.CommandID == "" {
		result.CommandID = requestID
	}

	env := CommandEnvelope{
		Type:        commandType,
		RequestID:   requestID,
		ActorUserID: actorUserID,
		SentAt:      time.Now(),
		Payload:     payloadFields,
	}
	if _, err := d.log.Push(ctx, d.streams.Commands, env.Encode(), d.commandsMaxLen); err != nil {
		return ResponseEnvelope{}, false, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ResponseEnvelope{}, false, nil
		}
		block := remaining
		if block > defaultWaitSlice {
			block = defaultWaitSlice
		}
		entries, err := d.log.ReadFrom(ctx, d.streams.Responses, cursor, responseReadBatch, block)
		if err != nil {
			return ResponseEnvelope{}, false, err
		}
		for _, entry := range entries {
			cursor = entry.ID
			resp := DecodeResponseEnvelope(entry.Fields)
			if resp.CommandID == requestID {
				return resp, true, nil
			}
		}
	}
}

// responseCursor returns the id of the newest response entry, or "0-0" when
// the stream is empty.
func (d *Dispatcher) responseCursor(ctx context.Context) (string, error) {
	newest, err := d.log.ReadNewest(ctx, d.streams.Responses, 1)
	if err != nil {
		return "", err
	}
	if len(newest) == 0 {
		return "0-0", nil
	}
	return newest[0].ID, nil
}

// deadLetter appends the terminal record. An unwritable dead-letter stream is
// an infrastructure failure that must not surface to the caller: the result
// still comes back, only without a dead-letter id.
func (d *Dispatcher) deadLetter(ctx context.Context, commandType string, actorUserID int64, payloadFields map[string]json.RawMessage, lastErr string, lastResponse json.RawMessage, result *DispatchResult) {
	record := DeadLetterRecord{
		Type:              commandType,
		ActorUserID:       actorUserID,
		Payload:           payloadFields,
		AttemptCommandIDs: result.AttemptCommandIDs,
		AttemptCount:      result.Attempts,
		Error:             lastErr,
		LastResponse:      lastResponse,
		FailedAt:          time.Now(),
	}
	id, err := d.deadLetters.Append(ctx, record)
	if err != nil {
		d.logger.Error("failed to write dead-letter record",
			zap.String("command_type", commandType),
			zap.String("command_id", result.CommandID),
			zap.Error(err))
		return
	}
	result.DeadLettered = true
	result.DeadLetterID = id
	d.countOutcome(commandType, ResultDeadLettered)
	d.logger.Warn("command dead-lettered",
		zap.String("command_type", commandType),
		zap.String("command_id", result.CommandID),
		zap.String("dead_letter_id", id),
		zap.Int("attempts", result.Attempts))
}

func (d *Dispatcher) countOutcome(commandType, outcome string) {
	d.metrics.IncrementCounter(MetricDispatchOutcome, map[string]string{
		TagCommandType: commandType,
		TagResult:      outcome,
	})
}

// encodePayloadFields turns an arbitrary payload value into per-field JSON for
// merging into the stream entry. A nil payload yields no fields.
func encodePayloadFields(payload interface{}) (map[string]json.RawMessage, error) {
	if payload == nil {
		return map[string]json.RawMessage{}, nil
	}
	if fields, ok := payload.(map[string]json.RawMessage); ok {
		return fields, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must encode to a JSON object: %w", err)
	}
	return fields, nil
}

func encodeResponseJSON(resp ResponseEnvelope) json.RawMessage {
	raw, err := json.Marshal(map[string]interface{}{
		"ok":     resp.OK,
		"type":   resp.Type,
		"error":  resp.Error,
		"result": resp.Result,
	})
	if err != nil {
		return nil
	}
	return raw
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
