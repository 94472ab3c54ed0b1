package botbridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/clanops/botbridge/stream"
)

const (
	// ResponseTypeAck marks a response for a command the handler applied.
	ResponseTypeAck = "command_ack"
	// ResponseTypeFailed marks a response for a command the handler rejected
	// or failed to apply.
	ResponseTypeFailed = "command_failed"
)

// Streams holds the four log names used by the bridge, namespaced by a
// deployment prefix so several deployments can share one broker.
type Streams struct {
	Commands   string
	Responses  string
	DeadLetter string
	ReplayLog  string
	// Group is the consumer-group name on the commands stream.
	Group string
}

// NewStreams derives the stream and group names for a deployment prefix.
func NewStreams(prefix string) Streams {
	return Streams{
		Commands:   prefix + ":stream:commands",
		Responses:  prefix + ":stream:responses",
		DeadLetter: prefix + ":stream:commands:dlq",
		ReplayLog:  prefix + ":stream:commands:dlq:replay",
		Group:      prefix + ":command-consumers",
	}
}

// All returns the stream names in a stable order.
func (s Streams) All() []string {
	return []string{s.Commands, s.Responses, s.DeadLetter, s.ReplayLog}
}

// CommandEnvelope is the message appended to the commands stream. Payload
// fields are merged into the stream entry alongside the envelope fields, each
// value JSON-encoded.
type CommandEnvelope struct {
	Type        string
	RequestID   string
	ActorUserID int64
	SentAt      time.Time
	Payload     map[string]json.RawMessage
}

// envelope field names reserved on the wire; everything else is payload.
const (
	fieldType        = "type"
	fieldRequestID   = "request_id"
	fieldActorUserID = "actor_user_id"
	fieldSentAt      = "sent_at"
)

// Encode flattens the envelope into stream entry fields.
func (e CommandEnvelope) Encode() map[string]string {
	fields := map[string]string{
		fieldType:        e.Type,
		fieldRequestID:   e.RequestID,
		fieldActorUserID: strconv.FormatInt(e.ActorUserID, 10),
		fieldSentAt:      e.SentAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range e.Payload {
		fields[k] = string(v)
	}
	return fields
}

// DecodeCommandEnvelope rebuilds an envelope from stream entry fields.
func DecodeCommandEnvelope(fields map[string]string) (CommandEnvelope, error) {
	e := CommandEnvelope{Payload: make(map[string]json.RawMessage)}
	for k, v := range fields {
		switch k {
		case fieldType:
			e.Type = v
		case fieldRequestID:
			e.RequestID = v
		case fieldActorUserID:
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return CommandEnvelope{}, fmt.Errorf("invalid actor_user_id %q: %w", v, err)
			}
			e.ActorUserID = id
		case fieldSentAt:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return CommandEnvelope{}, fmt.Errorf("invalid sent_at %q: %w", v, err)
			}
			e.SentAt = ts
		default:
			e.Payload[k] = json.RawMessage(v)
		}
	}
	if e.Type == "" {
		return CommandEnvelope{}, fmt.Errorf("command entry missing type field")
	}
	if e.RequestID == "" {
		return CommandEnvelope{}, fmt.Errorf("command entry missing request_id field")
	}
	return e, nil
}

// PayloadJSON re-assembles the payload fields into one JSON object.
func (e CommandEnvelope) PayloadJSON() json.RawMessage {
	raw, _ := json.Marshal(e.Payload)
	return raw
}

// ResponseEnvelope is the message appended to the responses stream, correlated
// to its command by CommandID. Exactly one is written per processed command.
type ResponseEnvelope struct {
	CommandID string
	OK        bool
	Type      string
	Result    json.RawMessage
	Error     string
	AppliedAt time.Time
	FailedAt  time.Time
}

// Encode flattens the response into stream entry fields.
func (r ResponseEnvelope) Encode() map[string]string {
	ok := "0"
	if r.OK {
		ok = "1"
	}
	fields := map[string]string{
		"command_id": r.CommandID,
		"ok":         ok,
		"type":       r.Type,
	}
	if len(r.Result) > 0 {
		fields["result"] = string(r.Result)
	}
	if r.Error != "" {
		fields["error"] = r.Error
	}
	if !r.AppliedAt.IsZero() {
		fields["applied_at"] = r.AppliedAt.UTC().Format(time.RFC3339Nano)
	}
	if !r.FailedAt.IsZero() {
		fields["failed_at"] = r.FailedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

// DecodeResponseEnvelope rebuilds a response from stream entry fields.
func DecodeResponseEnvelope(fields map[string]string) ResponseEnvelope {
	r := ResponseEnvelope{
		CommandID: fields["command_id"],
		OK:        fields["ok"] == "1",
		Type:      fields["type"],
		Error:     fields["error"],
	}
	if raw, ok := fields["result"]; ok {
		r.Result = json.RawMessage(raw)
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["applied_at"]); err == nil {
		r.AppliedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["failed_at"]); err == nil {
		r.FailedAt = ts
	}
	return r
}

// DispatchResult is what a dispatch call returns to its caller. Expected
// failures (timeouts, handler errors, dead-lettering) are reported here as
// data, never as returned errors.
type DispatchResult struct {
	// CommandID is the request id of the first attempt.
	CommandID string `json:"command_id"`
	// AttemptCommandIDs holds one request id per attempt, in order.
	AttemptCommandIDs []string `json:"attempt_command_ids"`
	Attempts          int      `json:"attempts"`
	Acknowledged      bool     `json:"acknowledged"`
	// Response is the result payload of the acknowledging response, if any.
	Response     json.RawMessage `json:"response,omitempty"`
	DeadLettered bool            `json:"dead_lettered"`
	DeadLetterID string          `json:"dead_letter_id,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// DeadLetterRecord is the terminal record for a command that exhausted all
// attempts without acknowledgment. Identified by its stream entry id.
type DeadLetterRecord struct {
	ID                string
	Type              string
	ActorUserID       int64
	Payload           map[string]json.RawMessage
	AttemptCommandIDs []string
	AttemptCount      int
	Error             string
	LastResponse      json.RawMessage
	FailedAt          time.Time
}

// Encode flattens the record into stream entry fields. The ID is carried by
// the stream entry itself and is not encoded.
func (d DeadLetterRecord) Encode() (map[string]string, error) {
	payloadJSON, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dead-letter payload: %w", err)
	}
	attemptsJSON, err := json.Marshal(d.AttemptCommandIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attempt ids: %w", err)
	}
	fields := map[string]string{
		"type":                d.Type,
		"actor_user_id":       strconv.FormatInt(d.ActorUserID, 10),
		"payload":             string(payloadJSON),
		"attempt_command_ids": string(attemptsJSON),
		"attempt_count":       strconv.Itoa(d.AttemptCount),
		"error":               d.Error,
		"failed_at":           d.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(d.LastResponse) > 0 {
		fields["last_response"] = string(d.LastResponse)
	}
	return fields, nil
}

// DecodeDeadLetterRecord rebuilds a record from a stream entry.
func DecodeDeadLetterRecord(entry stream.Entry) (DeadLetterRecord, error) {
	fields := entry.Fields
	d := DeadLetterRecord{
		ID:    entry.ID,
		Type:  fields["type"],
		Error: fields["error"],
	}
	if d.Type == "" {
		return DeadLetterRecord{}, fmt.Errorf("dead-letter entry %s missing type field", entry.ID)
	}
	if v := fields["actor_user_id"]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return DeadLetterRecord{}, fmt.Errorf("dead-letter entry %s: invalid actor_user_id: %w", entry.ID, err)
		}
		d.ActorUserID = id
	}
	if v := fields["payload"]; v != "" {
		if err := json.Unmarshal([]byte(v), &d.Payload); err != nil {
			return DeadLetterRecord{}, fmt.Errorf("dead-letter entry %s: invalid payload: %w", entry.ID, err)
		}
	}
	if v := fields["attempt_command_ids"]; v != "" {
		if err := json.Unmarshal([]byte(v), &d.AttemptCommandIDs); err != nil {
			return DeadLetterRecord{}, fmt.Errorf("dead-letter entry %s: invalid attempt ids: %w", entry.ID, err)
		}
	}
	if v := fields["attempt_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return DeadLetterRecord{}, fmt.Errorf("dead-letter entry %s: invalid attempt_count: %w", entry.ID, err)
		}
		d.AttemptCount = n
	}
	if v := fields["last_response"]; v != "" {
		d.LastResponse = json.RawMessage(v)
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["failed_at"]); err == nil {
		d.FailedAt = ts
	}
	return d, nil
}

// ReplayRecord is the append-only audit entry written once per replay attempt
// of a dead letter. A dead letter may accumulate several of these.
type ReplayRecord struct {
	ID           string
	DeadLetterID string
	ActorUserID  int64
	CommandType  string
	Result       DispatchResult
	ReplayedAt   time.Time
}

// Encode flattens the record into stream entry fields.
func (r ReplayRecord) Encode() (map[string]string, error) {
	resultJSON, err := json.Marshal(r.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal replay result: %w", err)
	}
	return map[string]string{
		"dead_letter_id": r.DeadLetterID,
		"actor_user_id":  strconv.FormatInt(r.ActorUserID, 10),
		"command_type":   r.CommandType,
		"replay_result":  string(resultJSON),
		"replayed_at":    r.ReplayedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// ReplayResult reports the outcome of replaying a dead letter.
type ReplayResult struct {
	// Found is false when no dead letter exists for the requested id; the
	// other fields are zero in that case.
	Found        bool            `json:"found"`
	DeadLetterID string          `json:"dead_letter_id"`
	ReplayID     string          `json:"replay_id,omitempty"`
	Dispatch     *DispatchResult `json:"dispatch,omitempty"`
}
