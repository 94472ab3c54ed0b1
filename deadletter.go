package botbridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clanops/botbridge/stream"
)

// DeadLetterStore keeps terminal records for commands that exhausted all
// attempts, plus the append-only audit log of replay attempts. Records are
// never updated in place.
type DeadLetterStore struct {
	log     stream.Log
	streams Streams
	logger  *zap.Logger

	maxLen       int64
	replayMaxLen int64
}

// NewDeadLetterStore creates a store over the dead-letter and replay streams.
func NewDeadLetterStore(log stream.Log, streams Streams, opts ...DeadLetterStoreOption) *DeadLetterStore {
	s := &DeadLetterStore{
		log:          log,
		streams:      streams,
		logger:       zap.NewNop(),
		maxLen:       defaultDeadLetterMaxLen,
		replayMaxLen: defaultReplayLogMaxLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append writes a dead-letter record and returns its id.
func (s *DeadLetterStore) Append(ctx context.Context, record DeadLetterRecord) (string, error) {
	fields, err := record.Encode()
	if err != nil {
		return "", err
	}
	id, err := s.log.Push(ctx, s.streams.DeadLetter, fields, s.maxLen)
	if err != nil {
		return "", fmt.Errorf("failed to append dead-letter record: %w", err)
	}
	return id, nil
}

// List returns dead-letter records newest first. Pagination is applied over a
// fetched window of offset+limit entries; offsets past the window come back
// empty.
func (s *DeadLetterStore) List(ctx context.Context, limit, offset int) ([]DeadLetterRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.log.ReadNewest(ctx, s.streams.DeadLetter, int64(offset+limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	if offset >= len(entries) {
		return nil, nil
	}
	records := make([]DeadLetterRecord, 0, limit)
	for _, entry := range entries[offset:] {
		record, err := DecodeDeadLetterRecord(entry)
		if err != nil {
			s.logger.Warn("skipping undecodable dead-letter entry",
				zap.String("entry_id", entry.ID),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Get looks up one record by its exact entry id. A missing id returns
// (nil, nil), not an error.
func (s *DeadLetterStore) Get(ctx context.Context, id string) (*DeadLetterRecord, error) {
	entries, err := s.log.ReadRange(ctx, s.streams.DeadLetter, id, id, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to look up dead letter %s: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	record, err := DecodeDeadLetterRecord(entries[0])
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// AppendReplay writes one replay audit record and returns its id.
func (s *DeadLetterStore) AppendReplay(ctx context.Context, record ReplayRecord) (string, error) {
	fields, err := record.Encode()
	if err != nil {
		return "", err
	}
	id, err := s.log.Push(ctx, s.streams.ReplayLog, fields, s.replayMaxLen)
	if err != nil {
		return "", fmt.Errorf("failed to append replay record: %w", err)
	}
	return id, nil
}

// Replayer re-issues dead-lettered commands through the dispatcher. A replay
// is just another dispatch: if it fails again it produces a new, independent
// dead-letter entry, never a mutation of the original.
type Replayer struct {
	store      *DeadLetterStore
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewReplayer creates a replayer. A nil logger falls back to a no-op logger.
func NewReplayer(store *DeadLetterStore, dispatcher *Dispatcher, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{store: store, dispatcher: dispatcher, logger: logger}
}

// Replay re-dispatches the original command type and payload of a dead letter
// and appends a replay audit record. A missing dead-letter id yields a
// structured not-found result, not an error.
func (r *Replayer) Replay(ctx context.Context, deadLetterID string, actorUserID int64, timeout time.Duration) (ReplayResult, error) {
	record, err := r.store.Get(ctx, deadLetterID)
	if err != nil {
		return ReplayResult{}, err
	}
	if record == nil {
		return ReplayResult{Found: false, DeadLetterID: deadLetterID}, nil
	}

	r.logger.Info("replaying dead letter",
		zap.String("dead_letter_id", deadLetterID),
		zap.String("command_type", record.Type),
		zap.Int64("actor_user_id", actorUserID))

	dispatch, err := r.dispatcher.Dispatch(ctx, record.Type, actorUserID, record.Payload, timeout)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{
		Found:        true,
		DeadLetterID: deadLetterID,
		Dispatch:     &dispatch,
	}
	replayID, err := r.store.AppendReplay(ctx, ReplayRecord{
		DeadLetterID: deadLetterID,
		ActorUserID:  actorUserID,
		CommandType:  record.Type,
		Result:       dispatch,
		ReplayedAt:   time.Now(),
	})
	if err != nil {
		// The dispatch already happened; a missing audit row must not turn a
		// known outcome into an error.
		r.logger.Error("failed to append replay record",
			zap.String("dead_letter_id", deadLetterID),
			zap.Error(err))
		return result, nil
	}
	result.ReplayID = replayID
	return result, nil
}
