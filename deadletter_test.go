package botbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDeadLetter(t *testing.T, b *Bridge, commandType string, seq int) string {
	t.Helper()
	id, err := b.DeadLetters().Append(context.Background(), DeadLetterRecord{
		Type:              commandType,
		ActorUserID:       1001,
		Payload:           map[string]json.RawMessage{"service": json.RawMessage(`"irc_bridge"`), "enabled": json.RawMessage(`true`)},
		AttemptCommandIDs: []string{fmt.Sprintf("req-%d-1", seq), fmt.Sprintf("req-%d-2", seq), fmt.Sprintf("req-%d-3", seq)},
		AttemptCount:      3,
		Error:             fmt.Sprintf("no acknowledgment within 1s (%d)", seq),
		FailedAt:          time.Now(),
	})
	require.NoError(t, err)
	return id
}

func TestDeadLetterStore_ListPaginatesNewestFirst(t *testing.T) {
	b, _ := newTestBridge(t)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = seedDeadLetter(t, b, CommandToggleService, i)
	}

	records, err := b.DeadLetters().List(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest-first with offset 1: the 2nd and 3rd newest.
	assert.Equal(t, ids[3], records[0].ID)
	assert.Equal(t, ids[2], records[1].ID)

	// Offset beyond the stream is empty, not an error.
	records, err = b.DeadLetters().List(context.Background(), 10, 50)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeadLetterStore_GetRoundTrip(t *testing.T) {
	b, _ := newTestBridge(t)
	id := seedDeadLetter(t, b, CommandToggleService, 0)

	record, err := b.DeadLetters().Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, CommandToggleService, record.Type)
	assert.EqualValues(t, 1001, record.ActorUserID)
	assert.Equal(t, 3, record.AttemptCount)
	assert.Len(t, record.AttemptCommandIDs, 3)
	assert.JSONEq(t, `"irc_bridge"`, string(record.Payload["service"]))

	missing, err := b.DeadLetters().Get(context.Background(), "99999999-0")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReplayer_NotFound(t *testing.T) {
	b, _ := newTestBridge(t)

	result, err := b.Replayer().Replay(context.Background(), "99999999-0", 1001, time.Second)
	require.NoError(t, err, "replaying a missing dead letter is a structured result, not an error")
	assert.False(t, result.Found)
	assert.Equal(t, "99999999-0", result.DeadLetterID)
	assert.Nil(t, result.Dispatch)
}

func TestReplayer_FailedReplayProducesIndependentDeadLetter(t *testing.T) {
	b, _ := newTestBridge(t)
	originalID := seedDeadLetter(t, b, CommandToggleService, 0)

	// No consumer is running, so the replay fails again.
	result, err := b.Replayer().Replay(context.Background(), originalID, 2002, 60*time.Millisecond)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.NotNil(t, result.Dispatch)
	assert.False(t, result.Dispatch.Acknowledged)
	assert.True(t, result.Dispatch.DeadLettered)
	assert.NotEqual(t, originalID, result.Dispatch.DeadLetterID,
		"a failed replay appends a new dead letter, it never mutates the original")

	// The original record is untouched and the audit trail references it.
	original, err := b.DeadLetters().Get(context.Background(), originalID)
	require.NoError(t, err)
	require.NotNil(t, original)

	require.NotEmpty(t, result.ReplayID)
	entries, err := b.Log().ReadRange(context.Background(), b.Streams().ReplayLog, result.ReplayID, result.ReplayID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, originalID, entries[0].Fields["dead_letter_id"])
	assert.Equal(t, CommandToggleService, entries[0].Fields["command_type"])

	var replayed DispatchResult
	require.NoError(t, json.Unmarshal([]byte(entries[0].Fields["replay_result"]), &replayed))
	assert.True(t, replayed.DeadLettered)
}

func TestReplayer_SucceedsOnceConsumerIsBack(t *testing.T) {
	b, _ := newTestBridge(t)
	originalID := seedDeadLetter(t, b, CommandToggleService, 0)

	bot := NewNopBot()
	startTestConsumer(t, b, NewCatalogRegistry(bot, bot, bot, bot))

	result, err := b.Replayer().Replay(context.Background(), originalID, 2002, 2*time.Second)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.NotNil(t, result.Dispatch)
	assert.True(t, result.Dispatch.Acknowledged)
	assert.False(t, result.Dispatch.DeadLettered)
	assert.NotEmpty(t, result.ReplayID)

	// Replaying again appends a second, independent audit record.
	again, err := b.Replayer().Replay(context.Background(), originalID, 2002, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, again.Found)
	assert.NotEqual(t, result.ReplayID, again.ReplayID)
}
