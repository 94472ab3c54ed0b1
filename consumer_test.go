package botbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumer_UnknownCommandFailsStructured(t *testing.T) {
	b, _ := newTestBridge(t)
	bot := NewNopBot()
	startTestConsumer(t, b, NewCatalogRegistry(bot, bot, bot, bot))

	result, err := b.Dispatcher().Dispatch(context.Background(), "resize_flagpole", 1001, nil, 2*time.Second)

	require.NoError(t, err)
	assert.False(t, result.Acknowledged)
	assert.True(t, result.DeadLettered, "a command the consumer rejects still exhausts retries and dead-letters")
	assert.Contains(t, result.Error, "unknown command type")
}

func TestConsumer_ValidationFailureFailsStructured(t *testing.T) {
	b, _ := newTestBridge(t)
	bot := NewNopBot()
	startTestConsumer(t, b, NewCatalogRegistry(bot, bot, bot, bot))

	// forum_topic_id missing: the handler-side validator must reject it and
	// the dispatcher must see a failed (non-timeout) attempt.
	payload := map[string]interface{}{
		"activity_public_id": "act-42",
		"activity_type":      "raid",
		"title":              "Friday raid",
		"duration_minutes":   90,
	}
	result, err := b.Dispatcher().Dispatch(context.Background(), CommandPublishActivityForum, 1001, payload, 2*time.Second)

	require.NoError(t, err)
	assert.False(t, result.Acknowledged)
	assert.Contains(t, result.Error, "ForumTopicID")
}

func TestConsumer_HandlerErrorBecomesFailedResponse(t *testing.T) {
	b, _ := newTestBridge(t)

	registry := NewRegistry()
	registry.Register(CommandTriggerForumSync, func(_ context.Context, _ int64, _ interface{}) (interface{}, error) {
		return nil, errors.New("forum session expired")
	})
	startTestConsumer(t, b, registry)

	result, err := b.Dispatcher().Dispatch(context.Background(), CommandTriggerForumSync, 1001, nil, 2*time.Second)

	require.NoError(t, err)
	assert.False(t, result.Acknowledged)
	assert.Equal(t, 3, result.Attempts)
	assert.Contains(t, result.Error, "forum session expired")
}

func TestConsumer_ResultPayloadRoundTrip(t *testing.T) {
	b, _ := newTestBridge(t)
	bot := NewNopBot()
	startTestConsumer(t, b, NewCatalogRegistry(bot, bot, bot, bot))

	var channelID int64 = 123456789
	result, err := b.Dispatcher().Dispatch(context.Background(), CommandSetChannelConfig, 1001,
		SetChannelConfigPayload{ChannelKey: "announcements", ChannelID: &channelID}, 2*time.Second)

	require.NoError(t, err)
	require.True(t, result.Acknowledged)

	var applied SetChannelConfigResult
	require.NoError(t, json.Unmarshal(result.Response, &applied))
	assert.Equal(t, "announcements", applied.ChannelKey)
	require.NotNil(t, applied.ChannelID)
	assert.EqualValues(t, channelID, *applied.ChannelID)
}

func TestConsumer_NullChannelIDClearsBinding(t *testing.T) {
	b, _ := newTestBridge(t)
	bot := NewNopBot()
	startTestConsumer(t, b, NewCatalogRegistry(bot, bot, bot, bot))

	result, err := b.Dispatcher().Dispatch(context.Background(), CommandSetChannelConfig, 1001,
		SetChannelConfigPayload{ChannelKey: "announcements", ChannelID: nil}, 2*time.Second)

	require.NoError(t, err)
	require.True(t, result.Acknowledged)

	var applied SetChannelConfigResult
	require.NoError(t, json.Unmarshal(result.Response, &applied))
	assert.Nil(t, applied.ChannelID)
}

func TestConsumer_AcksAfterResponse(t *testing.T) {
	b, _ := newTestBridge(t)
	bot := NewNopBot()
	startTestConsumer(t, b, NewCatalogRegistry(bot, bot, bot, bot))

	_, err := b.Dispatcher().Dispatch(context.Background(), CommandTriggerCopScoresRefresh, 1001, nil, 2*time.Second)
	require.NoError(t, err)

	// Once acknowledged, nothing may remain pending in the group.
	claimed, err := b.Log().AutoClaim(context.Background(), b.Streams().Commands, b.Streams().Group, "prober", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestConsumer_DoubleStartIsNoop(t *testing.T) {
	b, _ := newTestBridge(t)
	bot := NewNopBot()
	c := b.NewConsumer(NewCatalogRegistry(bot, bot, bot, bot), WithConsumerBlock(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		// Must return immediately instead of starting a second loop.
		c.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Start did not return")
	}
	c.Stop()
}

func TestConsumer_ReclaimerReprocessesStalePending(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	// Simulate a consumer that took delivery and died before responding.
	require.NoError(t, b.Log().CreateGroup(ctx, b.Streams().Commands, b.Streams().Group))
	env := CommandEnvelope{
		Type:        CommandTriggerCopScoresRefresh,
		RequestID:   "req-lost",
		ActorUserID: 1001,
		SentAt:      time.Now(),
	}
	_, err := b.Log().Push(ctx, b.Streams().Commands, env.Encode(), 0)
	require.NoError(t, err)
	taken, err := b.Log().ReadGroup(ctx, b.Streams().Commands, b.Streams().Group, "dead-consumer", 10, 0)
	require.NoError(t, err)
	require.Len(t, taken, 1)

	bot := NewNopBot()
	c := b.NewConsumer(NewCatalogRegistry(bot, bot, bot, bot), WithConsumerBlock(20*time.Millisecond))
	reclaimer := c.Reclaimer(WithReclaimInterval(20*time.Millisecond), WithReclaimMinIdle(time.Nanosecond))
	rctx, cancel := context.WithCancel(ctx)
	go reclaimer.Start(rctx)
	defer func() {
		reclaimer.Stop()
		cancel()
	}()

	// The reclaimed command must produce a response correlated to the
	// original request id.
	require.Eventually(t, func() bool {
		entries, err := b.Log().ReadFrom(ctx, b.Streams().Responses, "0-0", 10, 0)
		if err != nil {
			return false
		}
		for _, entry := range entries {
			if DecodeResponseEnvelope(entry.Fields).CommandID == "req-lost" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
