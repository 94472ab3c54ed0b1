package botbridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// The closed set of command types the consumer understands. Anything else is
// answered with a command_failed response.
const (
	CommandSetChannelConfig        = "set_channel_config"
	CommandToggleService           = "toggle_service"
	CommandTriggerForumSync        = "trigger_forum_sync"
	CommandTriggerCopScoresRefresh = "trigger_cop_scores_refresh"
	CommandPublishActivityForum    = "publish_activity_forum"
)

// ErrUnknownCommand is returned when a command type is not in the catalog.
var ErrUnknownCommand = errors.New("unknown command type")

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// SetChannelConfigPayload binds a logical channel key to a Discord channel id.
// A null channel id clears the binding.
type SetChannelConfigPayload struct {
	ChannelKey string `json:"channel_key" validate:"required"`
	ChannelID  *int64 `json:"channel_id"`
}

// ToggleServicePayload enables or disables a named bot service.
type ToggleServicePayload struct {
	Service string `json:"service" validate:"required"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

// TriggerForumSyncPayload requests a forum roster sync. No parameters.
type TriggerForumSyncPayload struct{}

// TriggerCopScoresRefreshPayload requests a cop-scores refresh. No parameters.
type TriggerCopScoresRefreshPayload struct{}

// PublishActivityForumPayload asks the bot to post an activity announcement to
// the game forum.
type PublishActivityForumPayload struct {
	ActivityPublicID string `json:"activity_public_id" validate:"required"`
	ActivityType     string `json:"activity_type" validate:"required"`
	Title            string `json:"title" validate:"required"`
	DurationMinutes  int    `json:"duration_minutes" validate:"required,gt=0"`
	Notes            string `json:"notes"`
	ScheduledFor     string `json:"scheduled_for"`
	ForumTopicID     string `json:"forum_topic_id" validate:"required"`
}

// SetChannelConfigResult echoes the applied channel binding.
type SetChannelConfigResult struct {
	ChannelKey string `json:"channel_key"`
	ChannelID  *int64 `json:"channel_id"`
}

// ToggleServiceResult echoes the applied service state.
type ToggleServiceResult struct {
	Service string `json:"service"`
	Enabled bool   `json:"enabled"`
}

// TriggerForumSyncResult names the background tasks queued by the bot.
type TriggerForumSyncResult struct {
	QueuedTasks []string `json:"queued_tasks"`
	Note        string   `json:"note"`
}

// TriggerCopScoresRefreshResult names the background tasks queued by the bot.
type TriggerCopScoresRefreshResult struct {
	QueuedTasks []string `json:"queued_tasks"`
}

// PublishActivityForumResult reports the forum post outcome.
type PublishActivityForumResult struct {
	Success     bool    `json:"success"`
	TopicNumber string  `json:"topic_number"`
	PostID      *string `json:"post_id"`
	Error       *string `json:"error"`
}

// DecodePayload parses and validates the payload of a command by its type,
// returning the matching typed payload struct.
func DecodePayload(commandType string, raw json.RawMessage) (interface{}, error) {
	var payload interface{}
	switch commandType {
	case CommandSetChannelConfig:
		payload = &SetChannelConfigPayload{}
	case CommandToggleService:
		payload = &ToggleServicePayload{}
	case CommandTriggerForumSync:
		payload = &TriggerForumSyncPayload{}
	case CommandTriggerCopScoresRefresh:
		payload = &TriggerCopScoresRefreshPayload{}
	case CommandPublishActivityForum:
		payload = &PublishActivityForumPayload{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, commandType)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", commandType, err)
		}
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", commandType, err)
	}
	return payload, nil
}

// KnownCommands lists the catalog command types.
func KnownCommands() []string {
	return []string{
		CommandSetChannelConfig,
		CommandToggleService,
		CommandTriggerForumSync,
		CommandTriggerCopScoresRefresh,
		CommandPublishActivityForum,
	}
}
