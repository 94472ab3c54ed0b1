package botbridge

import (
	"context"
	"fmt"
)

// HandlerFunc executes one command and returns the result payload for the ack
// response. An error becomes a command_failed response; it never crosses the
// process boundary as anything but data. Commands are delivered at least once,
// so handlers must tolerate duplicate execution.
type HandlerFunc func(ctx context.Context, actorUserID int64, payload interface{}) (interface{}, error)

// Registry maps command types to handlers. The command set is closed: a type
// without a registered handler fails, it is never silently ignored.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a command type, replacing any previous binding.
func (r *Registry) Register(commandType string, h HandlerFunc) {
	r.handlers[commandType] = h
}

// Dispatch decodes and validates the envelope's payload, then invokes the
// handler registered for its type.
func (r *Registry) Dispatch(ctx context.Context, env CommandEnvelope) (interface{}, error) {
	h, ok := r.handlers[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, env.Type)
	}
	payload, err := DecodePayload(env.Type, env.PayloadJSON())
	if err != nil {
		return nil, err
	}
	return h(ctx, env.ActorUserID, payload)
}

// ChannelConfigurator applies channel bindings on the bot side.
type ChannelConfigurator interface {
	SetChannelConfig(ctx context.Context, channelKey string, channelID *int64) error
}

// ServiceToggler flips bot feature switches.
type ServiceToggler interface {
	ToggleService(ctx context.Context, service string, enabled bool) error
}

// TaskQueuer enqueues the bot's background jobs and returns their names.
type TaskQueuer interface {
	QueueForumSync(ctx context.Context) ([]string, error)
	QueueCopScoresRefresh(ctx context.Context) ([]string, error)
}

// ForumPublisher posts activity announcements to the game forum.
type ForumPublisher interface {
	PublishActivity(ctx context.Context, p PublishActivityForumPayload) (PublishActivityForumResult, error)
}

// NewCatalogRegistry wires the full command catalog against the bot's
// collaborators.
func NewCatalogRegistry(channels ChannelConfigurator, services ServiceToggler, tasks TaskQueuer, forum ForumPublisher) *Registry {
	r := NewRegistry()

	r.Register(CommandSetChannelConfig, func(ctx context.Context, _ int64, payload interface{}) (interface{}, error) {
		p := payload.(*SetChannelConfigPayload)
		if err := channels.SetChannelConfig(ctx, p.ChannelKey, p.ChannelID); err != nil {
			return nil, err
		}
		return SetChannelConfigResult{ChannelKey: p.ChannelKey, ChannelID: p.ChannelID}, nil
	})

	r.Register(CommandToggleService, func(ctx context.Context, _ int64, payload interface{}) (interface{}, error) {
		p := payload.(*ToggleServicePayload)
		if err := services.ToggleService(ctx, p.Service, *p.Enabled); err != nil {
			return nil, err
		}
		return ToggleServiceResult{Service: p.Service, Enabled: *p.Enabled}, nil
	})

	r.Register(CommandTriggerForumSync, func(ctx context.Context, _ int64, _ interface{}) (interface{}, error) {
		queued, err := tasks.QueueForumSync(ctx)
		if err != nil {
			return nil, err
		}
		return TriggerForumSyncResult{QueuedTasks: queued, Note: "sync runs in the background"}, nil
	})

	r.Register(CommandTriggerCopScoresRefresh, func(ctx context.Context, _ int64, _ interface{}) (interface{}, error) {
		queued, err := tasks.QueueCopScoresRefresh(ctx)
		if err != nil {
			return nil, err
		}
		return TriggerCopScoresRefreshResult{QueuedTasks: queued}, nil
	})

	r.Register(CommandPublishActivityForum, func(ctx context.Context, _ int64, payload interface{}) (interface{}, error) {
		p := payload.(*PublishActivityForumPayload)
		result, err := forum.PublishActivity(ctx, *p)
		if err != nil {
			return nil, err
		}
		return result, nil
	})

	return r
}

// NopBot is a no-op implementation of every handler collaborator. Useful for
// wiring and tests.
type NopBot struct{}

// NewNopBot creates a new NopBot.
func NewNopBot() *NopBot {
	return &NopBot{}
}

func (b *NopBot) SetChannelConfig(_ context.Context, _ string, _ *int64) error { return nil }

func (b *NopBot) ToggleService(_ context.Context, _ string, _ bool) error { return nil }

func (b *NopBot) QueueForumSync(_ context.Context) ([]string, error) {
	return []string{"forum_sync"}, nil
}

func (b *NopBot) QueueCopScoresRefresh(_ context.Context) ([]string, error) {
	return []string{"cop_scores_refresh"}, nil
}

func (b *NopBot) PublishActivity(_ context.Context, _ PublishActivityForumPayload) (PublishActivityForumResult, error) {
	return PublishActivityForumResult{Success: true, TopicNumber: "0"}, nil
}
