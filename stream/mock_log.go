package stream

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockLog is a mock implementation of the Log interface for testing.
type MockLog struct {
	mock.Mock
}

func (m *MockLog) Push(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	args := m.Called(ctx, stream, fields, maxLen)
	return args.String(0), args.Error(1)
}

func (m *MockLog) ReadFrom(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, error) {
	args := m.Called(ctx, stream, cursor, count, block)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func (m *MockLog) ReadRange(ctx context.Context, stream, minID, maxID string, count int64) ([]Entry, error) {
	args := m.Called(ctx, stream, minID, maxID, count)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func (m *MockLog) ReadNewest(ctx context.Context, stream string, count int64) ([]Entry, error) {
	args := m.Called(ctx, stream, count)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func (m *MockLog) CreateGroup(ctx context.Context, stream, group string) error {
	args := m.Called(ctx, stream, group)
	return args.Error(0)
}

func (m *MockLog) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	args := m.Called(ctx, stream, group, consumer, count, block)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func (m *MockLog) Ack(ctx context.Context, stream, group, entryID string) error {
	args := m.Called(ctx, stream, group, entryID)
	return args.Error(0)
}

func (m *MockLog) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	args := m.Called(ctx, stream, group, consumer, minIdle, count)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func (m *MockLog) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	args := m.Called(ctx, stream, maxLen)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLog) Len(ctx context.Context, stream string) (int64, error) {
	args := m.Called(ctx, stream)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLog) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
