package client

import (
	"context"
	"testing"

	"github.com/RezaEskandarii/gofire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockCronSource struct {
	EntriesFunc    func(ctx context.Context) ([]types.CronEntryStatus, error)
	SetEnabledFunc func(ctx context.Context, key string, enabled bool) error
}

func (m *MockCronSource) Entries(ctx context.Context) ([]types.CronEntryStatus, error) {
	return m.EntriesFunc(ctx)
}

func (m *MockCronSource) SetEnabled(ctx context.Context, key string, enabled bool) error {
	return m.SetEnabledFunc(ctx, key, enabled)
}

func TestCronJobManager(t *testing.T) {
	enabled := map[string]bool{}
	source := &MockCronSource{
		EntriesFunc: func(ctx context.Context) ([]types.CronEntryStatus, error) {
			return []types.CronEntryStatus{{Entry: types.CronEntry{Key: "report"}, Enabled: enabled["report"]}}, nil
		},
		SetEnabledFunc: func(ctx context.Context, key string, value bool) error {
			enabled[key] = value
			return nil
		},
	}
	cm := NewCronJobManager(source)
	ctx := context.Background()

	require.NoError(t, cm.Activate(ctx, "report"))
	entries, err := cm.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Enabled)

	require.NoError(t, cm.DeActivate(ctx, "report"))
	entries, err = cm.List(ctx)
	require.NoError(t, err)
	assert.False(t, entries[0].Enabled)
}
