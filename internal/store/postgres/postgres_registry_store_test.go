package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresPauseStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresPauseStore(db)
	ctx := context.Background()
	pausedAt := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (kind, value) DO NOTHING")).
		WithArgs("queue", "mice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("queue", "mice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT kind, value, paused_at FROM gofire_pauses").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "value", "paused_at"}).AddRow("queue", "mice", pausedAt))
	mock.ExpectExec("DELETE FROM gofire_pauses").
		WithArgs("queue", "mice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Pause(ctx, types.PauseQueue, "mice"))

	paused, err := s.IsPaused(ctx, types.PauseQueue, "mice")
	require.NoError(t, err)
	assert.True(t, paused)

	pauses, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Pause{{Kind: types.PauseQueue, Value: "mice", PausedAt: pausedAt}}, pauses)

	require.NoError(t, s.Unpause(ctx, types.PauseQueue, "mice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPauseStore_UnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresPauseStore(db)
	assert.Error(t, s.Pause(context.Background(), types.PauseKind("host"), "x"))
	assert.Error(t, s.Unpause(context.Background(), types.PauseKind("host"), "x"))
}

func TestPostgresProcessStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresProcessStore(db)
	ctx := context.Background()
	state := json.RawMessage(`{"hostname":"h"}`)
	cutoff := time.Now().Add(-4 * time.Minute)

	mock.ExpectExec("INSERT INTO gofire_processes").
		WithArgs("p-1", `{"hostname":"h"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO gofire_processes").
		WithArgs("p-1", `{"hostname":"h"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM gofire_processes WHERE updated_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM gofire_processes WHERE id = \\$1").
		WithArgs("p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Register(ctx, "p-1", state))
	require.NoError(t, s.Heartbeat(ctx, "p-1", state))

	n, err := s.DeleteStale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.Deregister(ctx, "p-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCronStateStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresCronStateStore(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT cron_key, enabled FROM gofire_cron_states").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"cron_key", "enabled"}).AddRow("nightly", false))
	mock.ExpectExec("INSERT INTO gofire_cron_states").
		WithArgs("nightly", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enabled, err := s.Enabled(ctx, []string{"nightly", "hourly"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"nightly": false, "hourly": true}, enabled)

	require.NoError(t, s.SetEnabled(ctx, "nightly", true))

	empty, err := s.Enabled(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}
