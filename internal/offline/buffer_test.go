package offline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/model"
)

func openBuffer(t *testing.T) *Buffer {
	t.Helper()
	b, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestAppendAndUnsynced(t *testing.T) {
	b := openBuffer(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC)

	e1, err := b.AppendAt(ctx, "S1", model.TimeIn, "dev-1", at)
	require.NoError(t, err)
	e2, err := b.AppendAt(ctx, "S1", model.TimeOut, "dev-1", at.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Less(t, e1.ID, e2.ID)

	events, err := b.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.TimeIn, events[0].AttendanceType)
	assert.True(t, at.Equal(events[0].ScanTime))
	assert.False(t, events[0].IsSynced)
	assert.Equal(t, "dev-1", events[1].DeviceID)
}

func TestAppendRejectsBadInput(t *testing.T) {
	b := openBuffer(t)
	_, err := b.Append(context.Background(), "", model.TimeIn, "dev")
	assert.Error(t, err)
	_, err = b.Append(context.Background(), "S1", model.AttendanceType("LUNCH"), "dev")
	assert.Error(t, err)
}

func TestMarkSyncedOnce(t *testing.T) {
	b := openBuffer(t)
	ctx := context.Background()
	e, err := b.Append(ctx, "S1", model.TimeIn, "dev-1")
	require.NoError(t, err)

	require.NoError(t, b.MarkSynced(ctx, e.ID))
	assert.ErrorIs(t, b.MarkSynced(ctx, e.ID), ErrNoRows)
	assert.ErrorIs(t, b.MarkSynced(ctx, 9999), ErrNoRows)

	pending, err := b.Unsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsSynced)

	total, unsynced, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, unsynced)
}

func TestMarkSyncedForStudentDay(t *testing.T) {
	b := openBuffer(t)
	ctx := context.Background()
	mon := time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC)
	tue := mon.AddDate(0, 0, 1)

	_, _ = b.AppendAt(ctx, "S1", model.TimeIn, "dev", mon)
	out, _ := b.AppendAt(ctx, "S1", model.TimeOut, "dev", mon.Add(9*time.Hour))
	_, _ = b.AppendAt(ctx, "S1", model.TimeIn, "dev", tue)
	_, _ = b.AppendAt(ctx, "S2", model.TimeIn, "dev", mon)
	late, _ := b.AppendAt(ctx, "S1", model.TimeOut, "dev", mon.Add(10*time.Hour))

	require.NoError(t, b.MarkSyncedForStudentDay(ctx, "S1", model.DayOf(mon), time.UTC, out.ID))
	pending, err := b.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "S1", pending[0].StudentID)
	assert.Equal(t, "S2", pending[1].StudentID)
	assert.Equal(t, late.ID, pending[2].ID, "events past upToID stay pending")

	assert.ErrorIs(t, b.MarkSyncedForStudentDay(ctx, "S1", model.DayOf(mon), time.UTC, out.ID), ErrNoRows)
}

func TestBufferSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")
	ctx := context.Background()
	b, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = b.Append(ctx, "S1", model.TimeIn, "dev")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(ctx, path)
	require.NoError(t, err)
	defer b.Close()
	events, err := b.Unsynced(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
