package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/model"
	"schoolattend/internal/offline"
)

type fakeRemote struct {
	calls   [][]model.SyncRecord
	reject  map[string]string
	failAll error
}

func (f *fakeRemote) BulkSync(_ context.Context, _ string, records []model.SyncRecord) ([]model.SyncResult, error) {
	f.calls = append(f.calls, records)
	if f.failAll != nil {
		return nil, f.failAll
	}
	out := make([]model.SyncResult, 0, len(records))
	for _, r := range records {
		res := model.SyncResult{StudentID: r.StudentID, Date: r.Date, Applied: true}
		if msg, ok := f.reject[r.StudentID]; ok {
			res.Applied, res.Error = false, msg
		}
		out = append(out, res)
	}
	return out, nil
}

func setup(t *testing.T) (*offline.Buffer, *fakeRemote, *Reconciler) {
	t.Helper()
	buf, err := offline.Open(context.Background(), filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	remote := &fakeRemote{reject: map[string]string{}}
	return buf, remote, New(buf, remote, time.UTC, nil)
}

func at(h, m int) time.Time {
	return time.Date(2024, 6, 3, h, m, 0, 0, time.UTC)
}

func TestSyncFullDayScenario(t *testing.T) {
	buf, remote, rec := setup(t)
	ctx := context.Background()
	_, _ = buf.AppendAt(ctx, "S1", model.TimeIn, "dev", at(7, 0))
	_, _ = buf.AppendAt(ctx, "S1", model.TimeOut, "dev", at(16, 30))

	sum := rec.Sync(ctx, "T-1")
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.SyncedCount)

	require.Len(t, remote.calls, 1)
	require.Len(t, remote.calls[0], 1)
	got := remote.calls[0][0]
	assert.Equal(t, "S1", got.StudentID)
	assert.Equal(t, "2024-06-03", got.Date.String())
	assert.Equal(t, model.StatusPresent, got.Status)
	assert.Equal(t, RemarkFullDay, got.Remarks)
	assert.Equal(t, "07:00", got.TimeIn.String())
	assert.Equal(t, "16:30", got.TimeOut.String())
}

func TestSyncTwiceIsIdempotent(t *testing.T) {
	buf, remote, rec := setup(t)
	ctx := context.Background()
	_, _ = buf.AppendAt(ctx, "S1", model.TimeIn, "dev", at(7, 0))

	first := rec.Sync(ctx, "T-1")
	assert.Equal(t, 1, first.SyncedCount)

	for i := 0; i < 2; i++ {
		again := rec.Sync(ctx, "T-1")
		assert.True(t, again.Success)
		assert.Equal(t, 0, again.SyncedCount)
	}
	assert.Len(t, remote.calls, 1, "already synced events must not be resubmitted")
}

func TestSyncKeepsLatestOfEachType(t *testing.T) {
	buf, remote, rec := setup(t)
	ctx := context.Background()
	_, _ = buf.AppendAt(ctx, "S1", model.TimeIn, "dev", at(7, 0))
	_, _ = buf.AppendAt(ctx, "S1", model.TimeIn, "dev", at(7, 20))
	_, _ = buf.AppendAt(ctx, "S1", model.TimeOut, "dev", at(9, 0))
	_, _ = buf.AppendAt(ctx, "S1", model.TimeOut, "dev", at(10, 0))

	sum := rec.Sync(ctx, "T-1")
	require.True(t, sum.Success)
	got := remote.calls[0][0]
	assert.Equal(t, "07:20", got.TimeIn.String())
	assert.Equal(t, "10:00", got.TimeOut.String())
	assert.Equal(t, model.StatusHalfDay, got.Status)

	pending, _ := buf.Unsynced(ctx)
	assert.Empty(t, pending)
}

func TestSyncIsolatesFailures(t *testing.T) {
	buf, remote, rec := setup(t)
	ctx := context.Background()
	_, _ = buf.AppendAt(ctx, "S1", model.TimeIn, "dev", at(7, 0))
	_, _ = buf.AppendAt(ctx, "S2", model.TimeIn, "dev", at(7, 5))
	_, _ = buf.AppendAt(ctx, "S3", model.TimeIn, "dev", at(9, 5))
	remote.reject["S2"] = "boom"

	sum := rec.Sync(ctx, "T-1")
	assert.False(t, sum.Success)
	assert.Equal(t, 2, sum.SyncedCount)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "S2")

	pending, _ := buf.Unsynced(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, "S2", pending[0].StudentID)

	delete(remote.reject, "S2")
	sum = rec.Sync(ctx, "T-1")
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.SyncedCount)
	require.Len(t, remote.calls, 2)
	assert.Len(t, remote.calls[1], 1)
}

func TestSyncTransportFailureLeavesEventsUnsynced(t *testing.T) {
	buf, remote, rec := setup(t)
	ctx := context.Background()
	_, _ = buf.AppendAt(ctx, "S1", model.TimeIn, "dev", at(7, 0))
	remote.failAll = errors.New("connection refused")

	sum := rec.Sync(ctx, "T-1")
	assert.False(t, sum.Success)
	assert.Zero(t, sum.SyncedCount)
	pending, _ := buf.Unsynced(ctx)
	assert.Len(t, pending, 1)
}

// flakyMarkBuffer fails every mark-by-id and appends a scan the first time it
// is asked, the way a scan captured during a sync pass lands in the buffer.
type flakyMarkBuffer struct {
	*offline.Buffer
	appended bool
	late     model.OfflineEvent
}

func (f *flakyMarkBuffer) MarkSynced(ctx context.Context, _ int64) error {
	if !f.appended {
		f.appended = true
		f.late, _ = f.Buffer.AppendAt(ctx, "S1", model.TimeOut, "dev", at(16, 0))
	}
	return errors.New("database is locked")
}

func TestMarkFallbackSkipsEventsAddedDuringPass(t *testing.T) {
	buf, remote, _ := setup(t)
	ctx := context.Background()
	_, _ = buf.AppendAt(ctx, "S1", model.TimeIn, "dev", at(7, 0))

	flaky := &flakyMarkBuffer{Buffer: buf}
	rec := New(flaky, remote, time.UTC, nil)
	sum := rec.Sync(ctx, "T-1")
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.SyncedCount)
	require.Len(t, remote.calls, 1)
	assert.Nil(t, remote.calls[0][0].TimeOut)

	pending, err := buf.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "the time-out captured mid-pass must still be pending")
	assert.Equal(t, flaky.late.ID, pending[0].ID)

	sum = New(buf, remote, time.UTC, nil).Sync(ctx, "T-1")
	assert.True(t, sum.Success)
	require.Len(t, remote.calls, 2)
	require.NotNil(t, remote.calls[1][0].TimeOut)
	assert.Equal(t, "16:00", remote.calls[1][0].TimeOut.String())
}

func TestGroupEventsByStudentDay(t *testing.T) {
	events := []model.OfflineEvent{
		{ID: 1, StudentID: "S2", AttendanceType: model.TimeIn, ScanTime: at(7, 0)},
		{ID: 2, StudentID: "S1", AttendanceType: model.TimeIn, ScanTime: at(7, 0)},
		{ID: 3, StudentID: "S1", AttendanceType: model.TimeIn, ScanTime: at(7, 0).AddDate(0, 0, 1)},
		{ID: 4, StudentID: "S1", AttendanceType: model.TimeOut, ScanTime: at(16, 0)},
	}
	groups := GroupEvents(events, time.UTC)
	require.Len(t, groups, 3)
	assert.Equal(t, "S1", groups[0].StudentID)
	assert.Equal(t, "2024-06-03", groups[0].Day.String())
	assert.Len(t, groups[0].Events, 2)
	assert.Equal(t, "2024-06-04", groups[1].Day.String())
	assert.Equal(t, "S2", groups[2].StudentID)
}

func TestDerive(t *testing.T) {
	in7, in859, in9 := at(7, 0), at(8, 59), at(9, 0)
	out10, out11, out16 := at(10, 59), at(11, 0), at(16, 0)
	tests := []struct {
		name    string
		in, out *time.Time
		status  model.Status
		remarks string
	}{
		{name: "short day", in: &in7, out: &out10, status: model.StatusHalfDay, remarks: RemarkHalfDay},
		{name: "full day", in: &in7, out: &out16, status: model.StatusPresent, remarks: RemarkFullDay},
		{name: "exactly four hours", in: &in7, out: &out11, status: model.StatusPresent, remarks: RemarkFullDay},
		{name: "in only on time", in: &in7, status: model.StatusPresent},
		{name: "in only at 08:59", in: &in859, status: model.StatusPresent},
		{name: "in only at 09:00", in: &in9, status: model.StatusLate, remarks: RemarkLateArrival},
		{name: "out only", out: &out16, status: model.StatusPresent, remarks: RemarkTimeOutOnly},
		{name: "nothing", status: model.StatusNotMarked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, remarks := Derive(tt.in, tt.out)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.remarks, remarks)
		})
	}
}
