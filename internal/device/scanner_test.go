package device

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/apiclient"
	"schoolattend/internal/attendance"
	"schoolattend/internal/model"
	"schoolattend/internal/offline"
	"schoolattend/internal/scan"
	"schoolattend/internal/session"
	"schoolattend/internal/syncer"
)

type fakeCanonical struct {
	online  bool
	err     error
	timeIns []string
	synced  []model.SyncRecord
}

func (f *fakeCanonical) IsOnline(context.Context) bool { return f.online }

func (f *fakeCanonical) GetActorContext(_ context.Context, id string) (*model.ActorContext, error) {
	return &model.ActorContext{TeacherID: id, SchoolID: "SCH", GradeLevel: 7, Section: "Rizal"}, nil
}

func (f *fakeCanonical) TimeIn(_ context.Context, studentID string, day model.Day, at model.Clock, _ string) (model.DailyRecord, error) {
	if f.err != nil {
		return model.DailyRecord{}, f.err
	}
	f.timeIns = append(f.timeIns, studentID)
	return model.DailyRecord{StudentID: studentID, Date: day, TimeIn: &at, Status: model.StatusPresent}, nil
}

func (f *fakeCanonical) TimeOut(context.Context, string, model.Day, model.Clock, string) (model.DailyRecord, error) {
	if f.err != nil {
		return model.DailyRecord{}, f.err
	}
	return model.DailyRecord{}, attendance.ErrNoTimeInFound
}

func (f *fakeCanonical) BulkSync(_ context.Context, _ string, records []model.SyncRecord) ([]model.SyncResult, error) {
	f.synced = append(f.synced, records...)
	out := make([]model.SyncResult, len(records))
	for i, r := range records {
		out[i] = model.SyncResult{StudentID: r.StudentID, Date: r.Date, Applied: true}
	}
	return out, nil
}

type failingBuffer struct{}

func (failingBuffer) AppendAt(context.Context, string, model.AttendanceType, string, time.Time) (model.OfflineEvent, error) {
	return model.OfflineEvent{}, errors.New("disk full")
}

func setup(t *testing.T, remote *fakeCanonical) (*Scanner, *offline.Buffer) {
	t.Helper()
	buf, err := offline.Open(context.Background(), filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })

	sessions := session.NewManager(remote)
	rec := syncer.New(buf, remote, time.UTC, nil)
	s := NewScanner(Config{DeviceID: "dev-1", Location: time.UTC}, sessions, remote, buf, rec, nil)
	s.now = func() time.Time { return time.Date(2024, 6, 3, 7, 10, 0, 0, time.UTC) }
	return s, buf
}

func login(t *testing.T, s *Scanner) {
	t.Helper()
	_, err := s.sessions.Login(context.Background(), "T-1")
	require.NoError(t, err)
}

var ana = model.ScannedIdentity{StudentID: "S1", FullName: "Ana", GradeLevel: 7, Section: "Rizal", SchoolID: "SCH"}

func TestValidateScanRequiresSession(t *testing.T) {
	s, _ := setup(t, &fakeCanonical{})
	assert.Equal(t, scan.ReasonNoActor, s.ValidateScan("S1|Ana|7|Rizal|SCH").Reason)

	login(t, s)
	assert.True(t, s.ValidateScan("S1|Ana|7|Rizal|SCH").IsValid)
	assert.Equal(t, scan.ReasonSectionMismatch, s.ValidateScan("S1|Ana|7|Mabini|SCH").Reason)

	s.sessions.Logout()
	assert.Equal(t, scan.ReasonNoActor, s.ValidateScan("S1|Ana|7|Rizal|SCH").Reason)
}

func TestRecordOnline(t *testing.T) {
	remote := &fakeCanonical{online: true}
	s, buf := setup(t, remote)
	login(t, s)

	res := s.RecordOrBuffer(context.Background(), ana, model.TimeIn)
	assert.True(t, res.OK)
	assert.False(t, res.Offline)
	assert.Equal(t, []string{"S1"}, remote.timeIns)
	pending, _ := buf.Unsynced(context.Background())
	assert.Empty(t, pending)
}

func TestRecordOnlineRejection(t *testing.T) {
	remote := &fakeCanonical{online: true}
	s, buf := setup(t, remote)
	login(t, s)

	res := s.RecordOrBuffer(context.Background(), ana, model.TimeOut)
	assert.False(t, res.OK)
	assert.Equal(t, attendance.CodeNoTimeInFound, res.Code)
	pending, _ := buf.Unsynced(context.Background())
	assert.Empty(t, pending, "rejections are not buffered")
}

func TestRecordOfflineThenSync(t *testing.T) {
	remote := &fakeCanonical{online: false}
	s, buf := setup(t, remote)
	login(t, s)
	ctx := context.Background()

	res := s.RecordOrBuffer(ctx, ana, model.TimeIn)
	assert.True(t, res.OK)
	assert.True(t, res.Offline)
	pending, _ := buf.Unsynced(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, "dev-1", pending[0].DeviceID)

	remote.online = true
	sum := s.SyncOfflineData(ctx)
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.SyncedCount)
	require.Len(t, remote.synced, 1)
	assert.Equal(t, "07:10", remote.synced[0].TimeIn.String())

	sum = s.SyncOfflineData(ctx)
	assert.Equal(t, 0, sum.SyncedCount)
	assert.Len(t, remote.synced, 1)
}

func TestOnlineFailureFallsBackToBuffer(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", fmt.Errorf("%w: connection reset", apiclient.ErrUnavailable)},
		{"unauthorized", fmt.Errorf("renew device session: %w", apiclient.ErrUnauthorized)},
		{"unexpected status", errors.New("api error 418: teapot")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeCanonical{online: true, err: tt.err}
			s, buf := setup(t, remote)
			login(t, s)

			res := s.RecordOrBuffer(context.Background(), ana, model.TimeIn)
			assert.True(t, res.OK)
			assert.True(t, res.Offline)
			pending, _ := buf.Unsynced(context.Background())
			assert.Len(t, pending, 1)
		})
	}
}

func TestBufferFailureIsReportedNotPanicked(t *testing.T) {
	remote := &fakeCanonical{online: false}
	s, _ := setup(t, remote)
	s.buffer = failingBuffer{}
	login(t, s)

	res := s.RecordOrBuffer(context.Background(), ana, model.TimeIn)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Message)
}

func TestRecordWithoutSession(t *testing.T) {
	s, _ := setup(t, &fakeCanonical{online: true})
	res := s.RecordOrBuffer(context.Background(), ana, model.TimeIn)
	assert.False(t, res.OK)
	sum := s.SyncOfflineData(context.Background())
	assert.False(t, sum.Success)
}
