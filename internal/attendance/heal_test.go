package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/model"
	"schoolattend/internal/queue"
)

func TestRunHealerConsolidates(t *testing.T) {
	st := NewMemoryStore()
	q := queue.NewInMemory(8)
	svc := NewService(st, q, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bg := context.Background()
	first, _ := st.Insert(bg, model.DailyRecord{StudentID: "S1", Date: day, TimeIn: model.ClockPtr(model.NewClock(7, 0, 0))})
	_, _ = st.Insert(bg, model.DailyRecord{StudentID: "S1", Date: day, TimeIn: model.ClockPtr(model.NewClock(7, 2, 0))})

	require.NoError(t, q.Publish(bg, queue.Message{Type: "other", Body: []byte("ignored")}))
	require.NoError(t, q.Publish(bg, queue.Message{Type: queue.TypeConsolidate, Body: []byte("broken")}))
	require.NoError(t, q.Publish(bg, queue.Message{Type: queue.TypeConsolidate, Body: []byte("S1|2024-06-03")}))

	done := make(chan error, 1)
	go func() { done <- svc.RunHealer(ctx, q) }()

	assert.Eventually(t, func() bool { return st.Len() == 1 }, time.Second, 5*time.Millisecond)
	rows, _ := st.ListDay(bg, "S1", day)
	require.Len(t, rows, 1)
	assert.Equal(t, first.AttendanceID, rows[0].AttendanceID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("healer did not stop")
	}
}
