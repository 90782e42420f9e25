package toast_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/agent-dashboard/internal/toast"
)

func TestAdd_Defaults(t *testing.T) {
	q := toast.New()
	defer q.Clear()

	id := q.Add("hello", "", 0)
	require.NotEmpty(t, id)
	list := q.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, toast.Info, list[0].Severity)
	assert.Equal(t, toast.DefaultDuration, list[0].Duration)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestAdd_UniqueIDsInsertionOrder(t *testing.T) {
	q := toast.New()
	defer q.Clear()

	ids := []string{q.Info("a"), q.Success("b"), q.Warning("c"), q.Error("d")}
	list := q.List()
	require.Len(t, list, 4)
	seen := map[string]bool{}
	for i, tt := range list {
		assert.Equal(t, ids[i], tt.ID)
		assert.False(t, seen[tt.ID])
		seen[tt.ID] = true
	}
	assert.Equal(t, toast.Error, list[3].Severity)
}

func TestExpiry_PresentThenGone(t *testing.T) {
	q := toast.New()
	id := q.Add("saving", toast.Info, 1000*time.Millisecond)

	time.Sleep(500 * time.Millisecond)
	require.Len(t, q.List(), 1)
	assert.Equal(t, id, q.List()[0].ID)

	require.Eventually(t, func() bool { return len(q.List()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestExpiry_Independent(t *testing.T) {
	q := toast.New()
	defer q.Clear()

	short := q.Add("short", toast.Info, 50*time.Millisecond)
	long := q.Add("long", toast.Info, time.Hour)

	require.Eventually(t, func() bool { return q.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, long, q.List()[0].ID)
	assert.NotEqual(t, short, q.List()[0].ID)
}

func TestRemove_BeforeTimerLeavesNoResidue(t *testing.T) {
	q := toast.New()
	var changes atomic.Int32
	q.OnChange(func() { changes.Add(1) })

	id := q.Add("bye", toast.Warning, 50*time.Millisecond)
	keep := q.Add("stay", toast.Info, time.Hour)
	defer q.Clear()
	q.Remove(id)
	assert.Equal(t, int32(3), changes.Load())

	time.Sleep(150 * time.Millisecond)
	list := q.List()
	require.Len(t, list, 1)
	assert.Equal(t, keep, list[0].ID)
	assert.Equal(t, int32(3), changes.Load())

	q.Remove(id)
	q.Remove("no-such-id")
	assert.Equal(t, int32(3), changes.Load())
}

func TestOnChange_FiresOnExpiry(t *testing.T) {
	q := toast.New()
	done := make(chan struct{}, 4)
	q.OnChange(func() {
		// Reading from the callback must not deadlock.
		_ = q.List()
		done <- struct{}{}
	})
	q.Add("tick", toast.Success, 10*time.Millisecond)
	<-done
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no change notification on expiry")
	}
	assert.Zero(t, q.Len())
}
