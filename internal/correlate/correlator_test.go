package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantfold/gatewire/errs"
)

func TestIDsStrictlyIncreasing(t *testing.T) {
	c := New()
	prev := int64(0)
	for i := 0; i < 100; i++ {
		var id int64
		if i%2 == 0 {
			id = c.Allocate("req")
		} else {
			id = c.NextID()
		}
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestSetFloorRaisesButNeverLowers(t *testing.T) {
	c := New()
	c.SetFloor(500)
	require.Equal(t, int64(500), c.NextID())

	// A reconnect handing out a smaller floor must be ignored.
	c.SetFloor(10)
	require.Equal(t, int64(501), c.NextID())
}

func TestResolveWakesWaiter(t *testing.T) {
	c := New()
	id := c.Allocate("current-time")

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.True(t, c.Resolve(id, "payload"))
	}()

	got, err := c.Await(context.Background(), id, time.Second)
	require.NoError(t, err)
	require.Equal(t, "payload", got)
	require.Equal(t, 0, c.PendingCount())
}

func TestFailWakesWaiterWithError(t *testing.T) {
	c := New()
	id := c.Allocate("place-order")
	failure := errs.New("protocol/route", errs.CodeRequestRejected, errs.WithReqID(id))

	go func() { c.Fail(id, failure) }()

	_, err := c.Await(context.Background(), id, time.Second)
	require.Error(t, err)
	require.Equal(t, errs.CodeRequestRejected, errs.CodeOf(err))
}

func TestAwaitTimeoutKeepsRequestRegistered(t *testing.T) {
	c := New()
	id := c.Allocate("historical-data")

	_, err := c.Await(context.Background(), id, 10*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, errs.CodeRequestTimeout, errs.CodeOf(err))

	// The server may still respond late; the pending entry survives.
	require.Equal(t, 1, c.PendingCount())
	require.True(t, c.Resolve(id, "late"))
	require.Equal(t, 0, c.PendingCount())
}

func TestAwaitCancelledContext(t *testing.T) {
	c := New()
	id := c.Allocate("req")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Await(ctx, id, time.Second)
	require.Error(t, err)
	require.Equal(t, errs.CodeRequestTimeout, errs.CodeOf(err))
	// Local cancellation does not unregister the request.
	require.Equal(t, 1, c.PendingCount())
}

func TestFailAllResolvesEveryPendingExactlyOnce(t *testing.T) {
	c := New()
	const n = 20
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, c.Allocate("req"))
	}

	var wg sync.WaitGroup
	failures := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := c.Await(context.Background(), id, time.Second)
			failures <- err
		}(id)
	}

	lost := errs.New("session/teardown", errs.CodeConnectionLost)
	c.FailAll(lost)
	// Double teardown must be harmless.
	c.FailAll(lost)

	wg.Wait()
	close(failures)
	count := 0
	for err := range failures {
		require.Equal(t, errs.CodeConnectionLost, errs.CodeOf(err))
		count++
	}
	require.Equal(t, n, count)
	require.Equal(t, 0, c.PendingCount())
}

func TestStrayResolutionAfterDisconnectIsNoOp(t *testing.T) {
	c := New()
	id := c.Allocate("req")
	c.FailAll(errs.New("session/teardown", errs.CodeConnectionLost))

	// A stray frame referencing the old id must not resolve anything.
	require.False(t, c.Resolve(id, "stray"))
}

func TestAwaitUnknownID(t *testing.T) {
	c := New()
	_, err := c.Await(context.Background(), 999, time.Second)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}
