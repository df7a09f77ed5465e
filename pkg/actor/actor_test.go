package actor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_Order(t *testing.T) {
	m := NewMailbox[int](4)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.Send(ctx, i))
	}
	assert.Equal(t, 3, m.Len())

	for want := 1; want <= 3; want++ {
		got, ok := m.TryRecv()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := m.TryRecv()
	assert.False(t, ok)
}

func TestMailbox_RecvTimeout(t *testing.T) {
	m := NewMailbox[string](1)

	start := time.Now()
	_, ok := m.Recv(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.True(t, time.Since(start) >= 20*time.Millisecond)

	require.True(t, m.Offer("x"))
	got, ok := m.Recv(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestMailbox_OfferFull(t *testing.T) {
	m := NewMailbox[int](1)
	assert.True(t, m.Offer(1))
	assert.False(t, m.Offer(2))

	got, _ := m.TryRecv()
	assert.Equal(t, 1, got)
}

func TestMailbox_SendBlocksUntilContextDone(t *testing.T) {
	m := NewMailbox[int](1)
	require.True(t, m.Offer(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Send(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_Close(t *testing.T) {
	m := NewMailbox[int](1)
	require.True(t, m.Offer(1))

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), 2) }()

	m.Close()
	m.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Send did not return after Close")
	}
	assert.False(t, m.Offer(3))
}

func TestSupervise_RestartsUntilCleanStop(t *testing.T) {
	var runs atomic.Int32

	err := Supervise(context.Background(), "test", hclog.NewNullLogger(), time.Millisecond, func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("sensor unplugged")
		case 2:
			panic("boom")
		default:
			return nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), runs.Load())
}

func TestSupervise_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Supervise(ctx, "test", nil, time.Millisecond, func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("always failing")
		})
	}()

	require.Eventually(t, func() bool { return runs.Load() > 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Supervise did not return after cancel")
	}
}

func TestSupervise_FreshStatePerRun(t *testing.T) {
	var seen []int
	runs := 0

	err := Supervise(context.Background(), "test", nil, 0, func(ctx context.Context) error {
		counter := 0
		counter++
		seen = append(seen, counter)
		runs++
		if runs < 3 {
			return errors.New("again")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, seen)
}
