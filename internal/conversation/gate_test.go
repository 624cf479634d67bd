package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/pirate-talk/bot/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryEnterIsExclusive(t *testing.T) {
	user := &User{ID: "u1"}

	assert.True(t, user.TryEnter("m1"))
	assert.False(t, user.TryEnter("m2"))

	user.ReleaseGate()
	assert.True(t, user.TryEnter("m3"))
}

func TestConfirmDeliveryReleasesForwardExactlyOnce(t *testing.T) {
	user := &User{ID: "u1"}
	forward := &engine.Response{Text: []string{"deferred"}}

	require.True(t, user.TryEnter("m1"))
	user.MarkSent("sent-1", forward, time.Minute, nil)

	// A confirmation for some other message does not open the gate.
	got, released := user.ConfirmDelivery([]string{"unrelated"})
	assert.Nil(t, got)
	assert.False(t, released)

	got, released = user.ConfirmDelivery([]string{"sent-1"})
	assert.True(t, released)
	assert.Same(t, forward, got)

	// The gate stays claimed for the forward part, so a duplicate
	// confirmation cannot release it a second time.
	assert.True(t, user.GateBusy())
	got, released = user.ConfirmDelivery([]string{"sent-1"})
	assert.Nil(t, got)
	assert.False(t, released)
}

func TestConfirmDeliveryWithoutForwardOpensGate(t *testing.T) {
	user := &User{ID: "u1"}

	require.True(t, user.TryEnter("m1"))
	user.MarkSent("sent-1", nil, time.Minute, nil)

	got, released := user.ConfirmDelivery([]string{"sent-1"})
	assert.Nil(t, got)
	assert.True(t, released)
	assert.False(t, user.GateBusy())
}

func TestTimeoutForceReleasesGate(t *testing.T) {
	user := &User{ID: "u1"}
	forward := &engine.Response{Text: []string{"deferred"}}
	fired := make(chan *engine.Response, 1)

	require.True(t, user.TryEnter("m1"))
	user.MarkSent("sent-1", forward, 10*time.Millisecond, func(fwd *engine.Response) {
		fired <- fwd
	})

	select {
	case fwd := <-fired:
		assert.Same(t, forward, fwd)
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}

	// The forward still owns the gate; a late confirmation is a no-op.
	_, released := user.ConfirmDelivery([]string{"sent-1"})
	assert.False(t, released)
}

func TestConfirmationCancelsTimeout(t *testing.T) {
	user := &User{ID: "u1"}
	fired := make(chan struct{}, 1)

	require.True(t, user.TryEnter("m1"))
	user.MarkSent("sent-1", nil, 20*time.Millisecond, func(*engine.Response) {
		fired <- struct{}{}
	})

	_, released := user.ConfirmDelivery([]string{"sent-1"})
	require.True(t, released)

	select {
	case <-fired:
		t.Fatal("timeout fired after confirmation")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestEnterWhenIdleClaimsOnRelease(t *testing.T) {
	user := &User{ID: "u1"}
	require.True(t, user.TryEnter("m1"))

	done := make(chan error, 1)
	go func() {
		done <- user.EnterWhenIdle(context.Background())
	}()

	// Give the waiter a moment to register before releasing.
	time.Sleep(10 * time.Millisecond)
	user.ReleaseGate()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}

	// The waiter claimed the gate; an inbound message cannot enter.
	assert.True(t, user.GateBusy())
	assert.False(t, user.TryEnter("m2"))
}

func TestEnterWhenIdleClaimsImmediatelyWhenIdle(t *testing.T) {
	user := &User{ID: "u1"}
	assert.NoError(t, user.EnterWhenIdle(context.Background()))
	assert.False(t, user.TryEnter("m1"))
}

func TestEnterWhenIdleHonorsContextDeadline(t *testing.T) {
	user := &User{ID: "u1"}
	require.True(t, user.TryEnter("m1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := user.EnterWhenIdle(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The failed wait must not have claimed or released anything.
	assert.True(t, user.GateBusy())
}
