package conversation

import (
	"context"
	"time"

	"github.com/pirate-talk/bot/internal/engine"
)

// The delivery gate serializes one user's outbound reply sequence against
// the platform's asynchronous delivery confirmations. While it is not
// idle, no new reply sequence may start for that user: messages with
// attachments can take longer to deliver than plain text, and without the
// gate a follow-up reply can visibly overtake the part it was meant to
// follow.
type gatePhase int

const (
	gateIdle gatePhase = iota
	// An inbound message was accepted for processing; nothing sent yet.
	gateAwaitingSource
	// The primary reply part is out; waiting for the platform to confirm
	// delivery of finalMessageID.
	gateAwaitingDelivery
)

type gate struct {
	phase           gatePhase
	sourceMessageID string
	finalMessageID  string
	forward         *engine.Response
	timer           *time.Timer
	epoch           uint64
}

// TryEnter claims the gate for a new inbound message. It returns false
// when a previous sequence is still in flight, in which case the caller
// must drop the message: queuing it would interleave two dialog turns'
// outputs.
func (u *User) TryEnter(sourceMessageID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.gate.phase != gateIdle {
		return false
	}
	u.gate.phase = gateAwaitingSource
	u.gate.sourceMessageID = sourceMessageID
	return true
}

// MarkSent records that the primary reply part went out and closes the
// gate until the platform confirms delivery of finalMessageID. forward,
// if non-nil, is the deferred payload to dispatch on release.
//
// Delivery receipts can be lost, so the gate arms a timeout; when it
// fires, onTimeout receives the deferred payload (possibly nil) and the
// gate reopens rather than stalling the user's conversation forever.
func (u *User) MarkSent(finalMessageID string, forward *engine.Response, timeout time.Duration, onTimeout func(*engine.Response)) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.gate.timer != nil {
		u.gate.timer.Stop()
	}

	u.gate.phase = gateAwaitingDelivery
	u.gate.finalMessageID = finalMessageID
	u.gate.forward = forward
	u.gate.epoch++

	epoch := u.gate.epoch
	u.gate.timer = time.AfterFunc(timeout, func() {
		u.mu.Lock()
		if u.gate.epoch != epoch || u.gate.phase != gateAwaitingDelivery {
			u.mu.Unlock()
			return
		}
		fwd := u.gate.forward
		u.handoffGateLocked(fwd)
		u.mu.Unlock()

		if onTimeout != nil {
			onTimeout(fwd)
		}
	})
}

// ConfirmDelivery applies a platform delivery confirmation. When one of
// the delivered ids matches the outstanding primary part, the gate opens
// and the deferred payload (if any) is returned for dispatch. Unmatched
// or duplicate confirmations are a no-op: they may legitimately refer to
// unrelated or already-released messages.
func (u *User) ConfirmDelivery(deliveredIDs []string) (*engine.Response, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.gate.phase != gateAwaitingDelivery || u.gate.finalMessageID == "" {
		return nil, false
	}

	matched := false
	for _, id := range deliveredIDs {
		if id == u.gate.finalMessageID {
			matched = true
			break
		}
	}
	if !matched {
		return nil, false
	}

	forward := u.gate.forward
	u.handoffGateLocked(forward)
	return forward, true
}

// ReleaseGate unconditionally reopens the gate, dropping any deferred
// payload. Called on upstream errors and silent engine turns so the
// user's next message is not deadlocked behind a reply that will never
// be confirmed.
func (u *User) ReleaseGate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resetGateLocked()
}

// GateBusy reports whether a reply sequence is in flight.
func (u *User) GateBusy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gate.phase != gateIdle
}

// EnterWhenIdle blocks until the gate can be claimed for a chained
// continuation turn, then claims it in the same critical section. The
// claim closes the window between the previous sequence's release and
// the continuation's first send in which a fresh inbound message could
// start a second reply sequence. Only the goroutine handling this user's
// conversation is suspended; there is no polling.
func (u *User) EnterWhenIdle(ctx context.Context) error {
	for {
		u.mu.Lock()
		if u.gate.phase == gateIdle {
			u.gate.phase = gateAwaitingSource
			u.mu.Unlock()
			return nil
		}
		ready := make(chan struct{})
		u.idleWaiters = append(u.idleWaiters, ready)
		u.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handoffGateLocked either fully reopens the gate or, when a deferred
// payload is about to be dispatched, keeps it claimed so a waiting
// continuation turn cannot slip in ahead of the forward part. Must be
// called with the user's mutex held.
func (u *User) handoffGateLocked(forward *engine.Response) {
	if forward == nil {
		u.resetGateLocked()
		return
	}
	if u.gate.timer != nil {
		u.gate.timer.Stop()
	}
	u.gate = gate{
		phase:           gateAwaitingSource,
		sourceMessageID: u.gate.sourceMessageID,
		epoch:           u.gate.epoch,
	}
}

// resetGateLocked must be called with the user's mutex held.
func (u *User) resetGateLocked() {
	if u.gate.timer != nil {
		u.gate.timer.Stop()
	}
	u.gate = gate{epoch: u.gate.epoch}

	for _, ready := range u.idleWaiters {
		close(ready)
	}
	u.idleWaiters = nil
}
