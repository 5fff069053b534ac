package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scusemua/notebook-step/common/jupyter"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
	"golang.org/x/time/rate"
)

// ReadinessTracker tracks the kernel_info handshake of a freshly connected kernel.
//
// A kernel is ready once one of our kernel_info_requests has been answered on the shell channel
// and at least one message has made it through iopub. The latter matters for ZMQ: a SUB socket
// drops everything published before its subscription is in place.
type ReadinessTracker struct {
	mu       sync.Mutex
	requests map[string]struct{}
	replied  bool
	iopub    bool
	info     *messaging.KernelInfo

	ready chan struct{}
	once  sync.Once
}

func NewReadinessTracker() *ReadinessTracker {
	return &ReadinessTracker{
		requests: make(map[string]struct{}),
		ready:    make(chan struct{}),
	}
}

// Track registers the msg_id of a kernel_info_request sent by the handshake.
func (t *ReadinessTracker) Track(msgID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests[msgID] = struct{}{}
}

// Handle inspects msg and returns true if it was part of the handshake.
func (t *ReadinessTracker) Handle(msg *messaging.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.requests[msg.ParentID()]; !ok {
		return false
	}

	if msg.Channel == messaging.ChannelIOPub {
		t.iopub = true
	} else if msg.Type() == messaging.KernelInfoReply {
		var info messaging.KernelInfo
		if err := msg.DecodeContent(&info); err == nil {
			t.info = &info
		}
		t.replied = true
	}

	if t.replied && t.iopub {
		t.once.Do(func() { close(t.ready) })
	}

	return true
}

// Ready is closed once the handshake completed.
func (t *ReadinessTracker) Ready() <-chan struct{} {
	return t.ready
}

// KernelInfo returns the content of the first kernel_info_reply, if any.
func (t *ReadinessTracker) KernelInfo() *messaging.KernelInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.info
}

// WaitReady repeats send every interval until the handshake is complete or ctx is done.
// send transmits one kernel_info_request and returns its msg_id.
func (t *ReadinessTracker) WaitReady(ctx context.Context, interval time.Duration, send func(ctx context.Context) (string, error)) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", jupyter.ErrKernelNotReady, err)
		}

		msgID, err := send(ctx)
		if err != nil {
			return err
		}
		t.Track(msgID)

		timer := time.NewTimer(interval)
		select {
		case <-t.ready:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", jupyter.ErrKernelNotReady, ctx.Err())
		case <-timer.C:
		}
	}
}

// NewKernelInfoRequest builds the request sent by the handshake.
func NewKernelInfoRequest(session string) (*messaging.Message, error) {
	return messaging.NewMessage(messaging.KernelInfoRequest, session, messaging.ChannelShell, struct{}{})
}
