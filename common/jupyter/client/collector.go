package client

import (
	"context"
	"sync"
	"time"

	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

// ExecutionCollector folds the shell and iopub messages of one request into an ExecuteResponse.
//
// The request is complete once both its execute_reply and an iopub "idle" status have arrived.
// Since iopub is lossy, a reply without idle completes the request after a grace period.
type ExecutionCollector struct {
	requestID   string
	gracePeriod time.Duration

	mu      sync.Mutex
	reply   *messaging.ExecuteReply
	idle    bool
	outputs []*messaging.Message

	replied   chan struct{}
	done      chan struct{}
	replyOnce sync.Once
	doneOnce  sync.Once
}

// NewExecutionCollector creates a collector for the request with the given msg_id.
func NewExecutionCollector(requestID string, gracePeriod time.Duration) *ExecutionCollector {
	return &ExecutionCollector{
		requestID:   requestID,
		gracePeriod: gracePeriod,
		replied:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// RequestID returns the msg_id of the request being collected.
func (c *ExecutionCollector) RequestID() string {
	return c.requestID
}

// Handle consumes msg if it belongs to the request. It returns false for unrelated messages.
func (c *ExecutionCollector) Handle(msg *messaging.Message) bool {
	if msg == nil || msg.ParentID() != c.requestID {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case msg.Type() == messaging.ShellExecuteReply:
		var reply messaging.ExecuteReply
		if err := msg.DecodeContent(&reply); err != nil {
			reply.Status = messaging.MessageStatusError
			reply.ErrName = "InvalidReply"
			reply.ErrValue = err.Error()
		}
		c.reply = &reply
		c.replyOnce.Do(func() { close(c.replied) })
	case msg.Type() == messaging.IOStatusMessage:
		var status messaging.MessageKernelStatus
		if err := msg.DecodeContent(&status); err == nil && status.Status == messaging.MessageKernelStatusIdle {
			c.idle = true
		}
	case msg.Type().IsOutput():
		c.outputs = append(c.outputs, msg)
	default:
		return true
	}

	if c.reply != nil && c.idle {
		c.doneOnce.Do(func() { close(c.done) })
	}

	return true
}

// Done is closed once the reply and the idle status have both been seen.
func (c *ExecutionCollector) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the request completes or ctx is done.
func (c *ExecutionCollector) Wait(ctx context.Context) (*ExecuteResponse, error) {
	replied := c.replied
	var grace <-chan time.Time

	for {
		select {
		case <-c.done:
			return c.response(), nil
		case <-replied:
			replied = nil
			timer := time.NewTimer(c.gracePeriod)
			defer timer.Stop()
			grace = timer.C
		case <-grace:
			return c.response(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *ExecutionCollector) response() *ExecuteResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := &ExecuteResponse{
		Status:         c.reply.Status,
		ExecutionCount: c.reply.ExecutionCount,
		Outputs:        append([]*messaging.Message(nil), c.outputs...),
	}

	// An error reply whose traceback was lost on iopub still reports the error.
	if resp.Status == messaging.MessageStatusError && len(resp.Outputs) == 0 && c.reply.ErrName != "" {
		msg, err := messaging.NewMessage(messaging.IOErrorMessage, "", messaging.ChannelIOPub, &messaging.MessageError{
			ErrName:  c.reply.ErrName,
			ErrValue: c.reply.ErrValue,
		})
		if err == nil {
			msg.ParentHeader.MsgID = c.requestID
			resp.Outputs = append(resp.Outputs, msg)
		}
	}

	return resp
}
