package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/scusemua/notebook-step/common/jupyter"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

var (
	ErrRequestInFlight = errors.New("another request is in flight")
)

// SendFunc writes one message to the kernel on the channel named by msg.Channel.
type SendFunc func(ctx context.Context, msg *messaging.Message) error

// Dispatcher routes the messages a Transport receives to the pending handshake or request.
// It holds the request/reply logic shared by every wire protocol.
type Dispatcher struct {
	GracePeriod       time.Duration
	HandshakeInterval time.Duration

	mu        sync.Mutex
	tracker   *ReadinessTracker
	collector *ExecutionCollector

	failed   chan struct{}
	failOnce sync.Once
	err      error

	log logger.Logger
}

// NewDispatcher creates a Dispatcher using the default timings.
func NewDispatcher(log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		GracePeriod:       jupyter.DefaultReplyGracePeriod,
		HandshakeInterval: jupyter.DefaultHandshakeInterval,
		failed:            make(chan struct{}),
		log:               log,
	}

	config.InitLogger(&d.log, d)

	return d
}

// Dispatch hands msg to whoever is waiting for it. Unsolicited messages are dropped.
func (d *Dispatcher) Dispatch(msg *messaging.Message) {
	d.mu.Lock()
	tracker, collector := d.tracker, d.collector
	d.mu.Unlock()

	if tracker != nil && tracker.Handle(msg) {
		return
	}

	if collector != nil && collector.Handle(msg) {
		return
	}

	d.log.Debug("Dropping unsolicited \"%s\" message on %s.", msg.Type(), msg.Channel)
}

// Fail marks the connection as broken. Pending and future waits return err.
func (d *Dispatcher) Fail(err error) {
	d.failOnce.Do(func() {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()

		close(d.failed)
	})
}

// Err returns the error passed to Fail, if any.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.err
}

// watch derives a context that is cancelled with the connection error when the connection breaks.
func (d *Dispatcher) watch(ctx context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(ctx)

	go func() {
		select {
		case <-d.failed:
			cancel(d.Err())
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Handshake repeats kernel_info_request through send until the kernel is ready.
func (d *Dispatcher) Handshake(ctx context.Context, session string, send SendFunc) (*messaging.KernelInfo, error) {
	tracker := NewReadinessTracker()

	d.mu.Lock()
	d.tracker = tracker
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.tracker = nil
		d.mu.Unlock()
	}()

	ctx, cancel := d.watch(ctx)
	defer cancel(nil)

	err := tracker.WaitReady(ctx, d.HandshakeInterval, func(ctx context.Context) (string, error) {
		request, err := NewKernelInfoRequest(session)
		if err != nil {
			return "", err
		}
		tracker.Track(request.ID())
		return request.ID(), send(ctx, request)
	})
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			return nil, errors.Join(err, cause)
		}
		return nil, err
	}

	return tracker.KernelInfo(), nil
}

// Execute sends an execute_request through send and collects the kernel's answer.
func (d *Dispatcher) Execute(ctx context.Context, req *ExecuteRequest, send SendFunc) (*ExecuteResponse, error) {
	msg, err := messaging.NewMessage(messaging.ShellExecuteRequest, req.Session, messaging.ChannelShell,
		messaging.NewExecuteRequest(req.Code))
	if err != nil {
		return nil, err
	}

	collector := NewExecutionCollector(msg.ID(), d.GracePeriod)

	d.mu.Lock()
	if d.collector != nil {
		d.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	d.collector = collector
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.collector = nil
		d.mu.Unlock()
	}()

	ctx, cancel := d.watch(ctx)
	defer cancel(nil)

	if err = send(ctx, msg); err != nil {
		return nil, err
	}

	resp, err := collector.Wait(ctx)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, err
	}

	return resp, nil
}
