package zmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/scusemua/notebook-step/common/jupyter"
	"github.com/scusemua/notebook-step/common/jupyter/client"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

type Option func(*Transport)

// WithLogger sets the logger of the transport.
func WithLogger(log logger.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

// WithOwnKernel makes Close send a shutdown_request to the kernel.
func WithOwnKernel(own bool) Option {
	return func(t *Transport) {
		t.ownKernel = own
	}
}

// WithTimings overrides the handshake interval and the reply grace period.
func WithTimings(handshakeInterval, gracePeriod time.Duration) Option {
	return func(t *Transport) {
		t.handshakeInterval = handshakeInterval
		t.gracePeriod = gracePeriod
	}
}

// NewFactory returns a client.TransportFactory that attaches to the kernel described by a connection file.
func NewFactory(connectionFile string, opts ...Option) client.TransportFactory {
	return func(cfg client.SessionConfig) (client.Transport, error) {
		info, err := jupyter.LoadConnectionFile(connectionFile)
		if err != nil {
			return nil, err
		}

		return New(cfg, info, opts...), nil
	}
}

// Transport talks to a running kernel directly over its ZMQ sockets.
//
// Shell and control use DEALER sockets, iopub a SUB socket subscribed to everything.
// The kernel is not owned unless WithOwnKernel is given.
type Transport struct {
	cfg      client.SessionConfig
	info     *jupyter.ConnectionInfo
	key      []byte
	session  string
	identity string

	ownKernel         bool
	handshakeInterval time.Duration
	gracePeriod       time.Duration

	mu         sync.Mutex
	shell      zmq4.Socket
	control    zmq4.Socket
	iopub      zmq4.Socket
	cancel     context.CancelFunc
	dispatcher *client.Dispatcher

	log logger.Logger
}

// New creates a transport for the kernel described by info. Nothing is contacted until Connect.
func New(cfg client.SessionConfig, info *jupyter.ConnectionInfo, opts ...Option) *Transport {
	t := &Transport{
		cfg:               cfg,
		info:              info,
		key:               []byte(info.Key),
		session:           uuid.NewString(),
		identity:          uuid.NewString(),
		handshakeInterval: jupyter.DefaultHandshakeInterval,
		gracePeriod:       jupyter.DefaultReplyGracePeriod,
	}

	for _, opt := range opts {
		opt(t)
	}

	config.InitLogger(&t.log, "ZMQTransport ")

	return t
}

// Connect dials the kernel's sockets and waits until it answers kernel_info_request.
func (t *Transport) Connect(ctx context.Context) error {
	if t.info.KernelName != "" && t.info.KernelName != t.cfg.KernelName {
		t.log.Warn("Connection file is for kernel \"%s\", not \"%s\".", t.info.KernelName, t.cfg.KernelName)
	}

	sockCtx, cancel := context.WithCancel(context.Background())

	shell := zmq4.NewDealer(sockCtx, zmq4.WithID(zmq4.SocketIdentity(t.identity)))
	control := zmq4.NewDealer(sockCtx, zmq4.WithID(zmq4.SocketIdentity(t.identity)))
	iopub := zmq4.NewSub(sockCtx)

	dispatcher := client.NewDispatcher(t.log)
	dispatcher.HandshakeInterval = t.handshakeInterval
	dispatcher.GracePeriod = t.gracePeriod

	t.mu.Lock()
	t.shell, t.control, t.iopub = shell, control, iopub
	t.cancel = cancel
	t.dispatcher = dispatcher
	t.mu.Unlock()

	if err := iopub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return err
	}

	for _, s := range []struct {
		socket zmq4.Socket
		port   int
		name   string
	}{
		{shell, t.info.ShellPort, messaging.ChannelShell},
		{control, t.info.ControlPort, messaging.ChannelControl},
		{iopub, t.info.IOPubPort, messaging.ChannelIOPub},
	} {
		if err := s.socket.Dial(t.info.Address(s.port)); err != nil {
			return fmt.Errorf("failed to dial %s socket at %s: %w", s.name, t.info.Address(s.port), err)
		}
	}

	go t.read(sockCtx, shell, messaging.ChannelShell, dispatcher)
	go t.read(sockCtx, iopub, messaging.ChannelIOPub, dispatcher)

	info, err := dispatcher.Handshake(ctx, t.session, t.send)
	if err != nil {
		return err
	}

	if info != nil {
		t.log.Debug("Kernel at %s is ready: %s %s (%s %s).", t.info.IP, info.Implementation, info.ImplementationVersion,
			info.LanguageInfo.Name, info.LanguageInfo.Version)
	}

	return nil
}

func (t *Transport) read(ctx context.Context, socket zmq4.Socket, channel string, dispatcher *client.Dispatcher) {
	for {
		raw, err := socket.Recv()
		if err != nil {
			if ctx.Err() == nil {
				t.log.Warn("Failed to read from %s socket: %v", channel, err)
			}
			dispatcher.Fail(fmt.Errorf("%w: %s: %w", jupyter.ErrKernelClosed, channel, err))
			return
		}

		msg, err := t.decode(raw.Frames, channel)
		if err != nil {
			t.log.Warn("Dropping %s message: %v", channel, err)
			continue
		}

		dispatcher.Dispatch(msg)
	}
}

func (t *Transport) decode(raw [][]byte, channel string) (*messaging.Message, error) {
	frames, err := messaging.ParseJupyterFrames(raw)
	if err != nil {
		return nil, err
	}

	return messaging.DecodeMessage(frames, channel, t.info.SignatureScheme, t.key)
}

func (t *Transport) socket(channel string) zmq4.Socket {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch channel {
	case messaging.ChannelControl:
		return t.control
	case messaging.ChannelShell:
		return t.shell
	default:
		return nil
	}
}

func (t *Transport) send(_ context.Context, msg *messaging.Message) error {
	socket := t.socket(msg.Channel)
	if socket == nil {
		return fmt.Errorf("%w: no %s socket", jupyter.ErrKernelNotLaunched, msg.Channel)
	}

	frames, err := messaging.EncodeMessage(msg, t.info.SignatureScheme, t.key)
	if err != nil {
		return err
	}

	return socket.Send(zmq4.NewMsgFrom(frames.All()...))
}

// Execute submits the code and waits for its reply and outputs.
func (t *Transport) Execute(ctx context.Context, req *client.ExecuteRequest) (*client.ExecuteResponse, error) {
	t.mu.Lock()
	dispatcher := t.dispatcher
	t.mu.Unlock()

	if dispatcher == nil {
		return nil, jupyter.ErrKernelNotLaunched
	}

	return dispatcher.Execute(ctx, req, t.send)
}

// shutdown asks an owned kernel to exit and waits for its shutdown_reply on the control socket.
func (t *Transport) shutdown(control zmq4.Socket) error {
	request, err := messaging.NewMessage(messaging.ShellShutdownRequest, t.session, messaging.ChannelControl,
		&messaging.MessageShutdownRequest{Restart: false})
	if err != nil {
		return err
	}

	if err = t.send(context.Background(), request); err != nil {
		return fmt.Errorf("failed to send shutdown_request: %w", err)
	}

	replied := make(chan error, 1)
	go func() {
		for {
			raw, err := control.Recv()
			if err != nil {
				replied <- err
				return
			}

			msg, err := t.decode(raw.Frames, messaging.ChannelControl)
			if err == nil && msg.ParentID() == request.ID() {
				replied <- nil
				return
			}
		}
	}()

	select {
	case err = <-replied:
		return err
	case <-time.After(jupyter.DefaultShutdownTimeout):
		return fmt.Errorf("no shutdown_reply within %v", jupyter.DefaultShutdownTimeout)
	}
}

// Close disconnects from the kernel, shutting it down first if it is owned. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	control := t.control
	t.mu.Unlock()

	var errs []error
	if t.ownKernel && control != nil {
		if err := t.shutdown(control); err != nil {
			errs = append(errs, err)
		} else {
			t.log.Debug("Kernel at %s shut down.", t.info.IP)
		}
	}

	t.mu.Lock()
	shell, iopub, cancel := t.shell, t.iopub, t.cancel
	t.shell, t.control, t.iopub, t.cancel, t.dispatcher = nil, nil, nil, nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, socket := range []zmq4.Socket{shell, control, iopub} {
		if socket == nil {
			continue
		}
		if err := socket.Close(); err != nil {
			t.log.Debug("Error while closing socket: %v", err)
		}
	}

	return errors.Join(errs...)
}
