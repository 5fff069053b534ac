package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/scusemua/notebook-step/common/jupyter"
	"github.com/scusemua/notebook-step/common/jupyter/client"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	KernelsEndpoint = "/api/kernels"

	// MaxMessageSize is the largest websocket message accepted from the gateway. Figures are big.
	MaxMessageSize = 64 << 20
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response from kernel gateway")
	ErrMissingAddress     = errors.New("no kernel gateway address configured")
)

// Kernel is the kernel resource of the Jupyter Kernel Gateway REST API.
type Kernel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
}

type Option func(*Transport)

// WithLogger sets the logger of the transport.
func WithLogger(log logger.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

// WithHTTPClient makes the REST calls through the given client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithTimings overrides the handshake interval and the reply grace period.
func WithTimings(handshakeInterval, gracePeriod time.Duration) Option {
	return func(t *Transport) {
		t.handshakeInterval = handshakeInterval
		t.gracePeriod = gracePeriod
	}
}

// NewFactory returns a client.TransportFactory that launches kernels on a Jupyter Kernel Gateway.
func NewFactory(opts ...Option) client.TransportFactory {
	return func(cfg client.SessionConfig) (client.Transport, error) {
		return New(cfg, opts...)
	}
}

// Transport talks to one kernel launched on a Jupyter Kernel Gateway.
//
// The kernel is created with POST /api/kernels and its channels are multiplexed over the
// websocket at /api/kernels/{id}/channels. The transport owns the kernel and deletes it on Close.
type Transport struct {
	cfg     client.SessionConfig
	baseURL *url.URL
	session string

	rest       *resty.Client
	httpClient *http.Client

	handshakeInterval time.Duration
	gracePeriod       time.Duration

	mu         sync.Mutex
	kernel     *Kernel
	conn       *websocket.Conn
	cancelRead context.CancelFunc
	dispatcher *client.Dispatcher

	log logger.Logger
}

// New creates a transport for the gateway at cfg.GatewayAddress. Nothing is contacted until Connect.
func New(cfg client.SessionConfig, opts ...Option) (*Transport, error) {
	baseURL, err := ParseAddress(cfg.GatewayAddress)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:               cfg,
		baseURL:           baseURL,
		session:           uuid.NewString(),
		handshakeInterval: jupyter.DefaultHandshakeInterval,
		gracePeriod:       jupyter.DefaultReplyGracePeriod,
	}

	for _, opt := range opts {
		opt(t)
	}

	config.InitLogger(&t.log, "GatewayTransport ")

	if t.httpClient != nil {
		t.rest = resty.NewWithClient(t.httpClient)
	} else {
		t.rest = resty.New()
	}

	t.rest.SetBaseURL(baseURL.String()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return t, nil
}

// ParseAddress turns "host:port" or "http(s)://host:port[/base]" into the gateway's base URL.
func ParseAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrMissingAddress
	}

	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid kernel gateway address \"%s\": %w", address, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid kernel gateway address \"%s\": unsupported scheme \"%s\"", address, u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("invalid kernel gateway address \"%s\": missing host", address)
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// channelsURL returns the websocket URL of the kernel's channels.
func (t *Transport) channelsURL(kernelID string) string {
	u := *t.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	u.Path = u.Path + KernelsEndpoint + "/" + url.PathEscape(kernelID) + "/channels"
	u.RawQuery = url.Values{"session_id": []string{t.session}}.Encode()
	return u.String()
}

// Kernel returns the launched kernel, or nil before Connect.
func (t *Transport) Kernel() *Kernel {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.kernel
}

// Connect launches a kernel, opens its channels and waits until it answers kernel_info_request.
func (t *Transport) Connect(ctx context.Context) error {
	kernel, err := t.launch(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.kernel = kernel
	t.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, t.channelsURL(kernel.ID), &websocket.DialOptions{HTTPClient: t.httpClient})
	if err != nil {
		return fmt.Errorf("failed to open channels of kernel %s: %w", kernel.ID, err)
	}
	conn.SetReadLimit(MaxMessageSize)

	dispatcher := client.NewDispatcher(t.log)
	dispatcher.HandshakeInterval = t.handshakeInterval
	dispatcher.GracePeriod = t.gracePeriod

	readCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.cancelRead = cancel
	t.dispatcher = dispatcher
	t.mu.Unlock()

	go t.read(readCtx, conn, dispatcher)

	info, err := dispatcher.Handshake(ctx, t.session, t.send)
	if err != nil {
		return err
	}

	if info != nil {
		t.log.Debug("Kernel %s is ready: %s %s (%s %s).", kernel.ID, info.Implementation, info.ImplementationVersion,
			info.LanguageInfo.Name, info.LanguageInfo.Version)
	}

	return nil
}

func (t *Transport) launch(ctx context.Context) (*Kernel, error) {
	var kernel Kernel
	resp, err := t.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": t.cfg.KernelName}).
		SetResult(&kernel).
		Post(KernelsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to launch kernel \"%s\": %w", t.cfg.KernelName, err)
	}

	if resp.IsError() || kernel.ID == "" {
		return nil, fmt.Errorf("%w: launching kernel \"%s\" returned %s: %s", ErrUnexpectedResponse,
			t.cfg.KernelName, resp.Status(), strings.TrimSpace(resp.String()))
	}

	t.log.Debug("Launched kernel %s (%s) on %s.", kernel.ID, kernel.Name, t.baseURL.Host)
	return &kernel, nil
}

func (t *Transport) read(ctx context.Context, conn *websocket.Conn, dispatcher *client.Dispatcher) {
	for {
		var msg messaging.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() == nil {
				t.log.Warn("Channels connection lost: %v", err)
			}
			dispatcher.Fail(fmt.Errorf("%w: %w", jupyter.ErrKernelClosed, err))
			return
		}

		dispatcher.Dispatch(&msg)
	}
}

func (t *Transport) send(ctx context.Context, msg *messaging.Message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return jupyter.ErrKernelNotLaunched
	}

	return wsjson.Write(ctx, conn, msg)
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

// Close closes the channels and deletes the kernel. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn, cancel, kernel := t.conn, t.cancelRead, t.kernel
	t.conn, t.cancelRead, t.kernel, t.dispatcher = nil, nil, nil, nil
	t.mu.Unlock()

	var errs []error

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Debug("Error while closing channels: %v", err)
		}
	}

	if kernel != nil {
		ctx, cancelDelete := context.WithTimeout(context.Background(), jupyter.DefaultShutdownTimeout)
		defer cancelDelete()

		resp, err := t.rest.R().SetContext(ctx).Delete(KernelsEndpoint + "/" + url.PathEscape(kernel.ID))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to delete kernel %s: %w", kernel.ID, err))
		} else if resp.IsError() {
			errs = append(errs, fmt.Errorf("%w: deleting kernel %s returned %s", ErrUnexpectedResponse, kernel.ID, resp.Status()))
		} else {
			t.log.Debug("Deleted kernel %s.", kernel.ID)
		}
	}

	return errors.Join(errs...)
}
