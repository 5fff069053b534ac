package client

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"github.com/scusemua/notebook-step/common/execution"
	"github.com/scusemua/notebook-step/common/metrics"
)

const (
	StateClosed State = iota
	StateOpen
	StateFailed
)

var (
	ErrInvalidConfig = errors.New("invalid session config")

	KernelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// State is the lifecycle state of a KernelSession.
type State int32

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// SessionConfig holds the connection parameters of a session. It is not modified after construction.
type SessionConfig struct {
	// GatewayAddress is the host:port of the kernel gateway, optionally with an http(s) scheme.
	GatewayAddress string

	// LaunchTimeout bounds kernel startup. Zero means the wait is bounded only by the caller's context.
	LaunchTimeout time.Duration

	// MaxResultSize is the maximum size, in bytes, of a TEXT result payload.
	MaxResultSize int

	KernelName string

	// ExecuteTimeout bounds a single submission. Zero disables the transport deadline.
	ExecuteTimeout time.Duration
}

func (cfg SessionConfig) Validate() error {
	if cfg.MaxResultSize < 1 {
		return fmt.Errorf("%w: max result size must be at least 1, got %d", ErrInvalidConfig, cfg.MaxResultSize)
	}

	if cfg.LaunchTimeout < 0 {
		return fmt.Errorf("%w: launch timeout must not be negative, got %v", ErrInvalidConfig, cfg.LaunchTimeout)
	}

	if cfg.ExecuteTimeout < 0 {
		return fmt.Errorf("%w: execute timeout must not be negative, got %v", ErrInvalidConfig, cfg.ExecuteTimeout)
	}

	if !KernelNamePattern.MatchString(cfg.KernelName) {
		return fmt.Errorf("%w: invalid kernel name \"%s\"", ErrInvalidConfig, cfg.KernelName)
	}

	return nil
}

type SessionOption func(*KernelSession)

// WithLogger sets the logger of the session.
func WithLogger(log logger.Logger) SessionOption {
	return func(s *KernelSession) {
		s.log = log
	}
}

// WithMetrics makes the session record opens and submissions.
func WithMetrics(m *metrics.StepMetrics) SessionOption {
	return func(s *KernelSession) {
		s.metrics = m
	}
}

// KernelSession is a client-side handle to one remote kernel.
//
// Submissions are serialized. The state lock is only held during transitions,
// so Close may tear the transport down underneath an in-flight Submit.
type KernelSession struct {
	id      string
	cfg     SessionConfig
	factory TransportFactory

	stateMu   sync.Mutex
	state     State
	transport Transport

	execMu sync.Mutex

	metrics *metrics.StepMetrics
	log     logger.Logger
}

// NewKernelSession creates a CLOSED session. Nothing is contacted until Open.
func NewKernelSession(cfg SessionConfig, factory TransportFactory, opts ...SessionOption) *KernelSession {
	session := &KernelSession{
		id:      uuid.NewString(),
		cfg:     cfg,
		factory: factory,
		state:   StateClosed,
	}

	for _, opt := range opts {
		opt(session)
	}

	config.InitLogger(&session.log, fmt.Sprintf("KernelSession %s ", session.id[:8]))

	return session
}

// ID returns the Jupyter session id used in the headers of every message of this session.
func (s *KernelSession) ID() string {
	return s.id
}

func (s *KernelSession) Config() SessionConfig {
	return s.cfg
}

func (s *KernelSession) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.state
}

// Open connects to the kernel. Opening an OPEN session is a no-op.
//
// On failure the session becomes FAILED and must be discarded.
func (s *KernelSession) Open(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	switch s.state {
	case StateOpen:
		s.log.Debug("Session is already open.")
		return nil
	case StateFailed:
		return fmt.Errorf("%w: cannot open a session in state %v", execution.ErrState, s.state)
	}

	err := s.open(ctx)
	s.metrics.ObserveOpen(err)
	if err != nil {
		s.log.Error("Failed to open session with kernel \"%s\" at %s: %v", s.cfg.KernelName, s.cfg.GatewayAddress, err)
		s.state = StateFailed
		return err
	}

	s.log.Info("Opened session with kernel \"%s\".", s.cfg.KernelName)
	s.state = StateOpen
	return nil
}

func (s *KernelSession) open(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", execution.ErrConnection, err)
	}

	if s.factory == nil {
		return fmt.Errorf("%w: no transport configured", execution.ErrConnection)
	}

	transport, err := s.factory(s.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", execution.ErrConnection, err)
	}

	if s.cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LaunchTimeout)
		defer cancel()
	}

	if err = transport.Connect(ctx); err != nil {
		if closeErr := transport.Close(); closeErr != nil {
			s.log.Warn("Failed to release transport after failed connect: %v", closeErr)
		}
		return fmt.Errorf("%w: %w", execution.ErrConnection, err)
	}

	s.transport = transport
	return nil
}

// Submit evaluates code on the kernel and converts its first output into an ExecutionResult.
// A transport failure is returned as an execution.ErrInterpretation; the session stays OPEN.
func (s *KernelSession) Submit(ctx context.Context, code string) (*execution.ExecutionResult, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.stateMu.Lock()
	state, transport := s.state, s.transport
	s.stateMu.Unlock()

	if state != StateOpen {
		return nil, fmt.Errorf("%w: cannot submit to a session in state %v", execution.ErrState, state)
	}

	if s.cfg.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ExecuteTimeout)
		defer cancel()
	}

	s.log.Debug("Submitting %d byte(s) of code.", len(code))
	start := time.Now()

	resp, err := transport.Execute(ctx, &ExecuteRequest{Code: code, Session: s.id})
	if err != nil {
		s.metrics.ObserveSubmit("failed", time.Since(start))
		s.log.Error("Failed to interpret code: %v", err)
		return nil, fmt.Errorf("%w: %w", execution.ErrInterpretation, err)
	}

	result, err := execution.NewResult(resp.Status, resp.ExecutionCount, resp.Outputs, s.cfg.MaxResultSize)
	if err != nil {
		s.metrics.ObserveSubmit("failed", time.Since(start))
		return nil, fmt.Errorf("%w: %w", execution.ErrInterpretation, err)
	}

	s.metrics.ObserveSubmit(result.Status.String(), time.Since(start))
	s.log.Debug("Execution %d finished with status %v, %d output(s), result kind %v.",
		result.ExecutionCount, result.Status, len(resp.Outputs), result.Kind)

	return result, nil
}

// Close releases the transport and always returns nil. Shutdown errors are logged, not returned.
// An OPEN or CLOSED session ends up CLOSED; a FAILED session stays FAILED, so that closing it
// cannot turn it back into a session that Open accepts.
func (s *KernelSession) Close() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Warn("Error while shutting down kernel \"%s\": %v", s.cfg.KernelName, err)
		}
		s.transport = nil
	}

	if s.state == StateOpen {
		s.log.Info("Closed session with kernel \"%s\".", s.cfg.KernelName)
		s.state = StateClosed
	}

	return nil
}
