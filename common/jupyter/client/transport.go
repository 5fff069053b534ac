package client

import (
	"context"

	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

// ExecuteRequest is one code submission handed to a Transport.
type ExecuteRequest struct {
	Code string

	// Session is the Jupyter session id put in every message header.
	Session string
}

// ExecuteResponse is what a Transport collected for one ExecuteRequest.
type ExecuteResponse struct {
	// Status is the "status" field of the execute_reply: "ok", "error" or "aborted".
	Status         string
	ExecutionCount int

	// Outputs are the iopub output messages of the request, in arrival order.
	Outputs []*messaging.Message
}

// Transport is the wire connection to one remote kernel.
type Transport interface {
	// Connect launches or attaches to the kernel and blocks until it answers a kernel_info_request.
	Connect(ctx context.Context) error

	// Execute sends an execute_request and blocks until the kernel is done with it.
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)

	// Close releases the connection and shuts the kernel down if the transport owns it.
	Close() error
}

// TransportFactory builds the Transport of a session once its config has been validated.
type TransportFactory func(cfg SessionConfig) (Transport, error)
