package jupyter

import (
	"time"
)

var (
	// DefaultHandshakeInterval is how often kernel_info_request is repeated while waiting for a kernel.
	DefaultHandshakeInterval = 200 * time.Millisecond

	// DefaultReplyGracePeriod bounds the wait for iopub "idle" after the execute_reply arrived.
	DefaultReplyGracePeriod = 2 * time.Second

	// DefaultShutdownTimeout bounds best-effort kernel shutdown on close.
	DefaultShutdownTimeout = 5 * time.Second
)
