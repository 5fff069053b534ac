package execution

import "errors"

var (
	// ErrConnection is returned by Open when the kernel gateway is unreachable or the kernel
	// did not become ready within the launch timeout.
	ErrConnection = errors.New("failed to connect to kernel")

	// ErrInterpretation is returned by Submit when the transport fails while the kernel is evaluating code.
	ErrInterpretation = errors.New("failed to interpret code")

	// ErrDecode is returned when an image payload is not valid base64 or is not a decodable image.
	ErrDecode = errors.New("failed to decode payload")

	// ErrIO is returned when a dumped payload cannot be written to storage.
	ErrIO = errors.New("failed to write payload")

	// ErrState is returned when an operation is attempted on a session in the wrong state.
	ErrState = errors.New("invalid session state")
)
