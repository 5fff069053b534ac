package execution

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

const (
	KindText  Kind = "TEXT"
	KindHTML  Kind = "HTML"
	KindImage Kind = "IMAGE"
	KindError Kind = "ERROR"
)

// Kind is the semantic type of a result payload.
type Kind string

func (k Kind) String() string {
	return string(k)
}

const (
	StatusSuccess    Status = "SUCCESS"
	StatusError      Status = "ERROR"
	StatusIncomplete Status = "INCOMPLETE"
)

// Status is the completion status reported by the kernel for one submission.
type Status string

func (s Status) String() string {
	return string(s)
}

// StatusFromReply maps the "status" field of an execute_reply.
func StatusFromReply(status string) Status {
	switch status {
	case messaging.MessageStatusOK:
		return StatusSuccess
	case messaging.MessageStatusError:
		return StatusError
	default:
		return StatusIncomplete
	}
}

// ExecutionResult is the outcome of interpreting one code string.
type ExecutionResult struct {
	Kind           Kind   `json:"kind"`
	Payload        string `json:"payload"`
	Status         Status `json:"status"`
	ExecutionCount int    `json:"execution_count"`

	// Truncated is set when a TEXT payload was cut to the session's max result size.
	Truncated bool `json:"truncated,omitempty"`
}

// IsRich returns true if the payload is meant to be dumped rather than printed.
func (r *ExecutionResult) IsRich() bool {
	return r.Kind == KindHTML || r.Kind == KindImage
}

func (r *ExecutionResult) String() string {
	m, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// NewResult builds an ExecutionResult from the first output message of a submission.
// A submission without output yields an empty TEXT result.
func NewResult(status string, executionCount int, outputs []*messaging.Message, maxResultSize int) (*ExecutionResult, error) {
	result := &ExecutionResult{
		Kind:           KindText,
		Status:         StatusFromReply(status),
		ExecutionCount: executionCount,
	}

	if len(outputs) == 0 {
		return result, nil
	}

	first := outputs[0]
	switch first.Type() {
	case messaging.IOStreamMessage:
		var stream messaging.StreamContent
		if err := first.DecodeContent(&stream); err != nil {
			return nil, fmt.Errorf("decode \"%s\" content: %w", first.Type(), err)
		}
		result.Payload = stream.Text
	case messaging.IOExecuteResult, messaging.IODisplayData, messaging.IOUpdateDisplayData:
		var display messaging.DisplayContent
		if err := first.DecodeContent(&display); err != nil {
			return nil, fmt.Errorf("decode \"%s\" content: %w", first.Type(), err)
		}
		result.Kind, result.Payload = fromMimeBundle(&display)
	case messaging.IOErrorMessage:
		var kernelErr messaging.MessageError
		if err := first.DecodeContent(&kernelErr); err != nil {
			return nil, fmt.Errorf("decode \"%s\" content: %w", first.Type(), err)
		}
		result.Kind = KindError
		result.Payload = kernelErr.ErrName + ": " + kernelErr.ErrValue
	default:
		return nil, fmt.Errorf("%w: unexpected output message \"%s\"", messaging.ErrInvalidJupyterMessage, first.Type())
	}

	if result.Kind == KindText && maxResultSize > 0 && len(result.Payload) > maxResultSize {
		result.Payload = truncate(result.Payload, maxResultSize)
		result.Truncated = true
	}

	return result, nil
}

// fromMimeBundle picks the richest representation: png, then html, then plain text.
func fromMimeBundle(display *messaging.DisplayContent) (Kind, string) {
	if png, ok := display.MimeString(messaging.MimeImagePNG); ok {
		return KindImage, strings.TrimSpace(png)
	}

	if html, ok := display.MimeString(messaging.MimeTextHTML); ok {
		return KindHTML, html
	}

	plain, _ := display.MimeString(messaging.MimeTextPlain)
	return KindText, plain
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
