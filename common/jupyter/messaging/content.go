package messaging

const (
	MessageStatusOK      = "ok"
	MessageStatusError   = "error"
	MessageStatusAborted = "aborted"

	MessageKernelStatusIdle     = "idle"
	MessageKernelStatusBusy     = "busy"
	MessageKernelStatusStarting = "starting"

	MimeTextPlain = "text/plain"
	MimeTextHTML  = "text/html"
	MimeImagePNG  = "image/png"
)

// ExecuteRequest is the content of an "execute_request" message.
type ExecuteRequest struct {
	Code            string                 `json:"code"`
	Silent          bool                   `json:"silent"`
	StoreHistory    bool                   `json:"store_history"`
	UserExpressions map[string]interface{} `json:"user_expressions"`
	AllowStdin      bool                   `json:"allow_stdin"`
	StopOnError     bool                   `json:"stop_on_error"`
}

// NewExecuteRequest returns the content sent for a build-step cell.
// History is stored and stdin is never offered; nobody is attached to answer it.
func NewExecuteRequest(code string) *ExecuteRequest {
	return &ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: make(map[string]interface{}),
		StopOnError:     true,
	}
}

// ExecuteReply is the content of an "execute_reply" message.
type ExecuteReply struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
	ErrName        string `json:"ename,omitempty"`
	ErrValue       string `json:"evalue,omitempty"`
}

// MessageKernelStatus is the content of an iopub "status" message.
type MessageKernelStatus struct {
	Status string `json:"execution_state"`
}

// StreamContent is the content of an iopub "stream" message.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayContent is the content of "execute_result", "display_data" and "update_display_data".
type DisplayContent struct {
	ExecutionCount int                    `json:"execution_count,omitempty"`
	Data           map[string]interface{} `json:"data"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// MimeString returns the given mime entry of the bundle as a string.
// Some kernels split long entries into a list of lines; those are joined.
func (c *DisplayContent) MimeString(mime string) (string, bool) {
	value, ok := c.Data[mime]
	if !ok {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return v, true
	case []interface{}:
		var joined string
		for _, line := range v {
			if s, ok := line.(string); ok {
				joined += s
			}
		}
		return joined, true
	default:
		return "", false
	}
}

// MessageError is the content of an iopub "error" message.
type MessageError struct {
	ErrName   string   `json:"ename"`
	ErrValue  string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type MessageShutdownRequest struct {
	Restart bool `json:"restart"`
}

// KernelInfo is the content of a "kernel_info_reply" message. Only the fields we log are decoded.
type KernelInfo struct {
	Status                string `json:"status"`
	ProtocolVersion       string `json:"protocol_version"`
	Implementation        string `json:"implementation"`
	ImplementationVersion string `json:"implementation_version"`
	LanguageInfo          struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"language_info"`
}
