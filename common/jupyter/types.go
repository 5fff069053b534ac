package jupyter

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

var (
	ErrKernelNotLaunched = fmt.Errorf("kernel not launched")
	ErrKernelNotReady    = fmt.Errorf("kernel not ready")
	ErrKernelClosed      = fmt.Errorf("kernel closed")
	ErrInvalidConnection = fmt.Errorf("invalid connection info")
)

// ConnectionInfo stores the contents of a kernel connection file, as written by a local
// Jupyter kernel launcher (e.g. `jupyter kernel --KernelManager.connection_file=...`).
type ConnectionInfo struct {
	IP              string `json:"ip" name:"ip" description:"The IP address of the kernel."`
	ControlPort     int    `json:"control_port" name:"control-port" description:"The port for control messages."`
	ShellPort       int    `json:"shell_port" name:"shell-port" description:"The port for shell messages."`
	StdinPort       int    `json:"stdin_port" name:"stdin-port" description:"The port for stdin messages."`
	HBPort          int    `json:"hb_port" name:"hb-port" description:"The port for heartbeat messages."`
	IOPubPort       int    `json:"iopub_port" name:"iopub-port" description:"The port of the kernel's iopub PUB socket."`
	Transport       string `json:"transport" name:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// LoadConnectionFile reads and validates a kernel connection file.
func LoadConnectionFile(path string) (*ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var info ConnectionInfo
	if err = json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConnection, path, err)
	}

	if err = info.Validate(); err != nil {
		return nil, err
	}

	return &info, nil
}

// Validate checks that the ports needed by a client are present.
func (info *ConnectionInfo) Validate() error {
	if info.IP == "" {
		return fmt.Errorf("%w: missing ip", ErrInvalidConnection)
	}

	if info.ShellPort <= 0 || info.IOPubPort <= 0 || info.ControlPort <= 0 {
		return fmt.Errorf("%w: shell, iopub and control ports are required", ErrInvalidConnection)
	}

	if info.Transport == "" {
		info.Transport = "tcp"
	}

	return nil
}

// Address returns the ZMQ endpoint of the given port, e.g. "tcp://127.0.0.1:5555".
func (info *ConnectionInfo) Address(port int) string {
	return fmt.Sprintf("%s://%s:%d", info.Transport, info.IP, port)
}

func (info *ConnectionInfo) String() string {
	m, err := json.Marshal(info)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (info *ConnectionInfo) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(info, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}
