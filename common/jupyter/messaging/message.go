package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MessageHeaderDefaultUsername = "username"
	ProtocolVersion              = "5.3"

	IOStatusMessage      = "status"
	IOStreamMessage      = "stream"
	IOExecuteResult      = "execute_result"
	IODisplayData        = "display_data"
	IOUpdateDisplayData  = "update_display_data"
	IOErrorMessage       = "error"
	IOExecuteInput       = "execute_input"
	ShellExecuteRequest  = "execute_request"
	ShellExecuteReply    = "execute_reply"
	KernelInfoRequest    = "kernel_info_request"
	KernelInfoReply      = "kernel_info_reply"
	ShellShutdownRequest = "shutdown_request"
	ShellShutdownReply   = "shutdown_reply"

	ChannelShell   = "shell"
	ChannelIOPub   = "iopub"
	ChannelControl = "control"
	ChannelStdin   = "stdin"

	// JavascriptISOString is the date layout Jupyter clients put in message headers.
	JavascriptISOString = "2006-01-02T15:04:05.999Z07:00"
)

var (
	ErrInvalidJupyterMessage       = fmt.Errorf("invalid jupyter message")
	ErrNotSupportedSignatureScheme = fmt.Errorf("not supported signature scheme")
	ErrInvalidJupyterSignature     = fmt.Errorf("invalid jupyter signature")
)

type JupyterMessageType string

func (t JupyterMessageType) String() string {
	return string(t)
}

// IsOutput returns true for the iopub message types that carry user-visible output.
func (t JupyterMessageType) IsOutput() bool {
	switch t {
	case IOStreamMessage, IOExecuteResult, IODisplayData, IOUpdateDisplayData, IOErrorMessage:
		return true
	default:
		return false
	}
}

// GetBaseMessageType returns the base portion of the Jupyter message type.
//
// If the message type is "execute_request", then this returns "execute_" and true.
//
// If the message type is not of the form "{action}_request" or "{action}_reply", then this
// returns the empty string and false.
func (t JupyterMessageType) GetBaseMessageType() (string, bool) {
	if strings.HasSuffix(t.String(), "request") {
		return t.String()[0 : len(t.String())-7], true
	} else if strings.HasSuffix(t.String(), "reply") {
		return t.String()[0 : len(t.String())-5], true
	}

	return "", false
}

// MessageHeader is a Jupyter message header.
// http://jupyter-client.readthedocs.io/en/latest/messaging.html#general-message-format
type MessageHeader struct {
	MsgID    string             `json:"msg_id"`
	Username string             `json:"username"`
	Session  string             `json:"session"`
	Date     string             `json:"date"`
	MsgType  JupyterMessageType `json:"msg_type"`
	Version  string             `json:"version"`
}

// NewMessageHeader creates a header with a fresh msg_id for the given session.
func NewMessageHeader(msgType JupyterMessageType, session string) *MessageHeader {
	return &MessageHeader{
		MsgID:    uuid.NewString(),
		Username: MessageHeaderDefaultUsername,
		Session:  session,
		Date:     time.Now().UTC().Format(JavascriptISOString),
		MsgType:  msgType,
		Version:  ProtocolVersion,
	}
}

func (header *MessageHeader) Clone() *MessageHeader {
	clone := *header
	return &clone
}

func (header *MessageHeader) String() string {
	m, err := json.Marshal(header)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// Message represents an entire message in a high-level structure.
//
// The same structure is used on the kernel gateway websocket, where every message carries
// the name of the channel it belongs to, and on the ZMQ sockets, where Channel is filled in
// by the receiver.
type Message struct {
	Header       MessageHeader          `json:"header"`
	ParentHeader MessageHeader          `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      json.RawMessage        `json:"content"`
	Channel      string                 `json:"channel,omitempty"`
	Buffers      []json.RawMessage      `json:"buffers,omitempty"`
}

// NewMessage builds a request message of the given type with the given content.
func NewMessage(msgType JupyterMessageType, session string, channel string, content interface{}) (*Message, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	return &Message{
		Header:   *NewMessageHeader(msgType, session),
		Metadata: make(map[string]interface{}),
		Content:  encoded,
		Channel:  channel,
	}, nil
}

// NewReply builds a message whose parent header is the header of the given request.
func NewReply(request *Message, msgType JupyterMessageType, channel string, content interface{}) (*Message, error) {
	reply, err := NewMessage(msgType, request.Header.Session, channel, content)
	if err != nil {
		return nil, err
	}

	reply.ParentHeader = request.Header
	return reply, nil
}

func (msg *Message) Type() JupyterMessageType {
	return msg.Header.MsgType
}

func (msg *Message) ID() string {
	return msg.Header.MsgID
}

// ParentID returns the msg_id of the request this message answers, if any.
func (msg *Message) ParentID() string {
	return msg.ParentHeader.MsgID
}

// DecodeContent unmarshals the content of the message into out.
func (msg *Message) DecodeContent(out interface{}) error {
	if len(msg.Content) == 0 {
		return fmt.Errorf("%w: \"%s\" message has no content", ErrInvalidJupyterMessage, msg.Header.MsgType)
	}

	return json.Unmarshal(msg.Content, out)
}

func (msg *Message) String() string {
	m, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	return string(m)
}
