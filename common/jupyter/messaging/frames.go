package messaging

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const (
	JupyterSignatureScheme = "hmac-sha256"
)

const (
	JupyterFrameStart int = iota
	JupyterFrameSignature
	JupyterFrameHeader
	JupyterFrameParentHeader
	JupyterFrameMetadata
	JupyterFrameContent
	JupyterFrameBuffers
)

var (
	JupyterFrameIDSMSG = []byte("<IDS|MSG>")
	JupyterFrameEmpty  = []byte("{}")
)

// JupyterFrames provides a simple way to access the frames of a Jupyter message on a ZMQ socket.
// Identity frames, if any, are kept in Identities; Frames starts at the <IDS|MSG> delimiter.
// 0: <IDS|MSG>, 1: Signature, 2: Header, 3: ParentHeader, 4: Metadata, 5: Content[, 6: Buffers]
type JupyterFrames struct {
	Identities [][]byte
	Frames     [][]byte
}

// NewJupyterFrames returns a frame set with every JSON frame set to "{}".
func NewJupyterFrames() *JupyterFrames {
	frames := make([][]byte, JupyterFrameContent+1)
	frames[JupyterFrameStart] = JupyterFrameIDSMSG
	frames[JupyterFrameSignature] = []byte{}
	frames[JupyterFrameHeader] = JupyterFrameEmpty
	frames[JupyterFrameParentHeader] = JupyterFrameEmpty
	frames[JupyterFrameMetadata] = JupyterFrameEmpty
	frames[JupyterFrameContent] = JupyterFrameEmpty
	return &JupyterFrames{Frames: frames}
}

// ParseJupyterFrames splits raw ZMQ frames at the <IDS|MSG> delimiter.
func ParseJupyterFrames(raw [][]byte) (*JupyterFrames, error) {
	for i, frame := range raw {
		if bytes.Equal(frame, JupyterFrameIDSMSG) {
			frames := &JupyterFrames{Identities: raw[:i], Frames: raw[i:]}
			if err := frames.Validate(); err != nil {
				return nil, err
			}
			return frames, nil
		}
	}

	return nil, ErrInvalidJupyterMessage
}

func (frames *JupyterFrames) Validate() error {
	if len(frames.Frames) <= JupyterFrameContent {
		return ErrInvalidJupyterMessage
	}
	return nil
}

// All returns the identity frames followed by the message frames, ready to be sent.
func (frames *JupyterFrames) All() [][]byte {
	all := make([][]byte, 0, len(frames.Identities)+len(frames.Frames))
	all = append(all, frames.Identities...)
	return append(all, frames.Frames...)
}

// Sign computes the signature frame. An empty key disables signing, as in Jupyter.
func (frames *JupyterFrames) Sign(signatureScheme string, key []byte) error {
	if len(key) == 0 {
		frames.Frames[JupyterFrameSignature] = []byte{}
		return nil
	}

	if signatureScheme != JupyterSignatureScheme {
		return ErrNotSupportedSignatureScheme
	}

	signature := frames.sign(key)
	encoded := make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(encoded, signature)
	frames.Frames[JupyterFrameSignature] = encoded
	return nil
}

func (frames *JupyterFrames) Verify(signatureScheme string, key []byte) error {
	if err := frames.Validate(); err != nil {
		return err
	} else if len(key) == 0 {
		return nil
	} else if signatureScheme != JupyterSignatureScheme {
		return ErrNotSupportedSignatureScheme
	} else if !frames.verify(key) {
		return ErrInvalidJupyterSignature
	}
	return nil
}

func (frames *JupyterFrames) verify(signkey []byte) bool {
	expect := frames.sign(signkey)
	signature := make([]byte, hex.DecodedLen(len(frames.Frames[JupyterFrameSignature])))
	if _, err := hex.Decode(signature, frames.Frames[JupyterFrameSignature]); err != nil {
		return false
	}
	return hmac.Equal(expect, signature)
}

func (frames *JupyterFrames) sign(signkey []byte) []byte {
	mac := hmac.New(sha256.New, signkey)
	for _, msgpart := range frames.Frames[JupyterFrameHeader : JupyterFrameContent+1] {
		mac.Write(msgpart)
	}
	return mac.Sum(nil)
}

// EncodeMessage serializes msg into signed frames. The Channel and Buffers fields are not sent.
func EncodeMessage(msg *Message, signatureScheme string, key []byte) (*JupyterFrames, error) {
	frames := NewJupyterFrames()

	var err error
	if frames.Frames[JupyterFrameHeader], err = json.Marshal(&msg.Header); err != nil {
		return nil, err
	}

	if msg.ParentHeader.MsgID != "" {
		if frames.Frames[JupyterFrameParentHeader], err = json.Marshal(&msg.ParentHeader); err != nil {
			return nil, err
		}
	}

	if msg.Metadata != nil {
		if frames.Frames[JupyterFrameMetadata], err = json.Marshal(msg.Metadata); err != nil {
			return nil, err
		}
	}

	if len(msg.Content) > 0 {
		frames.Frames[JupyterFrameContent] = msg.Content
	}

	if err = frames.Sign(signatureScheme, key); err != nil {
		return nil, err
	}

	return frames, nil
}

// DecodeMessage verifies and decodes frames received on the given channel.
func DecodeMessage(frames *JupyterFrames, channel string, signatureScheme string, key []byte) (*Message, error) {
	if err := frames.Verify(signatureScheme, key); err != nil {
		return nil, err
	}

	msg := &Message{Channel: channel}
	if err := json.Unmarshal(frames.Frames[JupyterFrameHeader], &msg.Header); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(frames.Frames[JupyterFrameParentHeader], &msg.ParentHeader); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(frames.Frames[JupyterFrameMetadata], &msg.Metadata); err != nil {
		return nil, err
	}

	msg.Content = append(json.RawMessage(nil), frames.Frames[JupyterFrameContent]...)
	return msg, nil
}

func (frames *JupyterFrames) String() string {
	if len(frames.Frames) == 0 {
		return "[]"
	}

	s := "["
	for i, frame := range frames.Frames {
		s += "\"" + string(frame) + "\""

		if i+1 < len(frames.Frames) {
			s += ", "
		}
	}

	s += "]"

	return s
}
