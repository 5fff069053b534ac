package messaging_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

var _ = Describe("Message", func() {
	It("Will create an execute_request with a fresh header", func() {
		msg, err := messaging.NewMessage(messaging.ShellExecuteRequest, "session-1", messaging.ChannelShell,
			messaging.NewExecuteRequest("32+6"))
		Expect(err).To(BeNil())
		Expect(msg.Type()).To(Equal(messaging.JupyterMessageType(messaging.ShellExecuteRequest)))
		Expect(msg.Header.Session).To(Equal("session-1"))
		Expect(msg.Header.Username).To(Equal(messaging.MessageHeaderDefaultUsername))
		Expect(msg.ID()).ToNot(BeEmpty())
		Expect(msg.ParentID()).To(BeEmpty())

		var content messaging.ExecuteRequest
		Expect(msg.DecodeContent(&content)).To(Succeed())
		Expect(content.Code).To(Equal("32+6"))
		Expect(content.StoreHistory).To(BeTrue())
		Expect(content.AllowStdin).To(BeFalse())

		other, err := messaging.NewMessage(messaging.ShellExecuteRequest, "session-1", messaging.ChannelShell,
			messaging.NewExecuteRequest("32+6"))
		Expect(err).To(BeNil())
		Expect(other.ID()).ToNot(Equal(msg.ID()))
	})

	It("Will link a reply to its request", func() {
		request, err := messaging.NewMessage(messaging.KernelInfoRequest, "session-2", messaging.ChannelShell, struct{}{})
		Expect(err).To(BeNil())

		reply, err := messaging.NewReply(request, messaging.KernelInfoReply, messaging.ChannelShell,
			&messaging.KernelInfo{Status: messaging.MessageStatusOK})
		Expect(err).To(BeNil())
		Expect(reply.ParentID()).To(Equal(request.ID()))
		Expect(reply.Header.Session).To(Equal("session-2"))
	})

	It("Will round-trip through the websocket JSON form", func() {
		msg, err := messaging.NewMessage(messaging.ShellExecuteRequest, "s", messaging.ChannelShell,
			messaging.NewExecuteRequest("print('hi')"))
		Expect(err).To(BeNil())

		encoded, err := json.Marshal(msg)
		Expect(err).To(BeNil())

		var decoded messaging.Message
		Expect(json.Unmarshal(encoded, &decoded)).To(Succeed())
		Expect(decoded.Channel).To(Equal(messaging.ChannelShell))
		Expect(decoded.ID()).To(Equal(msg.ID()))
	})

	It("Will report output message types", func() {
		Expect(messaging.JupyterMessageType(messaging.IOStreamMessage).IsOutput()).To(BeTrue())
		Expect(messaging.JupyterMessageType(messaging.IOExecuteResult).IsOutput()).To(BeTrue())
		Expect(messaging.JupyterMessageType(messaging.IODisplayData).IsOutput()).To(BeTrue())
		Expect(messaging.JupyterMessageType(messaging.IOErrorMessage).IsOutput()).To(BeTrue())
		Expect(messaging.JupyterMessageType(messaging.IOStatusMessage).IsOutput()).To(BeFalse())
		Expect(messaging.JupyterMessageType(messaging.IOExecuteInput).IsOutput()).To(BeFalse())
	})

	It("Will return the base message type", func() {
		base, ok := messaging.JupyterMessageType(messaging.ShellExecuteRequest).GetBaseMessageType()
		Expect(ok).To(BeTrue())
		Expect(base).To(Equal("execute_"))

		base, ok = messaging.JupyterMessageType(messaging.KernelInfoReply).GetBaseMessageType()
		Expect(ok).To(BeTrue())
		Expect(base).To(Equal("kernel_info_"))

		_, ok = messaging.JupyterMessageType(messaging.IOStatusMessage).GetBaseMessageType()
		Expect(ok).To(BeFalse())
	})

	It("Will join multi-line mime entries", func() {
		content := &messaging.DisplayContent{
			Data: map[string]interface{}{
				messaging.MimeTextHTML:  []interface{}{"<b>", "bold", "</b>"},
				messaging.MimeTextPlain: "plain",
				"application/json":      map[string]interface{}{"a": 1},
			},
		}

		html, ok := content.MimeString(messaging.MimeTextHTML)
		Expect(ok).To(BeTrue())
		Expect(html).To(Equal("<b>bold</b>"))

		plain, ok := content.MimeString(messaging.MimeTextPlain)
		Expect(ok).To(BeTrue())
		Expect(plain).To(Equal("plain"))

		_, ok = content.MimeString("application/json")
		Expect(ok).To(BeFalse())

		_, ok = content.MimeString(messaging.MimeImagePNG)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("JupyterFrames", func() {
	key := []byte("149a41b5-0df54cf013c3035a3084a319")

	It("Will sign, verify and decode a message", func() {
		request, err := messaging.NewMessage(messaging.ShellExecuteRequest, "s", messaging.ChannelShell,
			messaging.NewExecuteRequest("a = 1"))
		Expect(err).To(BeNil())

		frames, err := messaging.EncodeMessage(request, messaging.JupyterSignatureScheme, key)
		Expect(err).To(BeNil())
		Expect(frames.Frames).To(HaveLen(messaging.JupyterFrameContent + 1))
		Expect(frames.Frames[messaging.JupyterFrameStart]).To(Equal(messaging.JupyterFrameIDSMSG))
		Expect(frames.Frames[messaging.JupyterFrameSignature]).To(HaveLen(64))
		Expect(frames.Frames[messaging.JupyterFrameParentHeader]).To(Equal(messaging.JupyterFrameEmpty))

		raw := append([][]byte{[]byte("client-identity")}, frames.All()...)
		parsed, err := messaging.ParseJupyterFrames(raw)
		Expect(err).To(BeNil())
		Expect(parsed.Identities).To(HaveLen(1))
		Expect(string(parsed.Identities[0])).To(Equal("client-identity"))

		decoded, err := messaging.DecodeMessage(parsed, messaging.ChannelShell, messaging.JupyterSignatureScheme, key)
		Expect(err).To(BeNil())
		Expect(decoded.ID()).To(Equal(request.ID()))
		Expect(decoded.Channel).To(Equal(messaging.ChannelShell))

		var content messaging.ExecuteRequest
		Expect(decoded.DecodeContent(&content)).To(Succeed())
		Expect(content.Code).To(Equal("a = 1"))
	})

	It("Will reject a tampered message", func() {
		request, err := messaging.NewMessage(messaging.ShellExecuteRequest, "s", messaging.ChannelShell,
			messaging.NewExecuteRequest("a = 1"))
		Expect(err).To(BeNil())

		frames, err := messaging.EncodeMessage(request, messaging.JupyterSignatureScheme, key)
		Expect(err).To(BeNil())

		frames.Frames[messaging.JupyterFrameContent] = []byte(`{"code": "import os"}`)
		Expect(frames.Verify(messaging.JupyterSignatureScheme, key)).To(MatchError(messaging.ErrInvalidJupyterSignature))
	})

	It("Will skip signing when no key is configured", func() {
		request, err := messaging.NewMessage(messaging.KernelInfoRequest, "s", messaging.ChannelShell, struct{}{})
		Expect(err).To(BeNil())

		frames, err := messaging.EncodeMessage(request, "", nil)
		Expect(err).To(BeNil())
		Expect(frames.Frames[messaging.JupyterFrameSignature]).To(BeEmpty())
		Expect(frames.Verify("", nil)).To(Succeed())
	})

	It("Will reject an unknown signature scheme", func() {
		request, err := messaging.NewMessage(messaging.KernelInfoRequest, "s", messaging.ChannelShell, struct{}{})
		Expect(err).To(BeNil())

		_, err = messaging.EncodeMessage(request, "hmac-md5", key)
		Expect(err).To(MatchError(messaging.ErrNotSupportedSignatureScheme))
	})

	It("Will reject frames without a delimiter", func() {
		_, err := messaging.ParseJupyterFrames([][]byte{[]byte("a"), []byte("b")})
		Expect(err).To(MatchError(messaging.ErrInvalidJupyterMessage))

		_, err = messaging.ParseJupyterFrames([][]byte{messaging.JupyterFrameIDSMSG, []byte("")})
		Expect(err).To(MatchError(messaging.ErrInvalidJupyterMessage))
	})
})
