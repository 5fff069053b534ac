package client_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-step/common/jupyter/client"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

func reply(request *messaging.Message, msgType messaging.JupyterMessageType, channel string, content interface{}) *messaging.Message {
	msg, err := messaging.NewReply(request, msgType, channel, content)
	Expect(err).To(BeNil())
	return msg
}

var _ = Describe("ExecutionCollector", func() {
	var request *messaging.Message

	BeforeEach(func() {
		var err error
		request, err = messaging.NewMessage(messaging.ShellExecuteRequest, "s", messaging.ChannelShell,
			messaging.NewExecuteRequest("32+6"))
		Expect(err).To(BeNil())
	})

	It("Will complete on reply and idle", func() {
		collector := client.NewExecutionCollector(request.ID(), time.Minute)

		Expect(collector.Handle(reply(request, messaging.IOStatusMessage, messaging.ChannelIOPub,
			&messaging.MessageKernelStatus{Status: messaging.MessageKernelStatusBusy}))).To(BeTrue())
		Expect(collector.Handle(reply(request, messaging.IOExecuteResult, messaging.ChannelIOPub,
			&messaging.DisplayContent{ExecutionCount: 1, Data: map[string]interface{}{messaging.MimeTextPlain: "38"}}))).To(BeTrue())
		Expect(collector.Handle(reply(request, messaging.ShellExecuteReply, messaging.ChannelShell,
			&messaging.ExecuteReply{Status: messaging.MessageStatusOK, ExecutionCount: 1}))).To(BeTrue())
		Consistently(collector.Done(), 50*time.Millisecond).ShouldNot(BeClosed())

		Expect(collector.Handle(reply(request, messaging.IOStatusMessage, messaging.ChannelIOPub,
			&messaging.MessageKernelStatus{Status: messaging.MessageKernelStatusIdle}))).To(BeTrue())
		Eventually(collector.Done()).Should(BeClosed())

		resp, err := collector.Wait(context.Background())
		Expect(err).To(BeNil())
		Expect(resp.Status).To(Equal(messaging.MessageStatusOK))
		Expect(resp.ExecutionCount).To(Equal(1))
		Expect(resp.Outputs).To(HaveLen(1))
		Expect(resp.Outputs[0].Type()).To(Equal(messaging.JupyterMessageType(messaging.IOExecuteResult)))
	})

	It("Will ignore messages of other requests", func() {
		collector := client.NewExecutionCollector(request.ID(), time.Minute)

		other, err := messaging.NewMessage(messaging.ShellExecuteRequest, "s", messaging.ChannelShell,
			messaging.NewExecuteRequest("1"))
		Expect(err).To(BeNil())

		Expect(collector.Handle(reply(other, messaging.IOStreamMessage, messaging.ChannelIOPub,
			&messaging.StreamContent{Name: "stdout", Text: "x"}))).To(BeFalse())
		Expect(collector.Handle(nil)).To(BeFalse())
	})

	It("Will complete after the grace period when idle is lost", func() {
		collector := client.NewExecutionCollector(request.ID(), 20*time.Millisecond)

		collector.Handle(reply(request, messaging.ShellExecuteReply, messaging.ChannelShell,
			&messaging.ExecuteReply{Status: messaging.MessageStatusOK, ExecutionCount: 4}))

		resp, err := collector.Wait(context.Background())
		Expect(err).To(BeNil())
		Expect(resp.ExecutionCount).To(Equal(4))
		Expect(resp.Outputs).To(BeEmpty())
	})

	It("Will report an error reply without an error output", func() {
		collector := client.NewExecutionCollector(request.ID(), 10*time.Millisecond)

		collector.Handle(reply(request, messaging.ShellExecuteReply, messaging.ChannelShell,
			&messaging.ExecuteReply{Status: messaging.MessageStatusError, ErrName: "NameError", ErrValue: "name 'x' is not defined"}))

		resp, err := collector.Wait(context.Background())
		Expect(err).To(BeNil())
		Expect(resp.Status).To(Equal(messaging.MessageStatusError))
		Expect(resp.Outputs).To(HaveLen(1))

		var content messaging.MessageError
		Expect(resp.Outputs[0].DecodeContent(&content)).To(Succeed())
		Expect(content.ErrName).To(Equal("NameError"))
	})

	It("Will stop waiting when the context is done", func() {
		collector := client.NewExecutionCollector(request.ID(), time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := collector.Wait(ctx)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
