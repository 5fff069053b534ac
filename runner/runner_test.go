package runner_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-step/common/dumper"
	"github.com/scusemua/notebook-step/common/execution"
	"github.com/scusemua/notebook-step/common/jupyter/client"
	"github.com/scusemua/notebook-step/common/jupyter/client/mock_client"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
	"github.com/scusemua/notebook-step/common/storage"
	"github.com/scusemua/notebook-step/runner"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func response(status string, msgType messaging.JupyterMessageType, content interface{}) *client.ExecuteResponse {
	resp := &client.ExecuteResponse{Status: status, ExecutionCount: 1}
	if content == nil {
		return resp
	}

	msg, err := messaging.NewMessage(msgType, "session", messaging.ChannelIOPub, content)
	Expect(err).To(BeNil())
	resp.Outputs = append(resp.Outputs, msg)
	return resp
}

func display(mime string, data string) *messaging.DisplayContent {
	return &messaging.DisplayContent{Data: map[string]interface{}{mime: data}}
}

func figure() string {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3)))).To(Succeed())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

var _ = Describe("Runner", func() {
	var (
		ctx       context.Context
		mockCtrl  *gomock.Controller
		transport *mock_client.MockTransport
		session   *client.KernelSession
		outputDir string
		out       *bytes.Buffer
		r         *runner.Runner
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockCtrl = gomock.NewController(GinkgoT())
		transport = mock_client.NewMockTransport(mockCtrl)

		session = client.NewKernelSession(client.SessionConfig{
			GatewayAddress: "localhost:8888",
			MaxResultSize:  1024,
			KernelName:     "python3",
		}, func(_ client.SessionConfig) (client.Transport, error) {
			return transport, nil
		})

		outputDir = GinkgoT().TempDir()
		provider := storage.NewLocalProvider(zap.NewNop())
		Expect(provider.Connect(ctx)).To(Succeed())

		out = &bytes.Buffer{}
		r = runner.New(session, dumper.New(provider), outputDir, runner.WithOutput(out))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("Will print text, dump rich output and close the session", func() {
		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req *client.ExecuteRequest) (*client.ExecuteResponse, error) {
					Expect(req.Code).To(Equal("32+6"))
					Expect(req.Session).To(Equal(session.ID()))
					return response(messaging.MessageStatusOK, messaging.IOExecuteResult, display(messaging.MimeTextPlain, "38")), nil
				}),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
				response(messaging.MessageStatusOK, messaging.IODisplayData, display(messaging.MimeTextHTML, "<b>table</b>")), nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
				response(messaging.MessageStatusOK, messaging.IODisplayData, display(messaging.MimeImagePNG, figure())), nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
				response(messaging.MessageStatusOK, "", nil), nil),
			transport.EXPECT().Close().Return(nil),
		)

		err := r.Run(ctx, []string{"32+6", "df", "plot()", "x = 1"})
		Expect(err).To(BeNil())
		Expect(session.State()).To(Equal(client.StateClosed))

		Expect(out.String()).To(ContainSubstring("38\n"))
		Expect(out.String()).To(ContainSubstring("Saved HTML output to"))
		Expect(out.String()).To(ContainSubstring("Saved IMAGE output to"))

		entries, err := os.ReadDir(outputDir)
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(2))

		var extensions []string
		for _, entry := range entries {
			extensions = append(extensions, filepath.Ext(entry.Name()))
		}
		Expect(extensions).To(ConsistOf(dumper.HTMLExtension, dumper.PNGExtension))
	})

	It("Will stop at the first kernel error", func() {
		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
				response(messaging.MessageStatusError, messaging.IOErrorMessage, &messaging.MessageError{
					ErrName:  "ZeroDivisionError",
					ErrValue: "division by zero",
				}), nil),
			transport.EXPECT().Close().Return(nil),
		)

		err := r.Run(ctx, []string{"1/0", "never_run()"})
		Expect(err).To(MatchError(runner.ErrCellFailed))
		Expect(err).To(MatchError(ContainSubstring("ZeroDivisionError: division by zero")))
		Expect(out.String()).To(ContainSubstring("ZeroDivisionError: division by zero"))
	})

	It("Will stop when a cell is aborted", func() {
		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
				response(messaging.MessageStatusAborted, "", nil), nil),
			transport.EXPECT().Close().Return(nil),
		)

		err := r.Run(ctx, []string{"a", "b"})
		Expect(err).To(MatchError(runner.ErrCellFailed))
		Expect(err).To(MatchError(ContainSubstring(execution.StatusIncomplete.String())))
	})

	It("Will stop when a submission fails", func() {
		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, errors.New("websocket closed")),
			transport.EXPECT().Close().Return(nil),
		)

		err := r.Run(ctx, []string{"a", "b"})
		Expect(err).To(MatchError(execution.ErrInterpretation))
		Expect(err).To(MatchError(ContainSubstring("cell 1")))
	})

	It("Will create a missing output folder before running cells", func() {
		missing := filepath.Join(outputDir, "notebook-step-output")
		provider := storage.NewLocalProvider(zap.NewNop())
		Expect(provider.Connect(ctx)).To(Succeed())
		r = runner.New(session, dumper.New(provider), missing, runner.WithOutput(out))

		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
				response(messaging.MessageStatusOK, messaging.IODisplayData, display(messaging.MimeTextHTML, "<b>table</b>")), nil),
			transport.EXPECT().Close().Return(nil),
		)

		Expect(r.Run(ctx, []string{"df"})).To(Succeed())

		entries, err := os.ReadDir(missing)
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(1))
		Expect(filepath.Ext(entries[0].Name())).To(Equal(dumper.HTMLExtension))

		data, err := os.ReadFile(filepath.Join(missing, entries[0].Name()))
		Expect(err).To(BeNil())
		Expect(string(data)).To(Equal("<b>table</b>"))
	})

	It("Will not submit anything when the output folder cannot be created", func() {
		blocker := filepath.Join(outputDir, "occupied")
		Expect(os.WriteFile(blocker, []byte("x"), 0644)).To(Succeed())

		provider := storage.NewLocalProvider(zap.NewNop())
		Expect(provider.Connect(ctx)).To(Succeed())
		r = runner.New(session, dumper.New(provider), filepath.Join(blocker, "results"), runner.WithOutput(out))

		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(nil),
			transport.EXPECT().Close().Return(nil),
		)

		err := r.Run(ctx, []string{"df"})
		Expect(err).To(MatchError(execution.ErrIO))
		Expect(session.State()).To(Equal(client.StateClosed))
	})

	It("Will stop when rich output cannot be saved", func() {
		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(nil),
			transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
				response(messaging.MessageStatusOK, messaging.IODisplayData, display(messaging.MimeImagePNG, "bm90IGFuIGltYWdl")), nil),
			transport.EXPECT().Close().Return(nil),
		)

		err := r.Run(ctx, []string{"plot()"})
		Expect(err).To(MatchError(execution.ErrDecode))
	})

	It("Will not submit anything when the kernel cannot be reached", func() {
		gomock.InOrder(
			transport.EXPECT().Connect(gomock.Any()).Return(errors.New("connection refused")),
			transport.EXPECT().Close().Return(nil),
		)

		err := r.Run(ctx, []string{"32+6"})
		Expect(err).To(MatchError(execution.ErrConnection))
		Expect(out.String()).To(ContainSubstring(runner.ConnectionFailed))
		Expect(session.State()).To(Equal(client.StateFailed))
	})

	Context("CheckConnection", func() {
		It("Will report a working kernel", func() {
			gomock.InOrder(
				transport.EXPECT().Connect(gomock.Any()).Return(nil),
				transport.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(
					response(messaging.MessageStatusOK, "", nil), nil),
				transport.EXPECT().Close().Return(nil),
			)

			Expect(r.CheckConnection(ctx)).To(Succeed())
			Expect(out.String()).To(ContainSubstring(runner.ConnectionSuccessful))
			Expect(session.State()).To(Equal(client.StateClosed))
		})

		It("Will report a kernel that cannot be reached", func() {
			gomock.InOrder(
				transport.EXPECT().Connect(gomock.Any()).Return(errors.New("no such kernel")),
				transport.EXPECT().Close().Return(nil),
			)

			Expect(r.CheckConnection(ctx)).To(MatchError(execution.ErrConnection))
			Expect(out.String()).To(ContainSubstring(runner.ConnectionFailed))
		})
	})
})
