package fake_kernel

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/scusemua/notebook-step/common/jupyter"
	"github.com/scusemua/notebook-step/common/jupyter/messaging"
	"github.com/scusemua/notebook-step/common/utils"
	"github.com/scusemua/notebook-step/testing/port"
)

// FakeKernel serves the shell, control and iopub sockets of a Jupyter kernel over ZMQ.
// Requests are answered by its Responder.
type FakeKernel struct {
	ID        string
	Info      *jupyter.ConnectionInfo
	Responder *Responder

	ShellSocket   zmq4.Socket
	ControlSocket zmq4.Socket
	IOPubSocket   zmq4.Socket

	Serving atomic.Bool

	iopubMu sync.Mutex
	cancel  context.CancelFunc

	log logger.Logger
}

// NewFakeKernel creates a kernel that signs its messages with key. An empty key disables signing.
func NewFakeKernel(key string) *FakeKernel {
	ctx, cancel := context.WithCancel(context.Background())

	kernel := &FakeKernel{
		ID:            uuid.NewString(),
		Responder:     &Responder{},
		ShellSocket:   zmq4.NewRouter(ctx),
		ControlSocket: zmq4.NewRouter(ctx),
		IOPubSocket:   zmq4.NewPub(ctx),
		cancel:        cancel,
		Info: &jupyter.ConnectionInfo{
			IP:              "127.0.0.1",
			Transport:       "tcp",
			SignatureScheme: messaging.JupyterSignatureScheme,
			Key:             key,
			KernelName:      "python3",
		},
	}

	config.InitLogger(&kernel.log, "FakeKernel "+kernel.ID[:8]+" ")

	return kernel
}

// Start binds the sockets on free loopback ports and starts serving.
func (k *FakeKernel) Start() error {
	ports, err := port.Free(5)
	if err != nil {
		return err
	}

	k.Info.ShellPort, k.Info.ControlPort, k.Info.IOPubPort, k.Info.StdinPort, k.Info.HBPort =
		ports[0], ports[1], ports[2], ports[3], ports[4]

	if err = k.ShellSocket.Listen(k.Info.Address(k.Info.ShellPort)); err != nil {
		return err
	}

	if err = k.ControlSocket.Listen(k.Info.Address(k.Info.ControlPort)); err != nil {
		return err
	}

	if err = k.IOPubSocket.Listen(k.Info.Address(k.Info.IOPubPort)); err != nil {
		return err
	}

	k.Serving.Store(true)
	go k.Serve(k.ShellSocket, messaging.ChannelShell)
	go k.Serve(k.ControlSocket, messaging.ChannelControl)

	k.log.Debug("Serving shell at %d, control at %d, iopub at %d.", k.Info.ShellPort, k.Info.ControlPort, k.Info.IOPubPort)
	return nil
}

// WriteConnectionFile writes the kernel's connection file into dir and returns its path.
func (k *FakeKernel) WriteConnectionFile(dir string) (string, error) {
	data, err := json.Marshal(k.Info)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "kernel-"+k.ID+".json")
	return path, os.WriteFile(path, data, 0600)
}

func (k *FakeKernel) Close() {
	k.Serving.Store(false)
	k.cancel()

	_ = k.ShellSocket.Close()
	_ = k.ControlSocket.Close()
	_ = k.IOPubSocket.Close()
}

// Serve answers the requests received on a ROUTER socket until the kernel is closed.
func (k *FakeKernel) Serve(socket zmq4.Socket, channel string) {
	key := []byte(k.Info.Key)

	for k.Serving.Load() {
		raw, err := socket.Recv()
		if err != nil {
			if k.Serving.Load() {
				k.log.Debug(utils.RedStyle.Render("[ERROR] Error reading from %s socket: %v"), channel, err)
			}
			return
		}

		frames, err := messaging.ParseJupyterFrames(raw.Frames)
		if err != nil {
			k.log.Warn("Dropping malformed %s message: %v", channel, err)
			continue
		}

		request, err := messaging.DecodeMessage(frames, channel, k.Info.SignatureScheme, key)
		if err != nil {
			k.log.Warn("Dropping %s message: %v", channel, err)
			continue
		}

		k.log.Debug("[%s] Received \"%s\" (%s).", channel, request.Type(), request.ID())

		emit := func(msg *messaging.Message) error {
			reply, err := messaging.EncodeMessage(msg, k.Info.SignatureScheme, key)
			if err != nil {
				return err
			}

			if msg.Channel == messaging.ChannelIOPub {
				reply.Identities = [][]byte{[]byte("kernel." + k.ID + "." + msg.Type().String())}

				k.iopubMu.Lock()
				defer k.iopubMu.Unlock()
				return k.IOPubSocket.Send(zmq4.NewMsgFrom(reply.All()...))
			}

			reply.Identities = frames.Identities
			return socket.Send(zmq4.NewMsgFrom(reply.All()...))
		}

		if err = k.Responder.Respond(request, emit); err != nil {
			k.log.Error(utils.RedStyle.Render("[ERROR] Failed to respond to \"%s\": %v"), request.Type(), err)
		}
	}
}
