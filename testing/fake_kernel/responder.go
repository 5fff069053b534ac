package fake_kernel

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scusemua/notebook-step/common/jupyter/messaging"
)

const (
	// ImageCell makes the kernel display a PNG of ImageWidth x ImageHeight pixels.
	ImageCell = "%matplotlib_figure"

	// HTMLCellPrefix makes the kernel display the rest of the cell as HTML.
	HTMLCellPrefix = "%%html\n"

	ImageWidth  = 7
	ImageHeight = 3
)

var (
	arithmeticPattern = regexp.MustCompile(`^\s*(-?\d+)\s*([-+*])\s*(-?\d+)\s*$`)
	assignmentPattern = regexp.MustCompile(`^\s*[A-Za-z_][A-Za-z0-9_]*\s*=[^=]`)
	printPattern      = regexp.MustCompile(`^\s*print\((?:"([^"]*)"|'([^']*)')\)\s*$`)
	sleepPattern      = regexp.MustCompile(`^\s*time\.sleep\(([0-9.]+)\)\s*$`)
	raisePattern      = regexp.MustCompile(`^\s*raise\s+([A-Za-z_]+)\((?:"([^"]*)"|'([^']*)')?\)\s*$`)
)

// Emit delivers a message produced by the Responder. The message's Channel says where it goes.
type Emit func(msg *messaging.Message) error

// Responder plays the part of an IPython kernel for a handful of well-known cells:
// integer arithmetic, assignments, print, time.sleep, raise, HTML and image display.
// Anything else is answered with a NameError.
type Responder struct {
	// DropIdle suppresses iopub "idle" status messages, as if they were lost.
	DropIdle bool

	// IgnoreKernelInfo makes the kernel never answer kernel_info_request.
	IgnoreKernelInfo bool

	mu             sync.Mutex
	executionCount int
	executed       []string
	shutdown       bool
}

// Executed returns the code of every execute_request received so far.
func (r *Responder) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.executed...)
}

// ShutdownRequested returns true once a shutdown_request has been received.
func (r *Responder) ShutdownRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.shutdown
}

// Respond emits everything a kernel would send in response to req.
func (r *Responder) Respond(req *messaging.Message, emit Emit) error {
	switch req.Type() {
	case messaging.KernelInfoRequest:
		if r.IgnoreKernelInfo {
			return nil
		}
		return r.busyIdle(req, emit, func() error {
			info := &messaging.KernelInfo{
				Status:                messaging.MessageStatusOK,
				ProtocolVersion:       messaging.ProtocolVersion,
				Implementation:        "ipython",
				ImplementationVersion: "8.26.0",
			}
			info.LanguageInfo.Name = "python"
			info.LanguageInfo.Version = "3.11.9"
			return r.emit(emit, req, messaging.KernelInfoReply, req.Channel, info)
		})
	case messaging.ShellExecuteRequest:
		var content messaging.ExecuteRequest
		if err := req.DecodeContent(&content); err != nil {
			return err
		}
		return r.busyIdle(req, emit, func() error {
			return r.execute(req, content.Code, emit)
		})
	case messaging.ShellShutdownRequest:
		r.mu.Lock()
		r.shutdown = true
		r.mu.Unlock()
		return r.emit(emit, req, messaging.ShellShutdownReply, req.Channel, &messaging.MessageShutdownRequest{})
	default:
		return nil
	}
}

func (r *Responder) busyIdle(req *messaging.Message, emit Emit, body func() error) error {
	if err := r.status(req, emit, messaging.MessageKernelStatusBusy); err != nil {
		return err
	}

	if err := body(); err != nil {
		return err
	}

	if r.DropIdle {
		return nil
	}

	return r.status(req, emit, messaging.MessageKernelStatusIdle)
}

func (r *Responder) status(req *messaging.Message, emit Emit, status string) error {
	return r.emit(emit, req, messaging.IOStatusMessage, messaging.ChannelIOPub, &messaging.MessageKernelStatus{Status: status})
}

func (r *Responder) emit(emit Emit, req *messaging.Message, msgType messaging.JupyterMessageType, channel string, content interface{}) error {
	msg, err := messaging.NewReply(req, msgType, channel, content)
	if err != nil {
		return err
	}

	return emit(msg)
}

func (r *Responder) execute(req *messaging.Message, code string, emit Emit) error {
	r.mu.Lock()
	r.executionCount++
	count := r.executionCount
	r.executed = append(r.executed, code)
	r.mu.Unlock()

	if err := r.emit(emit, req, messaging.IOExecuteInput, messaging.ChannelIOPub,
		map[string]interface{}{"code": code, "execution_count": count}); err != nil {
		return err
	}

	reply := &messaging.ExecuteReply{Status: messaging.MessageStatusOK, ExecutionCount: count}

	display := func(msgType messaging.JupyterMessageType, data map[string]interface{}) error {
		return r.emit(emit, req, msgType, messaging.ChannelIOPub, &messaging.DisplayContent{
			ExecutionCount: count,
			Data:           data,
			Metadata:       map[string]interface{}{},
		})
	}

	fail := func(name, value string) error {
		reply.Status = messaging.MessageStatusError
		reply.ErrName = name
		reply.ErrValue = value
		return r.emit(emit, req, messaging.IOErrorMessage, messaging.ChannelIOPub, &messaging.MessageError{
			ErrName:   name,
			ErrValue:  value,
			Traceback: []string{"Traceback (most recent call last)", fmt.Sprintf("%s: %s", name, value)},
		})
	}

	var err error
	switch {
	case strings.TrimSpace(code) == "":
	case code == ImageCell:
		var encoded string
		if encoded, err = Figure(ImageWidth, ImageHeight); err == nil {
			err = display(messaging.IODisplayData, map[string]interface{}{
				messaging.MimeImagePNG:  encoded,
				messaging.MimeTextPlain: fmt.Sprintf("<Figure size %dx%d with 1 Axes>", ImageWidth, ImageHeight),
			})
		}
	case strings.HasPrefix(code, HTMLCellPrefix):
		err = display(messaging.IODisplayData, map[string]interface{}{
			messaging.MimeTextHTML:  strings.TrimPrefix(code, HTMLCellPrefix),
			messaging.MimeTextPlain: "<IPython.core.display.HTML object>",
		})
	case arithmeticPattern.MatchString(code):
		m := arithmeticPattern.FindStringSubmatch(code)
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[3])
		var v int
		switch m[2] {
		case "+":
			v = a + b
		case "-":
			v = a - b
		case "*":
			v = a * b
		}
		err = display(messaging.IOExecuteResult, map[string]interface{}{messaging.MimeTextPlain: strconv.Itoa(v)})
	case printPattern.MatchString(code):
		m := printPattern.FindStringSubmatch(code)
		err = r.emit(emit, req, messaging.IOStreamMessage, messaging.ChannelIOPub,
			&messaging.StreamContent{Name: "stdout", Text: m[1] + m[2] + "\n"})
	case sleepPattern.MatchString(code):
		seconds, _ := strconv.ParseFloat(sleepPattern.FindStringSubmatch(code)[1], 64)
		time.Sleep(time.Duration(seconds * float64(time.Second)))
	case raisePattern.MatchString(code):
		m := raisePattern.FindStringSubmatch(code)
		err = fail(m[1], m[2]+m[3])
	case strings.Contains(code, "/0"):
		err = fail("ZeroDivisionError", "division by zero")
	case assignmentPattern.MatchString(code):
	default:
		err = fail("NameError", fmt.Sprintf("name '%s' is not defined", strings.Fields(code)[0]))
	}

	if err != nil {
		return err
	}

	return r.emit(emit, req, messaging.ShellExecuteReply, req.Channel, reply)
}

// Figure returns a base64-encoded PNG of the given size, as a plotting library would display it.
func Figure(width, height int) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 60), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
