package dumper

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	// Decoders for the formats a kernel may display.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/scusemua/notebook-step/common/execution"
	"github.com/scusemua/notebook-step/common/metrics"
	"github.com/scusemua/notebook-step/common/storage"
)

const (
	// StampLayout is day-month-year-hour-minute-second.
	StampLayout = "02-01-2006-15-04-05"

	HTMLExtension = ".html"
	PNGExtension  = ".png"
)

var (
	ErrNotRich = errors.New("result has no rich payload to dump")
)

type Option func(*Dumper)

// WithClock replaces time.Now as the source of file name timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dumper) {
		d.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(d *Dumper) {
		d.log = log
	}
}

// WithMetrics makes the dumper record every dump.
func WithMetrics(m *metrics.StepMetrics) Option {
	return func(d *Dumper) {
		d.metrics = m
	}
}

// Dumper persists rich outputs under caller-chosen folders of a storage.Provider.
//
// Every file is named <timestamp>-<counter>-<random><extension>. The counter is per Dumper and
// the random part comes from crypto/rand, so names do not collide within one clock second.
type Dumper struct {
	provider storage.Provider
	now      func() time.Time
	counter  atomic.Uint64

	metrics *metrics.StepMetrics
	log     logger.Logger
}

func New(provider storage.Provider, opts ...Option) *Dumper {
	d := &Dumper{
		provider: provider,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	config.InitLogger(&d.log, d)

	return d
}

// NextName returns a fresh file name with the given extension.
func (d *Dumper) NextName(ext string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}

	return d.now().Format(StampLayout) + "-" + strconv.FormatUint(d.counter.Add(1), 10) + "-" +
		hex.EncodeToString(suffix) + ext, nil
}

func (d *Dumper) target(folder, ext string) (string, error) {
	name, err := d.NextName(ext)
	if err != nil {
		return "", err
	}

	return path.Join(filepath.ToSlash(folder), name), nil
}

// EnsureFolder creates folder and any missing parents.
func (d *Dumper) EnsureFolder(ctx context.Context, folder string) error {
	if err := d.provider.MkdirAll(ctx, folder); err != nil {
		d.log.Error("Failed to create folder %s: %v", folder, err)
		return fmt.Errorf("%w: %w", execution.ErrIO, err)
	}
	return nil
}

// DumpHtml writes data verbatim into a new .html file inside folder and returns its path.
// The folder is not created.
func (d *Dumper) DumpHtml(ctx context.Context, data string, folder string) (string, error) {
	target, err := d.target(folder, HTMLExtension)
	if err != nil {
		d.metrics.ObserveDump(execution.KindHTML.String(), 0, err)
		return "", fmt.Errorf("%w: %w", execution.ErrIO, err)
	}

	err = d.provider.WriteFile(ctx, target, []byte(data))
	d.metrics.ObserveDump(execution.KindHTML.String(), len(data), err)
	if err != nil {
		d.log.Error("Failed to dump HTML to %s: %v", target, err)
		return "", fmt.Errorf("%w: %w", execution.ErrIO, err)
	}

	d.log.Debug("Dumped %d byte(s) of HTML to %s.", len(data), target)
	return target, nil
}

// DumpImage decodes the base64 image in data and writes it as a new .png file inside folder,
// creating the folder if needed. Nothing is created when data cannot be decoded.
func (d *Dumper) DumpImage(ctx context.Context, data string, folder string) (string, error) {
	img, format, err := DecodeImage(data)
	if err != nil {
		d.metrics.ObserveDump(execution.KindImage.String(), 0, err)
		return "", err
	}

	var buf bytes.Buffer
	if err = png.Encode(&buf, img); err != nil {
		d.metrics.ObserveDump(execution.KindImage.String(), 0, err)
		return "", fmt.Errorf("%w: %w", execution.ErrDecode, err)
	}

	if err = d.EnsureFolder(ctx, folder); err != nil {
		d.metrics.ObserveDump(execution.KindImage.String(), 0, err)
		return "", err
	}

	target, err := d.target(folder, PNGExtension)
	if err != nil {
		d.metrics.ObserveDump(execution.KindImage.String(), 0, err)
		return "", fmt.Errorf("%w: %w", execution.ErrIO, err)
	}

	err = d.provider.WriteFile(ctx, target, buf.Bytes())
	d.metrics.ObserveDump(execution.KindImage.String(), buf.Len(), err)
	if err != nil {
		d.log.Error("Failed to dump image to %s: %v", target, err)
		return "", fmt.Errorf("%w: %w", execution.ErrIO, err)
	}

	bounds := img.Bounds()
	d.log.Debug("Dumped %dx%d %s image to %s.", bounds.Dx(), bounds.Dy(), format, target)
	return target, nil
}

// Dump writes the payload of an HTML or IMAGE result into folder.
func (d *Dumper) Dump(ctx context.Context, result *execution.ExecutionResult, folder string) (string, error) {
	switch result.Kind {
	case execution.KindHTML:
		return d.DumpHtml(ctx, result.Payload, folder)
	case execution.KindImage:
		return d.DumpImage(ctx, result.Payload, folder)
	default:
		return "", fmt.Errorf("%w: kind %v", ErrNotRich, result.Kind)
	}
}

// DecodeImage decodes a base64 payload into an image. Whitespace in the payload is ignored.
// It returns the name of the source format, e.g. "png".
func DecodeImage(data string) (image.Image, string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, data)

	if cleaned == "" {
		return nil, "", fmt.Errorf("%w: empty image payload", execution.ErrDecode)
	}

	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(cleaned); err != nil {
			return nil, "", fmt.Errorf("%w: invalid base64: %w", execution.ErrDecode, err)
		}
	}

	mime := mimetype.Detect(raw)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, "", fmt.Errorf("%w: payload is %s, not an image", execution.ErrDecode, mime.String())
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: unsupported %s image: %w", execution.ErrDecode, mime.String(), err)
	}

	return img, format, nil
}
