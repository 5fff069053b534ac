package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/scusemua/notebook-step/common/dumper"
	"github.com/scusemua/notebook-step/common/execution"
	"github.com/scusemua/notebook-step/common/utils"
)

const (
	ConnectionSuccessful = "Connection Successful"
	ConnectionFailed     = "Connection failed"
)

var (
	ErrCellFailed = errors.New("cell did not complete successfully")
)

// Session is the part of a client.KernelSession that the runner drives.
type Session interface {
	Open(ctx context.Context) error
	Submit(ctx context.Context, code string) (*execution.ExecutionResult, error)
	Close() error
}

type Option func(*Runner)

// WithOutput sets where cell results are printed. The default is os.Stdout.
func WithOutput(out io.Writer) Option {
	return func(r *Runner) {
		r.out = out
	}
}

func WithLogger(log logger.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// Runner runs the cells of a build step on one kernel session.
type Runner struct {
	session   Session
	dumper    *dumper.Dumper
	outputDir string
	out       io.Writer

	log logger.Logger
}

func New(session Session, d *dumper.Dumper, outputDir string, opts ...Option) *Runner {
	r := &Runner{
		session:   session,
		dumper:    d,
		outputDir: outputDir,
		out:       os.Stdout,
	}

	for _, opt := range opts {
		opt(r)
	}

	config.InitLogger(&r.log, r)

	return r
}

// Run opens the session, submits the cells in order and closes the session.
//
// TEXT results are printed, HTML and IMAGE results are dumped into the output folder, which is
// created once the session is open.
// Run stops at the first cell that fails, whether the kernel reports an error or the submission itself fails.
func (r *Runner) Run(ctx context.Context, cells []string) error {
	if err := r.session.Open(ctx); err != nil {
		r.printLine(utils.RedStyle, "%s: %v", ConnectionFailed, err)
		return err
	}
	defer r.close()

	if err := r.dumper.EnsureFolder(ctx, r.outputDir); err != nil {
		r.printLine(utils.RedStyle, "Failed to create output folder %s: %v", r.outputDir, err)
		return err
	}

	for i, code := range cells {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.printLine(utils.GrayStyle, "In [%d]:", i+1)

		result, err := r.session.Submit(ctx, code)
		if err != nil {
			r.printLine(utils.RedStyle, "Cell %d failed: %v", i+1, err)
			return fmt.Errorf("cell %d: %w", i+1, err)
		}

		if err = r.report(ctx, i+1, result); err != nil {
			return err
		}
	}

	r.printLine(utils.GreenStyle, "Ran %d cell(s).", len(cells))
	return nil
}

func (r *Runner) report(ctx context.Context, cell int, result *execution.ExecutionResult) error {
	switch result.Kind {
	case execution.KindError:
		r.printLine(utils.RedStyle, "%s", result.Payload)
		return fmt.Errorf("cell %d: %w: %s", cell, ErrCellFailed, result.Payload)
	case execution.KindHTML, execution.KindImage:
		target, err := r.dumper.Dump(ctx, result, r.outputDir)
		if err != nil {
			r.printLine(utils.RedStyle, "Failed to save %v output of cell %d: %v", result.Kind, cell, err)
			return fmt.Errorf("cell %d: %w", cell, err)
		}
		r.printLine(utils.LightBlueStyle, "Saved %v output to %s", result.Kind, target)
	default:
		if result.Payload != "" {
			_, _ = fmt.Fprintln(r.out, strings.TrimRight(result.Payload, "\n"))
		}
		if result.Truncated {
			r.printLine(utils.GrayStyle, "(output truncated)")
		}
	}

	if result.Status != execution.StatusSuccess {
		r.printLine(utils.YellowStyle, "Cell %d finished with status %v.", cell, result.Status)
		return fmt.Errorf("cell %d: %w: status %v", cell, ErrCellFailed, result.Status)
	}

	return nil
}

// CheckConnection opens a session, evaluates an empty cell and closes the session again.
func (r *Runner) CheckConnection(ctx context.Context) error {
	err := r.session.Open(ctx)
	if err == nil {
		_, err = r.session.Submit(ctx, "")
		r.close()
	}

	if err != nil {
		r.printLine(utils.RedStyle, "%s: %v", ConnectionFailed, err)
		return err
	}

	r.printLine(utils.GreenStyle, "%s", ConnectionSuccessful)
	return nil
}

func (r *Runner) close() {
	if err := r.session.Close(); err != nil {
		r.log.Warn("Failed to close session: %v", err)
	}
}

type renderer interface {
	Render(strs ...string) string
}

func (r *Runner) printLine(style renderer, format string, args ...interface{}) {
	_, _ = fmt.Fprintln(r.out, style.Render(fmt.Sprintf(format, args...)))
}
