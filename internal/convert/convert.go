// Package convert drives the external conversion engine.
//
// The engine does the actual DICOM/PARREC decoding and NIfTI writing; this
// package only assembles its invocation and classifies its failures.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/walkerbdev/radifox-convert/internal/naming"
)

// DefaultCommand is the conversion engine binary used when no command is
// configured.
const DefaultCommand = "radifox-exec"

// Request describes one conversion engine invocation.
type Request struct {
	// Source is the input directory (or file) to convert.
	Source string

	// OutputRoot is the root of the converted project tree.
	OutputRoot string

	// Meta carries project/subject/session identity for output naming.
	Meta naming.Metadata

	// LUTFile is the resolved lookup table path, empty when none exists.
	LUTFile string

	// ManualNamesFile points at operator naming overrides, empty when none.
	ManualNamesFile string

	// Linking selects "symlink" or "hardlink" source linking; empty copies.
	Linking string

	// Institution and FieldStrength override header-derived values.
	Institution   string
	FieldStrength int

	PARREC        bool
	ForceDICOM    bool
	ForceDerived  bool
	Anonymize     bool
	DateShiftDays int
	Verbose       bool
}

// Converter runs one conversion to completion.
type Converter interface {
	Convert(ctx context.Context, req Request) error
}

// ExecError reports a conversion engine invocation that failed to start or
// exited non-zero. It satisfies the conversion-failure kind: the caller
// rolls back the subject's pending store writes and continues the batch.
type ExecError struct {
	// Command is the engine binary that was invoked.
	Command string

	// ExitCode is the process exit code, or -1 when it never ran.
	ExitCode int

	// Output is the combined stdout/stderr of the invocation.
	Output string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	msg := fmt.Sprintf("conversion engine %s failed: %v", e.Command, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsConversionFailure returns true if the error is a conversion engine
// failure. Uses errors.As to handle wrapped errors.
func IsConversionFailure(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee)
}

// ExecConverter invokes the conversion engine as a subprocess.
//
// The zero value runs DefaultCommand with no base arguments and no timeout.
type ExecConverter struct {
	// Command is the engine binary. Empty means DefaultCommand.
	Command string

	// Args are base arguments prepended before the derived flags.
	Args []string

	// Timeout bounds one invocation. Zero means no bound.
	Timeout time.Duration

	// Logger receives invocation details at Debug. Nil means slog.Default().
	Logger *slog.Logger
}

// Convert runs the engine and waits for completion. The process is killed
// when ctx (or the configured timeout) expires.
func (c *ExecConverter) Convert(ctx context.Context, req Request) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	command := c.command()
	args := append(append([]string{}, c.Args...), buildArgs(req)...)

	c.logger().Debug("running conversion engine",
		"command", command,
		"args", strings.Join(args, " "),
		"source", req.Source,
	)

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return &ExecError{
			Command:  command,
			ExitCode: exitCode(err),
			Output:   output.String(),
			Err:      err,
		}
	}
	return nil
}

func (c *ExecConverter) command() string {
	if c.Command == "" {
		return DefaultCommand
	}
	return c.Command
}

func (c *ExecConverter) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// buildArgs renders a Request as engine flags. Order is fixed so that
// invocations are reproducible in logs.
func buildArgs(req Request) []string {
	args := []string{
		req.Source,
		"--output-root", req.OutputRoot,
		"--project-id", req.Meta.ProjectID,
		"--subject-id", req.Meta.SubjectID,
		"--session-id", req.Meta.SessionID,
	}
	if req.Meta.SiteID != "" {
		args = append(args, "--site-id", req.Meta.SiteID)
	}
	if req.LUTFile != "" {
		args = append(args, "--lut-file", req.LUTFile)
	}
	if req.ManualNamesFile != "" {
		args = append(args, "--manual-names", req.ManualNamesFile)
	}
	switch req.Linking {
	case "symlink":
		args = append(args, "--symlink")
	case "hardlink":
		args = append(args, "--hardlink")
	}
	if req.Institution != "" {
		args = append(args, "--institution", req.Institution)
	}
	if req.FieldStrength != 0 {
		args = append(args, "--field-strength", strconv.Itoa(req.FieldStrength))
	}
	if req.PARREC {
		args = append(args, "--parrec")
	}
	if req.ForceDICOM {
		args = append(args, "--force-dicom")
	}
	if req.ForceDerived {
		args = append(args, "--force-derived")
	}
	if req.Anonymize {
		args = append(args, "--anonymize")
	}
	if req.DateShiftDays != 0 {
		args = append(args, "--date-shift-days", strconv.Itoa(req.DateShiftDays))
	}
	if req.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
