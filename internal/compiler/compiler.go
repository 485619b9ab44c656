// Package compiler turns a merged rule document into a binary rule-set by
// running an external tool.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Compiler produces out from the rule document at in.
type Compiler interface {
	Compile(ctx context.Context, in, out string) error
}

// Func adapts a function to Compiler.
type Func func(ctx context.Context, in, out string) error

func (f Func) Compile(ctx context.Context, in, out string) error { return f(ctx, in, out) }

// ExitError reports a compiler process that ran and failed.
type ExitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", strings.Join(e.Args, " "), e.Err, msg)
}

func (e *ExitError) Unwrap() error { return e.Err }

// SingBox runs "<Binary> rule-set compile <in> -o <out>". Its stdout is
// discarded; stderr is captured for error reporting.
type SingBox struct {
	Binary string
}

// Args returns the full command line for in and out.
func (s SingBox) Args(in, out string) []string {
	bin := s.Binary
	if bin == "" {
		bin = "sing-box"
	}
	return []string{bin, "rule-set", "compile", in, "-o", out}
}

func (s SingBox) Compile(ctx context.Context, in, out string) error {
	args := s.Args(in, out)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var xe *exec.ExitError
		if errors.As(err, &xe) {
			return &ExitError{Args: args, Stderr: stderr.String(), Err: err}
		}
		// Binary missing or not executable.
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	return nil
}
