// Package runner executes the external bioinformatics tools.
//
// Tools are addressed by a logical name (minimap2, samtools, bcftools, ...)
// that is resolved to an executable through the configuration. Every run is
// echoed to a per-job log together with the tool's stderr, and logged with
// zap when it finishes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// tailSize is how much trailing stderr is kept for error messages.
const tailSize = 2048

// waitDelay bounds how long a cancelled tool's leftover children may keep
// its output pipes open.
const waitDelay = 2 * time.Second

// Step is one tool invocation.
type Step struct {
	// Tool is the logical tool name
	Tool string

	// Args are passed to the tool unchanged
	Args []string

	// Stdout, when set, receives the tool's standard output
	Stdout string

	// Dir is the working directory (empty = current)
	Dir string
}

// String renders the step as a shell-like command line.
func (s Step) String() string {
	parts := append([]string{s.Tool}, s.Args...)
	line := strings.Join(parts, " ")
	if s.Stdout != "" {
		line += " > " + s.Stdout
	}
	return line
}

// ExitError reports a tool that failed.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Exec runs steps as operating system processes.
type Exec struct {
	tools  map[string]string
	log    io.Writer
	logger *zap.Logger
}

// Option is a functional option for configuring Exec.
type Option func(*Exec)

// WithTools sets executable paths for logical tool names.
func WithTools(tools map[string]string) Option {
	return func(e *Exec) {
		for k, v := range tools {
			e.tools[k] = v
		}
	}
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exec) {
		e.logger = logger
	}
}

// WithLog sets the writer receiving command lines and tool stderr.
func WithLog(w io.Writer) Option {
	return func(e *Exec) {
		e.log = &syncWriter{w: w}
	}
}

// New creates an Exec.
func New(opts ...Option) *Exec {
	e := &Exec{
		tools:  make(map[string]string),
		log:    io.Discard,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithJobLog returns a copy of e writing its log to w.
func (e *Exec) WithJobLog(w io.Writer) *Exec {
	c := *e
	c.log = &syncWriter{w: w}
	return &c
}

// Path resolves a logical tool name to an executable.
func (e *Exec) Path(tool string) string {
	if p, ok := e.tools[tool]; ok && p != "" {
		return p
	}
	return tool
}

// Check verifies that every named tool can be found.
func (e *Exec) Check(tools ...string) error {
	var missing []string
	for _, t := range tools {
		if _, err := exec.LookPath(e.Path(t)); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("tools not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Run executes a single step and waits for it.
func (e *Exec) Run(ctx context.Context, s Step) error {
	cmd, tail, closeOut, err := e.command(ctx, s)
	if err != nil {
		return err
	}
	defer closeOut()

	fmt.Fprintf(e.log, "$ %s\n", s)
	start := time.Now()
	err = cmd.Run()
	return e.finish(s, start, tail, err)
}

// Pipe runs a | b, connecting the standard output of a to the standard
// input of b. a must not redirect its own output.
func (e *Exec) Pipe(ctx context.Context, a, b Step) error {
	if a.Stdout != "" {
		return fmt.Errorf("pipe source %s already redirects its output", a.Tool)
	}

	ca, tailA, closeA, err := e.command(ctx, a)
	if err != nil {
		return err
	}
	defer closeA()
	cb, tailB, closeB, err := e.command(ctx, b)
	if err != nil {
		return err
	}
	defer closeB()

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating pipe: %w", err)
	}
	ca.Stdout = pw
	cb.Stdin = pr

	fmt.Fprintf(e.log, "$ %s | %s\n", a, b)
	start := time.Now()

	if err := ca.Start(); err != nil {
		pr.Close()
		pw.Close()
		return e.finish(a, start, tailA, err)
	}
	if err := cb.Start(); err != nil {
		pr.Close()
		pw.Close()
		_ = ca.Wait()
		return e.finish(b, start, tailB, err)
	}
	// The children hold their own copies of the pipe ends.
	pr.Close()
	pw.Close()

	errA := ca.Wait()
	errB := cb.Wait()
	if err := e.finish(a, start, tailA, errA); err != nil {
		return err
	}
	return e.finish(b, start, tailB, errB)
}

// command builds the process for s. The returned func closes any output file.
func (e *Exec) command(ctx context.Context, s Step) (*exec.Cmd, *tailBuffer, func(), error) {
	cmd := exec.CommandContext(ctx, e.Path(s.Tool), s.Args...)
	cmd.Dir = s.Dir
	cmd.WaitDelay = waitDelay

	tail := &tailBuffer{max: tailSize}
	cmd.Stderr = io.MultiWriter(e.log, tail)

	closeOut := func() {}
	if s.Stdout != "" {
		f, err := os.Create(s.Stdout)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating %s: %w", s.Stdout, err)
		}
		cmd.Stdout = f
		closeOut = func() { f.Close() }
	} else {
		cmd.Stdout = e.log
	}
	return cmd, tail, closeOut, nil
}

func (e *Exec) finish(s Step, start time.Time, tail *tailBuffer, err error) error {
	elapsed := time.Since(start)
	if err == nil {
		e.logger.Debug("tool finished",
			zap.String("tool", s.Tool),
			zap.Strings("args", s.Args),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = &ExitError{Tool: s.Tool, Code: exitErr.ExitCode(), Stderr: tail.String()}
	} else {
		err = fmt.Errorf("running %s: %w", s.Tool, err)
	}
	e.logger.Warn("tool failed",
		zap.String("tool", s.Tool),
		zap.Strings("args", s.Args),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
	return err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}

// syncWriter serializes writes from the stderr copiers of piped processes.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
