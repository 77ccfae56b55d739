// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer manages the per-session analyzer subprocess and its
// NDJSON stream protocol.
//
// Each active session owns one analyzer process. Frames go in on stdin,
// one JSON object per line; replies come back on stdout the same way.
// The Client does no interpretation beyond line decoding; what to do
// with each reply is the session orchestrator's business.
package analyzer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Sizing for the stdout line scanner. Analyzer replies embed whole tool
// outputs, so lines can be large.
const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxLine       = 4 * 1024 * 1024
)

// State tracks the lifecycle of an analyzer process.
type State int

const (
	// StateIdle means Start has not been called.
	StateIdle State = iota

	// StateRunning means the process is live and accepting frames.
	StateRunning

	// StateStopped means the process has exited or been shut down.
	StateStopped
)

var stateNames = []string{"idle", "running", "stopped"}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var (
	// ErrAlreadyStarted is returned by Start on a started Client.
	ErrAlreadyStarted = errors.New("analyzer already started")

	// ErrNotRunning is returned by Send when there is no live process.
	ErrNotRunning = errors.New("analyzer not running")

	// ErrNotInstalled is returned by Start when the analyzer binary is
	// not on PATH.
	ErrNotInstalled = errors.New("analyzer binary not found")
)

// Config describes how to launch the analyzer.
type Config struct {
	// Command is the analyzer binary. Defaults to "claude".
	Command string

	// Model, when set, is passed through as --model.
	Model string

	// WorkDir is the subprocess working directory. Empty inherits the
	// daemon's.
	WorkDir string

	// ExtraArgs are appended after the protocol flags.
	ExtraArgs []string

	// ReplyBuffer is the reply channel capacity. Defaults to 16.
	ReplyBuffer int
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = "claude"
	}
	if c.ReplyBuffer <= 0 {
		c.ReplyBuffer = 16
	}
	return c
}

// args builds the full argument list. The stream flags put the binary
// into long-lived pipe mode: it reads user messages from stdin until EOF
// and emits its replies as NDJSON on stdout.
func (c Config) args() []string {
	out := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if c.Model != "" {
		out = append(out, "--model", c.Model)
	}
	return append(out, c.ExtraArgs...)
}

// Runner is the orchestrator's view of an analyzer process. The
// concrete implementation is Client; tests substitute scripted fakes.
type Runner interface {
	// Start launches the process. It fails fast when the binary is
	// missing or the pipes cannot be created.
	Start(ctx context.Context) error

	// Send writes one frame to the analyzer's stdin.
	Send(f Frame) error

	// Replies returns the inbound reply stream. The channel closes
	// when the process's stdout reaches EOF.
	Replies() <-chan Reply

	// CloseInput closes stdin, signalling the analyzer to finish its
	// remaining work and exit. Safe to call more than once.
	CloseInput()

	// Shutdown closes stdin and waits for the process to exit, killing
	// it when ctx expires first.
	Shutdown(ctx context.Context) error
}

// Client runs one analyzer subprocess.
//
// Thread Safety: Send may be called from one goroutine at a time per
// frame but is internally serialized; Start and Shutdown are expected
// to be called once each.
type Client struct {
	cfg Config

	stateMu sync.Mutex
	state   State

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	sendMu    sync.Mutex
	closeOnce sync.Once

	replies  chan Reply
	readDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Runner = (*Client)(nil)

// NewClient creates an unstarted Client.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		replies:  make(chan Reply, cfg.ReplyBuffer),
		readDone: make(chan struct{}),
	}
}

// Start launches the analyzer process and begins reading its stdout.
//
// The ctx argument bounds process setup only; the process itself lives
// until Shutdown or stdin EOF. Start returns ErrNotInstalled when the
// binary cannot be found, which callers should treat as a configuration
// problem rather than a transient failure.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("nil context")
	}

	c.stateMu.Lock()
	if c.state != StateIdle {
		c.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	c.stateMu.Unlock()

	path, err := exec.LookPath(c.cfg.Command)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrNotInstalled, c.cfg.Command)
	}

	// The process outlives the Start ctx; its own context is cancelled
	// by Shutdown.
	c.ctx, c.cancel = context.WithCancel(context.Background())

	cmd := exec.CommandContext(c.ctx, path, c.cfg.args()...)
	cmd.Dir = c.cfg.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.cancel()
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.cancel()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.cancel()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		c.cancel()
		return fmt.Errorf("start analyzer %q: %w", c.cfg.Command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.setState(StateRunning)

	slog.Info("analyzer started", "command", c.cfg.Command, "pid", cmd.Process.Pid)

	go func() {
		defer close(c.readDone)
		defer close(c.replies)
		c.readLoop(stdout)
	}()

	go c.drainStderr(stderr)

	return nil
}

// readLoop decodes stdout lines into replies until EOF.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, scannerInitialBuffer), scannerMaxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		reply, ok := decodeReply(line)
		if !ok {
			slog.Debug("analyzer line skipped", "bytes", len(line))
			continue
		}
		select {
		case c.replies <- reply:
		case <-c.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("analyzer stdout closed with error", "error", err)
	}
}

// drainStderr logs the analyzer's stderr at debug level so protocol
// problems are diagnosable without polluting normal output.
func (c *Client) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, scannerInitialBuffer), scannerMaxLine)
	for scanner.Scan() {
		slog.Debug("analyzer stderr", "line", scanner.Text())
	}
}

// Send writes one frame as an NDJSON line.
func (c *Client) Send(f Frame) error {
	c.stateMu.Lock()
	running := c.state == StateRunning
	c.stateMu.Unlock()
	if !running {
		return ErrNotRunning
	}

	line, err := encodeFrame(f)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.stdin.Write(line); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Replies returns the inbound reply stream.
func (c *Client) Replies() <-chan Reply { return c.replies }

// CloseInput closes the analyzer's stdin. The analyzer finishes its
// in-flight work, emits any remaining replies, and exits.
func (c *Client) CloseInput() {
	c.closeOnce.Do(func() {
		if c.stdin != nil {
			if err := c.stdin.Close(); err != nil {
				slog.Debug("close analyzer stdin", "error", err)
			}
		}
	})
}

// Shutdown closes stdin and waits for the process to exit. If ctx
// expires before the process finishes draining, the process is killed.
// Shutdown is idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != StateRunning {
		c.stateMu.Unlock()
		return nil
	}
	c.state = StateStopped
	c.stateMu.Unlock()

	c.CloseInput()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		slog.Warn("analyzer did not drain in time, killing", "pid", c.cmd.Process.Pid)
		_ = c.cmd.Process.Kill()
		waitErr = <-done
	}

	c.cancel()

	// The read loop ends at stdout EOF; give it a moment to finish.
	select {
	case <-c.readDone:
	case <-time.After(time.Second):
		slog.Warn("analyzer read loop did not finish after exit")
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			slog.Info("analyzer exited", "code", exitErr.ExitCode())
			return nil
		}
		return fmt.Errorf("wait for analyzer: %w", waitErr)
	}
	return nil
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// CurrentState returns the client's lifecycle state.
func (c *Client) CurrentState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}
