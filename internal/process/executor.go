package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrNoStdin is returned by WriteStdin when the executor has no stdin pipe
	// or stdin was closed.
	ErrNoStdin = errors.New("stdin not available")
)

// Completion flags. The handler fires on the transition from flagsAllDone
// to flagsAllDone|flagHandlerCalled.
const (
	flagExited uint32 = 1 << iota
	flagStdoutClosed
	flagStderrClosed
	flagHandlerCalled

	flagsAllDone = flagExited | flagStdoutClosed | flagStderrClosed
)

const readChunkSize = 4096

// ExecutorConfig configures one invocation.
type ExecutorConfig struct {
	Args   *Args
	Stdin  bool
	Logger *slog.Logger
}

// Executor spawns and supervises a single invocation of an external
// command. It is one-shot: Start may only be called once.
type Executor struct {
	args      *Args
	withStdin bool
	logger    *slog.Logger

	started atomic.Bool
	flags   atomic.Uint32

	mu         sync.Mutex
	cmd        *exec.Cmd
	pid        int
	handler    CompletionFunc
	timer      *time.Timer
	stdout     []byte
	stderr     []byte
	exitCode   int
	status     ExitStatus
	waitErr    error
	terminated bool
	exited     bool
	startTime  time.Time
	endTime    time.Time

	stdinW        *os.File
	writeQueue    [][]byte
	writePending  bool
	closeStdinReq bool
	stdinClosed   bool
}

// NewExecutor creates an executor. Nothing runs until Start.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		args:      cfg.Args,
		withStdin: cfg.Stdin,
		logger:    logger,
		exitCode:  -1,
	}
}

// Start spawns the process and returns immediately. handler is called once
// the process has exited and stdout and stderr are both drained. If timeout
// is positive the process is killed when it expires and the result is
// classified as timed out.
//
// A spawn failure is returned synchronously and handler is never called.
func (e *Executor) Start(handler CompletionFunc, timeout time.Duration) error {
	if e.args == nil || e.args.Path == "" {
		return ErrEmptyCommandLine
	}
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	var parentFiles, childFiles []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			f.Close()
		}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	parentFiles = append(parentFiles, stdoutR)
	childFiles = append(childFiles, stdoutW)

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(parentFiles)
		closeAll(childFiles)
		return fmt.Errorf("stderr pipe: %w", err)
	}
	parentFiles = append(parentFiles, stderrR)
	childFiles = append(childFiles, stderrW)

	var stdinR, stdinW *os.File
	if e.withStdin {
		stdinR, stdinW, err = os.Pipe()
		if err != nil {
			closeAll(parentFiles)
			closeAll(childFiles)
			return fmt.Errorf("stdin pipe: %w", err)
		}
		parentFiles = append(parentFiles, stdinW)
		childFiles = append(childFiles, stdinR)
	}

	cmd := exec.Command(e.args.Path, e.args.Argv[1:]...)
	if len(e.args.Env) > 0 {
		cmd.Env = append(os.Environ(), e.args.Env...)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if stdinR != nil {
		cmd.Stdin = stdinR
	}

	// Own process group so a kill reaches every descendant holding our pipes.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	e.mu.Lock()
	e.handler = handler
	e.startTime = time.Now()
	err = cmd.Start()
	// The child owns its ends now; the parent must drop them to see EOF.
	closeAll(childFiles)
	if err != nil {
		e.mu.Unlock()
		closeAll(parentFiles)
		return fmt.Errorf("start %s: %w", e.args.Path, err)
	}
	e.cmd = cmd
	e.pid = cmd.Process.Pid
	e.stdinW = stdinW
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, e.onTimeout)
	}
	if e.withStdin && len(e.writeQueue) > 0 && !e.writePending {
		e.writePending = true
		go e.flushStdin()
	} else if e.closeStdinReq {
		e.closeStdinLocked()
	}
	e.mu.Unlock()

	e.logger.Debug("process_started",
		"path", e.args.Path,
		"pid", e.pid,
		"timeout", timeout.String(),
	)

	go e.drain(stdoutR, &e.stdout, flagStdoutClosed)
	go e.drain(stderrR, &e.stderr, flagStderrClosed)
	go e.wait()

	return nil
}

// drain reads r until end of stream, appending to dst under the lock.
func (e *Executor) drain(r *os.File, dst *[]byte, bit uint32) {
	defer e.setFlag(bit)
	defer r.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			e.mu.Lock()
			*dst = append(*dst, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Debug("process_read_failed", "pid", e.pid, "error", err)
			}
			return
		}
	}
}

// wait reaps the process and classifies its exit.
func (e *Executor) wait() {
	waitErr := e.cmd.Wait()

	e.mu.Lock()
	e.exited = true
	e.endTime = time.Now()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.waitErr = waitErr
	e.exitCode = extractExitCode(waitErr)

	switch {
	case e.status == ExitTimedOut:
		// Set by onTimeout before the kill.
	case waitErr == nil:
		e.status = ExitNormal
	case e.terminated:
		// Killed on request; the signal death is expected.
		e.status = ExitNormal
	case isExitError(waitErr) && !signaled(waitErr):
		e.status = ExitNormal
	default:
		e.status = ExitCrashed
	}

	if !e.writePending {
		e.closeStdinLocked()
	}
	status, code := e.status, e.exitCode
	e.mu.Unlock()

	e.logger.Debug("process_exited",
		"pid", e.pid,
		"exit_code", code,
		"status", status.String(),
	)

	e.setFlag(flagExited)
}

// setFlag records one terminal event and fires the handler once all three
// have been seen.
func (e *Executor) setFlag(bit uint32) {
	e.flags.Or(bit)
	if !e.flags.CompareAndSwap(flagsAllDone, flagsAllDone|flagHandlerCalled) {
		return
	}

	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()

	if handler != nil {
		handler(e.Result())
	}
}

func (e *Executor) onTimeout() {
	e.mu.Lock()
	if e.exited {
		e.mu.Unlock()
		return
	}
	e.status = ExitTimedOut
	e.mu.Unlock()

	e.logger.Debug("process_timeout", "pid", e.pid, "path", e.args.Path)
	e.Kill()
}

// Kill sends SIGKILL to the process group. It is idempotent and tolerates a
// process that has already gone.
func (e *Executor) Kill() {
	e.mu.Lock()
	if e.terminated || e.cmd == nil || e.exited {
		e.mu.Unlock()
		return
	}
	e.terminated = true
	pid := e.pid
	e.mu.Unlock()

	err := unix.Kill(-pid, unix.SIGKILL)
	switch {
	case err == nil, errors.Is(err, unix.ESRCH):
	default:
		e.logger.Warn("process_kill_failed", "pid", pid, "error", err)
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			e.logger.Error("process_kill_failed", "pid", pid, "error", err)
		}
	}
}

// WriteStdin queues b for the child's stdin. Writes are flushed in
// submission order, one at a time.
func (e *Executor) WriteStdin(b []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.withStdin || e.closeStdinReq || e.stdinClosed {
		return ErrNoStdin
	}

	e.writeQueue = append(e.writeQueue, append([]byte(nil), b...))
	if e.stdinW != nil && !e.writePending {
		e.writePending = true
		go e.flushStdin()
	}
	return nil
}

// CloseStdin closes stdin once the pending writes are flushed.
func (e *Executor) CloseStdin() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeStdinReq = true
	if e.stdinW != nil && !e.writePending {
		e.closeStdinLocked()
	}
}

func (e *Executor) flushStdin() {
	for {
		e.mu.Lock()
		if len(e.writeQueue) == 0 || e.stdinClosed {
			e.writePending = false
			if e.closeStdinReq || e.exited {
				e.closeStdinLocked()
			}
			e.mu.Unlock()
			return
		}
		buf := e.writeQueue[0]
		e.writeQueue = e.writeQueue[1:]
		w := e.stdinW
		e.mu.Unlock()

		if _, err := w.Write(buf); err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
				e.logger.Debug("process_stdin_closed", "pid", e.pid, "error", err)
			} else {
				e.logger.Error("process_stdin_write_failed", "pid", e.pid, "error", err)
			}
			e.mu.Lock()
			e.writeQueue = nil
			e.writePending = false
			e.closeStdinLocked()
			e.mu.Unlock()
			return
		}
	}
}

func (e *Executor) closeStdinLocked() {
	if e.stdinW == nil || e.stdinClosed {
		return
	}
	e.stdinClosed = true
	e.stdinW.Close()
}

// Result returns a snapshot of the invocation state.
func (e *Executor) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Result{
		Status:   e.status,
		ExitCode: e.exitCode,
		Stdout:   append([]byte(nil), e.stdout...),
		Stderr:   append([]byte(nil), e.stderr...),
		Start:    e.startTime,
		End:      e.endTime,
		Err:      e.waitErr,
	}
}

// Stdout returns the bytes captured from stdout so far.
func (e *Executor) Stdout() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.stdout...)
}

// Stderr returns the bytes captured from stderr so far.
func (e *Executor) Stderr() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.stderr...)
}

// Pid returns the child pid, or 0 before Start.
func (e *Executor) Pid() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pid
}

// Terminated reports whether Kill was issued.
func (e *Executor) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func signaled(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.Signaled()
		}
	}
	return false
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	return -1
}
