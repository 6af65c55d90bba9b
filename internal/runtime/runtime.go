// Package runtime spawns and supervises agent-server instances. Each
// instance binds an ephemeral port and announces it on stdout; launch
// resolves once the announcement is observed or fails after a bounded
// wait. Exit notification is delivered exactly once per instance.
package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/core"
	"github.com/lzjever/mbos-agentd/internal/observability"
)

// ExitFunc reports an instance exit. requested is true when the
// termination was initiated through Stop. Alias, not a defined type:
// consumers spell the literal signature in their own interfaces.
type ExitFunc = func(code int, requested bool)

// LogFunc receives one line of instance output. stream is "stdout" or
// "stderr".
type LogFunc = func(stream, line string)

type Config struct {
	// LaunchTimeout bounds the wait for the port announcement.
	LaunchTimeout time.Duration
	// StopGrace is how long SIGTERM gets before escalating to SIGKILL.
	StopGrace time.Duration
}

const (
	defaultLaunchTimeout = 30 * time.Second
	defaultStopGrace     = 5 * time.Second
)

// portPattern matches the port announcement an instance prints once
// its HTTP listener is up, e.g. "listening on http://127.0.0.1:4097".
var portPattern = regexp.MustCompile(`(?i)listening on .*?:(\d{1,5})`)

type Runtime struct {
	cfg Config
	log *zap.Logger

	mu    sync.Mutex
	procs map[string]*proc
}

// proc tracks one launched instance. settled closes when the launch
// attempt resolves (port discovered or failed); reaped closes after
// the exit notification, if any, has been delivered and the entry
// removed. launched and port are written before settled closes and
// only read after it.
type proc struct {
	cmd       *exec.Cmd
	port      int
	launched  bool
	exitCode  int
	requested atomic.Bool
	onExit    ExitFunc
	settled   chan struct{}
	done      chan struct{}
	reaped    chan struct{}
}

func New(cfg Config, log *zap.Logger) *Runtime {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = defaultLaunchTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &Runtime{cfg: cfg, log: log, procs: make(map[string]*proc)}
}

// Launch spawns binaryPath with working directory folder and the given
// environment overlay, then waits for the instance to announce its
// listening port. onExit fires exactly once when a successfully
// launched instance terminates; failed launch attempts report their
// failure only through the returned error.
func (r *Runtime) Launch(ctx context.Context, id, folder, binaryPath string, env map[string]string, onExit ExitFunc, onLog LogFunc) (int, int, error) {
	r.mu.Lock()
	if _, exists := r.procs[id]; exists {
		r.mu.Unlock()
		return 0, 0, core.NewAppError(core.ErrConflictExists,
			fmt.Sprintf("workspace %s already has a live instance", id))
	}
	p := &proc{
		onExit:  onExit,
		settled: make(chan struct{}),
		done:    make(chan struct{}),
		reaped:  make(chan struct{}),
	}
	r.procs[id] = p
	r.mu.Unlock()

	start := time.Now()
	cmd := exec.Command(binaryPath)
	cmd.Dir = folder
	cmd.Env = overlayEnv(env)

	// Explicit pipes instead of StdoutPipe: Wait runs concurrently with
	// the scanners, which StdoutPipe's auto-close does not allow.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		r.abandon(id, p)
		return 0, 0, core.NewAppError(core.ErrSpawnFailed, fmt.Sprintf("stdout pipe: %v", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		r.abandon(id, p)
		return 0, 0, core.NewAppError(core.ErrSpawnFailed, fmt.Sprintf("stderr pipe: %v", err))
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		r.abandon(id, p)
		observability.InstanceLaunchTotal.WithLabelValues("spawn_error").Inc()
		return 0, 0, core.NewAppError(core.ErrSpawnFailed,
			fmt.Sprintf("spawn %s: %v", binaryPath, err))
	}
	p.cmd = cmd
	// The child holds the write ends now; drop ours so the scanners see
	// EOF when it exits.
	stdoutW.Close()
	stderrW.Close()

	portCh := make(chan int, 1)
	stdoutDone := make(chan struct{})
	go func() {
		scanOutput("stdout", stdoutR, onLog, portCh)
		close(stdoutDone)
	}()
	go scanOutput("stderr", stderrR, onLog, nil)
	go r.reap(id, p)

	timer := time.NewTimer(r.cfg.LaunchTimeout)
	defer timer.Stop()

	select {
	case port := <-portCh:
		p.port = port
		p.launched = true
		close(p.settled)
		observability.InstanceLaunchTotal.WithLabelValues("ok").Inc()
		observability.InstanceLaunchDuration.Observe(time.Since(start).Seconds())
		return cmd.Process.Pid, port, nil

	case <-p.done:
		// The process exited already. Drain stdout before deciding: the
		// announcement may still be sitting in the pipe.
		<-stdoutDone
		select {
		case port := <-portCh:
			p.port = port
			p.launched = true
			close(p.settled)
			observability.InstanceLaunchTotal.WithLabelValues("ok").Inc()
			return cmd.Process.Pid, port, nil
		default:
		}
		close(p.settled)
		<-p.reaped
		observability.InstanceLaunchTotal.WithLabelValues("exited").Inc()
		return 0, 0, core.NewAppError(core.ErrSpawnFailed,
			fmt.Sprintf("instance exited with code %d before announcing a port", p.exitCode))

	case <-timer.C:
		close(p.settled)
		_ = cmd.Process.Kill()
		<-p.reaped
		observability.InstanceLaunchTotal.WithLabelValues("timeout").Inc()
		return 0, 0, core.NewAppError(core.ErrLaunchTimeout,
			fmt.Sprintf("no port announced within %s", r.cfg.LaunchTimeout))

	case <-ctx.Done():
		close(p.settled)
		_ = cmd.Process.Kill()
		<-p.reaped
		return 0, 0, ctx.Err()
	}
}

// Stop terminates the instance for id. Unknown or already-stopped ids
// are a no-op. A Stop racing an in-flight Launch for the same id waits
// for the launch attempt to settle before acting, so no orphan whose
// port was never recorded can survive.
func (r *Runtime) Stop(ctx context.Context, id string) error {
	r.mu.Lock()
	p := r.procs[id]
	r.mu.Unlock()
	if p == nil {
		return nil
	}

	p.requested.Store(true)

	select {
	case <-p.settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !p.launched {
		// The launch attempt failed; there is nothing left to stop.
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.log.Warn("terminate signal failed", zap.String("workspace_id", id), zap.Error(err))
	}

	grace := time.NewTimer(r.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-p.reaped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
		r.log.Warn("instance ignored SIGTERM, killing", zap.String("workspace_id", id))
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill instance %s: %w", id, err)
		}
	}

	select {
	case <-p.reaped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether id has a live or in-flight instance.
func (r *Runtime) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[id]
	return ok
}

// reap waits for process exit, then delivers the exit notification
// once the launch attempt has settled. Notification is skipped for
// attempts that never launched: their failure already surfaced through
// the Launch error.
func (r *Runtime) reap(id string, p *proc) {
	err := p.cmd.Wait()
	p.exitCode = exitCode(err)
	close(p.done)

	<-p.settled

	if p.launched {
		requested := p.requested.Load()
		outcome := "error"
		if requested {
			outcome = "requested"
		} else if p.exitCode == 0 {
			outcome = "clean"
		}
		observability.InstanceExitTotal.WithLabelValues(outcome).Inc()
		p.onExit(p.exitCode, requested)
	}

	r.mu.Lock()
	delete(r.procs, id)
	r.mu.Unlock()
	close(p.reaped)
}

// abandon drops a proc entry whose process never started.
func (r *Runtime) abandon(id string, p *proc) {
	close(p.settled)
	close(p.reaped)
	r.mu.Lock()
	delete(r.procs, id)
	r.mu.Unlock()
}

func scanOutput(stream string, rd io.ReadCloser, onLog LogFunc, portCh chan<- int) {
	defer rd.Close()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	announced := portCh == nil
	for sc.Scan() {
		line := sc.Text()
		if !announced {
			if m := portPattern.FindStringSubmatch(line); m != nil {
				if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port < 65536 {
					portCh <- port
					announced = true
				}
			}
		}
		if onLog != nil {
			onLog(stream, line)
		}
	}
}

func overlayEnv(env map[string]string) []string {
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
