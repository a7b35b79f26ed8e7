// Package orchestrator implements the process orchestrator of spec
// section 4.10: it launches one target process per dispatched
// testcase, substituting the payload into the command template, tags
// the child's environment with its testcase id, and watches the live
// pid set for timeouts.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"sentra-fuzz/internal/ferrors"
	"sentra-fuzz/internal/flog"
)

// Status is a dispatched process's lifecycle state, monotonic from
// Running to exactly one terminal state (spec 4.10).
type Status int

const (
	Running Status = iota
	Terminated
	Crashed
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	case Crashed:
		return "crashed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// pollInterval is the watcher task's scan period (spec 4.10: "every 10 ms").
const pollInterval = 10 * time.Millisecond

type procEntry struct {
	cmd        *exec.Cmd
	testcaseID uint64
	start      time.Time

	mu     sync.Mutex
	status Status
}

// Orchestrator dispatches target processes for testcases and watches
// them for natural termination, crash, or timeout.
type Orchestrator struct {
	commandTemplate string
	workspace       string
	timeout         time.Duration

	sem *semaphore.Weighted
	log *flog.Logger

	mu    sync.RWMutex
	byPID map[int]*procEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns an Orchestrator that runs commandTemplate (containing
// exactly one of __INPUT__ or __FILE__) with at most maxProcesses
// children live at once, each sent the controlled-timeout signal once
// its wall-clock age exceeds timeout (CPU time is not measured).
func New(commandTemplate, workspace string, maxProcesses int, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		commandTemplate: commandTemplate,
		workspace:       workspace,
		timeout:         timeout,
		sem:             semaphore.NewWeighted(int64(maxProcesses)),
		log:             flog.New("orchestrator"),
		byPID:           make(map[int]*procEntry),
		stopCh:          make(chan struct{}),
	}
}

// Snapshot is a read-only view of one tracked process, used by
// internal/uiserver to broadcast live pid/status/testcase tables.
type Snapshot struct {
	PID        int
	TestcaseID uint64
	Status     Status
	Elapsed    time.Duration
}

// Snapshot returns the current pid -> status table.
func (o *Orchestrator) Snapshot() []Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Snapshot, 0, len(o.byPID))
	for pid, e := range o.byPID {
		e.mu.Lock()
		out = append(out, Snapshot{PID: pid, TestcaseID: e.testcaseID, Status: e.status, Elapsed: time.Since(e.start)})
		e.mu.Unlock()
	}
	return out
}

// Dispatch launches one target process for testcaseID with payload,
// blocking until a process slot is available (spec 4.10 step 1-4).
func (o *Orchestrator) Dispatch(ctx context.Context, testcaseID uint64, payload []byte) (int, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}

	args, cleanup, err := o.buildArgs(payload)
	if err != nil {
		o.sem.Release(1)
		return 0, err
	}

	cmd := exec.CommandContext(context.Background(), args[0], args[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("testcase_id=%d", testcaseID))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		o.sem.Release(1)
		if cleanup != nil {
			cleanup()
		}
		return 0, ferrors.New(ferrors.TransientIO, "orchestrator", args[0], "start target process", err)
	}

	entry := &procEntry{cmd: cmd, testcaseID: testcaseID, start: time.Now(), status: Running}
	pid := cmd.Process.Pid
	o.mu.Lock()
	o.byPID[pid] = entry
	o.mu.Unlock()

	go func() {
		err := cmd.Wait()
		o.mu.RLock()
		e, ok := o.byPID[pid]
		o.mu.RUnlock()
		if ok {
			e.mu.Lock()
			if e.status == Running {
				e.status = exitStatus(err)
			}
			e.mu.Unlock()
		}
		o.sem.Release(1)
		if cleanup != nil {
			cleanup()
		}
	}()

	return pid, nil
}

// buildArgs substitutes payload into the command template, either as
// a literal __INPUT__ argument or by writing it to a scratch file
// named with a fresh uuid and substituting __FILE__. The returned
// cleanup removes the scratch file, if one was created.
func (o *Orchestrator) buildArgs(payload []byte) (args []string, cleanup func(), err error) {
	fields := strings.Fields(o.commandTemplate)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("empty command template")
	}

	hasInput := strings.Contains(o.commandTemplate, "__INPUT__")
	hasFile := strings.Contains(o.commandTemplate, "__FILE__")
	if hasInput == hasFile {
		return nil, nil, fmt.Errorf("command template must contain exactly one of __INPUT__ or __FILE__")
	}

	if hasInput {
		out := make([]string, len(fields))
		for i, f := range fields {
			if f == "__INPUT__" {
				out[i] = string(payload)
			} else {
				out[i] = f
			}
		}
		return out, nil, nil
	}

	scratchDir := filepath.Join(o.workspace, "scratch")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, nil, ferrors.New(ferrors.TransientIO, "orchestrator", scratchDir, "create scratch dir", err)
	}
	path := filepath.Join(scratchDir, uuid.NewString())
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, nil, ferrors.New(ferrors.TransientIO, "orchestrator", path, "write scratch file", err)
	}

	out := make([]string, len(fields))
	for i, f := range fields {
		if f == "__FILE__" {
			out[i] = path
		} else {
			out[i] = f
		}
	}
	return out, func() { os.Remove(path) }, nil
}

// Watch runs the 10ms watcher task until ctx is cancelled: any live
// process whose wall-clock age exceeds the configured timeout is sent
// the controlled-timeout signal (spec 4.10).
func (o *Orchestrator) Watch(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.scanOnce()
		}
	}
}

func (o *Orchestrator) scanOnce() {
	o.mu.RLock()
	entries := make([]*procEntry, 0, len(o.byPID))
	pids := make([]int, 0, len(o.byPID))
	for pid, e := range o.byPID {
		entries = append(entries, e)
		pids = append(pids, pid)
	}
	o.mu.RUnlock()

	for i, e := range entries {
		e.mu.Lock()
		running := e.status == Running
		elapsed := time.Since(e.start)
		e.mu.Unlock()
		if running && elapsed > o.timeout {
			if err := e.cmd.Process.Signal(unix.SIGUSR1); err != nil {
				o.log.Printf("controlled-timeout signal failed for pid %d: %v", pids[i], err)
			}
			e.mu.Lock()
			if e.status == Running {
				e.status = TimedOut
			}
			e.mu.Unlock()
		}
	}
}

// Remove drops pid from tracking once its trace has been drained
// (spec 4.10: "terminated pids are removed from tracking after their
// traces are drained").
func (o *Orchestrator) Remove(pid int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byPID, pid)
}

// Status reports pid's current status.
func (o *Orchestrator) Status(pid int) (Status, bool) {
	o.mu.RLock()
	e, ok := o.byPID[pid]
	o.mu.RUnlock()
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, true
}

// Shutdown walks the full pid set and group-kills every tracked
// process (spec 4.10: "on group-kill cleanup at shutdown, walk the
// full pid set").
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.RLock()
	pids := make([]int, 0, len(o.byPID))
	for pid := range o.byPID {
		pids = append(pids, pid)
	}
	o.mu.RUnlock()

	for _, pid := range pids {
		// A negative pid signals the whole process group, which is its
		// own pid because every child was started with Setpgid (pgid==pid).
		if err := unix.Kill(-pid, syscall.SIGKILL); err != nil {
			o.log.Printf("group-kill failed for pgid %d: %v", pid, err)
		}
	}
}

// exitStatus classifies cmd.Wait()'s error: a process killed by a
// crash signal (the target's own fault, independent of our
// controlled-timeout SIGUSR1) is Crashed; any other exit -- including
// a nonzero exit code from ordinary program logic -- is Terminated.
// A process already marked TimedOut by the watcher is never
// downgraded by this (callers only invoke it while status==Running).
func exitStatus(err error) Status {
	if err == nil {
		return Terminated
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return Terminated
	}
	waitStatus, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !waitStatus.Signaled() {
		return Terminated
	}
	switch waitStatus.Signal() {
	case syscall.SIGSEGV, syscall.SIGABRT, syscall.SIGILL, syscall.SIGFPE, syscall.SIGBUS:
		return Crashed
	default:
		return Terminated
	}
}
