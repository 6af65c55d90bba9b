package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/bus"
	"github.com/lzjever/mbos-agentd/internal/core"
	"github.com/lzjever/mbos-agentd/internal/runtime"
)

// The real process runtime must satisfy the manager's seam.
var _ Runtime = (*runtime.Runtime)(nil)

type launchCall struct {
	id, folder, binary string
}

// fakeRuntime mimics the process runtime contract: Stop delivers the
// exit notification before returning, mirroring the real runtime.
type fakeRuntime struct {
	mu       sync.Mutex
	launches []launchCall
	stops    []string
	onExit   map[string]func(code int, requested bool)
	launchFn func(id string) (int, int, error)
	stopErr  error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{onExit: make(map[string]func(code int, requested bool))}
}

func (f *fakeRuntime) Launch(_ context.Context, id, folder, binary string, _ map[string]string,
	onExit func(code int, requested bool), _ func(stream, line string)) (int, int, error) {
	f.mu.Lock()
	f.launches = append(f.launches, launchCall{id, folder, binary})
	fn := f.launchFn
	f.mu.Unlock()
	if fn != nil {
		pid, port, err := fn(id)
		if err != nil {
			return 0, 0, err
		}
		f.mu.Lock()
		f.onExit[id] = onExit
		f.mu.Unlock()
		return pid, port, nil
	}
	f.mu.Lock()
	f.onExit[id] = onExit
	f.mu.Unlock()
	return 100, 4097, nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	f.stops = append(f.stops, id)
	fn := f.onExit[id]
	delete(f.onExit, id)
	err := f.stopErr
	f.mu.Unlock()
	if fn != nil {
		fn(143, true)
	}
	return err
}

// triggerExit simulates an out-of-band instance exit.
func (f *fakeRuntime) triggerExit(id string, code int, requested bool) {
	f.mu.Lock()
	fn := f.onExit[id]
	delete(f.onExit, id)
	f.mu.Unlock()
	if fn != nil {
		fn(code, requested)
	}
}

type fakeBinaries struct {
	bin core.Binary
	err error
	env map[string]string
}

func (f *fakeBinaries) ResolveDefault() (core.Binary, error) { return f.bin, f.err }
func (f *fakeBinaries) InstanceEnv() map[string]string       { return f.env }

func testBinaries() *fakeBinaries {
	return &fakeBinaries{
		bin: core.Binary{ID: "bin-1", Path: "/opt/agent/bin/agent-server", Label: "agent-server", Version: "1.2.0"},
		env: map[string]string{"AGENT_MODE": "local"},
	}
}

func newTestManager(t *testing.T, rt Runtime) (*Manager, *bus.Bus) {
	t.Helper()
	b := bus.New(zap.NewNop())
	t.Cleanup(b.Close)
	return New(rt, testBinaries(), b, zap.NewNop()), b
}

func nextEvent(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectNoEvent(t *testing.T, ch <-chan core.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %T %v", ev, ev)
	default:
	}
}

func TestCreateSuccess(t *testing.T) {
	rt := newFakeRuntime()
	m, b := newTestManager(t, rt)
	ch, cancel := b.Subscribe()
	defer cancel()

	ws, err := m.Create(context.Background(), "/tmp/proj", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if ws.Status != core.WorkspaceReady {
		t.Errorf("expected ready, got %s", ws.Status)
	}
	if ws.PID == nil || *ws.PID != 100 {
		t.Errorf("expected pid 100, got %v", ws.PID)
	}
	if ws.Port == nil || *ws.Port != 4097 {
		t.Errorf("expected port 4097, got %v", ws.Port)
	}
	if ws.Name != "proj" {
		t.Errorf("expected name derived from folder, got %q", ws.Name)
	}
	if ws.ProxyPath != "/workspaces/"+ws.ID+"/instance" {
		t.Errorf("unexpected proxy path %q", ws.ProxyPath)
	}
	if ws.BinaryID != "bin-1" || ws.BinaryLabel != "agent-server" {
		t.Errorf("binary identity not recorded: %+v", ws)
	}

	if ev := nextEvent(t, ch); ev.EventType() != core.EventWorkspaceCreated {
		t.Errorf("first event: got %s, want created", ev.EventType())
	}
	if ev := nextEvent(t, ch); ev.EventType() != core.EventWorkspaceStarted {
		t.Errorf("second event: got %s, want started", ev.EventType())
	}
}

func TestReadyInvariant(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, rt)

	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}

	check := func(w *core.Workspace) {
		ready := w.Status == core.WorkspaceReady
		if (w.PID != nil) != ready || (w.Port != nil) != ready {
			t.Errorf("invariant violated: status=%s pid=%v port=%v", w.Status, w.PID, w.Port)
		}
	}
	check(ws)

	rt.triggerExit(ws.ID, 0, false)
	got, _ := m.Get(ws.ID)
	check(got)
	if got.Status != core.WorkspaceStopped {
		t.Errorf("expected stopped after clean exit, got %s", got.Status)
	}
}

func TestCreateVisibleWhileStarting(t *testing.T) {
	rt := newFakeRuntime()
	release := make(chan struct{})
	rt.launchFn = func(id string) (int, int, error) {
		<-release
		return 200, 5000, nil
	}
	m, _ := newTestManager(t, rt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.Create(context.Background(), "/tmp/proj", "p"); err != nil {
			t.Errorf("create failed: %v", err)
		}
	}()

	// The starting descriptor must be listed before launch settles.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if list := m.List(); len(list) == 1 {
			ws := list[0]
			if ws.Status != core.WorkspaceStarting {
				t.Errorf("expected starting, got %s", ws.Status)
			}
			if ws.PID != nil || ws.Port != nil {
				t.Error("starting descriptor must not carry pid/port")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("descriptor never became visible")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	<-done

	ws := m.List()[0]
	if ws.Status != core.WorkspaceReady {
		t.Errorf("expected ready after launch settles, got %s", ws.Status)
	}
}

func TestCreateLaunchFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.launchFn = func(id string) (int, int, error) {
		return 0, 0, core.NewAppError(core.ErrSpawnFailed, "spawn /bad/binary: no such file")
	}
	m, b := newTestManager(t, rt)
	ch, cancel := b.Subscribe()
	defer cancel()

	_, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err == nil {
		t.Fatal("expected create to fail")
	}

	list := m.List()
	if len(list) != 1 {
		t.Fatalf("expected failed descriptor to remain, got %d", len(list))
	}
	ws := list[0]
	if ws.Status != core.WorkspaceError {
		t.Errorf("expected error status, got %s", ws.Status)
	}
	if ws.Error == "" {
		t.Error("expected non-empty error string")
	}
	if ws.PID != nil || ws.Port != nil {
		t.Error("failed descriptor must not carry pid/port")
	}

	if ev := nextEvent(t, ch); ev.EventType() != core.EventWorkspaceCreated {
		t.Errorf("first event: got %s, want created", ev.EventType())
	}
	if ev := nextEvent(t, ch); ev.EventType() != core.EventWorkspaceError {
		t.Errorf("second event: got %s, want error", ev.EventType())
	}
	expectNoEvent(t, ch)
}

func TestCreateNoBinary(t *testing.T) {
	rt := newFakeRuntime()
	b := bus.New(zap.NewNop())
	defer b.Close()
	m := New(rt, &fakeBinaries{err: errors.New("no agent binaries registered")}, b, zap.NewNop())

	ch, cancel := b.Subscribe()
	defer cancel()

	_, err := m.Create(context.Background(), "/tmp/proj", "p")
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrNoBinary {
		t.Errorf("expected %s, got %v", core.ErrNoBinary, err)
	}
	if len(m.List()) != 0 {
		t.Error("no descriptor should be registered when binary resolution fails")
	}
	expectNoEvent(t, ch)
}

func TestDeleteStopsLiveInstance(t *testing.T) {
	rt := newFakeRuntime()
	m, b := newTestManager(t, rt)
	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}

	ch, cancel := b.Subscribe()
	defer cancel()

	if err := m.Delete(context.Background(), ws.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(rt.stops) != 1 || rt.stops[0] != ws.ID {
		t.Errorf("expected one stop for %s, got %v", ws.ID, rt.stops)
	}
	if _, ok := m.Get(ws.ID); ok {
		t.Error("descriptor still present after delete")
	}

	// Exactly one stopped event, published by the exit path.
	ev := nextEvent(t, ch)
	stopped, ok := ev.(core.WorkspaceExited)
	if !ok || stopped.WorkspaceID != ws.ID {
		t.Errorf("expected stopped event for %s, got %v", ws.ID, ev)
	}
	expectNoEvent(t, ch)

	// Second delete is a no-op with no events.
	if err := m.Delete(context.Background(), ws.ID); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
	expectNoEvent(t, ch)
}

func TestDeleteWithoutProcessPublishesStopped(t *testing.T) {
	rt := newFakeRuntime()
	m, b := newTestManager(t, rt)
	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}
	rt.triggerExit(ws.ID, 9, false) // crash first

	ch, cancel := b.Subscribe()
	defer cancel()

	stopsBefore := len(rt.stops)
	if err := m.Delete(context.Background(), ws.ID); err != nil {
		t.Fatal(err)
	}
	if len(rt.stops) != stopsBefore {
		t.Error("delete of dead workspace must not call runtime.Stop")
	}

	ev := nextEvent(t, ch)
	if stopped, ok := ev.(core.WorkspaceExited); !ok || stopped.WorkspaceID != ws.ID {
		t.Errorf("expected stopped published by delete, got %v", ev)
	}
	expectNoEvent(t, ch)
}

func TestDeleteSurvivesStopFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.stopErr = errors.New("signal failed")
	m, _ := newTestManager(t, rt)
	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(context.Background(), ws.ID); err != nil {
		t.Errorf("stop failure must not block deletion: %v", err)
	}
	if _, ok := m.Get(ws.ID); ok {
		t.Error("descriptor still present after delete with failing stop")
	}
}

func TestHandleProcessExitCrash(t *testing.T) {
	rt := newFakeRuntime()
	m, b := newTestManager(t, rt)
	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}

	ch, cancel := b.Subscribe()
	defer cancel()

	rt.triggerExit(ws.ID, 9, false)

	got, ok := m.Get(ws.ID)
	if !ok {
		t.Fatal("descriptor removed by crash")
	}
	if got.Status != core.WorkspaceError {
		t.Errorf("expected error status, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("expected generated error message")
	}
	if got.PID != nil || got.Port != nil {
		t.Error("pid/port must be cleared on exit")
	}

	ev := nextEvent(t, ch)
	failed, ok := ev.(core.WorkspaceFailed)
	if !ok {
		t.Fatalf("expected error event, got %T", ev)
	}
	if failed.Workspace.ID != ws.ID {
		t.Errorf("error event for wrong workspace: %s", failed.Workspace.ID)
	}
}

func TestHandleProcessExitRequestedClearsError(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, rt)
	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}

	// Nonzero code but requested: deliberate stop, not a crash.
	rt.triggerExit(ws.ID, 143, true)
	got, _ := m.Get(ws.ID)
	if got.Status != core.WorkspaceStopped {
		t.Errorf("expected stopped for requested exit, got %s", got.Status)
	}
	if got.Error != "" {
		t.Errorf("expected error cleared, got %q", got.Error)
	}
}

func TestHandleProcessExitAfterDeleteIsNoop(t *testing.T) {
	rt := newFakeRuntime()
	m, b := newTestManager(t, rt)
	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(context.Background(), ws.ID); err != nil {
		t.Fatal(err)
	}

	ch, cancel := b.Subscribe()
	defer cancel()

	// Straggling exit notification after removal.
	m.handleProcessExit(ws.ID, 1, false)
	expectNoEvent(t, ch)
}

func TestShutdownStopsEverything(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, rt)

	var ids []string
	for i := 0; i < 3; i++ {
		ws, err := m.Create(context.Background(), fmt.Sprintf("/tmp/proj%d", i), "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, ws.ID)
	}
	rt.stopErr = errors.New("one instance is stuck")

	m.Shutdown(context.Background())

	if len(rt.stops) != len(ids) {
		t.Errorf("expected %d stops despite failures, got %d", len(ids), len(rt.stops))
	}
	if len(m.List()) != 0 {
		t.Error("registry not cleared by shutdown")
	}
}

func TestInstancePort(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, rt)
	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}

	if port, ok := m.InstancePort(ws.ID); !ok || port != 4097 {
		t.Errorf("expected port 4097, got %d (ok=%v)", port, ok)
	}
	if _, ok := m.InstancePort("missing"); ok {
		t.Error("unknown id must report no port")
	}

	rt.triggerExit(ws.ID, 0, false)
	if _, ok := m.InstancePort(ws.ID); ok {
		t.Error("stopped workspace must report no port")
	}
}

func TestLogForwarding(t *testing.T) {
	var onLog func(stream, line string)
	b := bus.New(zap.NewNop())
	defer b.Close()

	// Wrap the fake runtime to capture the log callback the manager
	// hands to Launch.
	rt := &logCapturingRuntime{Runtime: newFakeRuntime(), capture: &onLog}
	m := New(rt, testBinaries(), b, zap.NewNop())

	ws, err := m.Create(context.Background(), "/tmp/proj", "p")
	if err != nil {
		t.Fatal(err)
	}

	ch, cancel := b.Subscribe()
	defer cancel()

	onLog("stdout", "hello from instance")
	ev := nextEvent(t, ch)
	logEv, ok := ev.(core.WorkspaceLog)
	if !ok {
		t.Fatalf("expected log event, got %T", ev)
	}
	if logEv.Entry.WorkspaceID != ws.ID || logEv.Entry.Line != "hello from instance" || logEv.Entry.Stream != "stdout" {
		t.Errorf("unexpected log entry %+v", logEv.Entry)
	}
}

type logCapturingRuntime struct {
	Runtime
	capture *func(stream, line string)
}

func (l *logCapturingRuntime) Launch(ctx context.Context, id, folder, binary string, env map[string]string,
	onExit func(code int, requested bool), onLog func(stream, line string)) (int, int, error) {
	*l.capture = onLog
	return l.Runtime.Launch(ctx, id, folder, binary, env, onExit, onLog)
}

// failingLaunchRuntime settles an in-flight launch as failed once a
// stop arrives, and never delivers an exit notification, the way the
// process runtime treats attempts that die before announcing a port.
type failingLaunchRuntime struct {
	stopRequested chan struct{}
	createDone    chan struct{}
}

func (f *failingLaunchRuntime) Launch(_ context.Context, id, folder, binary string, _ map[string]string,
	_ func(code int, requested bool), _ func(stream, line string)) (int, int, error) {
	<-f.stopRequested
	return 0, 0, core.NewAppError(core.ErrSpawnFailed,
		"instance exited with code 1 before announcing a port")
}

func (f *failingLaunchRuntime) Stop(_ context.Context, _ string) error {
	close(f.stopRequested)
	<-f.createDone
	return nil
}

func TestDeleteDuringFailedLaunchPublishesStopped(t *testing.T) {
	rt := &failingLaunchRuntime{
		stopRequested: make(chan struct{}),
		createDone:    make(chan struct{}),
	}
	m, b := newTestManager(t, rt)

	ch, cancel := b.Subscribe()
	defer cancel()

	go func() {
		defer close(rt.createDone)
		if _, err := m.Create(context.Background(), "/tmp/proj", "p"); err == nil {
			t.Error("expected launch failure from create")
		}
	}()

	created, ok := nextEvent(t, ch).(core.WorkspaceCreated)
	if !ok {
		t.Fatal("expected created event first")
	}
	id := created.Workspace.ID

	if err := m.Delete(context.Background(), id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, ok := nextEvent(t, ch).(core.WorkspaceFailed); !ok {
		t.Fatal("expected error event from the failed launch")
	}
	stopped, ok := nextEvent(t, ch).(core.WorkspaceExited)
	if !ok {
		t.Fatal("expected stopped event from the deletion")
	}
	if stopped.WorkspaceID != id {
		t.Errorf("stopped event for %s, want %s", stopped.WorkspaceID, id)
	}
	if _, ok := m.Get(id); ok {
		t.Error("descriptor still present after delete")
	}
}
