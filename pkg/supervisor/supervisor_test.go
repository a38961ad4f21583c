package supervisor

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/process/processtest"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SupervisorMockLogger is a quiet logger for testing
type SupervisorMockLogger struct{}

func (m *SupervisorMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *SupervisorMockLogger) Debugf(format string, args ...interface{})               {}
func (m *SupervisorMockLogger) Infof(format string, args ...interface{})                {}
func (m *SupervisorMockLogger) Warnf(format string, args ...interface{})                {}
func (m *SupervisorMockLogger) Errorf(format string, args ...interface{})               {}

type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testProcessConfig(name string, opts ...func(*config.ProcessConfig)) *config.ProcessConfig {
	pc := &config.ProcessConfig{
		Name:         name,
		GroupName:    name,
		Command:      "/usr/bin/" + name,
		Priority:     999,
		AutoStart:    true,
		AutoRestart:  config.AutoRestartUnexpected,
		StartSecs:    1 * time.Second,
		StartRetries: 3,
		ExitCodes:    []int{0},
		StopSignal:   syscall.SIGTERM,
		StopWaitSecs: 10 * time.Second,
		Umask:        -1,
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

func testGroupConfig(name string, priority int, processes ...*config.ProcessConfig) *config.GroupConfig {
	for _, pc := range processes {
		pc.GroupName = name
	}
	return &config.GroupConfig{Name: name, Priority: priority, Processes: processes}
}

type testHarness struct {
	s     *Supervisor
	sys   *processtest.FakeSystem
	clock *manualClock
	// states records every process state change in publish order.
	states []*events.ProcessStateEvent
}

func newHarness(t *testing.T, groups ...*config.GroupConfig) *testHarness {
	t.Helper()
	return newHarnessWith(t, nil, groups...)
}

func newHarnessWith(t *testing.T, customize func(*SupervisorOptions), groups ...*config.GroupConfig) *testHarness {
	t.Helper()
	h := &testHarness{sys: processtest.NewFakeSystem(), clock: newManualClock()}
	options := SupervisorOptions{
		Identifier:  "test",
		System:      h.sys,
		Now:         h.clock.Now,
		Logger:      &SupervisorMockLogger{},
		Environment: []string{"PATH=/usr/bin", "HOME=/root"},
	}
	if customize != nil {
		customize(&options)
	}
	s, err := NewSupervisor(groups, options)
	require.NoError(t, err)
	h.s = s
	s.Bus().Subscribe(events.TypeProcessState, func(ev events.Event) {
		h.states = append(h.states, ev.(*events.ProcessStateEvent))
	})
	require.NoError(t, s.start())
	return h
}

func (h *testHarness) process(t *testing.T, name string) *Process {
	t.Helper()
	p, err := h.s.resolveProcess(name)
	require.NoError(t, err)
	return p
}

func (h *testHarness) child(t *testing.T, p *Process) *processtest.Child {
	t.Helper()
	require.NotZero(t, p.pid, "process %s has no pid", p.config.Name)
	child := h.sys.Child(p.pid)
	require.NotNil(t, child)
	return child
}

func (h *testHarness) tick(t *testing.T) {
	t.Helper()
	require.False(t, h.s.tick(), "reactor finished unexpectedly")
}

func (h *testHarness) stateNames() []string {
	var names []string
	for _, ev := range h.states {
		names = append(names, ev.To.String())
	}
	return names
}

// request runs an API call while the test goroutine serves the reactor's
// request queue.
func request[T any](t *testing.T, h *testHarness, fn func(ctx context.Context) (T, error)) (T, error) {
	t.Helper()
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		value, err := fn(context.Background())
		ch <- result{value: value, err: err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case r := <-ch:
			return r.value, r.err
		default:
		}
		require.True(t, time.Now().Before(deadline), "request did not complete")
		h.s.runRequests()
		time.Sleep(time.Millisecond)
	}
}

// ===== Startup =====

func TestSupervisor_AutostartSpawnsInPriorityOrder(t *testing.T) {
	late := testGroupConfig("late", 20, testProcessConfig("late"))
	early := testGroupConfig("early", 10, testProcessConfig("early"))
	h := newHarness(t, late, early)

	h.tick(t)

	spawns := h.sys.Spawns()
	require.Len(t, spawns, 2)
	assert.Equal(t, "/usr/bin/early", spawns[0].Path)
	assert.Equal(t, "/usr/bin/late", spawns[1].Path)
	assert.Equal(t, processstate.Starting, h.process(t, "early").state)
}

func TestSupervisor_ChildEnvironment(t *testing.T) {
	pc := testProcessConfig("web", func(pc *config.ProcessConfig) {
		pc.ServerURL = "unix:///tmp/supervisor.sock"
		pc.Environment = map[string]string{"HOME": "/srv/web", "MODE": "prod"}
	})
	h := newHarness(t, testGroupConfig("web", 1, pc))
	h.tick(t)

	spawns := h.sys.Spawns()
	require.Len(t, spawns, 1)
	assert.Subset(t, spawns[0].Env, []string{
		"SUPERVISOR_ENABLED=1",
		"SUPERVISOR_PROCESS_NAME=web",
		"SUPERVISOR_GROUP_NAME=web",
		"SUPERVISOR_SERVER_URL=unix:///tmp/supervisor.sock",
		"HOME=/srv/web",
		"MODE=prod",
		"PATH=/usr/bin",
	})
	assert.NotContains(t, spawns[0].Env, "HOME=/root")
}

func TestSupervisor_StartupEvents(t *testing.T) {
	h := &testHarness{sys: processtest.NewFakeSystem(), clock: newManualClock()}
	s, err := NewSupervisor([]*config.GroupConfig{testGroupConfig("web", 1, testProcessConfig("web"))}, SupervisorOptions{
		System: h.sys,
		Now:    h.clock.Now,
		Logger: &SupervisorMockLogger{},
	})
	require.NoError(t, err)

	var types []events.EventType
	s.Bus().Subscribe(events.TypeEvent, func(ev events.Event) {
		types = append(types, ev.Type())
	})
	require.NoError(t, s.start())

	assert.Equal(t, []events.EventType{events.TypeProcessGroupAdded, events.TypeSupervisorStateChangeRunning}, types)
}

func TestNewSupervisor_RejectsDuplicateGroups(t *testing.T) {
	_, err := NewSupervisor([]*config.GroupConfig{
		testGroupConfig("web", 1, testProcessConfig("a")),
		testGroupConfig("web", 2, testProcessConfig("b")),
	}, SupervisorOptions{System: processtest.NewFakeSystem()})
	require.Error(t, err)
}

// ===== Ticks =====

func TestSupervisor_TickEvents(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", func(pc *config.ProcessConfig) {
		pc.AutoStart = false
	})))

	var ticks []*events.TickEvent
	h.s.Bus().Subscribe(events.TypeTick, func(ev events.Event) {
		ticks = append(ticks, ev.(*events.TickEvent))
	})

	h.tick(t)
	assert.Empty(t, ticks, "no slice boundary crossed yet")

	h.clock.Advance(5 * time.Second)
	h.tick(t)
	require.Len(t, ticks, 1)
	assert.Equal(t, events.TypeTick5, ticks[0].Type())
	assert.Zero(t, ticks[0].When%5)

	h.clock.Advance(60 * time.Second)
	h.tick(t)
	types := []events.EventType{}
	for _, tick := range ticks[1:] {
		types = append(types, tick.Type())
	}
	assert.Equal(t, []events.EventType{events.TypeTick5, events.TypeTick60}, types)
}

func TestTimeslice(t *testing.T) {
	tests := []struct {
		name   string
		period int64
		when   int64
		want   int64
	}{
		{name: "on boundary", period: 5, when: 100, want: 100},
		{name: "inside slice", period: 5, when: 104, want: 100},
		{name: "hour", period: 3600, when: 7201, want: 7200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, timeslice(tt.period, tt.when))
		})
	}
}

// ===== Reaping =====

func TestSupervisor_ReapUnknownPidIsIgnored(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.tick(t)
	p := h.process(t, "web")
	child := h.child(t, p)

	// lose track of the pid, as after a failed kill
	delete(h.s.env.pids, p.pid)
	child.Exit(process.ExitedWith(0))

	h.tick(t)
	assert.Equal(t, processstate.Starting, p.state)
}

// ===== Wake pipe =====

// wakeDuringReadSystem calls wake while the reactor drains the wake pipe.
type wakeDuringReadSystem struct {
	*processtest.FakeSystem
	s     *Supervisor
	woken bool
}

func (w *wakeDuringReadSystem) Read(fd int, buf []byte) (int, error) {
	if w.s != nil && fd == w.s.wakeR && !w.woken {
		w.woken = true
		w.s.wake()
	}
	return w.FakeSystem.Read(fd, buf)
}

func TestSupervisor_WakeDuringDrainIsNotLost(t *testing.T) {
	sys := &wakeDuringReadSystem{FakeSystem: processtest.NewFakeSystem()}
	s, err := NewSupervisor(nil, SupervisorOptions{System: sys, Logger: &SupervisorMockLogger{}})
	require.NoError(t, err)
	sys.s = s

	s.wake()
	s.drainWaker()
	require.True(t, sys.woken)

	s.wake()
	readable, _, err := sys.Poll([]int{s.wakeR}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{s.wakeR}, readable, "a later wake must make the pipe readable again")

	s.drainWaker()
	assert.False(t, s.wakePend.Load())
	readable, _, err = sys.Poll([]int{s.wakeR}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, readable)
}

// ===== Signals =====

func TestSupervisor_HandleSignal(t *testing.T) {
	tests := []struct {
		name     string
		signals  []syscall.Signal
		wantMood processstate.SupervisorState
		wantFast bool
	}{
		{name: "TERM shuts down", signals: []syscall.Signal{syscall.SIGTERM}, wantMood: processstate.SupervisorShutdown},
		{name: "INT shuts down", signals: []syscall.Signal{syscall.SIGINT}, wantMood: processstate.SupervisorShutdown},
		{name: "QUIT shuts down fast", signals: []syscall.Signal{syscall.SIGQUIT}, wantMood: processstate.SupervisorShutdown, wantFast: true},
		{name: "HUP restarts", signals: []syscall.Signal{syscall.SIGHUP}, wantMood: processstate.SupervisorRestarting},
		{name: "HUP ignored during shutdown", signals: []syscall.Signal{syscall.SIGTERM, syscall.SIGHUP}, wantMood: processstate.SupervisorShutdown},
		{name: "CHLD is informational", signals: []syscall.Signal{syscall.SIGCHLD}, wantMood: processstate.SupervisorRunning},
		{name: "USR2 reopens logs", signals: []syscall.Signal{syscall.SIGUSR2}, wantMood: processstate.SupervisorRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", func(pc *config.ProcessConfig) {
				pc.AutoStart = false
			})))
			for _, sig := range tt.signals {
				h.s.deliverSignal(sig)
			}
			h.s.handleSignals()
			assert.Equal(t, tt.wantMood, h.s.env.mood)
			assert.Equal(t, tt.wantFast, h.s.fast)
		})
	}
}

func TestSupervisor_USR2ReopensDaemonLog(t *testing.T) {
	reopened := 0
	s, err := NewSupervisor(nil, SupervisorOptions{
		System:     processtest.NewFakeSystem(),
		Logger:     &SupervisorMockLogger{},
		ReopenLogs: func() error { reopened++; return nil },
	})
	require.NoError(t, err)
	s.handleSignal(syscall.SIGUSR2)
	assert.Equal(t, 1, reopened)
}

// ===== Shutdown =====

func TestSupervisor_ShutdownStopsGroupsInReversePriority(t *testing.T) {
	h := newHarness(t,
		testGroupConfig("db", 1, testProcessConfig("db")),
		testGroupConfig("web", 2, testProcessConfig("web")),
	)
	h.sys.ExitOnSignal[syscall.SIGTERM] = true

	h.tick(t)
	db, web := h.process(t, "db"), h.process(t, "web")
	dbPid, webPid := db.pid, web.pid

	var stopping []bool
	h.s.Bus().Subscribe(events.TypeSupervisorStateChange, func(ev events.Event) {
		stopping = append(stopping, ev.(*events.SupervisorStateChangeEvent).Stopping)
	})

	h.s.env.mood = processstate.SupervisorShutdown
	h.tick(t)
	assert.Equal(t, []bool{true}, stopping)
	kills := h.sys.Kills()
	require.Len(t, kills, 1, "only the last group is stopped first")
	assert.Equal(t, webPid, kills[0].Pid)

	// web is reaped, then db gets its turn
	for i := 0; i < 5 && !db.state.IsStopped(); i++ {
		h.tick(t)
	}
	kills = h.sys.Kills()
	require.Len(t, kills, 2)
	assert.Equal(t, dbPid, kills[1].Pid)
	assert.Equal(t, processstate.Stopped, web.state)
	assert.Equal(t, processstate.Stopped, db.state)

	assert.True(t, h.s.tick(), "reactor finishes once everything is stopped")
}

func TestSupervisor_FastShutdownKills(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.tick(t)

	h.s.deliverSignal(syscall.SIGQUIT)
	h.tick(t)
	h.tick(t)

	kills := h.sys.Kills()
	require.Len(t, kills, 1)
	assert.Equal(t, syscall.SIGKILL, kills[0].Signal)
}

func TestSupervisor_ShutdownGivesUpBackoff(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.tick(t)
	p := h.process(t, "web")
	h.child(t, p).Exit(process.ExitedWith(1))
	h.clock.Advance(100 * time.Millisecond)
	h.tick(t)
	require.Equal(t, processstate.Backoff, p.state)

	h.s.env.mood = processstate.SupervisorShutdown
	assert.True(t, h.s.tick())
	assert.Equal(t, processstate.Fatal, p.state)
}

func TestSupervisor_NoAutostartWhileShuttingDown(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.s.env.mood = processstate.SupervisorShutdown
	assert.True(t, h.s.tick())
	assert.Empty(t, h.sys.Spawns())
}

// ===== Run =====

func TestSupervisor_RunStopsOnContextCancel(t *testing.T) {
	sys := processtest.NewFakeSystem()
	sys.ExitOnSignal[syscall.SIGTERM] = true
	s, err := NewSupervisor([]*config.GroupConfig{testGroupConfig("web", 1, testProcessConfig("web"))}, SupervisorOptions{
		System:      sys,
		Logger:      &SupervisorMockLogger{},
		PollTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	type runResult struct {
		restart bool
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		restart, err := s.Run(ctx)
		done <- runResult{restart: restart, err: err}
	}()

	require.Eventually(t, func() bool { return len(sys.Spawns()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.False(t, r.restart)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, syscall.SIGTERM, sys.Kills()[0].Signal)

	_, err = s.GetState(context.Background())
	assert.Error(t, err, "requests after Run are rejected")
}

func TestSupervisor_RunReportsRestart(t *testing.T) {
	sys := processtest.NewFakeSystem()
	s, err := NewSupervisor(nil, SupervisorOptions{
		System:      sys,
		Logger:      &SupervisorMockLogger{},
		PollTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		restart, _ := s.Run(context.Background())
		done <- restart
	}()

	require.NoError(t, s.Restart(context.Background()))
	select {
	case restart := <-done:
		assert.True(t, restart)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after restart request")
	}
	<-s.Stopped()
}
