package supervisor

import (
	"context"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/process/processtest"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manual(pc *config.ProcessConfig) { pc.AutoStart = false }

func (h *testHarness) poll(t *testing.T, token string) Completion {
	t.Helper()
	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.PollToken(ctx, token)
	})
	require.NoError(t, err)
	return completion
}

// ===== State =====

func TestAPI_GetState(t *testing.T) {
	h := newHarness(t)
	state, err := request(t, h, h.s.GetState)
	require.NoError(t, err)
	assert.Equal(t, processstate.SupervisorRunning, state.Code)
	assert.Equal(t, "RUNNING", state.Name)
	assert.Equal(t, "test", state.Identifier)
}

func TestAPI_GetProcessInfo(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.tick(t)
	h.clock.Advance(65 * time.Second)
	h.tick(t)

	info, err := request(t, h, func(ctx context.Context) (ProcessInfo, error) {
		return h.s.GetProcessInfo(ctx, "web:web")
	})
	require.NoError(t, err)
	assert.Equal(t, "web", info.Name)
	assert.Equal(t, "web", info.Group)
	assert.Equal(t, processstate.Running, info.State)
	assert.Equal(t, "RUNNING", info.StateName)
	assert.Equal(t, h.process(t, "web").pid, info.Pid)
	assert.Equal(t, fmt.Sprintf("pid %d, uptime 0:01:05", info.Pid), info.Description)

	_, err = request(t, h, func(ctx context.Context) (ProcessInfo, error) {
		return h.s.GetProcessInfo(ctx, "nope")
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeBadName))
}

func TestAPI_GetAllProcessInfoInPriorityOrder(t *testing.T) {
	h := newHarness(t,
		testGroupConfig("late", 20, testProcessConfig("late", manual)),
		testGroupConfig("early", 10, testProcessConfig("early", manual)),
	)
	infos, err := request(t, h, h.s.GetAllProcessInfo)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "early", infos[0].Name)
	assert.Equal(t, "late", infos[1].Name)
	assert.Equal(t, "Not started", infos[0].Description)
}

// ===== Start =====

func TestAPI_StartProcessWaitsForRunning(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartProcess(ctx, "web", true)
	})
	require.NoError(t, err)
	require.False(t, completion.Done())
	assert.Equal(t, processstate.Starting, h.process(t, "web").state)

	assert.False(t, h.poll(t, completion.Token).Done())

	h.clock.Advance(2 * time.Second)
	h.tick(t)
	assert.True(t, h.poll(t, completion.Token).Done())

	_, err = request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.PollToken(ctx, completion.Token)
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeBadArguments), "finished tokens are forgotten")
}

func TestAPI_StartProcessWithoutWait(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))
	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartProcess(ctx, "web", false)
	})
	require.NoError(t, err)
	assert.True(t, completion.Done())
	assert.Equal(t, processstate.Starting, h.process(t, "web").state)
}

func TestAPI_StartProcessZeroStartsecs(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual, func(pc *config.ProcessConfig) {
		pc.StartSecs = 0
	})))
	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartProcess(ctx, "web", true)
	})
	require.NoError(t, err)
	require.False(t, completion.Done())

	h.clock.Advance(time.Millisecond)
	h.tick(t)
	assert.Equal(t, processstate.Running, h.process(t, "web").state)
	assert.True(t, h.poll(t, completion.Token).Done())
}

func TestAPI_StartProcessErrors(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		prepare func(t *testing.T, h *testHarness)
		kind    errors.ErrorType
	}{
		{
			name:   "unknown process",
			target: "nope",
			kind:   errors.ErrorTypeBadName,
		},
		{
			name:   "unknown process in known group",
			target: "web:nope",
			kind:   errors.ErrorTypeBadName,
		},
		{
			name:    "missing command",
			target:  "web",
			prepare: func(t *testing.T, h *testHarness) { h.sys.Missing["/usr/bin/web"] = true },
			kind:    errors.ErrorTypeNoFile,
		},
		{
			name:    "spawn failure",
			target:  "web",
			prepare: func(t *testing.T, h *testHarness) { h.sys.SpawnErr = syscall.EAGAIN },
			kind:    errors.ErrorTypeSpawn,
		},
		{
			name:   "already started",
			target: "web",
			prepare: func(t *testing.T, h *testHarness) {
				h.process(t, "web").Spawn()
			},
			kind: errors.ErrorTypeAlreadyStarted,
		},
		{
			name:   "shutting down",
			target: "web",
			prepare: func(t *testing.T, h *testHarness) {
				h.s.env.mood = processstate.SupervisorShutdown
			},
			kind: errors.ErrorTypeShutdownState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))
			if tt.prepare != nil {
				tt.prepare(t, h)
			}
			_, err := request(t, h, func(ctx context.Context) (Completion, error) {
				return h.s.StartProcess(ctx, tt.target, true)
			})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.kind), "unexpected error: %v", err)
		})
	}
}

func TestAPI_StartProcessReportsQuickExit(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))
	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartProcess(ctx, "web", true)
	})
	require.NoError(t, err)
	require.False(t, completion.Done())

	h.child(t, h.process(t, "web")).Exit(process.ExitedWith(1))
	h.clock.Advance(100 * time.Millisecond)
	h.tick(t)

	_, err = request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.PollToken(ctx, completion.Token)
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSpawn))
}

// ===== Stop =====

func TestAPI_StopProcessWaitsForReap(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.tick(t)
	p := h.process(t, "web")
	child := h.child(t, p)

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StopProcess(ctx, "web", true)
	})
	require.NoError(t, err)
	require.False(t, completion.Done())
	assert.Equal(t, processstate.Stopping, p.state)

	h.tick(t)
	assert.False(t, h.poll(t, completion.Token).Done())

	child.Exit(process.KilledBy(syscall.SIGTERM))
	h.tick(t)
	assert.True(t, h.poll(t, completion.Token).Done())
	assert.Equal(t, processstate.Stopped, p.state)
}

func TestAPI_StopProcessNotRunning(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))
	_, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StopProcess(ctx, "web", true)
	})
	assert.True(t, errors.IsNotRunningError(err))
}

func TestAPI_StopProcessExitingOnSignal(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.sys.ExitOnSignal[syscall.SIGTERM] = true
	h.tick(t)

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StopProcess(ctx, "web", true)
	})
	require.NoError(t, err)
	assert.True(t, completion.Done(), "a child that exits at once is reaped inside the request")
	assert.Equal(t, processstate.Stopped, h.process(t, "web").state)
}

// ===== Restart =====

func TestAPI_RestartProcess(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.sys.ExitOnSignal[syscall.SIGTERM] = true
	h.tick(t)
	firstPid := h.process(t, "web").pid

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.RestartProcess(ctx, "web", true)
	})
	require.NoError(t, err)
	p := h.process(t, "web")
	assert.Equal(t, processstate.Starting, p.state)
	assert.NotEqual(t, firstPid, p.pid)
	require.False(t, completion.Done())

	h.clock.Advance(2 * time.Second)
	h.tick(t)
	assert.True(t, h.poll(t, completion.Token).Done())
	assert.Len(t, h.sys.Spawns(), 2)
}

func TestAPI_RestartStoppedProcessStartsIt(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))
	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.RestartProcess(ctx, "web", false)
	})
	require.NoError(t, err)
	assert.True(t, completion.Done())
	assert.Equal(t, processstate.Starting, h.process(t, "web").state)
}

func TestAPI_RestartWaitsForStopBeforeStarting(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.tick(t)
	p := h.process(t, "web")
	child := h.child(t, p)

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.RestartProcess(ctx, "web", false)
	})
	require.NoError(t, err)
	require.False(t, completion.Done())
	assert.Len(t, h.sys.Spawns(), 1)

	child.Exit(process.KilledBy(syscall.SIGTERM))
	h.tick(t)
	assert.True(t, h.poll(t, completion.Token).Done())
	assert.Equal(t, processstate.Starting, p.state)
	assert.Len(t, h.sys.Spawns(), 2)
}

// ===== Groups =====

func TestAPI_StartGroupReportsPerProcess(t *testing.T) {
	h := newHarness(t, testGroupConfig("grp", 1,
		testProcessConfig("a", manual),
		testProcessConfig("b", manual),
	))

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartGroup(ctx, "grp", true)
	})
	require.NoError(t, err)
	require.False(t, completion.Done())

	h.clock.Advance(2 * time.Second)
	h.tick(t)
	completion = h.poll(t, completion.Token)
	require.True(t, completion.Done())
	assert.Equal(t, []ProcessResult{
		{Name: "a", Group: "grp", Status: "SUCCESS", Description: "OK"},
		{Name: "b", Group: "grp", Status: "SUCCESS", Description: "OK"},
	}, completion.Results)
}

func TestAPI_GroupWildcardNamespec(t *testing.T) {
	h := newHarness(t, testGroupConfig("grp", 1,
		testProcessConfig("a", manual),
		testProcessConfig("b", manual),
	))
	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartProcess(ctx, "grp:*", false)
	})
	require.NoError(t, err)
	require.True(t, completion.Done())
	assert.Len(t, completion.Results, 2)
	assert.Len(t, h.sys.Spawns(), 2)
}

func TestAPI_StartGroupCollectsFailures(t *testing.T) {
	h := newHarness(t, testGroupConfig("grp", 1,
		testProcessConfig("a", manual),
		testProcessConfig("b", manual),
	))
	h.sys.Missing["/usr/bin/b"] = true

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartGroup(ctx, "grp", false)
	})
	require.NoError(t, err)
	require.True(t, completion.Done())
	require.Len(t, completion.Results, 2)
	assert.Equal(t, "SUCCESS", completion.Results[0].Status)
	assert.Equal(t, "NO_FILE", completion.Results[1].Status)
	assert.Equal(t, "can't find command '/usr/bin/b'", completion.Results[1].Description)
}

func TestAPI_StopGroupInReverseOrder(t *testing.T) {
	h := newHarness(t, testGroupConfig("grp", 1,
		testProcessConfig("a", func(pc *config.ProcessConfig) { pc.Priority = 1 }),
		testProcessConfig("b", func(pc *config.ProcessConfig) { pc.Priority = 2 }),
	))
	h.tick(t)
	pidA, pidB := h.process(t, "grp:a").pid, h.process(t, "grp:b").pid

	_, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StopGroup(ctx, "grp", false)
	})
	require.NoError(t, err)
	kills := h.sys.Kills()
	require.Len(t, kills, 2)
	assert.Equal(t, pidB, kills[0].Pid)
	assert.Equal(t, pidA, kills[1].Pid)
}

func TestAPI_StopAllSkipsStoppedProcesses(t *testing.T) {
	h := newHarness(t,
		testGroupConfig("web", 1, testProcessConfig("web")),
		testGroupConfig("idle", 2, testProcessConfig("idle", manual)),
	)
	h.sys.ExitOnSignal[syscall.SIGTERM] = true
	h.tick(t)

	completion, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StopAll(ctx, true)
	})
	require.NoError(t, err)
	require.True(t, completion.Done())
	require.Len(t, completion.Results, 1)
	assert.Equal(t, "web", completion.Results[0].Name)
}

func TestAPI_UnknownGroup(t *testing.T) {
	h := newHarness(t)
	_, err := request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartGroup(ctx, "nope", true)
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeBadName))
}

// ===== Signals =====

func TestAPI_SignalProcess(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web")))
	h.tick(t)
	pid := h.process(t, "web").pid

	_, err := request(t, h, func(ctx context.Context) ([]ProcessResult, error) {
		return h.s.SignalProcess(ctx, "web", "HUP")
	})
	require.NoError(t, err)
	kills := h.sys.Kills()
	require.Len(t, kills, 1)
	assert.Equal(t, processtest.KillCall{Pid: pid, Signal: syscall.SIGHUP}, kills[0])

	_, err = request(t, h, func(ctx context.Context) ([]ProcessResult, error) {
		return h.s.SignalProcess(ctx, "web", "BOGUS")
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeBadSignal))
}

func TestAPI_SignalGroupSkipsStopped(t *testing.T) {
	h := newHarness(t, testGroupConfig("grp", 1,
		testProcessConfig("a"),
		testProcessConfig("b", manual),
	))
	h.tick(t)

	results, err := request(t, h, func(ctx context.Context) ([]ProcessResult, error) {
		return h.s.SignalGroup(ctx, "grp", "USR1")
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Name)
	assert.Equal(t, "SUCCESS", results[0].Status)
}

func TestAPI_SignalStoppedProcess(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))
	_, err := request(t, h, func(ctx context.Context) ([]ProcessResult, error) {
		return h.s.SignalProcess(ctx, "web", "TERM")
	})
	assert.True(t, errors.IsNotRunningError(err))
}

// ===== Stdin and events =====

func TestAPI_SendProcessStdin(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))

	send := func(chars string) error {
		_, err := request(t, h, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, h.s.SendProcessStdin(ctx, "web", chars)
		})
		return err
	}

	assert.True(t, errors.IsType(send(""), errors.ErrorTypeBadArguments))
	assert.True(t, errors.IsNotRunningError(send("hello\n")))

	h.process(t, "web").Spawn()
	require.NoError(t, send("hello\n"))
	assert.Equal(t, "hello\n", h.child(t, h.process(t, "web")).ReadStdin())
}

func TestAPI_SendRemoteCommEvent(t *testing.T) {
	h := newHarness(t)
	var received []*events.RemoteCommunicationEvent
	_, err := request(t, h, func(ctx context.Context) (func(), error) {
		return h.s.Subscribe(ctx, events.TypeRemoteCommunication, func(ev events.Event) {
			received = append(received, ev.(*events.RemoteCommunicationEvent))
		})
	})
	require.NoError(t, err)

	_, err = request(t, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.s.SendRemoteCommEvent(ctx, "deploy", "v2")
	})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "deploy", received[0].Kind)
	assert.Equal(t, "v2", received[0].Data)
}

func TestAPI_SubscribeAndUnsubscribe(t *testing.T) {
	h := newHarness(t)
	count := 0
	unsubscribe, err := request(t, h, func(ctx context.Context) (func(), error) {
		return h.s.Subscribe(ctx, events.TypeRemoteCommunication, func(events.Event) { count++ })
	})
	require.NoError(t, err)

	h.s.Bus().Notify(events.NewRemoteCommunicationEvent("a", "b"))
	unsubscribe()
	h.s.runRequests()
	h.s.Bus().Notify(events.NewRemoteCommunicationEvent("a", "b"))
	assert.Equal(t, 1, count)
}

// ===== Logs =====

func TestAPI_ProcessLogs(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", func(pc *config.ProcessConfig) {
		pc.Stdout = config.LogConfig{Path: dir + "/web.out", MaxBytes: 1024 * 1024}
	})))
	h.tick(t)
	require.NoError(t, h.child(t, h.process(t, "web")).WriteStdout("hello world\n"))
	h.tick(t)

	data, err := request(t, h, func(ctx context.Context) ([]byte, error) {
		return h.s.ReadProcessLog(ctx, "web", "stdout", 0, 0)
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))

	tail, err := request(t, h, func(ctx context.Context) (logcollection.TailResult, error) {
		return h.s.TailProcessLog(ctx, "web", "stdout", 0, 5)
	})
	require.NoError(t, err)
	assert.Equal(t, "orld\n", string(tail.Data))
	assert.True(t, tail.Overflow)

	_, err = request(t, h, func(ctx context.Context) ([]byte, error) {
		return h.s.ReadProcessLog(ctx, "web", "stderr", 0, 0)
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoFile), "stderr has no log file")

	_, err = request(t, h, func(ctx context.Context) ([]byte, error) {
		return h.s.ReadProcessLog(ctx, "web", "stdin", 0, 0)
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeBadArguments))

	_, err = h.s.TailProcessLog(context.Background(), "web", "stdout", -1, 5)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBadArguments))

	_, err = request(t, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.s.ClearProcessLogs(ctx, "web")
	})
	require.NoError(t, err)
	data, err = request(t, h, func(ctx context.Context) ([]byte, error) {
		return h.s.ReadProcessLog(ctx, "web", "stdout", 0, 0)
	})
	require.NoError(t, err)
	assert.Empty(t, data)
}

// ===== Supervisor control =====

func TestAPI_ShutdownRejectsMutations(t *testing.T) {
	h := newHarness(t, testGroupConfig("web", 1, testProcessConfig("web", manual)))
	_, err := request(t, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.s.Shutdown(ctx)
	})
	require.NoError(t, err)

	state, err := request(t, h, h.s.GetState)
	require.NoError(t, err)
	assert.Equal(t, processstate.SupervisorShutdown, state.Code)

	_, err = request(t, h, func(ctx context.Context) (ProcessInfo, error) {
		return h.s.GetProcessInfo(ctx, "web")
	})
	assert.NoError(t, err, "reads stay available while shutting down")

	_, err = request(t, h, func(ctx context.Context) (Completion, error) {
		return h.s.StartAll(ctx, false)
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeShutdownState))

	_, err = request(t, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.s.Restart(ctx)
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeShutdownState))
}

func TestAPI_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < requestQueueSize; i++ {
		h.s.submitNoWait(func() {})
	}
	_, err := h.s.GetState(ctx)
	assert.Error(t, err)
	h.s.runRequests()
}

// ===== Tokens and names =====

func TestDeferredRegistry(t *testing.T) {
	clock := newManualClock()
	registry := newDeferredRegistry(clock.Now)
	polls := 0
	id := registry.add(func() (bool, []ProcessResult, error) {
		polls++
		return polls >= 2, nil, nil
	})

	done, _, ok, err := registry.poll(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, done)

	done, _, ok, err = registry.poll(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, done)
	assert.Zero(t, registry.len())

	_, _, ok, _ = registry.poll(id)
	assert.False(t, ok)
}

func TestDeferredRegistry_ExpiresUnpolledTokens(t *testing.T) {
	clock := newManualClock()
	registry := newDeferredRegistry(clock.Now)
	never := func() (bool, []ProcessResult, error) { return false, nil, nil }

	stale := registry.add(never)
	clock.Advance(30 * time.Minute)
	fresh := registry.add(never)
	clock.Advance(31 * time.Minute)

	_, _, ok, _ := registry.poll(stale)
	assert.False(t, ok)
	_, _, ok, _ = registry.poll(fresh)
	assert.True(t, ok)
	assert.Equal(t, 1, registry.len())
}

func TestDeferredRegistry_ErrorEndsToken(t *testing.T) {
	registry := newDeferredRegistry(newManualClock().Now)
	id := registry.add(func() (bool, []ProcessResult, error) {
		return false, nil, errors.NewAbnormalTerminationError("web")
	})
	_, _, ok, err := registry.poll(id)
	assert.True(t, ok)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAbnormalTermination))
	assert.Zero(t, registry.len())
}

func TestSplitNamespec(t *testing.T) {
	tests := []struct {
		in          string
		wantGroup   string
		wantProcess string
	}{
		{"web", "web", "web"},
		{"grp:a", "grp", "a"},
		{"grp:*", "grp", ""},
		{"grp:", "grp", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			group, process := splitNamespec(tt.in)
			assert.Equal(t, tt.wantGroup, group)
			assert.Equal(t, tt.wantProcess, process)
		})
	}
}
