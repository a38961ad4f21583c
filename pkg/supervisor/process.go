package supervisor

import (
	stderrors "errors"
	"fmt"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/dispatchers"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

const (
	tooQuicklyMessage  = "Exited too quickly (process log may have details)"
	stopReportInterval = 2 * time.Second
)

// Process supervises one child across repeated spawn/exit cycles.
type Process struct {
	config   *config.ProcessConfig
	env      *env
	logger   logging.Logger
	listener bool

	state          processstate.ProcessState
	pid            int
	lastPid        int
	laststart      time.Time
	laststop       time.Time
	laststopreport time.Time
	// delay is the BACKOFF retry time or the STOPPING kill deadline
	delay              time.Time
	backoff            int
	killing            bool
	administrativeStop bool
	systemStop         bool
	exitStatus         int
	spawnErr           string

	dispatchers []dispatchers.Dispatcher
	stdin       *dispatchers.InputDispatcher
	stdoutLog   *logcollection.ChildLog
	stderrLog   *logcollection.ChildLog

	listenerState processstate.ListenerState
	event         events.Event
}

func newProcess(cfg *config.ProcessConfig, e *env, listener bool) *Process {
	p := &Process{
		config:        cfg,
		env:           e,
		listener:      listener,
		state:         processstate.Stopped,
		listenerState: processstate.ListenerAcknowledged,
	}
	p.logger = logging.WithPrefix(e.logger, fmt.Sprintf("process: %s , ", cfg))
	p.stdoutLog = p.openLog(cfg.Stdout, logcollection.StdoutStream)
	if !cfg.RedirectStderr {
		p.stderrLog = p.openLog(cfg.Stderr, logcollection.StderrStream)
	}
	return p
}

func (p *Process) openLog(lc config.LogConfig, stream logcollection.StreamType) *logcollection.ChildLog {
	log, err := logcollection.NewChildLog(logcollection.ChildLogConfig{
		ProcessName: p.config.Name,
		Stream:      stream,
		Path:        lc.Path,
		MaxBytes:    lc.MaxBytes,
		Backups:     lc.Backups,
		Syslog:      lc.Syslog,
		StripANSI:   p.config.StripANSI,
	}, p.logger)
	if err != nil {
		p.logger.Errorf("Failed to open %s log, output will be discarded: %v", stream, err)
		return nil
	}
	return log
}

// ===== Owner =====

func (p *Process) Name() string      { return p.config.Name }
func (p *Process) GroupName() string { return p.config.GroupName }
func (p *Process) Pid() int          { return p.pid }

func (p *Process) ListenerState() processstate.ListenerState { return p.listenerState }

func (p *Process) SetListenerState(state processstate.ListenerState) {
	if state != p.listenerState {
		p.logger.Debugf("%s: %s -> %s", p.config.Name, p.listenerState, state)
	}
	p.listenerState = state
}

func (p *Process) CurrentEvent() events.Event      { return p.event }
func (p *Process) SetCurrentEvent(ev events.Event) { p.event = ev }

func (p *Process) Config() *config.ProcessConfig     { return p.config }
func (p *Process) State() processstate.ProcessState { return p.state }
func (p *Process) SpawnErr() string                 { return p.spawnErr }
func (p *Process) Backoff() int                     { return p.backoff }

// ===== State changes =====

func (p *Process) changeState(newState processstate.ProcessState, expected bool) bool {
	old := p.state
	if newState == old {
		return false
	}

	p.state = newState
	if old == processstate.Backoff || old == processstate.Stopping {
		p.delay = time.Time{}
	}
	if newState == processstate.Backoff {
		p.backoff++
		p.delay = p.env.now().Add(time.Duration(p.backoff) * time.Second)
	}

	pid := p.pid
	if pid == 0 {
		pid = p.lastPid
	}
	p.env.bus.Notify(events.NewProcessStateEvent(p.config.Name, p.config.GroupName, old, newState, p.backoff, expected, pid))
	return true
}

// assertInState moves the process to UNKNOWN when its state is not one of
// states, which means a supervision invariant was broken.
func (p *Process) assertInState(states ...processstate.ProcessState) bool {
	for _, s := range states {
		if p.state == s {
			return true
		}
	}
	p.logger.Errorf("Assertion failed for %s: %s not in %v", p.config.Name, p.state, states)
	p.changeState(processstate.Unknown, false)
	return false
}

// ===== Spawn =====

// Spawn starts the child. It returns the new pid, or 0 when the process was
// already running or spawning failed (the process is then in BACKOFF).
func (p *Process) Spawn() int {
	if p.pid != 0 {
		p.logger.Warnf("process '%s' already running", p.config.Name)
		return 0
	}
	if !p.assertInState(processstate.Exited, processstate.Fatal, processstate.Backoff, processstate.Stopped) {
		return 0
	}

	p.killing = false
	p.spawnErr = ""
	p.exitStatus = 0
	p.systemStop = false
	p.administrativeStop = false
	p.laststart = p.env.now()

	sys := p.env.sys
	path, argv, err := process.ResolveCommand(sys, p.config.Command)
	if err != nil {
		p.spawnFailed(spawnMessage(err))
		return 0
	}
	credential, err := process.ResolveCredential(p.config.User)
	if err != nil {
		p.spawnFailed(spawnMessage(err))
		return 0
	}

	pipes, err := process.MakePipes(sys, p.config.RedirectStderr)
	if err != nil {
		if stderrors.Is(err, syscall.EMFILE) {
			p.spawnFailed(fmt.Sprintf("too many open files to spawn '%s'", p.config.Name))
		} else {
			p.spawnFailed(fmt.Sprintf("unknown error making dispatchers for '%s': %v", p.config.Name, err))
		}
		return 0
	}

	pid, err := sys.Spawn(process.SpawnSpec{
		Path:       path,
		Argv:       argv,
		Env:        p.environment(),
		Dir:        p.config.Directory,
		Umask:      p.config.Umask,
		Credential: credential,
		Stdin:      pipes.ChildStdin,
		Stdout:     pipes.ChildStdout,
		Stderr:     pipes.ChildStderr,
	})
	pipes.CloseChildEnds(sys)
	if err != nil {
		pipes.CloseParentEnds(sys)
		if stderrors.Is(err, syscall.EAGAIN) {
			p.spawnFailed(fmt.Sprintf("Too many processes in process table to spawn '%s'", p.config.Name))
		} else {
			p.spawnFailed(fmt.Sprintf("unknown error during fork for '%s': %v", p.config.Name, err))
		}
		return 0
	}

	p.pid = pid
	p.lastPid = pid
	p.env.pids[pid] = p
	p.makeDispatchers(pipes)
	if p.listener {
		p.listenerState = processstate.ListenerAcknowledged
		p.event = nil
	}
	p.changeState(processstate.Starting, true)
	p.logger.Infof("spawned: '%s' with pid %d", p.config.Name, pid)
	return pid
}

func (p *Process) spawnFailed(msg string) {
	p.spawnErr = msg
	p.logger.Infof("spawnerr: %s", msg)
	p.changeState(processstate.Starting, true)
	p.changeState(processstate.Backoff, true)
}

// spawnMessage extracts the operator-facing text of a spawn failure
func spawnMessage(err error) string {
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

func (p *Process) environment() []string {
	overrides := map[string]string{
		"SUPERVISOR_ENABLED":      "1",
		"SUPERVISOR_PROCESS_NAME": p.config.Name,
		"SUPERVISOR_GROUP_NAME":   p.config.GroupName,
	}
	if p.config.ServerURL != "" {
		overrides["SUPERVISOR_SERVER_URL"] = p.config.ServerURL
	}
	for k, v := range p.config.Environment {
		overrides[k] = v
	}
	return process.BuildEnvironment(p.env.baseEnv, overrides)
}

// makeDispatchers hands the parent pipe ends to dispatchers, which own them
// from now on.
func (p *Process) makeDispatchers(pipes *process.Pipes) {
	sys, bus := p.env.sys, p.env.bus
	p.dispatchers = nil

	if p.listener {
		p.dispatchers = append(p.dispatchers, dispatchers.NewEventListenerDispatcher(p, pipes.Stdout, logSink(p.stdoutLog), sys, bus, p.logger))
	} else {
		p.dispatchers = append(p.dispatchers, dispatchers.NewOutputDispatcher(p, "stdout", pipes.Stdout, dispatchers.OutputOptions{
			Log:             logSink(p.stdoutLog),
			CaptureMaxBytes: p.config.Stdout.CaptureMaxBytes,
			EventsEnabled:   p.config.Stdout.EventsEnabled,
		}, sys, bus, p.logger))
	}
	if pipes.Stderr >= 0 {
		p.dispatchers = append(p.dispatchers, dispatchers.NewOutputDispatcher(p, "stderr", pipes.Stderr, dispatchers.OutputOptions{
			Log:             logSink(p.stderrLog),
			CaptureMaxBytes: p.config.Stderr.CaptureMaxBytes,
			EventsEnabled:   p.config.Stderr.EventsEnabled,
		}, sys, bus, p.logger))
	}
	p.stdin = dispatchers.NewInputDispatcher(p, pipes.Stdin, sys, bus, p.logger)
	p.dispatchers = append(p.dispatchers, p.stdin)
}

func logSink(log *logcollection.ChildLog) dispatchers.LogSink {
	if log == nil || !log.Enabled() {
		return nil
	}
	return log
}

// ===== Stop / kill =====

// Stop is an administrative stop. Stopping a STOPPING process again does
// nothing.
func (p *Process) Stop() error {
	return p.stopWith(p.config.StopSignal)
}

func (p *Process) stopWith(sig syscall.Signal) error {
	if p.state == processstate.Stopping {
		return nil
	}
	p.administrativeStop = true
	p.laststopreport = time.Time{}
	return p.kill(sig)
}

func (p *Process) giveUp() {
	p.backoff = 0
	p.systemStop = true
	if p.assertInState(processstate.Backoff) {
		p.changeState(processstate.Fatal, true)
	}
}

// kill signals the child and arms the stop deadline. It never waits.
func (p *Process) kill(sig syscall.Signal) error {
	now := p.env.now()

	// no OS process exists in BACKOFF, so a stop completes at once
	if p.state == processstate.Backoff {
		p.logger.Debugf("Attempted to kill %s, which is in BACKOFF state.", p.config.Name)
		p.changeState(processstate.Stopped, true)
		return nil
	}
	if p.pid == 0 {
		p.logger.Debugf("attempted to kill %s with sig %s but it wasn't running", p.config.Name, process.SignalName(sig))
		return errors.NewNotRunningError(p.config.Name)
	}

	// the first signal of a stop uses stopasgroup, the SIGKILL escalation killasgroup
	asGroup := p.config.StopAsGroup
	if p.state == processstate.Stopping {
		asGroup = p.config.KillAsGroup
	}
	target := process.KillTarget(p.pid, asGroup)
	p.logger.Debugf("killing %s (pid %d) with signal %s, target: %d", p.config.Name, p.pid, process.SignalName(sig), target)

	if !p.assertInState(processstate.Running, processstate.Starting, processstate.Stopping) {
		return errors.NewStateError("process is not signallable", nil).WithContext("process", p.config.Name)
	}
	p.killing = true
	p.changeState(processstate.Stopping, true)
	p.delay = now.Add(p.config.StopWaitSecs)

	if err := p.env.sys.Kill(target, sig); err != nil {
		if stderrors.Is(err, syscall.ESRCH) {
			// exited on its own; the reap will finish it
			p.logger.Debugf("unable to signal %s (pid %d), it probably just exited on its own: %v", p.config.Name, p.pid, err)
			return nil
		}
		p.logger.Errorf("unknown problem killing %s (%d): %v", p.config.Name, p.pid, err)
		p.lose()
		return errors.NewFailedError("failed to kill "+p.config.Name, err)
	}
	return nil
}

// Signal sends sig without changing state.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.pid == 0 {
		p.logger.Debugf("attempted to send %s sig %s but it wasn't running", p.config.Name, process.SignalName(sig))
		return errors.NewNotRunningError(p.config.Name)
	}
	p.logger.Debugf("sending %s (pid %d) sig %s", p.config.Name, p.pid, process.SignalName(sig))
	if !p.assertInState(processstate.Running, processstate.Starting, processstate.Stopping) {
		return errors.NewStateError("process is not signallable", nil).WithContext("process", p.config.Name)
	}

	if err := p.env.sys.Kill(p.pid, sig); err != nil {
		if stderrors.Is(err, syscall.ESRCH) {
			p.logger.Debugf("unable to signal %s (pid %d), it probably just now exited on its own: %v", p.config.Name, p.pid, err)
			return nil
		}
		p.logger.Errorf("unknown problem sending sig %s (%d): %v", p.config.Name, p.pid, err)
		p.lose()
		return errors.NewFailedError("failed to signal "+p.config.Name, err)
	}
	return nil
}

// lose drops a child the supervisor can no longer control
func (p *Process) lose() {
	delete(p.env.pids, p.pid)
	p.pid = 0
	p.killing = false
	p.closeDispatchers()
	p.changeState(processstate.Unknown, false)
}

// ===== Reap =====

// finish records the exit of the child reaped with status.
func (p *Process) finish(status process.WaitStatus) {
	p.drain()

	code, description := status.Describe()
	now := p.env.now()
	p.laststop = now

	tooQuickly := false
	if !now.Before(p.laststart) {
		tooQuickly = now.Sub(p.laststart) < p.config.StartSecs
	} else {
		p.logger.Warnf("process '%s' (%d) laststart time is in the future, don't know how long process was running so assuming it did not exit too quickly", p.config.Name, p.pid)
	}
	exitExpected := p.config.IsExpectedExit(code)

	delete(p.env.pids, p.pid)
	p.pid = 0
	p.closeDispatchers()

	var msg string
	switch {
	case p.killing:
		p.killing = false
		p.exitStatus = code
		msg = fmt.Sprintf("stopped: %s (%s)", p.config.Name, description)
		if p.assertInState(processstate.Stopping) {
			p.changeState(processstate.Stopped, true)
		}

	case tooQuickly:
		p.exitStatus = 0
		p.spawnErr = tooQuicklyMessage
		msg = fmt.Sprintf("exited: %s (%s; not expected)", p.config.Name, description)
		if p.assertInState(processstate.Starting) {
			p.changeState(processstate.Backoff, false)
		}

	default:
		p.backoff = 0
		p.exitStatus = code
		if p.state == processstate.Starting {
			p.changeState(processstate.Running, true)
		}
		if p.assertInState(processstate.Running) {
			if exitExpected {
				msg = fmt.Sprintf("exited: %s (%s; expected)", p.config.Name, description)
				p.changeState(processstate.Exited, true)
			} else {
				p.spawnErr = fmt.Sprintf("Bad exit code %d", code)
				msg = fmt.Sprintf("exited: %s (%s; not expected)", p.config.Name, description)
				p.changeState(processstate.Exited, false)
			}
		}
	}
	if msg != "" {
		p.logger.Infof("%s", msg)
	}

	// an event in flight to a dead listener goes back to its pool
	if p.event != nil {
		p.env.bus.Notify(events.NewEventRejectedEvent(p.config.Name, p.config.GroupName, p.event))
		p.event = nil
	}
}

// drain services every dispatcher once so output written just before exit
// is not lost
func (p *Process) drain() {
	for _, d := range p.dispatchers {
		if d.Readable() {
			if err := d.HandleRead(); err != nil {
				d.HandleError(err)
			}
		}
		if d.Writable() {
			if err := d.HandleWrite(); err != nil {
				d.HandleError(err)
			}
		}
	}
}

func (p *Process) closeDispatchers() {
	for _, d := range p.dispatchers {
		d.Close()
	}
	p.dispatchers = nil
	p.stdin = nil
}

// ===== Tick =====

func (p *Process) transition() {
	now := p.env.now()
	p.adjustForClockRollback(now)
	state := p.state

	if p.env.mood > processstate.SupervisorRestarting {
		switch state {
		case processstate.Exited:
			switch p.config.AutoRestart {
			case config.AutoRestartAlways:
				p.Spawn()
			case config.AutoRestartUnexpected:
				if !p.config.IsExpectedExit(p.exitStatus) {
					p.Spawn()
				}
			}
		case processstate.Stopped:
			if p.laststart.IsZero() && p.config.AutoStart {
				p.Spawn()
			}
		case processstate.Backoff:
			if p.backoff <= p.config.StartRetries && now.After(p.delay) {
				p.Spawn()
			}
		}
	}

	switch state {
	case processstate.Starting:
		if now.Sub(p.laststart) > p.config.StartSecs && p.state == processstate.Starting {
			p.backoff = 0
			p.changeState(processstate.Running, true)
			p.logger.Infof("success: %s entered RUNNING state, process has stayed up for > than %s (startsecs)", p.config.Name, p.config.StartSecs)
		}
	case processstate.Backoff:
		if p.backoff > p.config.StartRetries && p.state == processstate.Backoff {
			p.giveUp()
			p.logger.Infof("gave up: %s entered FATAL state, too many start retries too quickly", p.config.Name)
		}
	case processstate.Stopping:
		p.stopReport(now)
		if !now.Before(p.delay) && p.state == processstate.Stopping {
			p.logger.Warnf("killing '%s' (%d) with SIGKILL", p.config.Name, p.pid)
			p.kill(syscall.SIGKILL)
		}
	}
}

func (p *Process) stopReport(now time.Time) {
	if now.Sub(p.laststopreport) > stopReportInterval {
		p.logger.Infof("waiting for %s to stop", p.config.Name)
		p.laststopreport = now
	}
}

// adjustForClockRollback pulls timestamps recorded in the future back to
// now so a backwards clock jump cannot wedge a deadline.
func (p *Process) adjustForClockRollback(now time.Time) {
	switch p.state {
	case processstate.Starting:
		if now.Before(p.laststart) {
			p.laststart = now
		}
	case processstate.Running:
		if now.After(p.laststart) && now.Before(p.laststart.Add(p.config.StartSecs)) {
			p.laststart = now.Add(-p.config.StartSecs)
		}
	case processstate.Stopping:
		if now.Before(p.laststopreport) {
			p.laststopreport = now
		}
		if !p.delay.IsZero() && now.Before(p.delay.Add(-p.config.StopWaitSecs)) {
			p.delay = now.Add(p.config.StopWaitSecs)
		}
	case processstate.Backoff:
		backoff := time.Duration(p.backoff) * time.Second
		if !p.delay.IsZero() && now.Before(p.delay.Add(-backoff)) {
			p.delay = now.Add(backoff)
		}
	}
}

// ===== Stdin and logs =====

// Write queues data on the child's stdin.
func (p *Process) Write(data []byte) error {
	if p.pid == 0 || p.killing {
		return errors.NewNotRunningError(p.config.Name)
	}
	if p.stdin == nil || p.stdin.Closed() {
		return errors.NewNoFileError("process' stdin channel is closed").WithContext("process", p.config.Name)
	}
	if err := p.stdin.Send(data); err != nil {
		return errors.NewNoFileError("failed to write to stdin: "+err.Error()).WithContext("process", p.config.Name)
	}
	return nil
}

func (p *Process) logFor(channel string) *logcollection.ChildLog {
	if channel == string(logcollection.StderrStream) {
		return p.stderrLog
	}
	return p.stdoutLog
}

// LogPath returns the file log of channel, empty when disabled.
func (p *Process) LogPath(channel string) string {
	if log := p.logFor(channel); log != nil {
		return log.Path()
	}
	return ""
}

func (p *Process) reopenLogs() error {
	var collection errors.ErrorCollection
	for _, log := range []*logcollection.ChildLog{p.stdoutLog, p.stderrLog} {
		if log != nil {
			collection.Add(log.Reopen())
		}
	}
	return collection.ToError()
}

func (p *Process) clearLogs() error {
	var collection errors.ErrorCollection
	for _, log := range []*logcollection.ChildLog{p.stdoutLog, p.stderrLog} {
		if log != nil {
			collection.Add(log.Clear())
		}
	}
	return collection.ToError()
}

func (p *Process) closeLogs() {
	for _, log := range []*logcollection.ChildLog{p.stdoutLog, p.stderrLog} {
		if log != nil {
			_ = log.Close()
		}
	}
}
