package supervisor

import (
	"context"
	stderrors "errors"
	"strings"
	"syscall"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// Completion is the answer to a start/stop/restart request. While Token is
// set the request is still in progress and must be polled with PollToken.
type Completion struct {
	Token   string
	Results []ProcessResult
}

func (c Completion) Done() bool {
	return c.Token == ""
}

// pollFunc reports whether a single-process request has completed
type pollFunc func() (bool, error)

// ===== State =====

func (s *Supervisor) GetState(ctx context.Context) (StateInfo, error) {
	return call(s, ctx, func() (StateInfo, error) {
		return StateInfo{Code: s.env.mood, Name: s.env.mood.String(), Identifier: s.env.identifier}, nil
	})
}

func (s *Supervisor) GetProcessInfo(ctx context.Context, name string) (ProcessInfo, error) {
	return call(s, ctx, func() (ProcessInfo, error) {
		p, err := s.resolveProcess(name)
		if err != nil {
			return ProcessInfo{}, err
		}
		return p.info(), nil
	})
}

func (s *Supervisor) GetAllProcessInfo(ctx context.Context) ([]ProcessInfo, error) {
	return call(s, ctx, func() ([]ProcessInfo, error) {
		var infos []ProcessInfo
		for _, g := range s.groups {
			for _, p := range g.Processes() {
				infos = append(infos, p.info())
			}
		}
		return infos, nil
	})
}

// ===== Start / stop / restart =====

func (s *Supervisor) StartProcess(ctx context.Context, name string, wait bool) (Completion, error) {
	return s.processRequest(ctx, name, wait, s.startGroup, s.startProcess)
}

func (s *Supervisor) StopProcess(ctx context.Context, name string, wait bool) (Completion, error) {
	return s.processRequest(ctx, name, wait, s.stopGroup, s.stopProcess)
}

func (s *Supervisor) RestartProcess(ctx context.Context, name string, wait bool) (Completion, error) {
	return s.processRequest(ctx, name, wait, s.restartGroup, s.restartProcess)
}

func (s *Supervisor) StartGroup(ctx context.Context, name string, wait bool) (Completion, error) {
	return s.groupRequest(ctx, name, wait, s.startGroup)
}

func (s *Supervisor) StopGroup(ctx context.Context, name string, wait bool) (Completion, error) {
	return s.groupRequest(ctx, name, wait, s.stopGroup)
}

func (s *Supervisor) RestartGroup(ctx context.Context, name string, wait bool) (Completion, error) {
	return s.groupRequest(ctx, name, wait, s.restartGroup)
}

func (s *Supervisor) StartAll(ctx context.Context, wait bool) (Completion, error) {
	return call(s, ctx, func() (Completion, error) {
		if err := s.checkRunning(); err != nil {
			return Completion{}, err
		}
		return s.complete(s.allFunc(s.allProcesses(false), notRunning, func(p *Process) (pollFunc, error) {
			return s.startProcess(p, wait)
		}))
	})
}

func (s *Supervisor) StopAll(ctx context.Context, wait bool) (Completion, error) {
	return call(s, ctx, func() (Completion, error) {
		if err := s.checkRunning(); err != nil {
			return Completion{}, err
		}
		return s.complete(s.allFunc(s.allProcesses(true), running, func(p *Process) (pollFunc, error) {
			return s.stopProcess(p, wait)
		}))
	})
}

// PollToken advances a pending request.
func (s *Supervisor) PollToken(ctx context.Context, token string) (Completion, error) {
	return call(s, ctx, func() (Completion, error) {
		done, results, ok, err := s.deferred.poll(token)
		if !ok {
			return Completion{}, errors.NewBadArgumentsError("unknown or expired token " + token)
		}
		if err != nil {
			return Completion{}, err
		}
		if !done {
			return Completion{Token: token}, nil
		}
		return Completion{Results: results}, nil
	})
}

type groupOp func(g processGroup, wait bool) deferred
type processOp func(p *Process, wait bool) (pollFunc, error)

func (s *Supervisor) processRequest(ctx context.Context, name string, wait bool, onGroup groupOp, onProcess processOp) (Completion, error) {
	return call(s, ctx, func() (Completion, error) {
		if err := s.checkRunning(); err != nil {
			return Completion{}, err
		}
		g, p, err := s.resolve(name)
		if err != nil {
			return Completion{}, err
		}
		if p == nil {
			return s.complete(onGroup(g, wait))
		}
		poll, err := onProcess(p, wait)
		if err != nil {
			return Completion{}, err
		}
		return s.complete(single(poll))
	})
}

func (s *Supervisor) groupRequest(ctx context.Context, name string, wait bool, onGroup groupOp) (Completion, error) {
	return call(s, ctx, func() (Completion, error) {
		if err := s.checkRunning(); err != nil {
			return Completion{}, err
		}
		g, ok := s.byName[name]
		if !ok {
			return Completion{}, errors.NewBadNameError(name)
		}
		return s.complete(onGroup(g, wait))
	})
}

func (s *Supervisor) complete(d deferred) (Completion, error) {
	done, results, err := d()
	if err != nil {
		return Completion{}, err
	}
	if done {
		return Completion{Results: results}, nil
	}
	return Completion{Token: s.deferred.add(d)}, nil
}

func single(poll pollFunc) deferred {
	return func() (bool, []ProcessResult, error) {
		if poll == nil {
			return true, nil, nil
		}
		done, err := poll()
		return done, nil, err
	}
}

func (s *Supervisor) startProcess(p *Process, wait bool) (pollFunc, error) {
	name := p.config.String()
	if _, _, err := process.ResolveCommand(s.env.sys, p.config.Command); err != nil {
		return nil, errors.NewNoFileError(spawnMessage(err)).WithContext("process", name)
	}
	if p.state.IsRunning() {
		return nil, errors.NewAlreadyStartedError(name)
	}
	if p.state == processstate.Unknown {
		return nil, errors.NewFailedError(name+" is in an unknown process state", nil)
	}

	p.Spawn()
	// reap now so an immediate exit is visible to the caller
	s.reap()
	if p.spawnErr != "" {
		return nil, errors.NewSpawnError(name, nil)
	}
	// promote to RUNNING when startsecs has already elapsed
	p.transition()

	if !wait || p.state == processstate.Running {
		return nil, nil
	}
	return func() (bool, error) {
		if p.spawnErr != "" {
			return false, errors.NewSpawnError(name, nil)
		}
		switch p.state {
		case processstate.Running:
			return true, nil
		case processstate.Starting:
			return false, nil
		}
		return false, errors.NewAbnormalTerminationError(name)
	}, nil
}

func (s *Supervisor) stopProcess(p *Process, wait bool) (pollFunc, error) {
	name := p.config.String()
	if !p.state.IsRunning() {
		return nil, errors.NewNotRunningError(name)
	}
	if err := p.Stop(); err != nil {
		return nil, errors.NewFailedError(err.Error(), nil)
	}
	s.reap()

	if !wait || p.state.IsStopped() {
		return nil, nil
	}
	return func() (bool, error) {
		// the regular reap during ticks moves the process to a stopped state
		p.stopReport(s.env.now())
		return p.state.IsStopped(), nil
	}, nil
}

// restartProcess stops p if needed, then starts it once it has stopped.
func (s *Supervisor) restartProcess(p *Process, wait bool) (pollFunc, error) {
	stop, err := s.stopProcess(p, true)
	if err != nil && !errors.IsNotRunningError(err) {
		return nil, err
	}

	var start pollFunc
	started := false
	step := func() (bool, error) {
		if !started {
			if stop != nil {
				done, err := stop()
				if err != nil || !done {
					return false, err
				}
			}
			started = true
			start, err = s.startProcess(p, wait)
			if err != nil {
				return false, err
			}
		}
		if start == nil {
			return true, nil
		}
		return start()
	}

	done, err := step()
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}
	return step, nil
}

func (s *Supervisor) startGroup(g processGroup, wait bool) deferred {
	return s.allFunc(g.Processes(), notRunning, func(p *Process) (pollFunc, error) {
		return s.startProcess(p, wait)
	})
}

func (s *Supervisor) stopGroup(g processGroup, wait bool) deferred {
	return s.allFunc(reversed(g.Processes()), running, func(p *Process) (pollFunc, error) {
		return s.stopProcess(p, wait)
	})
}

func (s *Supervisor) restartGroup(g processGroup, wait bool) deferred {
	return s.allFunc(g.Processes(), anyState, func(p *Process) (pollFunc, error) {
		return s.restartProcess(p, wait)
	})
}

// allFunc applies fn to every process matching predicate and then polls the
// pending ones until all have completed.
func (s *Supervisor) allFunc(procs []*Process, predicate func(*Process) bool, fn func(*Process) (pollFunc, error)) deferred {
	type pendingProcess struct {
		process *Process
		poll    pollFunc
	}
	var pending []pendingProcess
	var results []ProcessResult
	started := false

	return func() (bool, []ProcessResult, error) {
		if !started {
			started = true
			for _, p := range procs {
				if !predicate(p) {
					continue
				}
				poll, err := fn(p)
				switch {
				case err != nil:
					results = append(results, resultFor(p, err))
				case poll != nil:
					pending = append(pending, pendingProcess{process: p, poll: poll})
				default:
					results = append(results, resultFor(p, nil))
				}
			}
		}

		var remaining []pendingProcess
		for _, item := range pending {
			done, err := item.poll()
			switch {
			case err != nil:
				results = append(results, resultFor(item.process, err))
			case done:
				results = append(results, resultFor(item.process, nil))
			default:
				remaining = append(remaining, item)
			}
		}
		pending = remaining
		if len(pending) > 0 {
			return false, nil, nil
		}
		return true, results, nil
	}
}

func resultFor(p *Process, err error) ProcessResult {
	result := ProcessResult{Name: p.config.Name, Group: p.config.GroupName, Status: statusSuccess, Description: "OK"}
	if err != nil {
		result.Status = errors.FaultCode(err)
		result.Description = err.Error()
		var domainErr *errors.DomainError
		if stderrors.As(err, &domainErr) {
			result.Description = domainErr.Message
		}
	}
	return result
}

func notRunning(p *Process) bool { return !p.state.IsRunning() }
func running(p *Process) bool    { return p.state.IsRunning() }
func anyState(*Process) bool     { return true }

func reversed(procs []*Process) []*Process {
	result := make([]*Process, len(procs))
	for i, p := range procs {
		result[len(procs)-1-i] = p
	}
	return result
}

// ===== Signals =====

// SignalProcess sends sig to one process, or to every running process of
// the group when name is "group:*".
func (s *Supervisor) SignalProcess(ctx context.Context, name, sig string) ([]ProcessResult, error) {
	return call(s, ctx, func() ([]ProcessResult, error) {
		if err := s.checkRunning(); err != nil {
			return nil, err
		}
		g, p, err := s.resolve(name)
		if err != nil {
			return nil, err
		}
		signal, err := parseSignal(sig)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return s.signalProcesses(g.Processes(), signal), nil
		}
		return nil, s.signalProcess(p, signal)
	})
}

func (s *Supervisor) SignalGroup(ctx context.Context, name, sig string) ([]ProcessResult, error) {
	return call(s, ctx, func() ([]ProcessResult, error) {
		if err := s.checkRunning(); err != nil {
			return nil, err
		}
		g, ok := s.byName[name]
		if !ok {
			return nil, errors.NewBadNameError(name)
		}
		signal, err := parseSignal(sig)
		if err != nil {
			return nil, err
		}
		return s.signalProcesses(g.Processes(), signal), nil
	})
}

func (s *Supervisor) SignalAll(ctx context.Context, sig string) ([]ProcessResult, error) {
	return call(s, ctx, func() ([]ProcessResult, error) {
		if err := s.checkRunning(); err != nil {
			return nil, err
		}
		signal, err := parseSignal(sig)
		if err != nil {
			return nil, err
		}
		return s.signalProcesses(s.allProcesses(false), signal), nil
	})
}

func (s *Supervisor) signalProcesses(procs []*Process, sig syscall.Signal) []ProcessResult {
	_, results, _ := s.allFunc(procs, running, func(p *Process) (pollFunc, error) {
		return nil, s.signalProcess(p, sig)
	})()
	return results
}

func (s *Supervisor) signalProcess(p *Process, sig syscall.Signal) error {
	if !p.state.IsRunning() {
		return errors.NewNotRunningError(p.config.String())
	}
	if err := p.Signal(sig); err != nil {
		if errors.IsNotRunningError(err) {
			return err
		}
		return errors.NewFailedError(err.Error(), nil)
	}
	return nil
}

func parseSignal(name string) (syscall.Signal, error) {
	sig, err := process.ParseSignal(name)
	if err != nil {
		return 0, errors.NewBadSignalError(name)
	}
	return sig, nil
}

// ===== Logs =====

func (s *Supervisor) ReadProcessLog(ctx context.Context, name, channel string, offset, length int64) ([]byte, error) {
	path, err := s.logPath(ctx, name, channel)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.NewNoFileError("no log file for " + name)
	}
	return logcollection.ReadFile(path, offset, length)
}

func (s *Supervisor) TailProcessLog(ctx context.Context, name, channel string, offset, length int64) (logcollection.TailResult, error) {
	if offset < 0 || length < 0 {
		return logcollection.TailResult{}, errors.NewBadArgumentsError("offset and length must not be negative")
	}
	path, err := s.logPath(ctx, name, channel)
	if err != nil {
		return logcollection.TailResult{}, err
	}
	if path == "" {
		return logcollection.TailResult{Data: []byte{}}, nil
	}
	return logcollection.TailFile(path, offset, length), nil
}

func (s *Supervisor) logPath(ctx context.Context, name, channel string) (string, error) {
	if channel != string(logcollection.StdoutStream) && channel != string(logcollection.StderrStream) {
		return "", errors.NewBadArgumentsError("channel must be stdout or stderr")
	}
	return call(s, ctx, func() (string, error) {
		p, err := s.resolveProcess(name)
		if err != nil {
			return "", err
		}
		return p.LogPath(channel), nil
	})
}

func (s *Supervisor) ClearProcessLogs(ctx context.Context, name string) error {
	_, err := call(s, ctx, func() (struct{}, error) {
		if err := s.checkRunning(); err != nil {
			return struct{}{}, err
		}
		p, err := s.resolveProcess(name)
		if err != nil {
			return struct{}{}, err
		}
		if err := p.clearLogs(); err != nil {
			return struct{}{}, errors.NewFailedError(name, err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Supervisor) ClearAllProcessLogs(ctx context.Context) ([]ProcessResult, error) {
	return call(s, ctx, func() ([]ProcessResult, error) {
		if err := s.checkRunning(); err != nil {
			return nil, err
		}
		var results []ProcessResult
		for _, p := range s.allProcesses(false) {
			var err error
			if clearErr := p.clearLogs(); clearErr != nil {
				err = errors.NewFailedError(p.config.String(), clearErr)
			}
			results = append(results, resultFor(p, err))
		}
		return results, nil
	})
}

// ===== Input and events =====

func (s *Supervisor) SendProcessStdin(ctx context.Context, name, chars string) error {
	if chars == "" {
		return errors.NewBadArgumentsError("chars must not be empty")
	}
	_, err := call(s, ctx, func() (struct{}, error) {
		if err := s.checkRunning(); err != nil {
			return struct{}{}, err
		}
		p, err := s.resolveProcess(name)
		if err != nil {
			return struct{}{}, err
		}
		if p.pid == 0 || p.killing {
			return struct{}{}, errors.NewNotRunningError(name)
		}
		return struct{}{}, p.Write([]byte(chars))
	})
	return err
}

func (s *Supervisor) SendRemoteCommEvent(ctx context.Context, kind, data string) error {
	_, err := call(s, ctx, func() (struct{}, error) {
		if err := s.checkRunning(); err != nil {
			return struct{}{}, err
		}
		s.env.bus.Notify(events.NewRemoteCommunicationEvent(kind, data))
		return struct{}{}, nil
	})
	return err
}

// Subscribe registers handler on the bus. The handler runs on the reactor
// goroutine and must not block. The returned func unsubscribes.
func (s *Supervisor) Subscribe(ctx context.Context, typ events.EventType, handler events.Handler) (func(), error) {
	sub, err := call(s, ctx, func() (events.Subscription, error) {
		return s.env.bus.Subscribe(typ, handler), nil
	})
	if err != nil {
		return nil, err
	}
	return func() {
		s.submitNoWait(func() { s.env.bus.Unsubscribe(sub) })
	}, nil
}

// ===== Supervisor control =====

func (s *Supervisor) Shutdown(ctx context.Context) error {
	return s.setMood(ctx, processstate.SupervisorShutdown)
}

func (s *Supervisor) Restart(ctx context.Context) error {
	return s.setMood(ctx, processstate.SupervisorRestarting)
}

func (s *Supervisor) setMood(ctx context.Context, mood processstate.SupervisorState) error {
	_, err := call(s, ctx, func() (struct{}, error) {
		if err := s.checkRunning(); err != nil {
			return struct{}{}, err
		}
		s.logger.Infof("Supervisor state change requested: %s", mood)
		s.env.mood = mood
		return struct{}{}, nil
	})
	return err
}

func (s *Supervisor) ReopenLogs(ctx context.Context) error {
	_, err := call(s, ctx, func() (struct{}, error) {
		if err := s.reopenLogs(); err != nil {
			return struct{}{}, errors.NewFailedError("failed to reopen logs", err)
		}
		return struct{}{}, nil
	})
	return err
}

// ===== Helpers =====

func (s *Supervisor) checkRunning() error {
	if s.env.mood < processstate.SupervisorRunning {
		return errors.NewShutdownStateError()
	}
	return nil
}

// resolve maps "group:process", "group:*" (process nil) or a bare name
// naming a process in the group of the same name.
func (s *Supervisor) resolve(name string) (processGroup, *Process, error) {
	groupName, processName := splitNamespec(name)
	g, ok := s.byName[groupName]
	if !ok {
		return nil, nil, errors.NewBadNameError(name)
	}
	if processName == "" {
		return g, nil, nil
	}
	p, ok := g.Process(processName)
	if !ok {
		return nil, nil, errors.NewBadNameError(name)
	}
	return g, p, nil
}

func (s *Supervisor) resolveProcess(name string) (*Process, error) {
	_, p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.NewBadNameError(name)
	}
	return p, nil
}

func splitNamespec(name string) (string, string) {
	groupName, processName, found := strings.Cut(name, ":")
	if !found {
		return name, name
	}
	if processName == "*" {
		processName = ""
	}
	return groupName, processName
}

func (s *Supervisor) allProcesses(reverse bool) []*Process {
	var procs []*Process
	for _, g := range s.groups {
		procs = append(procs, g.Processes()...)
	}
	if reverse {
		return reversed(procs)
	}
	return procs
}
