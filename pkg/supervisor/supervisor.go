package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/dispatchers"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

const (
	defaultPollTimeout    = 1 * time.Second
	shutdownReportPeriod  = 3 * time.Second
	maxReapsPerTick       = 100
	requestQueueSize      = 64
	handledSignalsBufSize = 8
)

type SupervisorOptions struct {
	// Identifier is reported as server:<id> in listener envelopes.
	Identifier string
	System     process.System
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger logging.Logger
	// PollTimeout bounds one reactor poll.
	PollTimeout time.Duration
	// Environment is the base environment of every child, os.Environ() when nil.
	Environment []string
	// HandleSignals installs the TERM/INT/QUIT/HUP/USR2/CHLD handlers.
	HandleSignals bool
	// OnEventDropped is called when a listener pool overflows.
	OnEventDropped func(pool string, ev events.Event)
	// ReopenLogs reopens the daemon log on USR2, in addition to child logs.
	ReopenLogs func() error
}

// Supervisor is the reactor. All process state is owned by the goroutine
// executing Run; other goroutines reach it through the control API, which
// submits closures to that goroutine.
type Supervisor struct {
	options SupervisorOptions
	env     *env
	logger  logging.Logger

	groups []processGroup
	byName map[string]processGroup

	requests  chan func()
	wakeR     int
	wakeW     int
	wakePend  atomic.Bool
	wakeMutex sync.Mutex

	signalsMutex   sync.Mutex
	pendingSignals []os.Signal
	signalCh       chan os.Signal

	stopping           bool
	fast               bool
	stopGroups         []processGroup
	lastShutdownReport time.Time
	ticks              map[events.EventType]int64
	deferred           *deferredRegistry

	stopped chan struct{}
}

// NewSupervisor builds the groups from cfgs. Groups are started by Run.
func NewSupervisor(cfgs []*config.GroupConfig, options SupervisorOptions) (*Supervisor, error) {
	if options.System == nil {
		return nil, errors.NewValidationError("system is required", nil)
	}
	if options.Logger == nil {
		options.Logger = logging.NewNopLogger()
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.PollTimeout <= 0 {
		options.PollTimeout = defaultPollTimeout
	}
	if options.Environment == nil {
		options.Environment = os.Environ()
	}

	e := &env{
		sys:        options.System,
		bus:        events.NewBus(options.Logger),
		now:        options.Now,
		logger:     options.Logger,
		identifier: options.Identifier,
		baseEnv:    options.Environment,
		mood:       processstate.SupervisorRunning,
		pids:       make(map[int]*Process),
	}

	s := &Supervisor{
		options:  options,
		env:      e,
		logger:   options.Logger,
		byName:   make(map[string]processGroup, len(cfgs)),
		requests: make(chan func(), requestQueueSize),
		wakeR:    -1,
		wakeW:    -1,
		ticks:    make(map[events.EventType]int64),
		stopped:  make(chan struct{}),
	}
	s.deferred = newDeferredRegistry(options.Now)

	r, w, err := options.System.Pipe(true)
	if err != nil {
		return nil, errors.NewIOError("failed to create wake pipe", err)
	}
	s.wakeR, s.wakeW = r, w

	sorted := append([]*config.GroupConfig(nil), cfgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	for _, cfg := range sorted {
		if _, exists := s.byName[cfg.Name]; exists {
			return nil, errors.NewConflictError("duplicate group", nil).WithContext("group", cfg.Name)
		}
		var group processGroup
		if cfg.Pool != nil {
			group = newPool(cfg, e, options.OnEventDropped)
		} else {
			group = newGroup(cfg, e, false)
		}
		s.groups = append(s.groups, group)
		s.byName[cfg.Name] = group
	}
	return s, nil
}

// Bus exposes the event bus. It may only be used from the reactor goroutine,
// e.g. inside a handler registered with Subscribe.
func (s *Supervisor) Bus() *events.Bus {
	return s.env.bus
}

// Run drives the reactor until shutdown. It reports whether a restart was
// requested. Cancelling ctx requests a graceful shutdown.
func (s *Supervisor) Run(ctx context.Context) (bool, error) {
	if err := s.start(); err != nil {
		return false, err
	}
	defer s.finish()

	go func() {
		select {
		case <-ctx.Done():
			s.submitNoWait(func() {
				if s.env.mood >= processstate.SupervisorRunning {
					s.logger.Infof("Context cancelled, shutting down")
					s.env.mood = processstate.SupervisorShutdown
				}
			})
		case <-s.stopped:
		}
	}()

	for !s.tick() {
	}

	restart := s.env.mood == processstate.SupervisorRestarting
	return restart, nil
}

// Stopped is closed once Run has returned.
func (s *Supervisor) Stopped() <-chan struct{} {
	return s.stopped
}

func (s *Supervisor) start() error {
	if s.options.HandleSignals {
		s.signalCh = make(chan os.Signal, handledSignalsBufSize)
		signal.Notify(s.signalCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGUSR2, syscall.SIGCHLD)
		go s.relaySignals(s.signalCh)
	}

	now := s.env.now().Unix()
	for typ, period := range events.TickPeriods {
		s.ticks[typ] = timeslice(period, now)
	}

	for _, g := range s.groups {
		s.logger.Infof("Adding group, name: %s, processes: %d, pool: %t", g.Config().Name, len(g.Processes()), g.Config().Pool != nil)
		s.env.bus.Notify(events.NewProcessGroupEvent(g.Config().Name, false))
	}
	s.env.bus.Notify(events.NewSupervisorStateChangeEvent(false))
	return nil
}

func (s *Supervisor) finish() {
	for i := len(s.groups) - 1; i >= 0; i-- {
		s.groups[i].close()
	}
	if s.signalCh != nil {
		signal.Stop(s.signalCh)
	}
	close(s.stopped)

	s.wakeMutex.Lock()
	_ = s.env.sys.Close(s.wakeR)
	_ = s.env.sys.Close(s.wakeW)
	s.wakeR, s.wakeW = -1, -1
	s.wakeMutex.Unlock()
	s.deferred.clear()
	s.env.bus.Clear()
}

// tick runs one reactor iteration and reports whether the loop is done.
func (s *Supervisor) tick() bool {
	if s.env.mood < processstate.SupervisorRunning {
		if !s.stopping {
			s.stopping = true
			s.stopGroups = append([]processGroup(nil), s.groups...)
			s.env.bus.Notify(events.NewSupervisorStateChangeEvent(true))
		}
		s.stopGroupsPhase1()
		if len(s.shutdownReport()) == 0 {
			return true
		}
	}

	s.pollIO()
	s.reap()
	s.handleSignals()
	s.runRequests()

	for _, g := range s.groups {
		g.transition()
	}
	s.publishTicks()

	if s.env.mood < processstate.SupervisorRunning {
		s.stopGroupsPhase2()
	}
	return false
}

// ===== Shutdown =====

// stopGroupsPhase1 stops the lowest-priority group still in the stop list;
// groups are stopped one at a time in reverse priority order.
func (s *Supervisor) stopGroupsPhase1() {
	if len(s.stopGroups) > 0 {
		s.stopGroups[len(s.stopGroups)-1].stopAll(s.fast)
	}
}

func (s *Supervisor) stopGroupsPhase2() {
	if len(s.stopGroups) > 0 {
		group := s.stopGroups[len(s.stopGroups)-1]
		if len(group.unstopped()) == 0 {
			s.stopGroups = s.stopGroups[:len(s.stopGroups)-1]
		}
	}
}

func (s *Supervisor) shutdownReport() []*Process {
	var unstopped []*Process
	for _, g := range s.groups {
		unstopped = append(unstopped, g.unstopped()...)
	}
	if len(unstopped) > 0 {
		now := s.env.now()
		if now.Sub(s.lastShutdownReport) > shutdownReportPeriod {
			names := make([]string, 0, len(unstopped))
			for _, p := range unstopped {
				names = append(names, p.config.Name)
			}
			s.logger.Infof("waiting for %s to die", strings.Join(names, ", "))
			s.lastShutdownReport = now
			for _, p := range unstopped {
				s.logger.Debugf("%s state: %s", p.config.Name, p.state)
			}
		}
	}
	return unstopped
}

// ===== I/O =====

func (s *Supervisor) pollIO() {
	byFD := make(map[int]dispatchers.Dispatcher)
	var readFDs, writeFDs []int
	for _, g := range s.groups {
		for _, d := range g.activeDispatchers() {
			if d.Readable() {
				readFDs = append(readFDs, d.FD())
				byFD[d.FD()] = d
			}
			if d.Writable() {
				writeFDs = append(writeFDs, d.FD())
				byFD[d.FD()] = d
			}
		}
	}
	readFDs = append(readFDs, s.wakeR)

	readable, writable, err := s.env.sys.Poll(readFDs, writeFDs, s.options.PollTimeout)
	if err != nil {
		s.logger.Errorf("Poll failed: %v", err)
		return
	}

	for _, fd := range readable {
		if fd == s.wakeR {
			s.drainWaker()
			continue
		}
		if d, ok := byFD[fd]; ok && !d.Closed() {
			if err := d.HandleRead(); err != nil {
				d.HandleError(err)
			}
		}
	}
	for _, fd := range writable {
		if d, ok := byFD[fd]; ok && !d.Closed() {
			if err := d.HandleWrite(); err != nil {
				d.HandleError(err)
			}
		}
	}
}

// wake interrupts a blocked poll. At most one byte is ever pending in the
// wake pipe.
func (s *Supervisor) wake() {
	if !s.wakePend.CompareAndSwap(false, true) {
		return
	}
	s.wakeMutex.Lock()
	defer s.wakeMutex.Unlock()
	if s.wakeW < 0 {
		return
	}
	if _, err := s.env.sys.Write(s.wakeW, []byte{0}); err != nil {
		s.wakePend.Store(false)
	}
}

// drainWaker empties the wake pipe before clearing the pending flag, so a
// wake racing with the drain either leaves its byte or finds its work
// already queued for this tick.
func (s *Supervisor) drainWaker() {
	buf := make([]byte, 64)
	for {
		n, err := s.env.sys.Read(s.wakeR, buf)
		if err != nil || n == 0 {
			break
		}
	}
	s.wakePend.Store(false)
}

// ===== Reap =====

func (s *Supervisor) reap() {
	for i := 0; i < maxReapsPerTick; i++ {
		pid, status, err := s.env.sys.Wait()
		if err != nil {
			s.logger.Debugf("wait failed: %v", err)
			return
		}
		if pid == 0 {
			return
		}
		p, ok := s.env.pids[pid]
		if !ok {
			_, description := status.Describe()
			s.logger.Infof("reaped unknown pid %d (%s)", pid, description)
			continue
		}
		p.finish(status)
	}
}

// ===== Signals =====

func (s *Supervisor) relaySignals(ch <-chan os.Signal) {
	for {
		select {
		case sig := <-ch:
			s.signalsMutex.Lock()
			s.pendingSignals = append(s.pendingSignals, sig)
			s.signalsMutex.Unlock()
			s.wake()
		case <-s.stopped:
			return
		}
	}
}

// deliverSignal queues sig as if it had been received from the OS.
func (s *Supervisor) deliverSignal(sig os.Signal) {
	s.signalsMutex.Lock()
	s.pendingSignals = append(s.pendingSignals, sig)
	s.signalsMutex.Unlock()
	s.wake()
}

func (s *Supervisor) handleSignals() {
	s.signalsMutex.Lock()
	pending := s.pendingSignals
	s.pendingSignals = nil
	s.signalsMutex.Unlock()

	for _, sig := range pending {
		s.handleSignal(sig)
	}
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	name := sig.String()
	if unixSig, ok := sig.(syscall.Signal); ok {
		name = process.SignalName(unixSig)
	}

	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		s.logger.Warnf("received %s indicating exit request", name)
		s.env.mood = processstate.SupervisorShutdown
	case syscall.SIGQUIT:
		s.logger.Warnf("received %s indicating fast exit request", name)
		s.env.mood = processstate.SupervisorShutdown
		s.fast = true
	case syscall.SIGHUP:
		if s.env.mood == processstate.SupervisorShutdown {
			s.logger.Warnf("ignored %s indicating restart request (shutdown in progress)", name)
			return
		}
		s.logger.Warnf("received %s indicating restart request", name)
		s.env.mood = processstate.SupervisorRestarting
	case syscall.SIGCHLD:
		s.logger.Debugf("received %s indicating a child quit", name)
	case syscall.SIGUSR2:
		s.logger.Infof("received %s indicating log reopen request", name)
		s.reopenLogs()
	default:
		s.logger.Debugf("received %s indicating nothing", name)
	}
}

func (s *Supervisor) reopenLogs() error {
	var collection errors.ErrorCollection
	if s.options.ReopenLogs != nil {
		collection.Add(s.options.ReopenLogs())
	}
	for _, g := range s.groups {
		collection.Add(g.reopenLogs())
	}
	if err := collection.ToError(); err != nil {
		s.logger.Errorf("Failed to reopen logs: %v", err)
		return err
	}
	return nil
}

// ===== Requests =====

func (s *Supervisor) runRequests() {
	for {
		select {
		case fn := <-s.requests:
			fn()
		default:
			return
		}
	}
}

// submit queues fn for the reactor goroutine.
func (s *Supervisor) submit(ctx context.Context, fn func()) error {
	select {
	case <-s.stopped:
		return errors.NewShutdownStateError()
	default:
	}
	select {
	case s.requests <- fn:
		s.wake()
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("request cancelled", ctx.Err())
	case <-s.stopped:
		return errors.NewShutdownStateError()
	}
}

func (s *Supervisor) submitNoWait(fn func()) {
	_ = s.submit(context.Background(), fn)
}

// call runs fn on the reactor goroutine and waits for its result.
func call[T any](s *Supervisor, ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T
	done := make(chan result, 1)
	err := s.submit(ctx, func() {
		value, err := fn()
		done <- result{value: value, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, errors.NewCancelledError("request cancelled", ctx.Err())
	case <-s.stopped:
		select {
		case r := <-done:
			return r.value, r.err
		default:
			return zero, errors.NewShutdownStateError()
		}
	}
}

// ===== Ticks =====

func (s *Supervisor) publishTicks() {
	now := s.env.now().Unix()
	for _, typ := range []events.EventType{events.TypeTick5, events.TypeTick60, events.TypeTick3600} {
		slice := timeslice(events.TickPeriods[typ], now)
		if slice != s.ticks[typ] {
			s.ticks[typ] = slice
			s.env.bus.Notify(events.NewTickEvent(typ, slice))
		}
	}
}

func timeslice(period, when int64) int64 {
	return when - when%period
}
