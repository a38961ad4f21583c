package supervisor

import (
	"sort"
	"syscall"

	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/dispatchers"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// processGroup is what the reactor drives each tick. Group implements it
// for plain programs and Pool for event listeners.
type processGroup interface {
	Config() *config.GroupConfig
	Processes() []*Process
	Process(name string) (*Process, bool)
	transition()
	stopAll(fast bool)
	unstopped() []*Process
	activeDispatchers() []dispatchers.Dispatcher
	reopenLogs() error
	close()
}

// Group owns the processes of one group in priority order.
type Group struct {
	config    *config.GroupConfig
	env       *env
	processes []*Process
	byName    map[string]*Process
}

func newGroup(cfg *config.GroupConfig, e *env, listener bool) *Group {
	g := &Group{
		config: cfg,
		env:    e,
		byName: make(map[string]*Process, len(cfg.Processes)),
	}
	for _, pc := range cfg.Processes {
		p := newProcess(pc, e, listener)
		g.processes = append(g.processes, p)
		g.byName[pc.Name] = p
	}
	sort.SliceStable(g.processes, func(i, j int) bool {
		return g.processes[i].config.Priority < g.processes[j].config.Priority
	})
	return g
}

func (g *Group) Config() *config.GroupConfig { return g.config }
func (g *Group) Processes() []*Process        { return g.processes }

func (g *Group) Process(name string) (*Process, bool) {
	p, ok := g.byName[name]
	return p, ok
}

func (g *Group) transition() {
	for _, p := range g.processes {
		p.transition()
	}
}

// stopAll stops processes in reverse priority order. Processes waiting in
// BACKOFF give up since there is nothing to signal.
func (g *Group) stopAll(fast bool) {
	for i := len(g.processes) - 1; i >= 0; i-- {
		p := g.processes[i]
		switch p.state {
		case processstate.Running, processstate.Starting:
			if fast {
				p.stopWith(syscall.SIGKILL)
			} else {
				p.Stop()
			}
		case processstate.Backoff:
			p.giveUp()
		}
	}
}

func (g *Group) unstopped() []*Process {
	var result []*Process
	for _, p := range g.processes {
		if !p.state.IsStopped() {
			result = append(result, p)
		}
	}
	return result
}

func (g *Group) activeDispatchers() []dispatchers.Dispatcher {
	var result []dispatchers.Dispatcher
	for _, p := range g.processes {
		result = append(result, p.dispatchers...)
	}
	return result
}

func (g *Group) reopenLogs() error {
	var collection errors.ErrorCollection
	for _, p := range g.processes {
		collection.Add(p.reopenLogs())
	}
	return collection.ToError()
}

func (g *Group) close() {
	for _, p := range g.processes {
		p.closeDispatchers()
		p.closeLogs()
	}
	g.env.bus.Notify(events.NewProcessGroupEvent(g.config.Name, true))
}
