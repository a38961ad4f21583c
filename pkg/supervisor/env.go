package supervisor

import (
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// env is the state shared by every process of one supervisor instance.
// Only the reactor goroutine touches it.
type env struct {
	sys        process.System
	bus        *events.Bus
	now        func() time.Time
	logger     logging.Logger
	identifier string
	baseEnv    []string
	mood       processstate.SupervisorState
	pids       map[int]*Process
}
