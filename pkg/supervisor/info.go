package supervisor

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// ProcessInfo is a point-in-time snapshot of one process.
type ProcessInfo struct {
	Name          string
	Group         string
	Start         time.Time
	Stop          time.Time
	Now           time.Time
	State         processstate.ProcessState
	StateName     string
	SpawnErr      string
	ExitStatus    int
	StdoutLogfile string
	StderrLogfile string
	Pid           int
	Description   string
}

// StateInfo describes the supervisor itself.
type StateInfo struct {
	Code       processstate.SupervisorState
	Name       string
	Identifier string
}

// ProcessResult is the outcome of a group operation for one process.
// Status is "SUCCESS" or a fault code.
type ProcessResult struct {
	Name        string
	Group       string
	Status      string
	Description string
}

const statusSuccess = "SUCCESS"

func (p *Process) info() ProcessInfo {
	info := ProcessInfo{
		Name:          p.config.Name,
		Group:         p.config.GroupName,
		Start:         p.laststart,
		Stop:          p.laststop,
		Now:           p.env.now(),
		State:         p.state,
		StateName:     p.state.String(),
		SpawnErr:      p.spawnErr,
		ExitStatus:    p.exitStatus,
		StdoutLogfile: p.LogPath("stdout"),
		StderrLogfile: p.LogPath("stderr"),
		Pid:           p.pid,
	}
	info.Description = describe(info)
	return info
}

func describe(info ProcessInfo) string {
	switch info.State {
	case processstate.Running:
		uptime := info.Now.Sub(info.Start)
		if uptime < 0 {
			uptime = 0
		}
		return fmt.Sprintf("pid %d, uptime %s", info.Pid, formatUptime(uptime))
	case processstate.Fatal, processstate.Backoff:
		if info.SpawnErr != "" {
			return info.SpawnErr
		}
		return fmt.Sprintf("unknown error (try \"tail %s\")", info.Name)
	case processstate.Stopped, processstate.Exited:
		if info.Start.IsZero() {
			return "Not started"
		}
		return info.Stop.Local().Format("Jan 02 03:04 PM")
	}
	return ""
}

// formatUptime renders d as H:MM:SS, prefixed by a day count when needed
func formatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	rest := total % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rest/3600, rest%3600/60, rest%60)
	switch {
	case days == 1:
		return "1 day, " + clock
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
	return clock
}
