package process

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// Errors returned by System.Read and System.Write that callers act on.
var (
	ErrWouldBlock = syscall.EAGAIN
	ErrBrokenPipe = syscall.EPIPE
)

// System is the set of OS primitives the supervisor core uses. The reactor
// never touches the OS except through it, so tests can substitute a fake.
type System interface {
	// Pipe creates a pipe. The parent's end (the read end when parentReads,
	// otherwise the write end) is non-blocking; both ends are close-on-exec.
	Pipe(parentReads bool) (r, w int, err error)
	// Spawn forks and execs spec; exec failures are reported synchronously.
	Spawn(spec SpawnSpec) (pid int, err error)
	Kill(pid int, sig syscall.Signal) error
	// Wait reaps one terminated child without blocking. pid is 0 when no
	// child is ready.
	Wait() (pid int, status WaitStatus, err error)
	// Read returns (0, nil) at EOF and ErrWouldBlock when no data is ready.
	Read(fd int, buf []byte) (int, error)
	Write(fd int, data []byte) (int, error)
	Close(fd int) error
	// Poll waits up to timeout for readiness of the given descriptors.
	Poll(readFDs, writeFDs []int, timeout time.Duration) (readable, writable []int, err error)
	Stat(path string) (os.FileInfo, error)
}

// SpawnSpec describes one child to start.
type SpawnSpec struct {
	Path       string
	Argv       []string
	Env        []string
	Dir        string
	Umask      int // -1 leaves the supervisor's umask
	Credential *syscall.Credential
	Stdin      int
	Stdout     int
	Stderr     int
}

// WaitStatus is the decoded status of a reaped child.
type WaitStatus struct {
	Exited   bool
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

// Describe returns the exit code used for expected-exit matching (-1 when
// killed by a signal) and a human readable summary.
func (ws WaitStatus) Describe() (int, string) {
	switch {
	case ws.Signaled:
		return -1, fmt.Sprintf("terminated by %s", SignalName(ws.Signal))
	case ws.Exited:
		return ws.Code, fmt.Sprintf("exit status %d", ws.Code)
	}
	return -1, "unknown termination cause"
}

func ExitedWith(code int) WaitStatus {
	return WaitStatus{Exited: true, Code: code}
}

func KilledBy(sig syscall.Signal) WaitStatus {
	return WaitStatus{Signaled: true, Signal: sig}
}

// Pipes holds both ends of a child's stdio pipes. Parent ends are -1 when
// absent (stderr redirected into stdout).
type Pipes struct {
	Stdin  int
	Stdout int
	Stderr int

	ChildStdin  int
	ChildStdout int
	ChildStderr int
}

// MakePipes creates the stdio pipes for one child. On failure every pipe
// created so far is closed.
func MakePipes(sys System, redirectStderr bool) (*Pipes, error) {
	p := &Pipes{Stdin: -1, Stdout: -1, Stderr: -1, ChildStdin: -1, ChildStdout: -1, ChildStderr: -1}

	var err error
	if p.ChildStdin, p.Stdin, err = sys.Pipe(false); err != nil {
		p.CloseAll(sys)
		return nil, err
	}
	if p.Stdout, p.ChildStdout, err = sys.Pipe(true); err != nil {
		p.CloseAll(sys)
		return nil, err
	}
	if redirectStderr {
		p.ChildStderr = p.ChildStdout
		return p, nil
	}
	if p.Stderr, p.ChildStderr, err = sys.Pipe(true); err != nil {
		p.CloseAll(sys)
		return nil, err
	}
	return p, nil
}

func (p *Pipes) CloseChildEnds(sys System) {
	redirected := p.ChildStderr == p.ChildStdout
	closeFD(sys, &p.ChildStdin)
	closeFD(sys, &p.ChildStdout)
	if redirected {
		p.ChildStderr = -1
	}
	closeFD(sys, &p.ChildStderr)
}

func (p *Pipes) CloseParentEnds(sys System) {
	closeFD(sys, &p.Stdin)
	closeFD(sys, &p.Stdout)
	closeFD(sys, &p.Stderr)
}

func (p *Pipes) CloseAll(sys System) {
	p.CloseChildEnds(sys)
	p.CloseParentEnds(sys)
}

func closeFD(sys System, fd *int) {
	if *fd >= 0 {
		_ = sys.Close(*fd)
		*fd = -1
	}
}
