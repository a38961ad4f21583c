//go:build !windows

package process

import (
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type unixSystem struct{}

// NewSystem returns the System backed by the running kernel.
func NewSystem() System {
	return unixSystem{}
}

func (unixSystem) Pipe(parentReads bool) (int, int, error) {
	var p [2]int

	// hold the fork lock so no child inherits the descriptors before they
	// are marked close-on-exec
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, -1, errors.Wrap(err, "pipe")
	}

	parent := p[1]
	if parentReads {
		parent = p[0]
	}
	if err := unix.SetNonblock(parent, true); err != nil {
		unix.Close(p[0])
		unix.Close(p[1])
		return -1, -1, errors.Wrap(err, "set non-blocking")
	}
	return p[0], p[1], nil
}

func (unixSystem) Spawn(spec SpawnSpec) (int, error) {
	attr := &syscall.ProcAttr{
		Dir:   spec.Dir,
		Env:   spec.Env,
		Files: []uintptr{uintptr(spec.Stdin), uintptr(spec.Stdout), uintptr(spec.Stderr)},
		Sys: &syscall.SysProcAttr{
			// own process group so stopasgroup/killasgroup reach the whole tree
			Setpgid:    true,
			Credential: spec.Credential,
		},
	}

	if spec.Umask >= 0 {
		old := unix.Umask(spec.Umask)
		defer unix.Umask(old)
	}

	pid, err := syscall.ForkExec(spec.Path, spec.Argv, attr)
	if err != nil {
		return 0, errors.Wrapf(err, "fork/exec %s", spec.Path)
	}
	return pid, nil
}

func (unixSystem) Kill(pid int, sig syscall.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		return errors.Wrapf(err, "kill %d with %s", pid, SignalName(sig))
	}
	return nil
}

func (unixSystem) Wait() (int, WaitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	switch {
	case err == unix.ECHILD, err == unix.EINTR:
		return 0, WaitStatus{}, nil
	case err != nil:
		return 0, WaitStatus{}, errors.Wrap(err, "wait4")
	case pid <= 0:
		return 0, WaitStatus{}, nil
	}

	status := WaitStatus{}
	switch {
	case ws.Exited():
		status.Exited = true
		status.Code = ws.ExitStatus()
	case ws.Signaled():
		status.Signaled = true
		status.Signal = ws.Signal()
	}
	return pid, status, nil
}

func (unixSystem) Read(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (unixSystem) Write(fd int, data []byte) (int, error) {
	for {
		n, err := unix.Write(fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (unixSystem) Close(fd int) error {
	return unix.Close(fd)
}

func (unixSystem) Poll(readFDs, writeFDs []int, timeout time.Duration) ([]int, []int, error) {
	index := make(map[int]int, len(readFDs)+len(writeFDs))
	fds := make([]unix.PollFd, 0, len(readFDs)+len(writeFDs))
	add := func(fd int, events int16) {
		if i, ok := index[fd]; ok {
			fds[i].Events |= events
			return
		}
		index[fd] = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	for _, fd := range readFDs {
		add(fd, unix.POLLIN|unix.POLLPRI)
	}
	for _, fd := range writeFDs {
		add(fd, unix.POLLOUT)
	}

	_, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err == unix.EINTR {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "poll")
	}

	var readable, writable []int
	for _, p := range fds {
		if p.Revents == 0 {
			continue
		}
		// report hangups and errors so the dispatcher sees EOF or the error
		broken := p.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
		if p.Events&unix.POLLIN != 0 && (p.Revents&(unix.POLLIN|unix.POLLPRI) != 0 || broken) {
			readable = append(readable, int(p.Fd))
		}
		if p.Events&unix.POLLOUT != 0 && (p.Revents&unix.POLLOUT != 0 || broken) {
			writable = append(writable, int(p.Fd))
		}
	}
	return readable, writable, nil
}

func (unixSystem) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
