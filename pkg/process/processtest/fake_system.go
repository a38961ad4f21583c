// Package processtest provides an in-memory process.System for tests.
package processtest

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/process"
)

type fakePipe struct {
	buf     bytes.Buffer
	readers int
	writers int
}

type fdEnd struct {
	pipe *fakePipe
	read bool
}

// KillCall records one Kill invocation.
type KillCall struct {
	Pid    int
	Signal syscall.Signal
}

type reaped struct {
	pid    int
	status process.WaitStatus
}

// FakeSystem simulates pipes and children. Children never run; tests drive
// them through Child.
type FakeSystem struct {
	mu       sync.Mutex
	nextFD   int
	nextPid  int
	fds      map[int]fdEnd
	children map[int]*Child
	reaped   []reaped

	spawns []process.SpawnSpec
	kills  []KillCall

	// SpawnErr, when set, fails every Spawn.
	SpawnErr error
	// PipeErr, when set, fails every Pipe.
	PipeErr error
	// KillErr, when set, fails every Kill.
	KillErr error
	// ExitOnSignal makes children exit when they receive one of these signals.
	ExitOnSignal map[syscall.Signal]bool
	// Missing and NotExecutable drive Stat; any other path is an executable file.
	Missing       map[string]bool
	NotExecutable map[string]bool
}

func NewFakeSystem() *FakeSystem {
	return &FakeSystem{
		nextFD:        100,
		nextPid:       1000,
		fds:           make(map[int]fdEnd),
		children:      make(map[int]*Child),
		ExitOnSignal:  map[syscall.Signal]bool{syscall.SIGKILL: true},
		Missing:       make(map[string]bool),
		NotExecutable: make(map[string]bool),
	}
}

func (f *FakeSystem) Pipe(parentReads bool) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PipeErr != nil {
		return -1, -1, f.PipeErr
	}
	p := &fakePipe{readers: 1, writers: 1}
	r, w := f.nextFD, f.nextFD+1
	f.nextFD += 2
	f.fds[r] = fdEnd{pipe: p, read: true}
	f.fds[w] = fdEnd{pipe: p, read: false}
	return r, w, nil
}

func (f *FakeSystem) Spawn(spec process.SpawnSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.spawns = append(f.spawns, spec)
	if f.SpawnErr != nil {
		return 0, f.SpawnErr
	}

	f.nextPid++
	child := &Child{fs: f, Pid: f.nextPid, Spec: spec}
	child.stdin = f.hold(spec.Stdin)
	child.stdout = f.hold(spec.Stdout)
	child.stderr = f.hold(spec.Stderr)
	f.children[child.Pid] = child
	return child.Pid, nil
}

// hold duplicates fd into the child
func (f *FakeSystem) hold(fd int) fdEnd {
	end, ok := f.fds[fd]
	if !ok {
		return fdEnd{}
	}
	if end.read {
		end.pipe.readers++
	} else {
		end.pipe.writers++
	}
	return end
}

func (f *FakeSystem) release(end fdEnd) {
	if end.pipe == nil {
		return
	}
	if end.read {
		end.pipe.readers--
	} else {
		end.pipe.writers--
	}
}

func (f *FakeSystem) Kill(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	f.kills = append(f.kills, KillCall{Pid: pid, Signal: sig})
	if f.KillErr != nil {
		f.mu.Unlock()
		return f.KillErr
	}
	target := pid
	if target < 0 {
		target = -target
	}
	child, ok := f.children[target]
	alive := ok && !child.exited
	exit := f.ExitOnSignal[sig]
	f.mu.Unlock()

	if !alive {
		return syscall.ESRCH
	}
	if exit {
		child.Exit(process.KilledBy(sig))
	}
	return nil
}

func (f *FakeSystem) Wait() (int, process.WaitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.reaped) == 0 {
		return 0, process.WaitStatus{}, nil
	}
	r := f.reaped[0]
	f.reaped = f.reaped[1:]
	return r.pid, r.status, nil
}

func (f *FakeSystem) Read(fd int, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end, ok := f.fds[fd]
	if !ok || !end.read {
		return 0, syscall.EBADF
	}
	if end.pipe.buf.Len() > 0 {
		return end.pipe.buf.Read(buf)
	}
	if end.pipe.writers == 0 {
		return 0, nil
	}
	return 0, process.ErrWouldBlock
}

func (f *FakeSystem) Write(fd int, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end, ok := f.fds[fd]
	if !ok || end.read {
		return 0, syscall.EBADF
	}
	if end.pipe.readers == 0 {
		return 0, process.ErrBrokenPipe
	}
	return end.pipe.buf.Write(data)
}

func (f *FakeSystem) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	end, ok := f.fds[fd]
	if !ok {
		return syscall.EBADF
	}
	delete(f.fds, fd)
	f.release(end)
	return nil
}

// Poll never blocks: it reports descriptors with data or EOF as readable and
// every open write descriptor as writable.
func (f *FakeSystem) Poll(readFDs, writeFDs []int, timeout time.Duration) ([]int, []int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var readable, writable []int
	for _, fd := range readFDs {
		end, ok := f.fds[fd]
		if ok && (end.pipe.buf.Len() > 0 || end.pipe.writers == 0) {
			readable = append(readable, fd)
		}
	}
	for _, fd := range writeFDs {
		if _, ok := f.fds[fd]; ok {
			writable = append(writable, fd)
		}
	}
	return readable, writable, nil
}

func (f *FakeSystem) Stat(path string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Missing[path] {
		return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}
	mode := os.FileMode(0o755)
	if f.NotExecutable[path] {
		mode = 0o644
	}
	return fileInfo{name: path, mode: mode}, nil
}

// ===== Inspection =====

func (f *FakeSystem) Child(pid int) *Child {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[pid]
}

func (f *FakeSystem) Spawns() []process.SpawnSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.SpawnSpec(nil), f.spawns...)
}

func (f *FakeSystem) Kills() []KillCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]KillCall(nil), f.kills...)
}

// OpenFDs returns the number of descriptors not yet closed by the caller.
func (f *FakeSystem) OpenFDs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fds)
}

// ===== Children =====

// Child is a simulated child process.
type Child struct {
	fs     *FakeSystem
	Pid    int
	Spec   process.SpawnSpec
	stdin  fdEnd
	stdout fdEnd
	stderr fdEnd
	exited bool
}

func (c *Child) WriteStdout(data string) error { return c.write(c.stdout, data) }
func (c *Child) WriteStderr(data string) error { return c.write(c.stderr, data) }

func (c *Child) write(end fdEnd, data string) error {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if c.exited || end.pipe == nil {
		return errors.New("child has no such stream")
	}
	if end.pipe.readers == 0 {
		return process.ErrBrokenPipe
	}
	end.pipe.buf.WriteString(data)
	return nil
}

// ReadStdin drains what the supervisor wrote to the child's stdin.
func (c *Child) ReadStdin() string {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if c.stdin.pipe == nil {
		return ""
	}
	s := c.stdin.pipe.buf.String()
	c.stdin.pipe.buf.Reset()
	return s
}

// CloseStdin simulates the child closing its stdin.
func (c *Child) CloseStdin() {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	c.fs.release(c.stdin)
	c.stdin = fdEnd{}
}

// Exit terminates the child; the status becomes available to Wait.
func (c *Child) Exit(status process.WaitStatus) {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if c.exited {
		return
	}
	c.exited = true
	c.fs.release(c.stdin)
	c.fs.release(c.stdout)
	c.fs.release(c.stderr)
	c.fs.reaped = append(c.fs.reaped, reaped{pid: c.Pid, status: status})
}

func (c *Child) Exited() bool {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	return c.exited
}

type fileInfo struct {
	name string
	mode os.FileMode
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return 0 }
func (fi fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() interface{}   { return nil }
