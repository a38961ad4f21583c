//go:build !windows

package process

// KillTarget returns the pid argument for kill(2). A negated pid addresses
// the child's whole process group, which Spawn creates with Setpgid.
func KillTarget(pid int, asGroup bool) int {
	if asGroup && pid > 0 {
		return -pid
	}
	return pid
}
