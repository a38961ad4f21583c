package process

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/google/shlex"
)

// ResolveCommand splits a command line and locates its executable. Bare
// names are searched on PATH. Every failure is a spawn error whose message
// is suitable for the process's spawnerr.
func ResolveCommand(sys System, command string) (string, []string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return "", nil, errors.NewSpawnError(fmt.Sprintf("can't parse command %q", command), err)
	}
	if len(argv) == 0 {
		return "", nil, errors.NewSpawnError("command is empty", nil)
	}

	program := argv[0]
	var path string
	var info os.FileInfo

	if strings.Contains(program, "/") {
		path = program
		info, err = sys.Stat(path)
	} else {
		path, info, err = searchPath(sys, program)
	}
	if err != nil || info == nil {
		return "", nil, errors.NewSpawnError(fmt.Sprintf("can't find command '%s'", program), err)
	}

	if err := ensureExecutable(path, info); err != nil {
		return "", nil, err
	}
	return path, argv, nil
}

func searchPath(sys System, program string) (string, os.FileInfo, error) {
	var lastErr error
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, program)
		info, err := sys.Stat(candidate)
		if err == nil {
			return candidate, info, nil
		}
		lastErr = err
	}
	return "", nil, lastErr
}

// ensureExecutable rejects directories and files without an execute bit
func ensureExecutable(path string, info os.FileInfo) error {
	if info.IsDir() {
		return errors.NewSpawnError(fmt.Sprintf("command at '%s' is a directory", path), nil)
	}
	if info.Mode()&0o111 == 0 {
		return errors.NewSpawnError(fmt.Sprintf("command at '%s' is not executable", path), nil)
	}
	return nil
}

// BuildEnvironment merges overrides into base (KEY=VALUE entries). Keys in
// overrides win; the result is sorted for determinism.
func BuildEnvironment(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if i := strings.IndexByte(entry, '='); i > 0 {
			merged[entry[:i]] = entry[i+1:]
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// ResolveCredential maps a user name or numeric uid to the credential the
// child should run with. It returns nil when no switch is needed.
func ResolveCredential(name string) (*syscall.Credential, error) {
	if name == "" {
		return nil, nil
	}

	u, err := user.Lookup(name)
	if err != nil {
		if _, convErr := strconv.Atoi(name); convErr != nil {
			return nil, errors.NewSpawnError(fmt.Sprintf("can't find user '%s'", name), err)
		}
		if u, err = user.LookupId(name); err != nil {
			return nil, errors.NewSpawnError(fmt.Sprintf("can't find uid %s", name), err)
		}
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, errors.NewSpawnError("invalid uid for user "+name, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, errors.NewSpawnError("invalid gid for user "+name, err)
	}

	euid := os.Geteuid()
	if uint64(euid) == uid {
		return nil, nil
	}
	if euid != 0 {
		return nil, errors.NewPermissionError("can't drop privilege as nonroot user", nil).WithContext("user", name)
	}

	cred := &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
	if groupIDs, err := u.GroupIds(); err == nil {
		for _, g := range groupIDs {
			if n, err := strconv.ParseUint(g, 10, 32); err == nil {
				cred.Groups = append(cred.Groups, uint32(n))
			}
		}
	}
	return cred, nil
}
