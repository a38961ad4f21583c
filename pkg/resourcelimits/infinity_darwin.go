package resourcelimits

import "golang.org/x/sys/unix"

const systemInfinity = uint64(unix.RLIM_INFINITY)
