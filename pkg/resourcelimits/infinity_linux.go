package resourcelimits

// RLIM_INFINITY is all ones on linux
const systemInfinity = ^uint64(0)
