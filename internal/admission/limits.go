package admission

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// defaultFilePermitCapacity is used on platforms where RLIMIT_NOFILE
// cannot be read (or reports an unreasonably large "unlimited" value).
const defaultFilePermitCapacity = 1024

// reservedDescriptors accounts for file descriptors the process already
// holds open for sockets, log files, etc., so the file-permit semaphore
// doesn't claim the entire discovered limit for chunk reads alone.
const reservedDescriptors = 64

// DiscoverFilePermitCapacity reads RLIMIT_NOFILE (the current "soft"
// limit) and returns the number of permits the file-permit semaphore
// should be built with (spec §4.7).
func DiscoverFilePermitCapacity() int {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return defaultFilePermitCapacity
	}

	cur := rlimit.Cur
	if cur == 0 || cur > uint64(^uint(0)>>1) {
		return defaultFilePermitCapacity
	}

	capacity := int(cur) - reservedDescriptors
	if capacity <= 0 {
		return defaultFilePermitCapacity
	}
	return capacity
}

// DefaultReaderThreads returns num_cpus/2, the spec §6 default for
// READER_THREADS when the environment variable is unset.
func DefaultReaderThreads() int {
	n := runtime.NumCPU() / 2
	if n <= 0 {
		n = 1
	}
	return n
}
