package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors covers a bleve index's segment files plus sockets.
const MinFileDescriptors = 1024

func (c *Checker) CheckFileDescriptors() CheckResult {
	const name = "file_descriptors"
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return fail(name, fmt.Sprintf("failed to check file descriptor limit: %v", err))
	}

	r := pass(name, fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors))
	if rLimit.Cur < MinFileDescriptors {
		r.Status = StatusFail
		r.Details = "Run 'ulimit -n 10240' to increase the limit"
	}
	return r
}
