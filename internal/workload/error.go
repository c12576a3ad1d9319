package workload

import "errors"

var (
	// ErrIntegrity is returned when content read back differs from what was
	// written.
	ErrIntegrity = errors.New("content integrity check failed")

	// ErrShortTransfer is returned when a write or read moved fewer bytes
	// than requested.
	ErrShortTransfer = errors.New("short transfer")

	// ErrDescriptorLeaked is returned when a close-on-exec descriptor
	// survived an exec.
	ErrDescriptorLeaked = errors.New("close-on-exec descriptor survived exec")

	// ErrJobsFailed is returned by [Runner.Run] when any job failed.
	ErrJobsFailed = errors.New("jobs failed")
)

var (
	// ErrInvalidJobs is returned for a negative job count.
	ErrInvalidJobs = errors.New("invalid job count")

	// ErrInvalidWorkers is returned for fewer than one worker.
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidFilesystems is returned for fewer than one filesystem.
	ErrInvalidFilesystems = errors.New("invalid filesystem count")

	// ErrInvalidPayload is returned for a payload or offset limit out of
	// range.
	ErrInvalidPayload = errors.New("invalid payload limits")
)
