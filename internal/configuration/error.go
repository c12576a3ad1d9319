package configuration

import "errors"

var (
	// ErrMalformedValue occurs when a configuration value cannot be parsed.
	ErrMalformedValue = errors.New("malformed configuration value")

	// ErrInvalidBlockSize occurs when the block size is not a power of two,
	// or not a multiple of the page size for mapped memory.
	ErrInvalidBlockSize = errors.New("invalid block size")

	// ErrInvalidBlocksPerArea occurs when the area size is out of range.
	ErrInvalidBlocksPerArea = errors.New("invalid blocks per area")

	// ErrInvalidDescriptorLimit occurs when the descriptor limit is out of
	// range.
	ErrInvalidDescriptorLimit = errors.New("invalid descriptor limit")

	// ErrInvalidMaxFileSize occurs when the file size limit is not positive.
	ErrInvalidMaxFileSize = errors.New("invalid maximum file size")

	// ErrInvalidMountDepth occurs when the mount depth limit is out of range.
	ErrInvalidMountDepth = errors.New("invalid maximum mount depth")

	// ErrInvalidMemoryBackend occurs when the memory backend is unknown.
	ErrInvalidMemoryBackend = errors.New("invalid memory backend")
)
