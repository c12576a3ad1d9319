package bcache

import "errors"

// ErrUnmapFailed is returned when an area could not be unmapped on close.
var ErrUnmapFailed = errors.New("failed to unmap area")
