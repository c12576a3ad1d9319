// Package configuration reads the boot configuration of the kernel core from
// environment files.
package configuration

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
)

type genericConfigProvider interface {
	Read(filenames ...string) (envMap map[string]string, err error)
}

// Handler is the principal configuration handler.
type Handler struct {
	GenericHandler genericConfigProvider
}

// NewHandler returns a pointer to a new configuration [Handler].
func NewHandler(genericHandler genericConfigProvider) *Handler {
	return &Handler{
		GenericHandler: genericHandler,
	}
}

// ReadGeneric reads the given files into a single map (map[key]value).
func (c *Handler) ReadGeneric(filenames ...string) (map[string]string, error) {
	envMap, err := c.GenericHandler.Read(filenames...)
	if err != nil {
		return nil, fmt.Errorf("(config-read) %w", err)
	}

	return envMap, nil
}

// MapKeyToString returns the value of key, or def when it is not set.
func (c *Handler) MapKeyToString(envMap map[string]string, key string, def string) string {
	if value, exists := envMap[key]; exists && value != "" {
		return value
	}

	return def
}

// MapKeyToInt returns the value of key as an int, or def when it is not set.
func (c *Handler) MapKeyToInt(envMap map[string]string, key string, def int) (int, error) {
	value := c.MapKeyToString(envMap, key, "")
	if value == "" {
		return def, nil
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return def, fmt.Errorf("(config-int) %s: %w: %w", key, ErrMalformedValue, err)
	}

	return intValue, nil
}

// MapKeyToBytes returns the value of key as a byte quantity, accepting plain
// numbers as well as human notations such as "64 MiB", or def when it is not
// set.
func (c *Handler) MapKeyToBytes(envMap map[string]string, key string, def int64) (int64, error) {
	value := c.MapKeyToString(envMap, key, "")
	if value == "" {
		return def, nil
	}

	bytes, err := humanize.ParseBytes(value)
	if err != nil {
		return def, fmt.Errorf("(config-bytes) %s: %w: %w", key, ErrMalformedValue, err)
	}

	if bytes > uint64(1<<62) {
		return def, fmt.Errorf("(config-bytes) %s: %w", key, ErrMalformedValue)
	}

	return int64(bytes), nil //nolint:gosec
}
