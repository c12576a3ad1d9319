package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/bits"
	"os"

	"github.com/dustin/go-humanize"
)

// Configuration keys read from the environment files.
const (
	KeyBlockSize       = "KCORE_BLOCK_SIZE"
	KeyBlocksPerArea   = "KCORE_BLOCKS_PER_AREA"
	KeyDescriptorLimit = "KCORE_DESCRIPTOR_LIMIT"
	KeyMaxFileSize     = "KCORE_MAX_FILE_SIZE"
	KeyMaxMountDepth   = "KCORE_MAX_MOUNT_DEPTH"
	KeyMemory          = "KCORE_MEMORY"
)

// Memory backends of the block cache.
const (
	MemoryMmap = "mmap"
	MemoryHeap = "heap"
)

const (
	defaultBlockSize       = 4096
	defaultBlocksPerArea   = 256
	defaultDescriptorLimit = 1024
	defaultMaxFileSize     = 1 << 30
	defaultMaxMountDepth   = 32

	maxBlocksPerArea   = 1 << 16
	maxDescriptorLimit = 1 << 20
	maxMountDepth      = 1024
)

// Kernel is the boot configuration of the kernel core.
type Kernel struct {
	BlockSize       int
	BlocksPerArea   int
	DescriptorLimit int
	MaxFileSize     int64
	MaxMountDepth   int
	MemoryBackend   string
}

// DefaultKernel returns a pointer to a new [Kernel] with the default values.
func DefaultKernel() *Kernel {
	return &Kernel{
		BlockSize:       defaultBlockSize,
		BlocksPerArea:   defaultBlocksPerArea,
		DescriptorLimit: defaultDescriptorLimit,
		MaxFileSize:     defaultMaxFileSize,
		MaxMountDepth:   defaultMaxMountDepth,
		MemoryBackend:   MemoryMmap,
	}
}

// Validate checks every field of the [Kernel] configuration.
func (k *Kernel) Validate() error {
	if k.BlockSize <= 0 || bits.OnesCount(uint(k.BlockSize)) != 1 {
		return fmt.Errorf("(config-validate) %d: %w", k.BlockSize, ErrInvalidBlockSize)
	}

	if k.MemoryBackend == MemoryMmap && k.BlockSize%os.Getpagesize() != 0 {
		return fmt.Errorf("(config-validate) %d: %w", k.BlockSize, ErrInvalidBlockSize)
	}

	if k.BlocksPerArea < 1 || k.BlocksPerArea > maxBlocksPerArea {
		return fmt.Errorf("(config-validate) %d: %w", k.BlocksPerArea, ErrInvalidBlocksPerArea)
	}

	if k.DescriptorLimit < 1 || k.DescriptorLimit > maxDescriptorLimit {
		return fmt.Errorf("(config-validate) %d: %w", k.DescriptorLimit, ErrInvalidDescriptorLimit)
	}

	if k.MaxFileSize <= 0 {
		return fmt.Errorf("(config-validate) %d: %w", k.MaxFileSize, ErrInvalidMaxFileSize)
	}

	if k.MaxMountDepth < 1 || k.MaxMountDepth > maxMountDepth {
		return fmt.Errorf("(config-validate) %d: %w", k.MaxMountDepth, ErrInvalidMountDepth)
	}

	switch k.MemoryBackend {
	case MemoryMmap, MemoryHeap:
	default:
		return fmt.Errorf("(config-validate) %q: %w", k.MemoryBackend, ErrInvalidMemoryBackend)
	}

	return nil
}

// Kernel reads the [Kernel] configuration from the given environment files.
// Files that do not exist are skipped and unset keys keep their defaults.
func (c *Handler) Kernel(filenames ...string) (*Kernel, error) {
	existing := make([]string, 0, len(filenames))

	for _, name := range filenames {
		if _, err := os.Stat(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("Configuration file not found, skipping",
					"path", name,
				)

				continue
			}

			return nil, fmt.Errorf("(config-kernel) %w", err)
		}
		existing = append(existing, name)
	}

	envMap := map[string]string{}

	if len(existing) > 0 {
		m, err := c.ReadGeneric(existing...)
		if err != nil {
			return nil, fmt.Errorf("(config-kernel) %w", err)
		}
		envMap = m
	}

	cfg, err := c.kernelFromMap(envMap)
	if err != nil {
		return nil, fmt.Errorf("(config-kernel) %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("(config-kernel) %w", err)
	}

	slog.Debug("Kernel configuration loaded",
		"blockSize", humanize.IBytes(uint64(cfg.BlockSize)), //nolint:gosec
		"blocksPerArea", cfg.BlocksPerArea,
		"descriptorLimit", cfg.DescriptorLimit,
		"maxFileSize", humanize.IBytes(uint64(cfg.MaxFileSize)), //nolint:gosec
		"maxMountDepth", cfg.MaxMountDepth,
		"memory", cfg.MemoryBackend,
	)

	return cfg, nil
}

func (c *Handler) kernelFromMap(envMap map[string]string) (*Kernel, error) {
	cfg := DefaultKernel()

	var err error

	if cfg.BlockSize, err = c.MapKeyToInt(envMap, KeyBlockSize, cfg.BlockSize); err != nil {
		return nil, err
	}

	if cfg.BlocksPerArea, err = c.MapKeyToInt(envMap, KeyBlocksPerArea, cfg.BlocksPerArea); err != nil {
		return nil, err
	}

	if cfg.DescriptorLimit, err = c.MapKeyToInt(envMap, KeyDescriptorLimit, cfg.DescriptorLimit); err != nil {
		return nil, err
	}

	if cfg.MaxFileSize, err = c.MapKeyToBytes(envMap, KeyMaxFileSize, cfg.MaxFileSize); err != nil {
		return nil, err
	}

	if cfg.MaxMountDepth, err = c.MapKeyToInt(envMap, KeyMaxMountDepth, cfg.MaxMountDepth); err != nil {
		return nil, err
	}

	cfg.MemoryBackend = c.MapKeyToString(envMap, KeyMemory, cfg.MemoryBackend)

	return cfg, nil
}
