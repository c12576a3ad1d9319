// Package bcache implements the kernel-wide block cache: a pool of fixed-size
// memory blocks carved out of bulk-mapped areas, threaded through a free list
// and a most-recently-used list.
//
// Blocks are slots of a flat arena addressed by [BlockID]. Both lists are
// index-linked through the slots, so every link, unlink and eviction lookup
// is O(1). A single lock orders every list operation.
package bcache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// BlockID addresses a block slot of the arena.
type BlockID int

const (
	// FlagPresent marks a slot whose memory is mapped.
	FlagPresent = 1 << iota
	// FlagUsed marks a block owned by a file cache.
	FlagUsed
	// FlagModified marks a block written since it was acquired.
	FlagModified

	flagBits = 3
	flagMask = 1<<flagBits - 1

	nilSlot = -1
)

type slot struct {
	// word packs the block id and its flags as id<<flagBits | flags.
	word uint64
	prev int
	next int
	area int
	data []byte
}

func (s *slot) flags() int {
	return int(s.word & flagMask)
}

func (s *slot) setFlags(flags int) {
	s.word = s.word&^flagMask | uint64(flags&flagMask) //nolint:gosec
}

type list struct {
	head  int
	tail  int
	count int
}

func newList() list {
	return list{head: nilSlot, tail: nilSlot}
}

type area struct {
	mem  []byte
	live int
}

// Stats is a snapshot of the cache accounting.
type Stats struct {
	BlockSize     int
	BlocksPerArea int
	Areas         int
	Present       int
	InUse         int
	Free          int
	Dropped       int
	MappedBytes   uint64
	AreasAdded    uint64
	AreasUnmapped uint64
	Acquired      uint64
	Released      uint64
}

// BlockCache is the shared block pool. It is constructed once at boot and
// handed to every file cache.
type BlockCache struct {
	sync.Mutex
	blockSize     int
	blocksPerArea int
	memory        memoryProvider

	slots []slot
	areas []*area
	free  list
	mru   list

	areasAdded    uint64
	areasUnmapped uint64
	acquired      uint64
	released      uint64
}

// New returns a pointer to a new [BlockCache] handing out blocks of
// blockSize bytes, mapped blocksPerArea at a time through memory.
func New(blockSize, blocksPerArea int, memory memoryProvider) (*BlockCache, error) {
	if blockSize <= 0 || blocksPerArea <= 0 {
		return nil, fmt.Errorf("(bcache-new) %w", unix.EINVAL)
	}

	return &BlockCache{
		blockSize:     blockSize,
		blocksPerArea: blocksPerArea,
		memory:        memory,
		free:          newList(),
		mru:           newList(),
	}, nil
}

// BlockSize returns the size of every block in bytes.
func (c *BlockCache) BlockSize() int {
	return c.blockSize
}

// BlocksPerArea returns the number of blocks mapped by one area.
func (c *BlockCache) BlocksPerArea() int {
	return c.blocksPerArea
}

func (c *BlockCache) pushFront(l *list, id int) {
	s := &c.slots[id]
	s.prev = nilSlot
	s.next = l.head

	if l.head != nilSlot {
		c.slots[l.head].prev = id
	} else {
		l.tail = id
	}

	l.head = id
	l.count++
}

func (c *BlockCache) unlink(l *list, id int) {
	s := &c.slots[id]

	if s.prev != nilSlot {
		c.slots[s.prev].next = s.next
	} else {
		l.head = s.next
	}

	if s.next != nilSlot {
		c.slots[s.next].prev = s.prev
	} else {
		l.tail = s.prev
	}

	s.prev = nilSlot
	s.next = nilSlot
	l.count--
}

// AddArea maps a new area and pushes all of its blocks onto the free list.
func (c *BlockCache) AddArea() error {
	c.Lock()
	defer c.Unlock()

	return c.addArea()
}

func (c *BlockCache) addArea() error {
	size := c.blockSize * c.blocksPerArea

	mem, err := c.memory.Mmap(size)
	if err != nil {
		return fmt.Errorf("(bcache-addarea) %w", err)
	}

	index := -1
	for i, a := range c.areas {
		if a == nil {
			index = i

			break
		}
	}

	if index < 0 {
		index = len(c.areas)
		c.areas = append(c.areas, nil)
		c.slots = append(c.slots, make([]slot, c.blocksPerArea)...)
	}

	c.areas[index] = &area{mem: mem, live: c.blocksPerArea}
	c.areasAdded++

	first := index * c.blocksPerArea
	for i := c.blocksPerArea - 1; i >= 0; i-- {
		id := first + i
		c.slots[id] = slot{
			word: uint64(id)<<flagBits | FlagPresent, //nolint:gosec
			prev: nilSlot,
			next: nilSlot,
			area: index,
			data: mem[i*c.blockSize : (i+1)*c.blockSize : (i+1)*c.blockSize],
		}
		c.pushFront(&c.free, id)
	}

	slog.Debug("Block cache area added",
		"area", index,
		"blocks", c.blocksPerArea,
		"size", humanize.IBytes(uint64(size)), //nolint:gosec
	)

	return nil
}

func (c *BlockCache) lookup(id BlockID, op string) *slot {
	if id < 0 || int(id) >= len(c.slots) {
		panic(fmt.Sprintf("bcache: %s of block %d outside the arena", op, id))
	}

	return &c.slots[id]
}

// inUse returns the slot of id, panicking when it is not an acquired block.
func (c *BlockCache) inUse(id BlockID, op string) *slot {
	s := c.lookup(id, op)
	if s.flags()&(FlagPresent|FlagUsed) != FlagPresent|FlagUsed {
		panic(fmt.Sprintf("bcache: %s of block %d not in use (flags %03b)", op, id, s.flags()))
	}

	return s
}

// AcquireBlock takes a block off the free list, mapping a new area first when
// the free list is empty. The block is the most recently used one.
func (c *BlockCache) AcquireBlock() (BlockID, error) {
	c.Lock()
	defer c.Unlock()

	if c.free.head == nilSlot {
		if err := c.addArea(); err != nil {
			return nilSlot, fmt.Errorf("(bcache-acquire) %w", err)
		}
	}

	id := c.free.head
	c.unlink(&c.free, id)

	s := &c.slots[id]
	s.setFlags(FlagPresent | FlagUsed)
	c.pushFront(&c.mru, id)
	c.acquired++

	return BlockID(id), nil
}

// ReleaseBlock returns an acquired block. It stays on the free list unless
// the free list already holds more than one area of blocks, in which case
// its memory is given back and the slot is dropped. Releasing a block that is
// not in use panics.
func (c *BlockCache) ReleaseBlock(id BlockID) {
	c.Lock()
	defer c.Unlock()

	s := c.inUse(id, "release")

	c.unlink(&c.mru, int(id))
	c.released++

	if c.free.count <= c.blocksPerArea {
		s.setFlags(FlagPresent)
		c.pushFront(&c.free, int(id))

		return
	}

	c.drop(int(id))
}

// drop gives back the memory of a slot that is on neither list, unmapping
// its area once every block of it is dropped.
func (c *BlockCache) drop(id int) {
	s := &c.slots[id]

	if err := c.memory.Release(s.data); err != nil {
		slog.Warn("Failed to release block memory",
			"block", id,
			"err", err,
		)
	}

	a := c.areas[s.area]
	index := s.area

	s.setFlags(0)
	s.data = nil

	a.live--
	if a.live > 0 {
		return
	}

	if err := c.memory.Munmap(a.mem); err != nil {
		slog.Warn("Failed to unmap block cache area",
			"area", index,
			"err", err,
		)
	}

	c.areas[index] = nil
	c.areasUnmapped++

	slog.Debug("Block cache area unmapped",
		"area", index,
		"size", humanize.IBytes(uint64(len(a.mem))), //nolint:gosec
	)
}

// MarkUsed makes id the most recently used block.
func (c *BlockCache) MarkUsed(id BlockID) {
	c.Lock()
	defer c.Unlock()

	c.inUse(id, "mark used")
	c.unlink(&c.mru, int(id))
	c.pushFront(&c.mru, int(id))
}

// MarkModified flags id as written and makes it the most recently used block.
func (c *BlockCache) MarkModified(id BlockID) {
	c.Lock()
	defer c.Unlock()

	s := c.inUse(id, "mark modified")
	s.setFlags(s.flags() | FlagModified)
	c.unlink(&c.mru, int(id))
	c.pushFront(&c.mru, int(id))
}

// Data returns the memory of an acquired block.
func (c *BlockCache) Data(id BlockID) []byte {
	c.Lock()
	defer c.Unlock()

	return c.inUse(id, "data").data
}

// Flags returns the flag bits of id.
func (c *BlockCache) Flags(id BlockID) int {
	c.Lock()
	defer c.Unlock()

	return c.lookup(id, "flags").flags()
}

// RecencyOrder returns the acquired blocks from most to least recently used.
func (c *BlockCache) RecencyOrder() []BlockID {
	c.Lock()
	defer c.Unlock()

	out := make([]BlockID, 0, c.mru.count)
	for id := c.mru.head; id != nilSlot; id = c.slots[id].next {
		out = append(out, BlockID(id))
	}

	return out
}

// LeastRecentlyUsed returns the next eviction candidate.
func (c *BlockCache) LeastRecentlyUsed() (BlockID, bool) {
	c.Lock()
	defer c.Unlock()

	if c.mru.tail == nilSlot {
		return nilSlot, false
	}

	return BlockID(c.mru.tail), true
}

// Stats returns a snapshot of the accounting.
func (c *BlockCache) Stats() Stats {
	c.Lock()
	defer c.Unlock()

	st := Stats{
		BlockSize:     c.blockSize,
		BlocksPerArea: c.blocksPerArea,
		InUse:         c.mru.count,
		Free:          c.free.count,
		AreasAdded:    c.areasAdded,
		AreasUnmapped: c.areasUnmapped,
		Acquired:      c.acquired,
		Released:      c.released,
	}

	for _, a := range c.areas {
		if a == nil {
			continue
		}
		st.Areas++
		st.Present += a.live
		st.Dropped += c.blocksPerArea - a.live
		st.MappedBytes += uint64(len(a.mem))
	}

	return st
}

// Close unmaps every area. It fails while blocks are still in use.
func (c *BlockCache) Close() error {
	c.Lock()
	defer c.Unlock()

	if c.mru.count > 0 {
		return fmt.Errorf("(bcache-close) %d blocks in use: %w", c.mru.count, unix.EBUSY)
	}

	var errs int
	for i, a := range c.areas {
		if a == nil {
			continue
		}
		if err := c.memory.Munmap(a.mem); err != nil {
			slog.Warn("Failed to unmap block cache area",
				"area", i,
				"err", err,
			)
			errs++
		}
		c.areas[i] = nil
		c.areasUnmapped++
	}

	c.slots = nil
	c.areas = nil
	c.free = newList()

	if errs > 0 {
		return fmt.Errorf("(bcache-close) %d areas failed to unmap: %w", errs, ErrUnmapFailed)
	}

	return nil
}
