// Package flash is the flash object: exclusive owner of the flash
// device, handing out per-sector readers/writers guarded by an RW-lock
// table per sector.
package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"securecore/internal/flashll"
	"securecore/internal/hashset"
)

// ErrFlashInUse is returned by New when a Flash object already exists;
// the device is a process-wide singleton guarded by a package-level
// flag.
var ErrFlashInUse = errors.New("flash: device already owned by another Flash object")

// IO errors, surfaced at the syscall boundary.
var (
	ErrLocked      = errors.New("flash: range is locked")
	ErrOutOfBounds = errors.New("flash: range out of bounds")
)

// UnknownError wraps nonzero error-status bits observed after a
// hardware write/erase.
type UnknownError struct{ Bits uint32 }

func (e *UnknownError) Error() string { return fmt.Sprintf("flash: device error bits %#x", e.Bits) }

var flashInUse atomic.Bool

// lockEntry is one (write_flag, offset, length) triple in a sector's
// lock table.
type lockEntry struct {
	write  bool
	offset int
	length int
}

type lockKeyer struct{}

func (lockKeyer) Key(l lockEntry) []byte {
	b := make([]byte, 17)
	if l.write {
		b[0] = 1
	}
	binary.BigEndian.PutUint64(b[1:9], uint64(l.offset))
	binary.BigEndian.PutUint64(b[9:17], uint64(l.length))
	return b
}

// lockBuckets is a small fixed bucket count; sectors rarely hold more
// than a handful of concurrent locks given the synchronous call model
// this component runs under.
const lockBuckets = 8

// overlap reports whether two ranges intersect, treating a zero length
// as covering one byte.
func overlap(aOff, aLen, bOff, bLen int) bool {
	if aLen == 0 {
		aLen = 1
	}
	if bLen == 0 {
		bLen = 1
	}
	return aOff < bOff+bLen && bOff < aOff+aLen
}

// Sector is one physical flash sector plus its byte-range lock table.
type Sector struct {
	num    int
	start  uint32
	length uint32
	dev    flashll.Device
	writeMu *sync.Mutex // the flash-global "unlocked for writing" mutex

	mu    sync.Mutex
	locks *hashset.HashSet[lockEntry]
}

// Num, Start, Length expose the sector's physical identity.
func (s *Sector) Num() int       { return s.num }
func (s *Sector) Start() uint32  { return s.start }
func (s *Sector) Length() uint32 { return s.length }

func (s *Sector) inBounds(offset, length int) bool {
	if offset < 0 || length < 0 {
		return false
	}
	return uint32(offset)+uint32(length) <= s.length
}

func (s *Sector) tryLock(entry lockEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var conflict bool
	s.locks.All(func(existing lockEntry) bool {
		if !overlap(entry.offset, entry.length, existing.offset, existing.length) {
			return true
		}
		// Any number of read locks may coexist; a write lock may not
		// overlap any other lock, read or write.
		if !entry.write && !existing.write {
			return true
		}
		conflict = true
		return false
	})
	if conflict {
		return ErrLocked
	}
	s.locks.Insert(entry)
	return nil
}

func (s *Sector) unlock(entry lockEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks.Remove(lockKeyer{}.Key(entry))
}

// Block is a scoped read-only handle into a sector's flash range.
// Release must be called on every exit path to release the
// byte-range lock; callers are expected to `defer block.Release()`.
type Block struct {
	sector *Sector
	entry  lockEntry
	data   []byte
}

func (b *Block) Bytes() []byte { return b.data }

func (b *Block) Release() {
	b.sector.unlock(b.entry)
}

// Read validates bounds, acquires a read lock (false, offset, length),
// and returns a scoped handle.
func (s *Sector) Read(offset, length int) (*Block, error) {
	if !s.inBounds(offset, length) {
		return nil, ErrOutOfBounds
	}
	entry := lockEntry{write: false, offset: offset, length: length}
	if err := s.tryLock(entry); err != nil {
		return nil, err
	}
	data, err := s.dev.ReadBytes(s.start+uint32(offset), length)
	if err != nil {
		s.unlock(entry)
		return nil, err
	}
	return &Block{sector: s, entry: entry, data: data}, nil
}

// BlockMut is a scoped write handle. Writer is the only way to mutate
// flash bytes; it performs word-aligned read-modify-write programming.
type BlockMut struct {
	sector *Sector
	entry  lockEntry
	offset int
	length int
}

// Write programs byte at position i (relative to the block) to value
// through the device's WriteByte. NOR flash only allows 1->0
// transitions, so the stored byte becomes the AND of its previous
// value and value; the device, not this method, enforces that.
func (b *BlockMut) Write(i int, value byte) error {
	if i < 0 || i >= b.length {
		return ErrOutOfBounds
	}
	addr := b.sector.start + uint32(b.offset+i)
	return b.sector.dev.WriteByte(addr, value)
}

// WriteBlock writes data starting at offset i within the block, one
// byte at a time — this device's WriteByte is already byte-granular,
// so no separate word-alignment pass is needed. internal/fs uses this
// to assemble a header+length+tag+data block in one pass.
func (b *BlockMut) WriteBlock(i int, data []byte) error {
	if i < 0 || i+len(data) > b.length {
		return ErrOutOfBounds
	}
	for j, bb := range data {
		if err := b.Write(i+j, bb); err != nil {
			return err
		}
	}
	return nil
}

// ReadByte reads back byte i of the block directly from the device.
// NOR flash permits reads at any time, even mid-write-transaction, so
// this needs no lock beyond the one WithWriter already holds; it backs
// the read-current-header-then-clear-bits pattern internal/fs uses to
// mark a block no-longer-valid.
func (b *BlockMut) ReadByte(i int) (byte, error) {
	if i < 0 || i >= b.length {
		return 0, ErrOutOfBounds
	}
	return b.sector.dev.ReadByte(b.sector.start + uint32(b.offset+i))
}

// ZeroBlock clears every bit in the block to zero, used to scrub a
// broken block's tail during boot scan.
func (b *BlockMut) ZeroBlock() error {
	for i := 0; i < b.length; i++ {
		if err := b.Write(i, 0x00); err != nil {
			return err
		}
	}
	return nil
}

func (b *BlockMut) Release() {
	b.sector.unlock(b.entry)
}

// WithWriter acquires the flash-global write-unlock mutex, then a write
// lock over offset..offset+length (failing ErrLocked if the mutex is
// already held or the range overlaps any other lock), unlocks hardware
// programming, invokes f with a write-capable handle and waits for
// completion; on return it relocks hardware and releases the range lock
// and the global mutex. Both acquisitions are non-blocking try-locks,
// so the order in which they are taken cannot deadlock.
func (s *Sector) WithWriter(offset, length int, f func(*BlockMut) error) error {
	if !s.inBounds(offset, length) {
		return ErrOutOfBounds
	}
	if !s.writeMu.TryLock() {
		return ErrLocked
	}
	defer s.writeMu.Unlock()

	entry := lockEntry{write: true, offset: offset, length: length}
	if err := s.tryLock(entry); err != nil {
		return err
	}
	defer s.unlock(entry)

	s.dev.Unlock()
	defer s.dev.Lock()

	block := &BlockMut{sector: s, entry: entry, offset: offset, length: length}
	if err := f(block); err != nil {
		return err
	}
	return s.dev.Sync()
}

// Erase acquires the same locks as WithWriter over the full sector but
// issues a sector-erase; any nonzero error-status bits after completion
// surface as UnknownError.
func (s *Sector) Erase() error {
	if !s.writeMu.TryLock() {
		return ErrLocked
	}
	defer s.writeMu.Unlock()

	entry := lockEntry{write: true, offset: 0, length: int(s.length)}
	if err := s.tryLock(entry); err != nil {
		return err
	}
	defer s.unlock(entry)

	s.dev.Unlock()
	defer s.dev.Lock()

	if err := s.dev.Erase(s.num); err != nil {
		var ue *flashll.ErrUnknown
		if errors.As(err, &ue) {
			return &UnknownError{Bits: ue.Bits}
		}
		return err
	}
	return s.dev.Sync()
}

// Flash is the process-wide singleton owner of the flash device.
type Flash struct {
	dev     flashll.Device
	writeMu sync.Mutex
	sectors []*Sector
}

// New constructs the singleton Flash object over dev. A second call
// before the first Flash is discarded (there is no GC-visible discard
// in this design; callers are expected to hold the returned value for
// the process lifetime) fails with ErrFlashInUse.
func New(dev flashll.Device) (*Flash, error) {
	if !flashInUse.CompareAndSwap(false, true) {
		return nil, ErrFlashInUse
	}
	f := &Flash{dev: dev}
	for _, info := range dev.Sectors() {
		f.sectors = append(f.sectors, &Sector{
			num:     info.Num,
			start:   info.Start,
			length:  info.Length,
			dev:     dev,
			writeMu: &f.writeMu,
			locks:   hashset.New[lockEntry](lockKeyer{}, lockBuckets),
		})
	}
	return f, nil
}

// Release relinquishes ownership, allowing a subsequent New to succeed.
// Used by tests that construct multiple Flash instances in sequence.
func (f *Flash) Release() {
	flashInUse.Store(false)
}

// Sector returns the sector with the given physical number.
func (f *Flash) Sector(num int) (*Sector, error) {
	for _, s := range f.sectors {
		if s.num == num {
			return s, nil
		}
	}
	return nil, fmt.Errorf("flash: no sector %d", num)
}

// Sectors returns every sector, in device order.
func (f *Flash) Sectors() []*Sector { return f.sectors }
