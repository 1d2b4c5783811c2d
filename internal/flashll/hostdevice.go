package flashll

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// HostDevice is a Device backed by an mmap'd flat file, one byte of
// file per byte of simulated flash. Mapping the whole image gives
// word-addressable access without a read/write syscall per touch,
// the way a real MCU's flash controller exposes NOR flash as
// memory-mapped, and makes the filesystem's state durable across
// process restarts.
type HostDevice struct {
	file    *os.File
	mapping []byte
	sectors []SectorInfo
	locked  bool
	busy    bool
	errBits uint32
}

// OpenHostDevice opens or creates path, sized to fit every sector in
// sectors, and mmaps it read-write. A freshly created file is
// initialized to all-0xFF, the erased state of NOR flash.
func OpenHostDevice(path string, sectors []SectorInfo) (*HostDevice, error) {
	var total uint32
	for _, s := range sectors {
		end := s.Start + s.Length
		if end > total {
			total = end
		}
	}

	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flashll: open %s: %w", path, err)
	}

	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		return nil, fmt.Errorf("flashll: truncate %s: %w", path, err)
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flashll: mmap %s: %w", path, err)
	}

	if fresh {
		for i := range mapping {
			mapping[i] = 0xFF
		}
	}

	return &HostDevice{
		file:    f,
		mapping: mapping,
		sectors: sectors,
	}, nil
}

// Close unmaps and closes the backing file.
func (d *HostDevice) Close() error {
	if err := unix.Munmap(d.mapping); err != nil {
		return err
	}
	return d.file.Close()
}

func (d *HostDevice) Sectors() []SectorInfo { return d.sectors }

func (d *HostDevice) Unlock() { d.locked = false }
func (d *HostDevice) Lock()   { d.locked = true }

func (d *HostDevice) ReadByte(addr uint32) (byte, error) {
	if int(addr) >= len(d.mapping) {
		return 0, ErrOutOfBounds
	}
	return d.mapping[addr], nil
}

func (d *HostDevice) ReadBytes(addr uint32, n int) ([]byte, error) {
	if n < 0 || int(addr)+n > len(d.mapping) {
		return nil, ErrOutOfBounds
	}
	out := make([]byte, n)
	copy(out, d.mapping[addr:int(addr)+n])
	return out, nil
}

// WriteByte clears bits to match b, never sets a bit that currently
// reads 0 — NOR flash physics, enforced here because a plain mmap
// write would otherwise happily "set" bits host-side.
func (d *HostDevice) WriteByte(addr uint32, b byte) error {
	if d.locked {
		return fmt.Errorf("flashll: write while locked")
	}
	if int(addr) >= len(d.mapping) {
		return ErrOutOfBounds
	}
	d.mapping[addr] &= b
	return nil
}

// Erase sets every byte of the sector back to 0xFF, simulating the
// hardware sector-erase instruction, then reports any pending error
// bits the way a real erase-status register would.
func (d *HostDevice) Erase(sector int) error {
	if d.locked {
		return fmt.Errorf("flashll: erase while locked")
	}
	if sector < 0 || sector >= len(d.sectors) {
		return ErrOutOfBounds
	}
	info := d.sectors[sector]
	for i := info.Start; i < info.Start+info.Length; i++ {
		d.mapping[i] = 0xFF
	}
	if d.errBits != 0 {
		bits := d.errBits
		d.errBits = 0
		return &ErrUnknown{Bits: bits}
	}
	return nil
}

// Sync is a no-op on the host: mmap writes are synchronous from the
// simulator's point of view. A hardware Device would busy-wait on the
// controller's status register here.
func (d *HostDevice) Sync() error { return nil }
