// Package context is the context model and allocator: the table
// of per-context RAM windows, the software predicates syscall handlers
// use to validate pointer arguments, and the synchronous remote-call
// stack.
//
// The host build's Call is a deliberate simplification of the real
// two-trap (RemoteCall then, later and separately, RemoteResult)
// protocol a board build runs on two genuinely separate machine
// stacks: since nothing here runs on real separate stacks, Call below
// invokes the target's entry point as a direct, synchronous Go call
// and takes its return value as the result, rather than suspending the
// caller until a second trap arrives. Push/Pop and RemoteResult
// delivery remain available (see internal/syscall) for callers that
// want to exercise the full two-step protocol explicitly. See
// DESIGN.md.
package context

import (
	"fmt"
	"sync"
	"sync/atomic"

	"securecore/internal/mpu"
)

// ID indexes into the context table. Zero is always the privileged
// kernel context.
type ID int

// RemoteCallEnter is the function a context registers as its entry
// point for incoming remote calls.
type RemoteCallEnter func(caller ID, arg1, arg2 uint32) uint32

// Metadata describes one context's reserved memory.
type Metadata struct {
	RemoteCallEnter RemoteCallEnter
	Begin, Size     uint32
	HeapBegin       uint32
	HeapSize        uint32
}

type stackFrame struct {
	caller ID
	callee ID
}

// Manager owns the context table, the current-context pointer, and the
// remote-call stack. One Manager exists per boot.
type Manager struct {
	mpu *mpu.Policy

	programBegin uint32
	programSize  uint32

	mu       sync.Mutex
	contexts []Metadata
	stack    []stackFrame

	current atomic.Int64

	currentBottom atomic.Uint32
	currentSize   atomic.Uint32
}

// NewManager constructs a Manager. programBegin/programSize delimit
// the program flash range that is always readable (never writable)
// regardless of which context is current.
func NewManager(p *mpu.Policy, programBegin, programSize uint32) *Manager {
	return &Manager{mpu: p, programBegin: programBegin, programSize: programSize}
}

// Init installs the context table. Panics if called twice — a second
// call would mean a second boot sequence ran without a reset, which is
// a kernel bug.
func (m *Manager) Init(meta []Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contexts != nil {
		panic("context: Init called twice")
	}
	m.contexts = append([]Metadata(nil), meta...)
	m.currentBottom.Store(meta[0].Begin)
	m.currentSize.Store(meta[0].Size)
}

// Current returns the currently running context.
func (m *Manager) Current() ID { return ID(m.current.Load()) }

// New validates id against the initialized context table and returns
// it as an ID. Panics if Init has not run or id is out of range —
// mirroring ContextID::new, which only privileged code may call.
func (m *Manager) New(id int) ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contexts == nil {
		panic("context: New called before Init")
	}
	if id < 0 || id >= len(m.contexts) {
		panic(fmt.Sprintf("context: id %d out of range [0,%d)", id, len(m.contexts)))
	}
	return ID(id)
}

func (m *Manager) inCurrentContext(addr, size uint32) bool {
	low := m.currentBottom.Load()
	if low == 0 {
		return true // context table not yet initialized: still boot/kernel context
	}
	high := low + m.currentSize.Load()
	end := addr + size
	if end < addr { // overflow
		return false
	}
	return low <= addr && end <= high
}

// IsReadable reports whether addr..addr+size is readable from the
// current context: inside the current context's window, or inside
// program flash.
func (m *Manager) IsReadable(addr, size uint32) bool {
	if m.inCurrentContext(addr, size) {
		return true
	}
	end := addr + size
	if end < addr {
		return false
	}
	return m.programBegin <= addr && end <= m.programBegin+m.programSize
}

// IsWritable reports whether addr..addr+size is writable from the
// current context.
func (m *Manager) IsWritable(addr, size uint32) bool {
	return m.inCurrentContext(addr, size)
}

// SwitchUserland updates R6 to ctxt's window and makes ctxt current.
func (m *Manager) SwitchUserland(ctxt ID) {
	m.mu.Lock()
	meta := m.contexts[ctxt]
	m.mu.Unlock()

	m.mpu.SwitchUserland(meta.Begin, meta.Size)
	m.currentBottom.Store(meta.Begin)
	m.currentSize.Store(meta.Size)
	m.current.Store(int64(ctxt))
}

// Push records the current context as waiting on ctxt's return and
// switches userland to ctxt. Grounded on context::push.
func (m *Manager) Push(ctxt ID) {
	m.mu.Lock()
	m.stack = append(m.stack, stackFrame{caller: m.Current(), callee: ctxt})
	m.mu.Unlock()
	m.SwitchUserland(ctxt)
}

// Pop restores the most recently suspended caller as current. Panics
// on an empty stack, matching context::pop's expectation that it is
// only ever called in response to a prior Push.
func (m *Manager) Pop() ID {
	m.mu.Lock()
	if len(m.stack) == 0 {
		m.mu.Unlock()
		panic("context: Pop called on an empty remote-call stack")
	}
	frame := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.mu.Unlock()
	m.SwitchUserland(frame.caller)
	return frame.caller
}

// RemoteCallEnterFor returns the registered entry point for ctxt.
func (m *Manager) RemoteCallEnterFor(ctxt ID) RemoteCallEnter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[ctxt].RemoteCallEnter
}

// Call performs a synchronous remote call to ctxt's registered entry
// point, as the caller. See the package doc for how this simplifies
// the real two-trap protocol; it does not use the Push/Pop stack,
// which remains available for tests that want to exercise the
// explicit two-step RemoteCall/RemoteResult sequence instead.
func (m *Manager) Call(ctxt ID, arg1, arg2 uint32) uint32 {
	caller := m.Current()
	m.SwitchUserland(ctxt)
	result := m.RemoteCallEnterFor(ctxt)(caller, arg1, arg2)
	m.SwitchUserland(caller)
	return result
}
