package context

// AllocatableContext is a context awaiting a RAM window assignment,
// identified only by its entry point.
type AllocatableContext struct {
	Entrypoint RemoteCallEnter
}

// AllocateContexts packs len(ctxs) equal power-of-two windows into
// [ramBegin, ramBegin+ramSize), plus a fixed context 0 window
// [ctx0Begin, ctx0Begin+ctx0Size) that is not carved from ramSize (it
// uses the linker-reserved heap/stack the way context 0 always does).
// Grounded on contextallocator::allocate_contexts: picks the largest
// power-of-two window size fitting (len(ctxs)-1) copies into ramSize,
// halving once on an alignment-padding failure before giving up.
//
// Panics if ctxs has fewer than two entries or if no window size fits
// even after
// halving — both are boot-configuration errors, not recoverable at
// runtime.
func AllocateContexts(ctxs []AllocatableContext, ctx0Begin, ctx0Size, ramBegin, ramSize uint32) []Metadata {
	if len(ctxs) < 2 {
		panic("context: AllocateContexts requires at least 2 contexts (context 0 plus one more)")
	}
	n := len(ctxs) - 1
	optimal := ramSize / uint32(n)
	size := largestPowerOfTwoAtMost(optimal)

	meta, ok := tryAllocate(ctxs, ctx0Begin, ctx0Size, ramBegin, ramSize, size)
	if !ok {
		meta, ok = tryAllocate(ctxs, ctx0Begin, ctx0Size, ramBegin, ramSize, size/2)
	}
	if !ok {
		panic("context: unable to allocate memory for contexts")
	}
	return meta
}

func tryAllocate(ctxs []AllocatableContext, ctx0Begin, ctx0Size, ramBegin, ramSize, size uint32) ([]Metadata, bool) {
	if size < 2 {
		return nil, false
	}
	n := uint32(len(ctxs) - 1)
	alignedBegin := alignUp(ramBegin, size)
	padding := alignedBegin - ramBegin
	if padding+n*size > ramSize {
		return nil, false
	}

	meta := make([]Metadata, len(ctxs))
	meta[0] = Metadata{
		RemoteCallEnter: ctxs[0].Entrypoint,
		Begin:           ctx0Begin,
		Size:            ctx0Size,
		HeapBegin:       ctx0Begin + ctx0Size/2,
		HeapSize:        ctx0Size / 2,
	}
	for i := 1; i < len(ctxs); i++ {
		begin := alignedBegin + uint32(i-1)*size
		half := size / 2
		meta[i] = Metadata{
			RemoteCallEnter: ctxs[i].Entrypoint,
			Begin:           begin,
			Size:            size,
			HeapBegin:       begin + half,
			HeapSize:        half,
		}
	}
	return meta, true
}

func alignUp(addr, align uint32) uint32 {
	if align == 0 {
		return addr
	}
	rem := addr % align
	if rem == 0 {
		return addr
	}
	return addr + (align - rem)
}

// largestPowerOfTwoAtMost returns the largest power of two <= x, or 0
// if x is 0 — the Go equivalent of contextallocator's
// `1 << (31 - x.leading_zeros())`.
func largestPowerOfTwoAtMost(x uint32) uint32 {
	if x == 0 {
		return 0
	}
	p := uint32(1)
	for p<<1 != 0 && p<<1 <= x {
		p <<= 1
	}
	return p
}
