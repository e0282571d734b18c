package managed

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/errors"
)

const pageSize = 65536

// heapModule is a wasm module with nothing but one exported memory of one
// initial page and no declared maximum.
var heapModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: min 1, no max
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export "memory"
}

// Heap is the managed heap: a wazero linear memory with a bump allocator
// for buffer headers and data regions. Regions are never freed; they go
// away with the heap.
type Heap struct {
	mod   api.Module
	mem   api.Memory
	raw   *wazeroMemory
	mu    sync.RWMutex
	next  uint32
	limit uint32
}

// NewHeap instantiates a heap in rt that may grow to limitPages pages.
func NewHeap(ctx context.Context, rt wazero.Runtime, name string, limitPages uint32) (*Heap, error) {
	mod, err := rt.InstantiateWithConfig(ctx, heapModule, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "instantiate heap module")
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = mod.Close(ctx)
		return nil, errors.NotInitialized(errors.PhaseAlloc, "heap memory")
	}
	return &Heap{
		mod:   mod,
		mem:   mem,
		raw:   &wazeroMemory{mem: mem},
		next:  buffer.HeaderAlign,
		limit: limitPages,
	}, nil
}

// alloc must be called with h.mu held.
func (h *Heap) alloc(size uint32) (uint32, error) {
	p := (h.next + buffer.HeaderAlign - 1) &^ (buffer.HeaderAlign - 1)
	end := uint64(p) + uint64(size)
	if end > uint64(h.limit)*pageSize {
		return 0, errors.New(errors.PhaseAlloc, errors.KindAllocation).
			Value(size).Detail("%d bytes exceed the heap limit of %d pages", size, h.limit).Build()
	}

	if cur := uint64(h.mem.Size()); end > cur {
		delta := uint32((end - cur + pageSize - 1) / pageSize)
		if _, ok := h.mem.Grow(delta); !ok {
			return 0, errors.New(errors.PhaseAlloc, errors.KindAllocation).
				Value(delta).Detail("heap cannot grow by %d pages", delta).Build()
		}
		Logger().Debug("heap grown", zap.Uint32("pages", h.mem.Size()/pageSize))
	}

	h.next = uint32(end)
	return p, nil
}

// Allocate places a new external buffer of the given capacity in the heap
// and returns its address. The external flag is always set.
func (h *Heap) Allocate(capacity int32, flags buffer.Flags) (buffer.Address, error) {
	if capacity < 0 {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "negative capacity")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	hdr, err := h.alloc(buffer.HeaderSize)
	if err != nil {
		return 0, err
	}
	data, err := h.alloc(uint32(capacity))
	if err != nil {
		return 0, err
	}

	err = buffer.WriteHeader(h.raw, hdr, buffer.Header{
		Data:     uint64(data),
		Capacity: capacity,
		Flags:    flags | buffer.FlagExternal,
	})
	if err != nil {
		return 0, err
	}
	return buffer.ExternalAddress(hdr), nil
}

// Grow moves the data region of the buffer at addr to a region of at least
// capacity bytes, copying the old contents. Smaller requests are no-ops.
func (h *Heap) Grow(addr buffer.Address, capacity int32) error {
	off, err := addr.HeaderOffset()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	hdr, err := buffer.ReadHeader(h.raw, off)
	if err != nil {
		return err
	}
	if capacity <= hdr.Capacity {
		return nil
	}

	data, err := h.alloc(uint32(capacity))
	if err != nil {
		return err
	}
	if old, ok := h.mem.Read(uint32(hdr.Data), uint32(hdr.Capacity)); ok {
		h.mem.Write(data, old)
	}

	hdr.Data = uint64(data)
	hdr.Capacity = capacity
	return buffer.WriteHeader(h.raw, off, hdr)
}

// ReallocateExternal implements buffer.Reallocator.
func (h *Heap) ReallocateExternal(_ context.Context, addr buffer.Address, capacity int32) error {
	return h.Grow(addr, capacity)
}

// Used returns the number of bytes handed out so far.
func (h *Heap) Used() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.next
}

// Size returns the current size of the linear memory in bytes.
func (h *Heap) Size() uint32 {
	return h.mem.Size()
}

// Read copies length bytes at offset.
func (h *Heap) Read(offset, length uint32) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw.Read(offset, length)
}

func (h *Heap) Write(offset uint32, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw.Write(offset, data)
}

func (h *Heap) ReadU32(offset uint32) (uint32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw.ReadU32(offset)
}

func (h *Heap) ReadU64(offset uint32) (uint64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw.ReadU64(offset)
}

func (h *Heap) WriteU32(offset uint32, value uint32) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw.WriteU32(offset, value)
}

func (h *Heap) WriteU64(offset uint32, value uint64) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw.WriteU64(offset, value)
}

// Close releases the heap module.
func (h *Heap) Close(ctx context.Context) error {
	return h.mod.Close(ctx)
}

var (
	_ bridge.Memory      = (*Heap)(nil)
	_ bridge.MemorySizer = (*Heap)(nil)
	_ buffer.Reallocator = (*Heap)(nil)
)
