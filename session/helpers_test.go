package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/config"
	"github.com/wippyai/interop-bridge/metadata"
	"github.com/wippyai/interop-bridge/resource"
)

type fakeMemory struct {
	data []byte
}

func (m *fakeMemory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("out of bounds: offset=%d, length=%d", offset, length)
	}
	return nil
}

func (m *fakeMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[offset:])
	return out, nil
}

func (m *fakeMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *fakeMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *fakeMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *fakeMemory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *fakeMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

// fakeContext stands in for the managed runtime. It counts pinned
// references and release notifications and serves external buffers out of
// a fixed in-process heap.
type fakeContext struct {
	mem        *fakeMemory
	live       map[bridge.Ref]bool
	types      map[int32]*metadata.Descriptor
	binaryErr  error
	panicOnPin any
	onPin      func()
	onBinary   func()
	next       uint32
	nextRef    bridge.Ref
	deleted    int
	releases   int
	reallocs   int
	mu         sync.Mutex
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		mem:     &fakeMemory{data: make([]byte, 1<<20)},
		live:    make(map[bridge.Ref]bool),
		types:   make(map[int32]*metadata.Descriptor),
		next:    8,
		nextRef: 1000,
	}
}

func (f *fakeContext) NewGlobalRef(obj bridge.Ref) (bridge.Ref, error) {
	if f.panicOnPin != nil {
		panic(f.panicOnPin)
	}
	if f.onPin != nil {
		f.onPin()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRef++
	f.live[f.nextRef] = true
	return f.nextRef, nil
}

func (f *fakeContext) DeleteGlobalRef(ref bridge.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, ref)
	f.deleted++
}

func (f *fakeContext) BinaryProcessor(_ context.Context, proc bridge.Ref) (bridge.Ref, error) {
	if f.binaryErr != nil {
		return 0, f.binaryErr
	}
	if f.onBinary != nil {
		f.onBinary()
	}
	return f.NewGlobalRef(proc)
}

func (f *fakeContext) ReleaseStart(_ context.Context, _ bridge.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeContext) Memory() bridge.Memory {
	return f.mem
}

func (f *fakeContext) alloc(size uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := (f.next + buffer.HeaderAlign - 1) &^ (buffer.HeaderAlign - 1)
	f.next = p + size
	return p
}

func (f *fakeContext) external(t *testing.T, capacity int32) buffer.Address {
	t.Helper()
	hdr := f.alloc(buffer.HeaderSize)
	data := f.alloc(uint32(capacity))
	h := buffer.Header{Data: uint64(data), Capacity: capacity, Flags: buffer.FlagExternal}
	if err := buffer.WriteHeader(f.mem, hdr, h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	return buffer.ExternalAddress(hdr)
}

// payload writes a start payload: a little-endian length followed by the
// name bytes, or -1 when name is nil.
func (f *fakeContext) payload(t *testing.T, name *string) buffer.Address {
	t.Helper()
	n := int32(0)
	if name != nil {
		n = int32(len(*name))
	}
	addr := f.external(t, 4+n)
	ext, err := buffer.NewExternal(f.mem, addr, f)
	if err != nil {
		t.Fatalf("NewExternal: %v", err)
	}

	s := buffer.NewStream(context.Background(), ext)
	if name == nil {
		err = s.WriteAbsentString()
	} else {
		err = s.WriteString(*name)
	}
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if err := s.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	return addr
}

func (f *fakeContext) ReallocateExternal(_ context.Context, addr buffer.Address, capacity int32) error {
	f.mu.Lock()
	f.reallocs++
	f.mu.Unlock()

	hdrOff, err := addr.HeaderOffset()
	if err != nil {
		return err
	}
	hdr, err := buffer.ReadHeader(f.mem, hdrOff)
	if err != nil {
		return err
	}
	data := f.alloc(uint32(capacity))
	old, err := f.mem.Read(uint32(hdr.Data), uint32(hdr.Capacity))
	if err != nil {
		return err
	}
	if err := f.mem.Write(data, old); err != nil {
		return err
	}
	hdr.Data = uint64(data)
	hdr.Capacity = capacity
	return buffer.WriteHeader(f.mem, hdrOff, hdr)
}

func (f *fakeContext) PutType(_ context.Context, _ bridge.Ref, d *metadata.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[d.TypeID()] = d
	return nil
}

func (f *fakeContext) Types(_ context.Context, _ bridge.Ref, ids []int32) ([]*metadata.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*metadata.Descriptor
	for _, id := range ids {
		if d, ok := f.types[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeContext) counts() (live, deleted, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live), f.deleted, f.releases
}

type dropCounter struct {
	mu      sync.Mutex
	created int
	retired int
	dropped int
}

func (d *dropCounter) OnResourceEvent(e resource.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch e.Type {
	case resource.EventCreated:
		d.created++
	case resource.EventRetired:
		d.retired++
	case resource.EventDropped:
		d.dropped++
	}
}

func (d *dropCounter) drops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// started returns a registry with one bound and started session.
func started(t *testing.T, cfg config.Config, name string) (*Registry, Handle, *fakeContext) {
	t.Helper()
	reg := NewRegistry(cfg)
	h, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fc := newFakeContext()
	if err := reg.Bind(h, fc); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := reg.OnStart(context.Background(), h, 42, fc.payload(t, &name)); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	return reg, h, fc
}

func strptr(s string) *string { return &s }
