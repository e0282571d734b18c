package managed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/config"
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/metadata"
	"github.com/wippyai/interop-bridge/resource"
	"github.com/wippyai/interop-bridge/session"
)

// Object kinds in the runtime's object table.
const (
	objProcessor uint32 = iota + 1
	objBinaryProcessor
	objGlobalRef
)

type processor struct {
	name      *string
	binary    bridge.Ref
	releasing atomic.Bool
}

type binaryProcessor struct {
	owner bridge.Ref
}

type globalRef struct {
	target bridge.Ref
}

// Stats is a point-in-time summary of a Runtime.
type Stats struct {
	Sessions   int
	Objects    int
	GlobalRefs int
	Types      int
	Releases   int64
	HeapUsed   uint32
	HeapSize   uint32
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithErrorHook forwards callback failures to fn as well.
func WithErrorHook(fn session.ErrorFunc) Option {
	return func(r *Runtime) { r.onError = fn }
}

// Runtime is an in-process managed runtime. It owns the heap external
// buffers live in, hands out processor objects and pinned references, keeps
// the remote schema store and drives sessions through the exported
// callback host module, the way a real managed runtime would.
type Runtime struct {
	wz       wazero.Runtime
	heap     *Heap
	host     api.Module
	reg      *session.Registry
	objects  *resource.UnifiedTable
	schemas  *metadata.Manager
	failures map[session.Handle]*errors.Error
	procs    map[session.Handle]bridge.Ref
	onError  session.ErrorFunc
	cfg      config.Config
	releases atomic.Int64
	mu       sync.Mutex
}

// New creates a runtime with its own wazero runtime, heap and registry.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wz := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.HeapLimitPages))
	heap, err := NewHeap(ctx, wz, "heap", cfg.HeapLimitPages)
	if err != nil {
		_ = wz.Close(ctx)
		return nil, err
	}

	r := &Runtime{
		wz:       wz,
		heap:     heap,
		reg:      session.NewRegistry(cfg),
		objects:  resource.NewTable(),
		schemas:  metadata.NewManager(),
		failures: make(map[session.Handle]*errors.Error),
		procs:    make(map[session.Handle]bridge.Ref),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}

	host, err := ExportCallbacks(ctx, wz, r.reg, r.report)
	if err != nil {
		_ = wz.Close(ctx)
		return nil, errors.Wrap(errors.PhaseInit, errors.KindRemote, err, "export callbacks")
	}
	r.host = host
	return r, nil
}

// Registry returns the session registry the runtime drives.
func (r *Runtime) Registry() *session.Registry { return r.reg }

// Heap returns the managed heap.
func (r *Runtime) Heap() *Heap { return r.heap }

// Schemas returns the remote schema store.
func (r *Runtime) Schemas() *metadata.Manager { return r.schemas }

// Start creates a session named name and runs it to Ready.
func (r *Runtime) Start(ctx context.Context, name string) (session.Handle, error) {
	return r.start(ctx, &name)
}

// StartUnnamed creates a session without a name and runs it to Ready.
func (r *Runtime) StartUnnamed(ctx context.Context) (session.Handle, error) {
	return r.start(ctx, nil)
}

func (r *Runtime) start(ctx context.Context, name *string) (session.Handle, error) {
	h, err := r.reg.Create()
	if err != nil {
		return 0, err
	}
	if err := r.reg.Bind(h, r); err != nil {
		r.abort(ctx, h)
		return 0, err
	}

	proc := bridge.Ref(r.objects.Insert(objProcessor, &processor{name: name}))
	r.mu.Lock()
	r.procs[h] = proc
	r.mu.Unlock()

	addr, err := r.writeName(ctx, name)
	if err != nil {
		r.abort(ctx, h)
		return 0, err
	}
	if err := r.call(ctx, h, FuncOnStart, uint64(h), uint64(proc), uint64(addr)); err != nil {
		r.abort(ctx, h)
		return 0, err
	}
	if err := r.reg.Initialize(ctx, h); err != nil {
		r.abort(ctx, h)
		return 0, err
	}

	Logger().Info("session started", zap.Uint64("handle", uint64(h)), zap.Stringp("name", name))
	return h, nil
}

func (r *Runtime) abort(ctx context.Context, h session.Handle) {
	if err := r.call(ctx, h, FuncOnStop, uint64(h)); err != nil {
		Logger().Warn("abort start", zap.Uint64("handle", uint64(h)), zap.Error(err))
	}
	r.dropProcessor(h)
}

// writeName places the start payload in the heap.
func (r *Runtime) writeName(ctx context.Context, name *string) (buffer.Address, error) {
	size := int32(4)
	if name != nil {
		size += int32(len(*name))
	}
	addr, err := r.heap.Allocate(size, 0)
	if err != nil {
		return 0, err
	}
	ext, err := buffer.NewExternal(r.heap, addr, r.heap)
	if err != nil {
		return 0, err
	}

	s := buffer.NewStream(ctx, ext)
	if name == nil {
		err = s.WriteAbsentString()
	} else {
		err = s.WriteString(*name)
	}
	if err != nil {
		return 0, err
	}
	return addr, s.Synchronize()
}

// Stop announces the release to the session and runs the stop callback.
func (r *Runtime) Stop(ctx context.Context, h session.Handle) error {
	err := r.reg.Do(h, func(s *session.Session) error {
		return s.NotifyReleaseStart(ctx)
	})
	if err != nil {
		return err
	}
	if err := r.call(ctx, h, FuncOnStop, uint64(h)); err != nil {
		return err
	}
	r.dropProcessor(h)
	return nil
}

// Allocate places an external buffer in the heap, as managed code would
// before handing its address to native code.
func (r *Runtime) Allocate(capacity int32) (buffer.Address, error) {
	return r.heap.Allocate(capacity, 0)
}

// Realloc runs the reallocation callback for the buffer at addr.
func (r *Runtime) Realloc(ctx context.Context, h session.Handle, addr buffer.Address, capacity int32) error {
	return r.call(ctx, h, FuncMemRealloc, uint64(h), uint64(addr), api.EncodeI32(capacity))
}

// call invokes a host module export and returns the failure it reported.
// Calls for the same handle must not overlap.
func (r *Runtime) call(ctx context.Context, h session.Handle, fn string, args ...uint64) error {
	f := r.host.ExportedFunction(fn)
	if f == nil {
		return errors.NotFound(errors.PhaseRemote, "host function", fn)
	}

	r.mu.Lock()
	delete(r.failures, h)
	r.mu.Unlock()

	if _, err := f.Call(ctx, args...); err != nil {
		return errors.Wrap(errors.PhaseRemote, errors.KindRemote, err, fn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.failures[h]; ok {
		delete(r.failures, h)
		return e
	}
	return nil
}

func (r *Runtime) report(target session.Handle, err *errors.Error) {
	r.mu.Lock()
	r.failures[target] = err
	r.mu.Unlock()

	Logger().Error("callback failed",
		zap.Uint64("handle", uint64(target)),
		zap.String("phase", string(err.Phase)),
		zap.String("kind", string(err.Kind)),
		zap.Error(err))

	if r.onError != nil {
		r.onError(target, err)
	}
}

func (r *Runtime) dropProcessor(h session.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proc, ok := r.procs[h]
	if !ok {
		return
	}
	delete(r.procs, h)

	if v, found := r.objects.GetTyped(resource.Handle(proc), objProcessor); found {
		p := v.(*processor)
		if !p.binary.IsNull() {
			r.objects.Remove(resource.Handle(p.binary))
			p.binary = 0
		}
	}
	r.objects.Remove(resource.Handle(proc))
}

// deref follows a global reference to the object it pins.
func (r *Runtime) deref(ref bridge.Ref) (bridge.Ref, any, bool) {
	v, ok := r.objects.Get(resource.Handle(ref))
	if !ok {
		return 0, nil, false
	}
	if g, isRef := v.(*globalRef); isRef {
		return r.deref(g.target)
	}
	return ref, v, true
}

// NewGlobalRef implements session.Context.
func (r *Runtime) NewGlobalRef(obj bridge.Ref) (bridge.Ref, error) {
	target, _, ok := r.deref(obj)
	if !ok {
		return 0, errors.NotFound(errors.PhaseRemote, "object", obj)
	}
	h := r.objects.Insert(objGlobalRef, &globalRef{target: target})
	if h == 0 {
		return 0, errors.ProtocolViolation(errors.PhaseRemote, "runtime closed")
	}
	return bridge.Ref(h), nil
}

// DeleteGlobalRef implements session.Context.
func (r *Runtime) DeleteGlobalRef(ref bridge.Ref) {
	if _, ok := r.objects.GetTyped(resource.Handle(ref), objGlobalRef); !ok {
		Logger().Warn("deleting unknown global ref", zap.Uint64("ref", uint64(ref)))
		return
	}
	r.objects.Remove(resource.Handle(ref))
}

func (r *Runtime) processor(ref bridge.Ref) (bridge.Ref, *processor, error) {
	target, v, ok := r.deref(ref)
	p, isProc := v.(*processor)
	if !ok || !isProc {
		return 0, nil, errors.NotFound(errors.PhaseRemote, "processor", ref)
	}
	return target, p, nil
}

// BinaryProcessor implements session.Context.
func (r *Runtime) BinaryProcessor(_ context.Context, proc bridge.Ref) (bridge.Ref, error) {
	target, p, err := r.processor(proc)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	if _, live := r.objects.Get(resource.Handle(target)); !live {
		r.mu.Unlock()
		return 0, errors.NotFound(errors.PhaseRemote, "processor", proc)
	}
	if p.binary.IsNull() {
		p.binary = bridge.Ref(r.objects.Insert(objBinaryProcessor, &binaryProcessor{owner: target}))
	}
	binary := p.binary
	r.mu.Unlock()

	return r.NewGlobalRef(binary)
}

// ReleaseStart implements session.Context.
func (r *Runtime) ReleaseStart(_ context.Context, proc bridge.Ref) error {
	_, p, err := r.processor(proc)
	if err != nil {
		return err
	}
	if p.releasing.CompareAndSwap(false, true) {
		r.releases.Add(1)
	}
	return nil
}

// Memory implements session.Context.
func (r *Runtime) Memory() bridge.Memory {
	return r.heap
}

// ReallocateExternal implements buffer.Reallocator.
func (r *Runtime) ReallocateExternal(ctx context.Context, addr buffer.Address, capacity int32) error {
	return r.heap.ReallocateExternal(ctx, addr, capacity)
}

func (r *Runtime) checkBinary(proc bridge.Ref) error {
	_, v, ok := r.deref(proc)
	if _, isBinary := v.(*binaryProcessor); !ok || !isBinary {
		return errors.NotFound(errors.PhaseRemote, "binary processor", proc)
	}
	return nil
}

// PutType implements metadata.Store.
func (r *Runtime) PutType(_ context.Context, proc bridge.Ref, d *metadata.Descriptor) error {
	if err := r.checkBinary(proc); err != nil {
		return err
	}
	_, _, err := r.schemas.Put(d)
	return err
}

// Types implements metadata.Store.
func (r *Runtime) Types(_ context.Context, proc bridge.Ref, ids []int32) ([]*metadata.Descriptor, error) {
	if err := r.checkBinary(proc); err != nil {
		return nil, err
	}
	var out []*metadata.Descriptor
	for _, id := range ids {
		if d, ok := r.schemas.Lookup(id); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Stats returns current counters.
func (r *Runtime) Stats() Stats {
	st := Stats{
		Sessions: r.reg.Len(),
		Types:    r.schemas.Len(),
		Releases: r.releases.Load(),
		HeapUsed: r.heap.Used(),
		HeapSize: r.heap.Size(),
	}
	r.objects.Each(func(_ resource.Handle, v any) bool {
		if _, ok := v.(*globalRef); ok {
			st.GlobalRefs++
		} else {
			st.Objects++
		}
		return true
	})
	return st
}

// Close drops every session and releases the wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	regErr := r.reg.Close()
	_ = r.objects.Close()
	if err := r.wz.Close(ctx); err != nil {
		return err
	}
	return regErr
}

var _ session.Context = (*Runtime)(nil)
