package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/config"
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/metadata"
)

// Session bridges one native session to the managed runtime. It is created
// by a Registry and destroyed only by the stop callback.
type Session struct {
	dctx       Context
	updater    *metadata.RemoteUpdater
	types      *metadata.Manager
	buffers    *buffer.Table
	ready      chan struct{}
	stopped    chan struct{}
	name       string
	cfg        config.Config
	mu         sync.RWMutex
	stopOnce   sync.Once
	dropOnce   sync.Once
	handle     Handle
	proc       bridge.Ref
	binaryProc bridge.Ref
	state      State
	started    bool
	hasName    bool

	// set while a call into the managed side runs without s.mu
	starting     bool
	initializing bool
}

func newSession(cfg config.Config) *Session {
	return &Session{
		types:   metadata.NewManager(),
		buffers: buffer.NewTable(cfg.MaxBufferCapacity),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
		cfg:     cfg,
	}
}

// Handle returns the registry handle of the session.
func (s *Session) Handle() Handle {
	return s.handle
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) violation(phase errors.Phase, detail string, args ...any) *errors.Error {
	return errors.New(phase, errors.KindProtocolViolation).
		Handle(uint64(s.handle)).Detail(detail, args...).Build()
}

// checkLive must be called with s.mu held.
func (s *Session) checkLive(phase errors.Phase) error {
	if s.state == StateStopped {
		return s.violation(phase, "session stopped")
	}
	return nil
}

// Bind associates the dispatch context. A second Bind is a protocol
// violation unless StrictBind is off, in which case it is ignored.
func (s *Session) Bind(c Context) error {
	if c == nil {
		return errors.InvalidInput(errors.PhaseBind, "nil dispatch context")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLive(errors.PhaseBind); err != nil {
		return err
	}
	if s.state != StateUnbound {
		if s.cfg.StrictBind {
			return s.violation(errors.PhaseBind, "context already bound")
		}
		Logger().Warn("ignoring second bind", zap.Uint64("handle", uint64(s.handle)))
		return nil
	}

	s.dctx = c
	s.state = StateContextBound
	return nil
}

// Initialize obtains the binary processor, builds the type updater and
// releases the ready latch. It requires a bound context and a prior start
// callback, and may run only once.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkLive(errors.PhaseInit); err != nil {
		s.mu.Unlock()
		return err
	}
	var violation string
	switch {
	case s.state == StateUnbound:
		violation = "initialize before bind"
	case s.state == StateReady:
		violation = "already initialized"
	case s.initializing:
		violation = "initialize already in progress"
	case !s.started:
		violation = "initialize before start"
	}
	if violation != "" {
		s.mu.Unlock()
		return s.violation(errors.PhaseInit, violation)
	}
	s.initializing = true
	dctx, proc := s.dctx, s.proc
	s.mu.Unlock()
	defer s.endInitialize()

	// The managed side may call back into this session while we wait.
	bproc, err := dctx.BinaryProcessor(ctx, proc)
	if err != nil {
		return errors.New(errors.PhaseInit, errors.KindRemote).
			Handle(uint64(s.handle)).Cause(err).Detail("obtain binary processor").Build()
	}

	upd, err := metadata.NewRemoteUpdater(dctx, bproc, s.types, s.cfg.PullConcurrency)
	if err != nil {
		if !bproc.IsNull() {
			dctx.DeleteGlobalRef(bproc)
		}
		return err
	}

	s.mu.Lock()
	if err := s.checkLive(errors.PhaseInit); err != nil {
		s.mu.Unlock()
		_ = upd.Close()
		dctx.DeleteGlobalRef(bproc)
		return err
	}
	s.binaryProc = bproc
	s.updater = upd
	s.state = StateReady
	close(s.ready)
	s.mu.Unlock()

	Logger().Debug("session ready",
		zap.Uint64("handle", uint64(s.handle)),
		zap.String("name", s.name))
	return nil
}

func (s *Session) endInitialize() {
	s.mu.Lock()
	s.initializing = false
	s.mu.Unlock()
}

// Ready returns the latch closed once Initialize succeeds. It never resets.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Stopped returns a channel closed when the stop callback runs.
func (s *Session) Stopped() <-chan struct{} {
	return s.stopped
}

// Wait blocks until the session is ready. It fails if the session stops
// first or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	default:
	}

	select {
	case <-s.ready:
		return nil
	case <-s.stopped:
		return s.violation(errors.PhaseSession, "session stopped before ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InstanceName returns the name delivered by the start callback, if any.
func (s *Session) InstanceName() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name, s.hasName
}

// AllocateBuffer allocates an owned buffer of the default capacity.
func (s *Session) AllocateBuffer() (*buffer.Owned, error) {
	return s.AllocateBufferCap(s.cfg.DefaultAllocationSize)
}

// AllocateBufferCap allocates an owned buffer of the given capacity.
func (s *Session) AllocateBufferCap(capacity int32) (*buffer.Owned, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLive(errors.PhaseAlloc); err != nil {
		return nil, err
	}
	return s.buffers.Allocate(capacity)
}

// ResolveBuffer turns a cross-boundary address into the buffer it names.
func (s *Session) ResolveBuffer(addr buffer.Address) (buffer.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLive(errors.PhaseResolve); err != nil {
		return nil, err
	}
	return s.resolveLocked(addr)
}

func (s *Session) resolveLocked(addr buffer.Address) (buffer.Buffer, error) {
	if s.dctx == nil {
		return s.buffers.Resolve(addr, nil, nil)
	}
	return s.buffers.Resolve(addr, s.dctx.Memory(), s.dctx)
}

// TypeManager returns the session's type cache.
func (s *Session) TypeManager() (*metadata.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLive(errors.PhaseMetadata); err != nil {
		return nil, err
	}
	return s.types, nil
}

// TypeUpdater returns the updater built by Initialize.
func (s *Session) TypeUpdater() (metadata.Updater, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLive(errors.PhaseMetadata); err != nil {
		return nil, err
	}
	if s.updater == nil {
		return nil, errors.NotInitialized(errors.PhaseMetadata, "type updater")
	}
	return s.updater, nil
}

// ResolveType returns the descriptor for id from the cache, pulling it from
// the managed runtime when missing.
func (s *Session) ResolveType(ctx context.Context, id int32) (*metadata.Descriptor, error) {
	mgr, err := s.TypeManager()
	if err != nil {
		return nil, err
	}
	if d, ok := mgr.Lookup(id); ok {
		return d, nil
	}

	upd, err := s.TypeUpdater()
	if err != nil {
		return nil, err
	}
	found, err := upd.PullMissing(ctx, []int32{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.NotFound(errors.PhaseMetadata, "type", id)
	}
	return found[0], nil
}

// NotifyReleaseStart tells the managed processor that a release sequence
// has begun. It does nothing before the start callback.
func (s *Session) NotifyReleaseStart(ctx context.Context) error {
	s.mu.RLock()
	if err := s.checkLive(errors.PhaseStop); err != nil {
		s.mu.RUnlock()
		return err
	}
	dctx, proc := s.dctx, s.proc
	s.mu.RUnlock()

	if dctx == nil || proc.IsNull() {
		return nil
	}
	if err := dctx.ReleaseStart(ctx, proc); err != nil {
		return errors.New(errors.PhaseStop, errors.KindRemote).
			Handle(uint64(s.handle)).Cause(err).Detail("release start").Build()
	}
	return nil
}

// onStart reads the session name from the external payload at addr and
// pins proc.
func (s *Session) onStart(ctx context.Context, proc bridge.Ref, addr buffer.Address) error {
	s.mu.Lock()
	if err := s.checkLive(errors.PhaseStart); err != nil {
		s.mu.Unlock()
		return err
	}
	var violation string
	switch {
	case s.state == StateUnbound:
		violation = "start callback before bind"
	case s.started || s.starting:
		violation = "start callback received twice"
	case proc.IsNull():
		violation = "null processor reference"
	}
	if violation != "" {
		s.mu.Unlock()
		return s.violation(errors.PhaseStart, violation)
	}
	s.starting = true
	dctx := s.dctx
	s.mu.Unlock()
	defer s.endStart()

	name, ok, ref, err := s.pinStart(ctx, dctx, proc, addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.checkLive(errors.PhaseStart); err != nil {
		s.mu.Unlock()
		dctx.DeleteGlobalRef(ref)
		return err
	}
	s.proc = ref
	s.name, s.hasName = name, ok
	s.started = true
	s.mu.Unlock()

	Logger().Debug("session started",
		zap.Uint64("handle", uint64(s.handle)),
		zap.String("name", name),
		zap.Bool("named", ok))
	return nil
}

func (s *Session) endStart() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

// pinStart decodes the start payload and pins proc. It runs without s.mu.
func (s *Session) pinStart(ctx context.Context, dctx Context, proc bridge.Ref, addr buffer.Address) (string, bool, bridge.Ref, error) {
	buf, err := buffer.NewExternal(dctx.Memory(), addr, dctx)
	if err != nil {
		return "", false, 0, err
	}
	name, ok, err := buffer.NewStream(ctx, buf).ReadString()
	if err != nil {
		return "", false, 0, errors.New(errors.PhaseStart, errors.KindInvalidData).
			Handle(uint64(s.handle)).Address(uint64(addr)).Cause(err).Detail("decode instance name").Build()
	}

	ref, err := dctx.NewGlobalRef(proc)
	if err != nil {
		return "", false, 0, errors.New(errors.PhaseStart, errors.KindRemote).
			Handle(uint64(s.handle)).Cause(err).Detail("pin processor").Build()
	}
	return name, ok, ref, nil
}

// onMemoryReallocate grows the buffer at addr to at least capacity bytes.
func (s *Session) onMemoryReallocate(ctx context.Context, addr buffer.Address, capacity int32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLive(errors.PhaseRealloc); err != nil {
		return err
	}
	if capacity < 0 {
		return errors.New(errors.PhaseRealloc, errors.KindAllocation).
			Handle(uint64(s.handle)).Address(uint64(addr)).Value(capacity).
			Detail("negative capacity %d", capacity).Build()
	}

	buf, err := s.resolveLocked(addr)
	if err != nil {
		return err
	}
	if err := buf.Reallocate(ctx, capacity); err != nil {
		if errors.IsFatal(err) {
			return err
		}
		return errors.New(errors.PhaseRealloc, errors.KindAllocation).
			Handle(uint64(s.handle)).Address(uint64(addr)).Cause(err).
			Detail("grow to %d bytes", capacity).Build()
	}
	return nil
}

// markStopped moves the session to Stopped. Every later call fails.
func (s *Session) markStopped() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLive(errors.PhaseStop); err != nil {
		return err
	}
	s.state = StateStopped
	s.stopOnce.Do(func() { close(s.stopped) })
	return nil
}

// Drop releases everything the session holds. It runs once, when the
// registry removes the session.
func (s *Session) Drop() {
	s.dropOnce.Do(func() {
		s.mu.Lock()
		s.state = StateStopped
		s.stopOnce.Do(func() { close(s.stopped) })
		dctx, proc, bproc, upd := s.dctx, s.proc, s.binaryProc, s.updater
		s.proc, s.binaryProc, s.updater = 0, 0, nil
		s.mu.Unlock()

		if upd != nil {
			_ = upd.Close()
		}
		if dctx != nil {
			if !bproc.IsNull() {
				dctx.DeleteGlobalRef(bproc)
			}
			if !proc.IsNull() {
				dctx.DeleteGlobalRef(proc)
			}
		}
		if err := s.buffers.Close(); err != nil {
			Logger().Warn("closing buffer table", zap.Error(err))
		}

		Logger().Debug("session dropped", zap.Uint64("handle", uint64(s.handle)))
	})
}
