package session

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/config"
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/resource"
)

// Handle names a session across the boundary. It is generation tagged, so
// a handle kept after the session stopped never resolves again.
type Handle uint64

const sessionTypeID = 1

// cell is the registry entry: the session and its callback inbox.
type cell struct {
	sess  *Session
	inbox *inbox
}

// Drop implements resource.Dropper.
func (c *cell) Drop() {
	c.sess.Drop()
}

// Registry is the table of live sessions. It hands out handles, leases
// sessions to native callers and runs the managed runtime's callbacks.
type Registry struct {
	table *resource.UnifiedTable
	cfg   config.Config
}

// NewRegistry creates an empty registry whose sessions use cfg.
func NewRegistry(cfg config.Config) *Registry {
	return &Registry{
		table: resource.NewTable(),
		cfg:   cfg,
	}
}

// Create registers a new unbound session.
func (r *Registry) Create() (Handle, error) {
	s := newSession(r.cfg)
	h := r.table.Insert(sessionTypeID, &cell{sess: s, inbox: newInbox()})
	if h == 0 {
		return 0, errors.ProtocolViolation(errors.PhaseSession, "registry closed")
	}
	s.handle = Handle(h)

	Logger().Debug("session created", zap.Uint64("handle", uint64(h)))
	return Handle(h), nil
}

func (r *Registry) lookup(h Handle) (*cell, error) {
	v, ok := r.table.GetTyped(resource.Handle(h), sessionTypeID)
	if !ok {
		return nil, errors.New(errors.PhaseSession, errors.KindProtocolViolation).
			Handle(uint64(h)).Detail("unknown or stale session handle").Build()
	}
	return v.(*cell), nil
}

// Lease is a native holder's claim on a session. The session is not
// destroyed until every lease is released.
type Lease struct {
	r    *Registry
	sess *Session
	once sync.Once
	h    Handle
}

// Session returns the leased session.
func (l *Lease) Session() *Session {
	return l.sess
}

// Release returns the lease. Releasing twice is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.r.table.ReturnBorrow(resource.Handle(l.h))
	})
}

// Acquire leases the session named by h. It fails once the session is
// stopping.
func (r *Registry) Acquire(h Handle) (*Lease, error) {
	c, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	if !r.table.Borrow(resource.Handle(h)) {
		return nil, errors.New(errors.PhaseSession, errors.KindProtocolViolation).
			Handle(uint64(h)).Detail("session is stopping").Build()
	}
	return &Lease{r: r, sess: c.sess, h: h}, nil
}

// Do runs fn with the session named by h under a lease.
func (r *Registry) Do(h Handle, fn func(*Session) error) error {
	l, err := r.Acquire(h)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l.sess)
}

// Bind binds c to the session named by h.
func (r *Registry) Bind(h Handle, c Context) error {
	return r.Do(h, func(s *Session) error { return s.Bind(c) })
}

// Initialize initializes the session named by h.
func (r *Registry) Initialize(ctx context.Context, h Handle) error {
	return r.Do(h, func(s *Session) error { return s.Initialize(ctx) })
}

// OnStart runs the start callback for h.
func (r *Registry) OnStart(ctx context.Context, h Handle, proc bridge.Ref, addr buffer.Address) error {
	c, err := r.lookup(h)
	if err != nil {
		return err
	}
	err = c.inbox.post(errors.PhaseStart, func() error {
		return r.Do(h, func(s *Session) error { return s.onStart(ctx, proc, addr) })
	})
	return withHandle(err, h)
}

// OnMemoryReallocate runs the reallocation callback for h.
func (r *Registry) OnMemoryReallocate(ctx context.Context, h Handle, addr buffer.Address, capacity int32) error {
	c, err := r.lookup(h)
	if err != nil {
		return err
	}
	err = c.inbox.post(errors.PhaseRealloc, func() error {
		return r.Do(h, func(s *Session) error { return s.onMemoryReallocate(ctx, addr, capacity) })
	})
	return withHandle(err, h)
}

// OnStop runs the stop callback for h, the only path that destroys a
// session. The session stops accepting calls immediately and is dropped
// once outstanding leases are released.
func (r *Registry) OnStop(_ context.Context, h Handle) error {
	c, err := r.lookup(h)
	if err != nil {
		return err
	}
	err = c.inbox.post(errors.PhaseStop, func() error {
		return r.stop(h, c)
	})
	return withHandle(err, h)
}

func (r *Registry) stop(h Handle, c *cell) error {
	if err := c.sess.markStopped(); err != nil {
		return err
	}

	drained, ok := r.table.Retire(resource.Handle(h))
	if !ok {
		return errors.New(errors.PhaseStop, errors.KindProtocolViolation).
			Handle(uint64(h)).Detail("session already retired").Build()
	}

	select {
	case <-drained:
		r.table.Remove(resource.Handle(h))
	default:
		Logger().Debug("stop waiting for leases", zap.Uint64("handle", uint64(h)))
		go func() {
			<-drained
			r.table.Remove(resource.Handle(h))
		}()
	}
	return nil
}

// Len returns the number of sessions not yet dropped.
func (r *Registry) Len() int {
	return r.table.Len()
}

// Each calls fn for every registered session until fn returns false. fn
// must not call back into the registry.
func (r *Registry) Each(fn func(Handle, *Session) bool) {
	r.table.Each(func(h resource.Handle, v any) bool {
		c, ok := v.(*cell)
		if !ok {
			return true
		}
		return fn(Handle(h), c.sess)
	})
}

// Subscribe registers o for session lifecycle events.
func (r *Registry) Subscribe(o resource.Observer) {
	r.table.Subscribe(o)
}

// Unsubscribe removes o.
func (r *Registry) Unsubscribe(o resource.Observer) {
	r.table.Unsubscribe(o)
}

// Close is process teardown. Every live session is stopped through the
// stop callback path first; sessions still held by leases are then dropped
// without waiting for them.
func (r *Registry) Close() error {
	var live []Handle
	r.Each(func(h Handle, s *Session) bool {
		if s.State() != StateStopped {
			live = append(live, h)
		}
		return true
	})
	for _, h := range live {
		if err := r.OnStop(context.Background(), h); err != nil {
			Logger().Debug("stop on close", zap.Uint64("handle", uint64(h)), zap.Error(err))
		}
	}
	return r.table.Close()
}

func withHandle(err error, h Handle) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Handle == 0 {
		e.Handle = uint64(h)
	}
	return err
}
