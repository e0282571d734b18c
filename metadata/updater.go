package metadata

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/errors"
)

// Store is the remote schema source held by the managed runtime. Calls are
// made on behalf of the binary processor proc.
type Store interface {
	// PutType merges d into the remote schema store.
	PutType(ctx context.Context, proc bridge.Ref, d *Descriptor) error

	// Types returns the descriptors known for ids. Unknown ids are omitted.
	Types(ctx context.Context, proc bridge.Ref, ids []int32) ([]*Descriptor, error)
}

// Updater is the only path that writes to the remote schema store.
type Updater interface {
	// Push caches d locally and then sends it to the remote store.
	Push(ctx context.Context, d *Descriptor) error

	// PullMissing fetches the descriptors for ids that are not cached and
	// returns every descriptor known for ids, in request order.
	PullMissing(ctx context.Context, ids []int32) ([]*Descriptor, error)

	// Close detaches the updater. Later calls fail.
	Close() error
}

// DefaultPullConcurrency bounds concurrent remote fetches when no limit is given.
const DefaultPullConcurrency = 4

// RemoteUpdater synchronizes a Manager with a Store through a binary
// processor reference obtained at session initialization.
type RemoteUpdater struct {
	store  Store
	mgr    *Manager
	flight singleflight.Group
	proc   bridge.Ref
	limit  int
	closed atomic.Bool
}

// NewRemoteUpdater binds mgr to store through proc.
func NewRemoteUpdater(store Store, proc bridge.Ref, mgr *Manager, concurrency int) (*RemoteUpdater, error) {
	if proc.IsNull() {
		return nil, errors.NotInitialized(errors.PhaseMetadata, "binary processor")
	}
	if store == nil {
		return nil, errors.InvalidInput(errors.PhaseMetadata, "nil schema store")
	}
	if mgr == nil {
		return nil, errors.InvalidInput(errors.PhaseMetadata, "nil type manager")
	}
	if concurrency <= 0 {
		concurrency = DefaultPullConcurrency
	}
	return &RemoteUpdater{store: store, mgr: mgr, proc: proc, limit: concurrency}, nil
}

func (u *RemoteUpdater) checkOpen() error {
	if u.closed.Load() {
		return errors.ProtocolViolation(errors.PhaseMetadata, "type updater used after close")
	}
	return nil
}

// Push writes d into the local cache first and then to the remote store,
// so the remote side is never ahead of the cache. A failed remote write
// leaves the type pending.
func (u *RemoteUpdater) Push(ctx context.Context, d *Descriptor) error {
	if err := u.checkOpen(); err != nil {
		return err
	}

	merged, _, err := u.mgr.Put(d)
	if err != nil {
		return err
	}

	if err := u.store.PutType(ctx, u.proc, merged); err != nil {
		Logger().Warn("type push failed",
			zap.Int32("type_id", merged.typeID),
			zap.String("type_name", merged.typeName),
			zap.Error(err))
		return errors.New(errors.PhaseRemote, errors.KindRemote).
			Path(merged.typeName).Cause(err).Detail("push type %d", merged.typeID).Build()
	}

	u.mgr.markPushed(merged)
	return nil
}

// PullMissing fetches uncached ids concurrently, at most the configured
// number at a time. Concurrent pulls for the same id share one fetch.
func (u *RemoteUpdater) PullMissing(ctx context.Context, ids []int32) ([]*Descriptor, error) {
	if err := u.checkOpen(); err != nil {
		return nil, err
	}

	found := make([]*Descriptor, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.limit)

	for i, id := range ids {
		i, id := i, id
		if d, ok := u.mgr.Lookup(id); ok {
			found[i] = d
			continue
		}
		g.Go(func() error {
			d, err := u.pull(gctx, id)
			if err != nil {
				return err
			}
			found[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := found[:0]
	for _, d := range found {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (u *RemoteUpdater) pull(ctx context.Context, id int32) (*Descriptor, error) {
	v, err, _ := u.flight.Do(strconv.FormatInt(int64(id), 10), func() (any, error) {
		if d, ok := u.mgr.Lookup(id); ok {
			return d, nil
		}

		remote, err := u.store.Types(ctx, u.proc, []int32{id})
		if err != nil {
			return nil, errors.New(errors.PhaseRemote, errors.KindRemote).
				Value(id).Cause(err).Detail("pull type %d", id).Build()
		}

		var cached *Descriptor
		for _, d := range remote {
			if d == nil || d.typeID != id {
				continue
			}
			merged, _, err := u.mgr.merge(d, false)
			if err != nil {
				return nil, err
			}
			cached = merged
		}
		if cached == nil {
			Logger().Debug("type unknown remotely", zap.Int32("type_id", id))
		}
		return cached, nil
	})
	if err != nil {
		return nil, err
	}
	d, _ := v.(*Descriptor)
	return d, nil
}

// Close detaches the updater from the processor. It is idempotent.
func (u *RemoteUpdater) Close() error {
	u.closed.Store(true)
	return nil
}

// Processor returns the binary processor reference the updater is bound to.
func (u *RemoteUpdater) Processor() bridge.Ref {
	return u.proc
}

var _ Updater = (*RemoteUpdater)(nil)
