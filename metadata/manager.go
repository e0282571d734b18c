package metadata

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
)

// Snapshot is an immutable view of the manager's descriptors.
type Snapshot struct {
	types   map[int32]*Descriptor
	version uint64
}

// Lookup returns the descriptor for id.
func (s *Snapshot) Lookup(id int32) (*Descriptor, bool) {
	d, ok := s.types[id]
	return d, ok
}

// Len returns the number of types.
func (s *Snapshot) Len() int { return len(s.types) }

// Version returns the manager version the snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

// IDs returns the type ids in ascending order.
func (s *Snapshot) IDs() []int32 {
	ids := make([]int32, 0, len(s.types))
	for id := range s.types {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Manager caches type descriptors by type id. It is append-only: Put merges
// into the cached descriptor and never removes one. Readers load an
// immutable snapshot; writers are serialized.
type Manager struct {
	snap    atomic.Pointer[Snapshot]
	pending map[int32]int32
	mu      sync.Mutex
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	m := &Manager{pending: make(map[int32]int32)}
	m.snap.Store(&Snapshot{types: map[int32]*Descriptor{}})
	return m
}

// Lookup returns the cached descriptor for id.
func (m *Manager) Lookup(id int32) (*Descriptor, bool) {
	return m.snap.Load().Lookup(id)
}

// Snapshot returns the current snapshot.
func (m *Manager) Snapshot() *Snapshot {
	return m.snap.Load()
}

// Version increases with every Put that changes the cache.
func (m *Manager) Version() uint64 {
	return m.snap.Load().version
}

// IsUpdatedSince reports whether the cache changed after version v.
func (m *Manager) IsUpdatedSince(v uint64) bool {
	return m.Version() > v
}

// Len returns the number of cached types.
func (m *Manager) Len() int {
	return m.snap.Load().Len()
}

// Put merges d into the cache and marks the result as pending until it is
// pushed. It returns the cached descriptor and whether the cache changed.
func (m *Manager) Put(d *Descriptor) (*Descriptor, bool, error) {
	return m.merge(d, true)
}

func (m *Manager) merge(d *Descriptor, local bool) (*Descriptor, bool, error) {
	if d == nil {
		return nil, false, errors.InvalidInput(errors.PhaseMetadata, "nil descriptor")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	merged, changed := d, true
	if existing, ok := cur.types[d.typeID]; ok {
		var err error
		merged, changed, err = existing.Merge(d)
		if err != nil {
			return nil, false, err
		}
	}
	if !changed {
		return merged, false, nil
	}

	next := &Snapshot{
		types:   make(map[int32]*Descriptor, len(cur.types)+1),
		version: cur.version + 1,
	}
	for id, v := range cur.types {
		next.types[id] = v
	}
	next.types[merged.typeID] = merged
	m.snap.Store(next)

	if local {
		m.pending[merged.typeID] = merged.version
	}

	Logger().Debug("type cached",
		zap.Int32("type_id", merged.typeID),
		zap.String("type_name", merged.typeName),
		zap.Int32("version", merged.version),
		zap.Bool("local", local))
	return merged, true, nil
}

// Pending returns the descriptors put locally but not yet pushed, ordered
// by type id.
func (m *Manager) Pending() []*Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snap.Load()
	out := make([]*Descriptor, 0, len(m.pending))
	for id := range m.pending {
		if d, ok := snap.types[id]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].typeID < out[j].typeID })
	return out
}

// markPushed clears the pending mark for d unless a newer version was put
// in the meantime.
func (m *Manager) markPushed(d *Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.pending[d.typeID]; ok && v <= d.version {
		delete(m.pending, d.typeID)
	}
}

// ProcessPending pushes every pending descriptor through u. It stops at the
// first failure; descriptors not pushed stay pending.
func (m *Manager) ProcessPending(ctx context.Context, u Updater) error {
	for _, d := range m.Pending() {
		if err := u.Push(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
