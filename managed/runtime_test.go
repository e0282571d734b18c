package managed

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/config"
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/metadata"
	"github.com/wippyai/interop-bridge/resource"
	"github.com/wippyai/interop-bridge/session"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.HeapLimitPages = 16

	r, err := New(ctx, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close(ctx) })
	return r
}

func TestRuntime_StartStop(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t)

	h, err := r.Start(ctx, "node-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	err = r.Registry().Do(h, func(s *session.Session) error {
		name, ok := s.InstanceName()
		if !ok || name != "node-1" {
			t.Errorf("InstanceName = %q, %v", name, ok)
		}
		if s.State() != session.StateReady {
			t.Errorf("State = %v", s.State())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	st := r.Stats()
	if st.Sessions != 1 || st.GlobalRefs != 2 || st.Objects != 2 {
		t.Fatalf("stats after start = %+v", st)
	}

	if err := r.Stop(ctx, h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st = r.Stats()
	if st.Sessions != 0 || st.GlobalRefs != 0 || st.Objects != 0 {
		t.Fatalf("stats after stop = %+v", st)
	}
	if st.Releases != 1 {
		t.Fatalf("Releases = %d", st.Releases)
	}

	if err := r.Stop(ctx, h); !errors.IsKind(err, errors.KindProtocolViolation) {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestRuntime_StartUnnamed(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t)

	h, err := r.StartUnnamed(ctx)
	if err != nil {
		t.Fatalf("StartUnnamed: %v", err)
	}
	_ = r.Registry().Do(h, func(s *session.Session) error {
		if name, ok := s.InstanceName(); ok || name != "" {
			t.Errorf("InstanceName = %q, %v", name, ok)
		}
		return nil
	})
}

func TestRuntime_Realloc(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t)
	h, _ := r.Start(ctx, "n")

	addr, err := r.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	err = r.Registry().Do(h, func(s *session.Session) error {
		buf, err := s.ResolveBuffer(addr)
		if err != nil {
			return err
		}
		st := buffer.NewStream(ctx, buf)
		for i := int32(0); i < 64; i++ {
			if err := st.WriteInt32(i); err != nil {
				return err
			}
		}
		return st.Synchronize()
	})
	if err != nil {
		t.Fatalf("stream through session: %v", err)
	}

	var before []byte
	_ = r.Registry().Do(h, func(s *session.Session) error {
		buf, _ := s.ResolveBuffer(addr)
		before = make([]byte, buf.Length())
		return buf.ReadAt(before, 0)
	})

	if err := r.Realloc(ctx, h, addr, 4096); err != nil {
		t.Fatalf("Realloc: %v", err)
	}

	_ = r.Registry().Do(h, func(s *session.Session) error {
		buf, _ := s.ResolveBuffer(addr)
		if buf.Capacity() < 4096 {
			t.Errorf("Capacity = %d", buf.Capacity())
		}
		after := make([]byte, len(before))
		_ = buf.ReadAt(after, 0)
		if !bytes.Equal(before, after) {
			t.Errorf("bytes changed by reallocation")
		}
		return nil
	})

	err = r.Realloc(ctx, h, addr, int32(17*pageSize))
	if !errors.IsKind(err, errors.KindAllocation) {
		t.Fatalf("realloc past heap limit: %v", err)
	}
}

func TestRuntime_Types(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t)
	a, _ := r.Start(ctx, "a")
	b, _ := r.Start(ctx, "b")

	person := metadata.NewBuilder("Person").Field("name", metadata.TypeString).MustBuild()
	err := r.Registry().Do(a, func(s *session.Session) error {
		upd, err := s.TypeUpdater()
		if err != nil {
			return err
		}
		return upd.Push(ctx, person)
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, ok := r.Schemas().Lookup(person.TypeID()); !ok {
		t.Fatalf("schema store missing pushed type")
	}

	err = r.Registry().Do(b, func(s *session.Session) error {
		d, err := s.ResolveType(ctx, person.TypeID())
		if err != nil {
			return err
		}
		if _, ok := d.Field("name"); !ok {
			t.Errorf("pulled descriptor lacks field")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ResolveType: %v", err)
	}

	if err := r.PutType(ctx, 12345, person); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("PutType with bogus processor: %v", err)
	}
}

func TestRuntime_ErrorHook(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var got []*errors.Error
	r := newTestRuntime(t, WithErrorHook(func(_ session.Handle, err *errors.Error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}))

	h, _ := r.Start(ctx, "n")
	if err := r.Realloc(ctx, h, buffer.Address(0b11|1<<3), 64); !errors.IsKind(err, errors.KindProtocolViolation) {
		t.Fatalf("Realloc with invalid tag: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Handle != uint64(h) {
		t.Fatalf("hook received %v", got)
	}
}

func TestRuntime_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Start(ctx, "worker")
			if err != nil {
				t.Errorf("Start: %v", err)
				return
			}
			addr, err := r.Allocate(16)
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			if err := r.Realloc(ctx, h, addr, 256); err != nil {
				t.Errorf("Realloc: %v", err)
			}
			if err := r.Stop(ctx, h); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()

	if st := r.Stats(); st.Sessions != 0 || st.GlobalRefs != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRuntime_DropProcessorRacesBinaryLookup(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t)

	h, err := r.Start(ctx, "n")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.mu.Lock()
	proc := r.procs[h]
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			ref, err := r.BinaryProcessor(ctx, proc)
			if err != nil {
				return
			}
			r.DeleteGlobalRef(ref)
		}
	}()
	go func() {
		defer wg.Done()
		r.dropProcessor(h)
	}()
	wg.Wait()

	if _, err := r.BinaryProcessor(ctx, proc); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("BinaryProcessor after drop: %v", err)
	}
	if _, _, err := r.processor(proc); err == nil {
		t.Fatalf("processor still registered")
	}
	r.objects.Each(func(_ resource.Handle, v any) bool {
		switch v.(type) {
		case *processor, *binaryProcessor:
			t.Errorf("%T left behind after drop", v)
		}
		return true
	})
}
