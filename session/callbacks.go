package session

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/errors"
)

// ErrorFunc receives failures raised inside callback entries.
type ErrorFunc func(target Handle, err *errors.Error)

// CallbackTable is what the managed runtime is given for one session:
// Target is handed back as the first argument of every entry. Entries never
// panic and never return errors; failures go to Error.
type CallbackTable struct {
	OnStart    func(ctx context.Context, target Handle, proc bridge.Ref, addr buffer.Address)
	OnStop     func(ctx context.Context, target Handle)
	MemRealloc func(ctx context.Context, target Handle, addr buffer.Address, capacity int32)
	Error      ErrorFunc
	Target     Handle
}

// Callbacks builds the callback table for h. A nil onError logs failures
// at error level instead.
func (r *Registry) Callbacks(h Handle, onError ErrorFunc) CallbackTable {
	t := CallbackTable{Target: h, Error: onError}

	t.OnStart = func(ctx context.Context, target Handle, proc bridge.Ref, addr buffer.Address) {
		defer t.contain(target, errors.PhaseStart)
		t.report(target, errors.PhaseStart, r.OnStart(ctx, target, proc, addr))
	}
	t.OnStop = func(ctx context.Context, target Handle) {
		defer t.contain(target, errors.PhaseStop)
		t.report(target, errors.PhaseStop, r.OnStop(ctx, target))
	}
	t.MemRealloc = func(ctx context.Context, target Handle, addr buffer.Address, capacity int32) {
		defer t.contain(target, errors.PhaseRealloc)
		t.report(target, errors.PhaseRealloc, r.OnMemoryReallocate(ctx, target, addr, capacity))
	}
	return t
}

func (t CallbackTable) contain(target Handle, phase errors.Phase) {
	if r := recover(); r != nil {
		t.report(target, phase, errors.Recovered(phase, r))
	}
}

func (t CallbackTable) report(target Handle, phase errors.Phase, err error) {
	if err == nil {
		return
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = errors.Wrap(phase, errors.KindProtocolViolation, err, "callback failed")
	}
	if e.Handle == 0 {
		e.Handle = uint64(target)
	}

	if t.Error != nil {
		defer func() {
			if r := recover(); r != nil {
				Logger().Error("callback error hook panicked",
					zap.Uint64("handle", uint64(target)),
					zap.Any("panic", r))
			}
		}()
		t.Error(target, e)
		return
	}
	Logger().Error("callback failed",
		zap.Uint64("handle", uint64(target)),
		zap.String("phase", string(e.Phase)),
		zap.String("kind", string(e.Kind)),
		zap.Error(e))
}
