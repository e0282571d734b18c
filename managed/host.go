package managed

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/session"
)

// Host module exported to managed code.
const (
	HostModuleName = "bridge"

	FuncOnStart    = "on_start"    // (target i64, proc i64, addr i64)
	FuncOnStop     = "on_stop"     // (target i64)
	FuncMemRealloc = "mem_realloc" // (target i64, addr i64, capacity i32)
)

// ExportCallbacks instantiates the host module through which wasm code
// drives the callbacks of reg. Entries dispatch on their target argument
// and report failures to onError.
func ExportCallbacks(ctx context.Context, rt wazero.Runtime, reg *session.Registry, onError session.ErrorFunc) (api.Module, error) {
	tbl := reg.Callbacks(0, onError)
	i64, i32 := api.ValueTypeI64, api.ValueTypeI32

	builder := rt.NewHostModuleBuilder(HostModuleName)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
			tbl.OnStart(ctx, session.Handle(stack[0]), bridge.Ref(stack[1]), buffer.Address(stack[2]))
		}), []api.ValueType{i64, i64, i64}, nil).
		Export(FuncOnStart)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
			tbl.OnStop(ctx, session.Handle(stack[0]))
		}), []api.ValueType{i64}, nil).
		Export(FuncOnStop)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
			tbl.MemRealloc(ctx, session.Handle(stack[0]), buffer.Address(stack[1]), api.DecodeI32(stack[2]))
		}), []api.ValueType{i64, i64, i32}, nil).
		Export(FuncMemRealloc)

	return builder.Instantiate(ctx)
}
