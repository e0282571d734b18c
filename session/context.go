package session

import (
	"context"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/buffer"
	"github.com/wippyai/interop-bridge/metadata"
)

// Context is the dispatch context through which a session calls into the
// managed runtime. It also grows external buffers and serves as the remote
// schema store.
type Context interface {
	// NewGlobalRef pins obj so it outlives the callback that supplied it.
	NewGlobalRef(obj bridge.Ref) (bridge.Ref, error)

	// DeleteGlobalRef unpins a reference returned by NewGlobalRef or
	// BinaryProcessor.
	DeleteGlobalRef(ref bridge.Ref)

	// BinaryProcessor returns a pinned reference to the binary processor
	// owned by proc.
	BinaryProcessor(ctx context.Context, proc bridge.Ref) (bridge.Ref, error)

	// ReleaseStart tells proc that a release sequence has begun.
	ReleaseStart(ctx context.Context, proc bridge.Ref) error

	// Memory returns the managed heap external buffers live in.
	Memory() bridge.Memory

	buffer.Reallocator
	metadata.Store
}
