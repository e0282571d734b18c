package buffer

import (
	"fmt"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/resource"
)

// Address is a buffer reference handed across the runtime boundary.
// Bits 0-1 carry the Kind tag; the remaining bits carry the payload, a
// buffer-table handle for owned buffers or a header offset in the managed
// heap for external ones. The zero Address is null.
type Address uint64

// Kind is the ownership variant of a buffer.
type Kind uint8

const (
	KindOwned    Kind = 0b00 // allocated and freed by native code
	KindExternal Kind = 0b01 // owned by the managed runtime
	KindPooled   Kind = 0b10 // reserved for pooled reuse, not resolvable yet

	tagBits = 2
	tagMask = 1<<tagBits - 1
)

func (k Kind) String() string {
	switch k {
	case KindOwned:
		return "owned"
	case KindExternal:
		return "external"
	case KindPooled:
		return "pooled"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// OwnedAddress encodes a buffer-table handle as an owned address.
func OwnedAddress(h resource.Handle) Address {
	return Address(uint64(h)<<tagBits) | Address(KindOwned)
}

// ExternalAddress encodes a managed header offset as an external address.
func ExternalAddress(header uint32) Address {
	return Address(uint64(header)<<tagBits) | Address(KindExternal)
}

// Tag returns the raw kind bits without validating them.
func (a Address) Tag() Kind {
	return Kind(a & tagMask)
}

func (a Address) payload() uint64 {
	return uint64(a) >> tagBits
}

// Classify decodes the kind tag. Only the tag bits are consulted. Null
// addresses and tags that cannot be resolved are protocol violations.
func (a Address) Classify() (Kind, error) {
	if a == 0 {
		return 0, errors.ProtocolViolation(errors.PhaseResolve, "null buffer address")
	}
	switch k := a.Tag(); k {
	case KindOwned:
		if a.payload() == 0 {
			return 0, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
				Address(uint64(a)).Detail("owned address without handle").Build()
		}
		return k, nil
	case KindExternal:
		if a.payload() > 0xFFFFFFFF {
			return 0, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
				Address(uint64(a)).Detail("external header offset out of range").Build()
		}
		return k, nil
	case KindPooled:
		return 0, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
			Address(uint64(a)).Value(k).Detail("pooled buffers are not supported").Build()
	default:
		return 0, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
			Address(uint64(a)).Value(k).Detail("unrecognized buffer kind %s", k).Build()
	}
}

func (a Address) handle() resource.Handle {
	return resource.Handle(a.payload())
}

func (a Address) header() uint32 {
	return uint32(a.payload())
}

// HeaderOffset returns the managed header offset named by an external
// address.
func (a Address) HeaderOffset() (uint32, error) {
	kind, err := a.Classify()
	if err != nil {
		return 0, err
	}
	if kind != KindExternal {
		return 0, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
			Address(uint64(a)).Detail("%s address has no managed header", kind).Build()
	}
	return a.header(), nil
}

func (a Address) String() string {
	return fmt.Sprintf("%s@%#x", a.Tag(), a.payload())
}
