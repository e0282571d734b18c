// Package buffer implements the memory regions shared across the runtime
// boundary.
//
// A buffer is one of two variants, decided once and never changed:
//
//	*Owned     allocated, grown and released by native code
//	*External  owned by the managed runtime; native code reads and writes
//	           inside it but asks the managed side to grow it
//
// Both satisfy the sealed Buffer interface, so code that needs to know the
// variant uses a type switch instead of checking flags at every call.
//
// # Addresses
//
// The managed side refers to buffers by Address. The two low bits are the
// kind tag and are the only bits consulted when classifying:
//
//	00  owned     payload is a buffer-table handle
//	01  external  payload is a header offset in the managed heap
//	10  pooled    reserved
//	11  invalid
//
// An external address points at a fixed 20-byte header (data pointer,
// capacity, length, flags). The managed side may move the data region when
// it grows the buffer, so External re-reads the header on every access.
//
// # Streams
//
// Stream provides position-based reads and writes. Strings are encoded as a
// little-endian int32 length followed by the bytes, with -1 meaning absent.
package buffer
