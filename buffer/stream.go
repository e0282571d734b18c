package buffer

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/wippyai/interop-bridge/errors"
)

// Stream reads and writes little-endian values at a moving position.
// Reads are bounded by the buffer's published length; writes grow the
// buffer through Reallocate and are published by Synchronize.
type Stream struct {
	ctx     context.Context
	buf     Buffer
	pos     int32
	scratch [4]byte
}

// NewStream creates a stream positioned at the start of buf.
func NewStream(ctx context.Context, buf Buffer) *Stream {
	return &Stream{ctx: ctx, buf: buf}
}

// Position returns the current offset.
func (s *Stream) Position() int32 {
	return s.pos
}

// Seek moves to an absolute offset within the buffer capacity.
func (s *Stream) Seek(pos int32) error {
	if pos < 0 || pos > s.buf.Capacity() {
		return errors.OutOfBounds(errors.PhaseDecode, int(pos), 0, int(s.buf.Capacity()))
	}
	s.pos = pos
	return nil
}

// Remaining returns the number of published bytes after the position.
func (s *Stream) Remaining() int32 {
	if n := s.buf.Length() - s.pos; n > 0 {
		return n
	}
	return 0
}

func (s *Stream) ensureReadable(n int32) error {
	if n < 0 || n > s.Remaining() {
		return errors.OutOfBounds(errors.PhaseDecode, int(s.pos), int(n), int(s.buf.Length()))
	}
	return nil
}

// ReadInt32 reads a little-endian int32.
func (s *Stream) ReadInt32() (int32, error) {
	if err := s.ensureReadable(4); err != nil {
		return 0, err
	}
	if err := s.buf.ReadAt(s.scratch[:], s.pos); err != nil {
		return 0, err
	}
	s.pos += 4
	return int32(binary.LittleEndian.Uint32(s.scratch[:])), nil
}

// ReadBytes reads n bytes into a new slice.
func (s *Stream) ReadBytes(n int32) ([]byte, error) {
	if err := s.ensureReadable(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if err := s.buf.ReadAt(out, s.pos); err != nil {
		return nil, err
	}
	s.pos += n
	return out, nil
}

// ReadString reads a length-prefixed string. A length of -1 means absent
// and returns ok == false without allocating.
func (s *Stream) ReadString() (value string, ok bool, err error) {
	start := s.pos
	n, err := s.ReadInt32()
	if err != nil {
		return "", false, err
	}
	if n == -1 {
		return "", false, nil
	}
	if n < -1 {
		s.pos = start
		return "", false, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(n).Detail("negative string length %d", n).Build()
	}

	data, err := s.ReadBytes(n)
	if err != nil {
		s.pos = start
		return "", false, err
	}
	return string(data), true, nil
}

func (s *Stream) ensureWritable(n int) error {
	need := int64(s.pos) + int64(n)
	if need > math.MaxInt32 {
		return errors.AllocationFailed(errors.PhaseEncode, math.MaxInt32, math.MaxInt32)
	}

	capacity := s.buf.Capacity()
	if int32(need) <= capacity {
		return nil
	}

	grown := int64(capacity) * 2
	if grown < need || grown > math.MaxInt32 {
		grown = need
	}
	if err := s.buf.Reallocate(s.ctx, int32(grown)); err != nil {
		if grown == need {
			return err
		}
		return s.buf.Reallocate(s.ctx, int32(need))
	}
	return nil
}

// WriteInt32 writes a little-endian int32.
func (s *Stream) WriteInt32(v int32) error {
	if err := s.ensureWritable(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s.scratch[:], uint32(v))
	if err := s.buf.WriteAt(s.scratch[:], s.pos); err != nil {
		return err
	}
	s.pos += 4
	return nil
}

// WriteBytes writes p verbatim.
func (s *Stream) WriteBytes(p []byte) error {
	if err := s.ensureWritable(len(p)); err != nil {
		return err
	}
	if err := s.buf.WriteAt(p, s.pos); err != nil {
		return err
	}
	s.pos += int32(len(p))
	return nil
}

// WriteString writes a length-prefixed string.
func (s *Stream) WriteString(v string) error {
	if len(v) > math.MaxInt32 {
		return errors.InvalidInput(errors.PhaseEncode, "string too long")
	}
	if err := s.WriteInt32(int32(len(v))); err != nil {
		return err
	}
	return s.WriteBytes([]byte(v))
}

// WriteAbsentString writes the -1 length marker.
func (s *Stream) WriteAbsentString() error {
	return s.WriteInt32(-1)
}

// Synchronize publishes everything written so far by setting the buffer
// length to the current position when it is further along.
func (s *Stream) Synchronize() error {
	if s.pos <= s.buf.Length() {
		return nil
	}
	return s.buf.SetLength(s.pos)
}
