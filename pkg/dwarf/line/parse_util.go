package line

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/dwarfline/pkg/dwarf/leb128"
)

var (
	// ErrTruncated is returned when the section ends in the middle of a
	// field or opcode.
	ErrTruncated = errors.New("truncated .debug_line data")

	// ErrMalformedLength is returned when a unit's declared length
	// disagrees with the data actually available, or with the data consumed
	// by its header.
	ErrMalformedLength = errors.New("malformed unit length")

	// ErrMalformedHeader is returned for headers that can not describe a
	// decodable program (line_range or opcode_base of zero).
	ErrMalformedHeader = errors.New("malformed line program header")

	// ErrUnsupportedVersion is returned for line programs with a version
	// other than 2, 3 or 4.
	ErrUnsupportedVersion = errors.New("unsupported line program version")

	// ErrDWARF64 is returned for units using the 64-bit DWARF format.
	ErrDWARF64 = errors.New("64-bit DWARF format is not supported")
)

// DecodeError describes a fatal error encountered while decoding the
// line number section. Offset is relative to the start of the section.
type DecodeError struct {
	Offset int64
	Op     string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s at offset %#x: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// cursor reads fields out of the .debug_line section. Offsets are absolute
// section offsets, data is truncated at the end of the region the cursor
// is allowed to read (the whole section or a single unit).
type cursor struct {
	data  []byte
	off   int
	order binary.ByteOrder
}

func newCursor(data []byte, order binary.ByteOrder) *cursor {
	if order == nil {
		order = binary.LittleEndian
	}
	return &cursor{data: data, order: order}
}

// window returns a cursor that shares c's position but can not read past
// end.
func (c *cursor) window(end int) *cursor {
	return &cursor{data: c.data[:end], off: c.off, order: c.order}
}

// Len returns the number of unread bytes.
func (c *cursor) Len() int {
	return len(c.data) - c.off
}

// ReadByte implements io.ByteReader so that the cursor can be handed to
// the leb128 decoders.
func (c *cursor) ReadByte() (byte, error) {
	if c.off >= len(c.data) {
		return 0, ErrTruncated
	}
	b := c.data[c.off]
	c.off++
	return b, nil
}

func (c *cursor) errorf(op string, err error) error {
	return &DecodeError{Offset: int64(c.off), Op: op, Err: err}
}

func (c *cursor) next(op string, n int) ([]byte, error) {
	if n < 0 || c.Len() < n {
		return nil, c.errorf(op, ErrTruncated)
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u8(op string) (uint8, error) {
	b, err := c.next(op, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16(op string) (uint16, error) {
	b, err := c.next(op, 2)
	if err != nil {
		return 0, err
	}
	return c.order.Uint16(b), nil
}

func (c *cursor) u32(op string) (uint32, error) {
	b, err := c.next(op, 4)
	if err != nil {
		return 0, err
	}
	return c.order.Uint32(b), nil
}

func (c *cursor) u64(op string) (uint64, error) {
	b, err := c.next(op, 8)
	if err != nil {
		return 0, err
	}
	return c.order.Uint64(b), nil
}

func (c *cursor) skip(op string, n int) error {
	_, err := c.next(op, n)
	return err
}

// str returns the NUL-terminated string at the cursor, the terminator is
// consumed and discarded.
func (c *cursor) str(op string) (string, error) {
	for i := c.off; i < len(c.data); i++ {
		if c.data[i] == 0 {
			s := string(c.data[c.off:i])
			c.off = i + 1
			return s, nil
		}
	}
	return "", c.errorf(op, ErrTruncated)
}

func (c *cursor) uleb(op string) (uint64, error) {
	start := c.off
	v, _, err := leb128.DecodeUnsigned(c)
	if err != nil {
		c.off = start
		return 0, c.errorf(op, ErrTruncated)
	}
	return v, nil
}

func (c *cursor) sleb(op string) (int64, error) {
	start := c.off
	v, _, err := leb128.DecodeSigned(c)
	if err != nil {
		c.off = start
		return 0, c.errorf(op, ErrTruncated)
	}
	return v, nil
}
