package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire format: every message opens with the target object id followed by a
// word packing the total byte size (header included) into the upper half
// and the opcode into the lower. Arguments follow 32-bit aligned in the
// byte order of the host. File descriptors never appear in the payload;
// they travel as SCM_RIGHTS ancillary data, ordered like the messages that
// reference them.

const (
	headerSize     = 8
	maxMessageSize = 0xffff // the size field is 16 bits
)

var errTruncated = errors.New("truncated message")

type argKind uint8

const (
	argUint argKind = iota
	argString
	argFD
)

// arg is one request argument. Objects and new_ids are plain uints on the
// wire, so they share a kind.
type arg struct {
	kind argKind
	u    uint32
	s    string
	fd   int
}

func uintArg(v uint32) arg    { return arg{kind: argUint, u: v} }
func objectArg(id uint32) arg { return arg{kind: argUint, u: id} }
func newIDArg(id uint32) arg  { return arg{kind: argUint, u: id} }
func stringArg(s string) arg  { return arg{kind: argString, s: s} }
func fdArg(fd int) arg        { return arg{kind: argFD, fd: fd} }

// wireSize returns the payload bytes the argument occupies.
func (a arg) wireSize() int {
	switch a.kind {
	case argString:
		return 4 + pad4(len(a.s)+1)
	case argFD:
		return 0
	default:
		return 4
	}
}

func pad4(n int) int { return (n + 3) &^ 3 }

// encodeMsg frames one request, returning the wire bytes and the file
// descriptors to send alongside them.
func encodeMsg(id uint32, opcode uint16, args ...arg) ([]byte, []int, error) {
	size := headerSize
	for _, a := range args {
		size += a.wireSize()
	}
	if size > maxMessageSize {
		return nil, nil, fmt.Errorf("message size %d exceeds protocol limit", size)
	}
	buf := make([]byte, 0, size)
	buf = binary.NativeEndian.AppendUint32(buf, id)
	buf = binary.NativeEndian.AppendUint32(buf, uint32(size)<<16|uint32(opcode))
	var fds []int
	for _, a := range args {
		switch a.kind {
		case argString:
			// length counts the terminating NUL; data pads to 32 bits
			buf = binary.NativeEndian.AppendUint32(buf, uint32(len(a.s)+1))
			buf = append(buf, a.s...)
			buf = append(buf, 0)
			for len(buf)%4 != 0 {
				buf = append(buf, 0)
			}
		case argFD:
			fds = append(fds, a.fd)
		default:
			buf = binary.NativeEndian.AppendUint32(buf, a.u)
		}
	}
	return buf, fds, nil
}

// parseHeader splits a message header into its fields.
func parseHeader(b []byte) (id uint32, opcode uint16, size int) {
	id = binary.NativeEndian.Uint32(b)
	word := binary.NativeEndian.Uint32(b[4:])
	return id, uint16(word & 0xffff), int(word >> 16)
}

// fdQueue holds file descriptors received ahead of the messages that claim
// them.
type fdQueue struct {
	fds []int
}

func (q *fdQueue) push(fd int) { q.fds = append(q.fds, fd) }

func (q *fdQueue) pop() (int, bool) {
	if len(q.fds) == 0 {
		return -1, false
	}
	fd := q.fds[0]
	q.fds = q.fds[1:]
	return fd, true
}

// take empties the queue and returns what was in it.
func (q *fdQueue) take() []int {
	fds := q.fds
	q.fds = nil
	return fds
}

// msgReader walks the argument block of one event. Errors are sticky; the
// dispatcher checks err once the handler returns. A handler only has to
// decode the arguments it cares about, except that file descriptor
// arguments must always be popped so the ancillary queue stays aligned.
type msgReader struct {
	data []byte
	off  int
	fds  *fdQueue
	err  error
}

func (m *msgReader) uint() uint32 {
	if m.err != nil {
		return 0
	}
	if m.off+4 > len(m.data) {
		m.err = errTruncated
		return 0
	}
	v := binary.NativeEndian.Uint32(m.data[m.off:])
	m.off += 4
	return v
}

func (m *msgReader) str() string {
	n := int(m.uint())
	if m.err != nil {
		return ""
	}
	if n == 0 {
		return "" // null string argument
	}
	end := m.off + pad4(n)
	if n < 0 || end > len(m.data) {
		m.err = errTruncated
		return ""
	}
	s := string(m.data[m.off : m.off+n-1])
	m.off = end
	return s
}

func (m *msgReader) fd() int {
	if m.err != nil {
		return -1
	}
	fd, ok := m.fds.pop()
	if !ok {
		m.err = errors.New("missing file descriptor argument")
		return -1
	}
	return fd
}
