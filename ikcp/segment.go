package ikcp

import "encoding/binary"

// Overhead is the encoded header size:
// conv(4) cmd(1) frg(1) wnd(2) ts(4) sn(4) una(4) len(4) opt(4).
const Overhead = 28

// Cmd is the segment command tag.
type Cmd uint8

const (
	CmdAck          Cmd = 1 // cmd: ack
	CmdPush         Cmd = 2 // cmd: push data
	CmdWindowAsk    Cmd = 3 // cmd: window probe (ask)
	CmdWindowInform Cmd = 4 // cmd: window size (tell)
)

func (c Cmd) Valid() bool {
	return c >= CmdAck && c <= CmdWindowInform
}

func (c Cmd) String() string {
	switch c {
	case CmdAck:
		return "ack"
	case CmdPush:
		return "push"
	case CmdWindowAsk:
		return "wask"
	case CmdWindowInform:
		return "wins"
	}
	return "invalid"
}

// Segment is one wire unit. The payload length on the wire is len(Data).
type Segment struct {
	Conv uint32
	Cmd  Cmd
	Frg  uint8
	Wnd  uint16
	Ts   uint32
	Sn   uint32
	Una  uint32
	Opt  uint32 // reserved, zero on everything this package sends
	Data []byte
}

//---------------------------------------------------------------------
// encode / decode
//---------------------------------------------------------------------

/* encode 8 bits unsigned int */
func encode8u(p []byte, c byte) []byte {
	p[0] = c
	return p[1:]
}

/* decode 8 bits unsigned int */
func decode8u(p []byte, c *byte) []byte {
	*c = p[0]
	return p[1:]
}

/* encode 16 bits unsigned int (lsb) */
func encode16u(p []byte, w uint16) []byte {
	binary.LittleEndian.PutUint16(p, w)
	return p[2:]
}

/* decode 16 bits unsigned int (lsb) */
func decode16u(p []byte, w *uint16) []byte {
	*w = binary.LittleEndian.Uint16(p)
	return p[2:]
}

/* encode 32 bits unsigned int (lsb) */
func encode32u(p []byte, l uint32) []byte {
	binary.LittleEndian.PutUint32(p, l)
	return p[4:]
}

/* decode 32 bits unsigned int (lsb) */
func decode32u(p []byte, l *uint32) []byte {
	*l = binary.LittleEndian.Uint32(p)
	return p[4:]
}

// EncodeTo writes the segment into buf and returns the number of bytes written.
// buf must hold Overhead bytes plus the payload of a push segment.
func (seg *Segment) EncodeTo(buf []byte) int {
	var length uint32
	if seg.Cmd == CmdPush {
		length = uint32(len(seg.Data))
	}
	ptr := encode32u(buf, seg.Conv)
	ptr = encode8u(ptr, byte(seg.Cmd))
	ptr = encode8u(ptr, seg.Frg)
	ptr = encode16u(ptr, seg.Wnd)
	ptr = encode32u(ptr, seg.Ts)
	ptr = encode32u(ptr, seg.Sn)
	ptr = encode32u(ptr, seg.Una)
	ptr = encode32u(ptr, length)
	ptr = encode32u(ptr, seg.Opt)
	copy(ptr, seg.Data[:length])
	return Overhead + int(length)
}

// Encode returns the wire form of seg.
func Encode(seg *Segment) []byte {
	size := Overhead
	if seg.Cmd == CmdPush {
		size += len(seg.Data)
	}
	buf := make([]byte, size)
	seg.EncodeTo(buf)
	return buf
}

// Check returns the length of the complete segment at the head of buf, or 0 when buf
// holds less than a header, the declared payload exceeds mss, or the payload is not
// all there yet.
func Check(buf []byte, mss int) int {
	if len(buf) < Overhead {
		return 0
	}
	length := binary.LittleEndian.Uint32(buf[20:])
	if uint64(length) > uint64(mss) {
		return 0
	}
	if uint64(Overhead)+uint64(length) > uint64(len(buf)) {
		return 0
	}
	return Overhead + int(length)
}

// Decode parses the segment at the head of buf and returns it with its encoded length.
// The returned Data aliases buf. On ErrInvalidCommand the length is still valid so the
// caller can skip the segment.
func Decode(buf []byte) (seg Segment, n int, err error) {
	if len(buf) < Overhead {
		return seg, 0, ErrNotAvailable
	}
	var cmd byte
	var length uint32
	ptr := decode32u(buf, &seg.Conv)
	ptr = decode8u(ptr, &cmd)
	ptr = decode8u(ptr, &seg.Frg)
	ptr = decode16u(ptr, &seg.Wnd)
	ptr = decode32u(ptr, &seg.Ts)
	ptr = decode32u(ptr, &seg.Sn)
	ptr = decode32u(ptr, &seg.Una)
	ptr = decode32u(ptr, &length)
	decode32u(ptr, &seg.Opt)
	seg.Cmd = Cmd(cmd)

	if uint64(length) > uint64(len(buf)-Overhead) {
		return seg, 0, ErrInvalidHeader
	}
	n = Overhead + int(length)
	if !seg.Cmd.Valid() {
		return seg, n, ErrInvalidCommand
	}
	if seg.Cmd != CmdPush && length != 0 {
		return seg, 0, ErrInvalidHeader
	}
	if length > 0 {
		seg.Data = buf[Overhead:n:n]
	}
	return seg, n, nil
}
