package ikcp

import "testing"

const testConv = 0x01020304

// capture collects every datagram written by an engine.
type capture struct {
	packets [][]byte
}

func (c *capture) output(buf []byte) {
	c.packets = append(c.packets, append([]byte(nil), buf...))
}

// segments decodes every captured datagram and clears the capture.
func (c *capture) segments(t *testing.T) []Segment {
	t.Helper()
	var out []Segment
	for _, pkt := range c.packets {
		for len(pkt) > 0 {
			seg, n, err := Decode(pkt)
			if err != nil {
				t.Fatalf("captured datagram does not decode: %v", err)
			}
			out = append(out, seg)
			pkt = pkt[n:]
		}
	}
	c.packets = nil
	return out
}

func filterCmd(segs []Segment, cmd Cmd) []Segment {
	var out []Segment
	for _, s := range segs {
		if s.Cmd == cmd {
			out = append(out, s)
		}
	}
	return out
}

func newTestKcp(t *testing.T, cfg Config) (*Kcp, *capture) {
	t.Helper()
	c := &capture{}
	kcp, err := New(testConv, cfg, c.output)
	if err != nil {
		t.Fatal(err)
	}
	return kcp, c
}

func push(sn, una uint32, frg uint8, data []byte) []byte {
	return Encode(&Segment{Conv: testConv, Cmd: CmdPush, Wnd: WndRcv, Sn: sn, Una: una, Frg: frg, Data: data})
}

func ack(sn, ts, una uint32) []byte {
	return Encode(&Segment{Conv: testConv, Cmd: CmdAck, Wnd: WndRcv, Sn: sn, Ts: ts, Una: una})
}

func control(cmd Cmd, wnd uint16) []byte {
	return Encode(&Segment{Conv: testConv, Cmd: cmd, Wnd: wnd})
}

// checkWindowSafety checks sndUna <= sn < sndNxt for every buffered segment and that
// the flight is no larger than limit.
func checkWindowSafety(t *testing.T, kcp *Kcp, limit uint32) {
	t.Helper()
	kcp.sndBuf.Ascend(func(s *segment) bool {
		if !kcp.inFlight(s.Sn) {
			t.Fatalf("sn %d outside [%d, %d)", s.Sn, kcp.sndUna, kcp.sndNxt)
		}
		return true
	})
	if flight := kcp.sndNxt - kcp.sndUna; flight > limit {
		t.Fatalf("%d segments in flight, window is %d", flight, limit)
	}
}
