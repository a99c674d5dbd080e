package ikcp

import (
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"
)

//---------------------------------------------------------------------
// parse ack
//---------------------------------------------------------------------
func (kcp *Kcp) updateAck(rtt int32) {
	if !kcp.rttSeeded {
		kcp.rttSeeded = true
		kcp.rxSrtt = uint32(rtt)
		kcp.rxRttval = uint32(rtt) / 2
	} else {
		delta := rtt - int32(kcp.rxSrtt)
		if delta < 0 {
			delta = -delta
		}
		kcp.rxRttval = (3*kcp.rxRttval + uint32(delta)) / 4
		kcp.rxSrtt = (7*kcp.rxSrtt + uint32(rtt)) / 8
		if kcp.rxSrtt < 1 {
			kcp.rxSrtt = 1
		}
	}
	rto := kcp.rxSrtt + max32(kcp.interval, 4*kcp.rxRttval)
	kcp.rxRto = bound32(kcp.rxMinrto, rto, kcp.rtoMax)
}

// shrinkBuf advances sndUna to the first unacknowledged sn.
func (kcp *Kcp) shrinkBuf() {
	if seg, ok := kcp.sndBuf.Min(); ok {
		kcp.sndUna = seg.Sn
	} else {
		kcp.sndUna = kcp.sndNxt
	}
}

// inFlight reports sndUna <= sn < sndNxt.
func (kcp *Kcp) inFlight(sn uint32) bool {
	return seqnum.Value(sn).InRange(seqnum.Value(kcp.sndUna), seqnum.Value(kcp.sndNxt))
}

func (kcp *Kcp) parseAck(sn uint32) *segment {
	if !kcp.inFlight(sn) {
		return nil
	}
	kcp.key.Sn = sn
	seg, ok := kcp.sndBuf.Delete(&kcp.key)
	if !ok {
		return nil
	}
	kcp.newAcked++
	return seg
}

func (kcp *Kcp) parseUna(una uint32) {
	for kcp.sndBuf.Len() > 0 {
		seg, _ := kcp.sndBuf.Min()
		if !seqBefore(seg.Sn, una) {
			break
		}
		kcp.sndBuf.DeleteMin()
		kcp.newAcked++
	}
}

func (kcp *Kcp) parseFastack(sn uint32) {
	kcp.key.Sn = sn
	kcp.sndBuf.AscendLessThan(&kcp.key, func(seg *segment) bool {
		seg.fastack++
		return true
	})
}

//---------------------------------------------------------------------
// ack append
//---------------------------------------------------------------------
func (kcp *Kcp) ackPush(sn, ts uint32) {
	kcp.acklist = append(kcp.acklist, ackItem{sn: sn, ts: ts})
}

//---------------------------------------------------------------------
// parse data
//---------------------------------------------------------------------
func (kcp *Kcp) parseData(newseg *segment) {
	sn := newseg.Sn
	if seqBefore(sn, kcp.rcvNxt) || kcp.rcvBuf.Has(newseg) {
		return
	}
	kcp.rcvBuf.ReplaceOrInsert(newseg)
	kcp.stats.SegsRecv++
	kcp.moveToRcvQueue()
}

// Input feeds one datagram of concatenated segments received from the peer.
func (kcp *Kcp) Input(data []byte) error {
	if len(data) < Overhead {
		return nil
	}
	kcp.log.Trace().Int("size", len(data)).Msg("input")

	var firstErr error
	offset := 0
	for len(data)-offset >= Overhead {
		buf := data[offset:]
		if Check(buf, int(kcp.mss)) == 0 {
			return errors.Wrapf(ErrInvalidHeader, "offset %d", offset)
		}
		seg, n, err := Decode(buf)
		if err != nil && errors.Cause(err) != ErrInvalidCommand {
			return errors.Wrapf(err, "offset %d", offset)
		}
		if seg.Conv != kcp.conv {
			return errors.Wrapf(ErrConvMismatch, "got %d want %d", seg.Conv, kcp.conv)
		}
		offset += n
		if err != nil {
			kcp.stats.InvalidSegs++
			kcp.log.Debug().Uint8("cmd", uint8(seg.Cmd)).Int("offset", offset-n).Msg("invalid command")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "cmd %d at offset %d", seg.Cmd, offset-n)
			}
			continue
		}

		kcp.rmtWnd = uint32(seg.Wnd)
		// the ack is matched before una pruning so its retransmission count is known
		var acked *segment
		ackInFlight := false
		if seg.Cmd == CmdAck {
			kcp.stats.AcksRecv++
			ackInFlight = kcp.inFlight(seg.Sn)
			acked = kcp.parseAck(seg.Sn)
		}
		kcp.parseUna(seg.Una)
		kcp.shrinkBuf()

		switch seg.Cmd {
		case CmdAck:
			if acked != nil && acked.xmit == 1 {
				if rtt := itimediff(kcp.current, seg.Ts); rtt >= 0 {
					kcp.updateAck(rtt)
				}
			}
			// a duplicate ack still counts as a skip for earlier segments
			if ackInFlight {
				kcp.parseFastack(seg.Sn)
			}
		case CmdPush:
			if seqBefore(seg.Sn, kcp.rcvNxt+kcp.rcvWnd) {
				kcp.ackPush(seg.Sn, seg.Ts)
				if !seqBefore(seg.Sn, kcp.rcvNxt) {
					newseg := &segment{Segment: seg}
					newseg.Data = append([]byte(nil), seg.Data...)
					kcp.parseData(newseg)
				}
			}
		case CmdWindowAsk:
			// ready to send back CmdWindowInform in Flush
			// tell remote my window size
			kcp.probe |= askTell
		case CmdWindowInform:
			// do nothing
		}
	}

	if kcp.ackNodly && len(kcp.acklist) > 0 {
		kcp.Flush()
	}
	return firstErr
}

func max32(a, b uint32) uint32 {
	if a >= b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a <= b {
		return a
	}
	return b
}

func bound32(lower, middle, upper uint32) uint32 {
	return min32(max32(lower, middle), upper)
}
