package ikcp

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

//---------------------------------------------------------------------
// user/upper level recv: returns the next complete message
//---------------------------------------------------------------------
func (kcp *Kcp) Recv() ([]byte, error) {
	peeksize := kcp.PeekSize()
	if peeksize < 0 {
		return nil, ErrNotAvailable
	}

	fastRecover := uint32(len(kcp.rcvQueue)) >= kcp.rcvWnd

	// merge fragment
	buffer := make([]byte, 0, peeksize)
	count := 0
	for _, seg := range kcp.rcvQueue {
		buffer = append(buffer, seg.Data...)
		count++
		if seg.Frg == 0 {
			break
		}
	}
	for i := 0; i < count; i++ {
		kcp.rcvQueue[i] = nil
	}
	kcp.rcvQueue = kcp.rcvQueue[count:]

	// move available data from rcvBuf -> rcvQueue
	kcp.moveToRcvQueue()

	// fast recover
	if uint32(len(kcp.rcvQueue)) < kcp.rcvWnd && fastRecover {
		// ready to send back CmdWindowInform in Flush
		// tell remote my window size
		kcp.probe |= askTell
	}
	kcp.stats.BytesRecv += uint64(len(buffer))
	return buffer, nil
}

//---------------------------------------------------------------------
// peek data size
//---------------------------------------------------------------------
func (kcp *Kcp) PeekSize() int {
	if len(kcp.rcvQueue) == 0 {
		return -1
	}
	seg := kcp.rcvQueue[0]
	if seg.Frg == 0 {
		return len(seg.Data)
	}
	if len(kcp.rcvQueue) < int(seg.Frg)+1 {
		return -1
	}
	length := 0
	for _, seg := range kcp.rcvQueue {
		length += len(seg.Data)
		if seg.Frg == 0 {
			break
		}
	}
	return length
}

//---------------------------------------------------------------------
// user/upper level send
//---------------------------------------------------------------------
func (kcp *Kcp) Send(data []byte) error {
	if kcp.sndQueueLimit > 0 && len(kcp.sndQueue) >= kcp.sndQueueLimit {
		return ErrQueueFull
	}
	mss := int(kcp.mss)

	// append to previous segment in streaming mode (if possible)
	if kcp.stream {
		if n := len(kcp.sndQueue); n > 0 {
			old := kcp.sndQueue[n-1]
			if len(old.Data) < mss {
				extend := mss - len(old.Data)
				if extend > len(data) {
					extend = len(data)
				}
				old.Data = append(old.Data, data[:extend]...)
				kcp.stats.BytesSent += uint64(extend)
				data = data[extend:]
				if len(data) == 0 {
					return nil
				}
			}
		}
	}

	count := 1
	if len(data) > mss {
		count = (len(data) + mss - 1) / mss
	}
	if !kcp.stream && (count > 256 || uint32(count) > kcp.rcvWnd) {
		return errors.Wrapf(ErrMessageTooLarge, "%d bytes in %d fragments", len(data), count)
	}
	if kcp.sndQueueLimit > 0 && len(kcp.sndQueue)+count > kcp.sndQueueLimit && !kcp.stream {
		return ErrQueueFull
	}

	for i := 0; i < count; i++ {
		size := len(data)
		if size > mss {
			size = mss
		}
		seg := &segment{}
		seg.Data = make([]byte, size, mss)
		copy(seg.Data, data[:size])
		if !kcp.stream {
			seg.Frg = uint8(count - i - 1)
		}
		kcp.sndQueue = append(kcp.sndQueue, seg)
		kcp.stats.BytesSent += uint64(size)
		data = data[size:]
	}
	return nil
}

// moveToRcvQueue moves contiguous segments from rcvBuf while the queue has room.
func (kcp *Kcp) moveToRcvQueue() {
	for kcp.rcvBuf.Len() > 0 && uint32(len(kcp.rcvQueue)) < kcp.rcvWnd {
		seg, _ := kcp.rcvBuf.Min()
		if seg.Sn != kcp.rcvNxt {
			break
		}
		kcp.rcvBuf.DeleteMin()
		kcp.rcvQueue = append(kcp.rcvQueue, seg)
		kcp.rcvNxt++
	}
}

func (kcp *Kcp) wndUnused() uint16 {
	used := uint32(kcp.rcvBuf.Len() + len(kcp.rcvQueue))
	if used >= kcp.rcvWnd {
		return 0
	}
	return uint16(kcp.rcvWnd - used)
}

// WaitSnd is the number of segments queued or in flight.
func (kcp *Kcp) WaitSnd() int {
	return kcp.sndBuf.Len() + len(kcp.sndQueue)
}

func (kcp *Kcp) Conv() uint32 {
	return kcp.conv
}

func (kcp *Kcp) Mss() int {
	return int(kcp.mss)
}

// Interval is the update period in ms after defaults and clamping.
func (kcp *Kcp) Interval() uint32 {
	return kcp.interval
}

// RcvWnd is the receive window in segments after defaults.
func (kcp *Kcp) RcvWnd() int {
	return int(kcp.rcvWnd)
}

func (kcp *Kcp) State() State {
	return kcp.state
}

func (kcp *Kcp) Stats() Stats {
	s := kcp.stats
	s.SRTT = kcp.rxSrtt
	s.RTTVar = kcp.rxRttval
	s.RTO = kcp.rxRto
	s.Cwnd = kcp.cwnd
	s.RmtWnd = kcp.rmtWnd
	s.SndQueue = len(kcp.sndQueue)
	s.SndBuf = kcp.sndBuf.Len()
	s.RcvBuf = kcp.rcvBuf.Len()
	s.RcvQueue = len(kcp.rcvQueue)
	return s
}

func (kcp *Kcp) SetOutput(output OutputFunc) {
	kcp.output = output
}

func (kcp *Kcp) SetLogger(l zerolog.Logger) {
	kcp.log = l.With().Uint32("conv", kcp.conv).Logger()
}

// Release drops every queued segment. The control block must not be used afterwards.
func (kcp *Kcp) Release() {
	kcp.sndQueue = nil
	kcp.rcvQueue = nil
	kcp.sndBuf.Clear(false)
	kcp.rcvBuf.Clear(false)
	kcp.acklist = nil
	kcp.buffer = nil
	kcp.output = nil
}
