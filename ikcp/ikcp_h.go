package ikcp

import (
	"github.com/google/btree"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/rs/zerolog"
)

//=====================================================================
//
// KCP - A Better ARQ Protocol Implementation
// skywind3000 (at) gmail.com, 2010-2011
//
// Features:
// + Average RTT reduce 30% - 40% vs traditional ARQ like tcp.
// + Maximum RTT reduce three times vs tcp.
// + Lightweight, distributed as a single source file.
//
//=====================================================================

//=====================================================================
// KCP BASIC
//=====================================================================
const (
	RtoNoDelay uint32 = 30  // no delay min rto
	RtoMin     uint32 = 100 // normal min rto
	RtoDef     uint32 = 200
	RtoMax     uint32 = 60000

	WndSnd   = 32
	WndRcv   = 128 // must >= max fragment size
	MtuDef   = 1400
	Interval = 100
	DeadLink = 20

	askSend uint32 = 1 // need to send CmdWindowAsk
	askTell uint32 = 2 // need to send CmdWindowInform

	threshInit uint32 = 2
	threshMin  uint32 = 2
	fastLimit  uint32 = 5      // segments sent more often than this only resend on timeout
	probeInit  uint32 = 7000   // 7 secs to probe window size
	probeLimit uint32 = 120000 // up to 120 secs to probe window
)

// State of the link as judged by the retransmission counter.
type State int32

const (
	StateAlive State = 0
	StateDead  State = -1
)

func (s State) String() string {
	if s == StateDead {
		return "dead"
	}
	return "alive"
}

// OutputFunc receives encoded segment batches. buf is reused once the call returns.
type OutputFunc func(buf []byte)

//---------------------------------------------------------------------
// segment with retransmission bookkeeping
//---------------------------------------------------------------------
type segment struct {
	Segment
	resendts uint32
	rto      uint32
	fastack  uint32
	xmit     uint32
	pending  bool // due for resend on the next flush
}

type ackItem struct {
	sn, ts uint32
}

// Stats is a snapshot of per-connection counters.
type Stats struct {
	BytesSent   uint64 // user bytes accepted by Send
	BytesRecv   uint64 // user bytes returned by Recv
	SegsSent    uint64 // push segments written, retransmits included
	SegsRecv    uint64 // new push segments stored
	Retransmits uint64 // timeout retransmissions
	FastRetx    uint64 // fast retransmissions
	AcksSent    uint64
	AcksRecv    uint64
	InvalidSegs uint64 // segments dropped for an unknown command

	SRTT   uint32
	RTTVar uint32
	RTO    uint32
	Cwnd   uint32
	RmtWnd uint32

	SndQueue int
	SndBuf   int
	RcvBuf   int
	RcvQueue int
}

//---------------------------------------------------------------------
// Kcp control block
//---------------------------------------------------------------------
type Kcp struct {
	conv, mtu, mss uint32
	state          State

	sndUna, sndNxt, rcvNxt uint32
	ssthresh               uint32

	rxRttval, rxSrtt, rxRto, rxMinrto, rtoMax uint32
	rttSeeded                                 bool

	sndWnd, rcvWnd, rmtWnd, cwnd, probe uint32

	current, interval, tsFlush, xmit uint32

	tsProbe, probeWait uint32
	deadLink, incr     uint32
	fastresend         uint32
	newAcked           uint32 // segments acknowledged since the last tick

	nodelay, updated         bool
	nocwnd, stream, ackNodly bool
	sndQueueLimit            int

	sndQueue []*segment
	rcvQueue []*segment
	sndBuf   *btree.BTreeG[*segment]
	rcvBuf   *btree.BTreeG[*segment]
	key      segment // lookup probe for the btrees

	acklist []ackItem

	buffer []byte
	output OutputFunc
	log    zerolog.Logger
	stats  Stats
}

func itimediff(later, earlier uint32) int32 {
	return int32(later - earlier)
}

// seqBefore reports a < b in serial number space.
func seqBefore(a, b uint32) bool {
	return seqnum.Value(a).LessThan(seqnum.Value(b))
}

func segLess(a, b *segment) bool {
	return seqBefore(a.Sn, b.Sn)
}
