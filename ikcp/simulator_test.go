package ikcp

import (
	"math/rand"
	"sort"
)

type delayPacket struct {
	data []byte
	ts   uint32
}

// LatencySimulator is a lossy two-way link driven by a virtual clock.
// Peer 0 sends to peer 1 and the other way round.
type LatencySimulator struct {
	current                  uint32
	lostrate, rttmin, rttmax int
	p12, p21                 []delayPacket
	r12, r21                 *rand.Rand
	rdelay                   *rand.Rand
}

// lostrate: round trip loss in percent
// rttmin, rttmax: round trip delay range in ms
func NewLatencySimulator(lostrate, rttmin, rttmax int) *LatencySimulator {
	return &LatencySimulator{
		lostrate: lostrate / 2, // one way
		rttmin:   rttmin / 2,
		rttmax:   rttmax / 2,
		r12:      rand.New(rand.NewSource(9)),
		r21:      rand.New(rand.NewSource(99)),
		rdelay:   rand.New(rand.NewSource(999)),
	}
}

func (p *LatencySimulator) Advance(ms uint32) {
	p.current += ms
}

func (p *LatencySimulator) Now() uint32 {
	return p.current
}

// Send queues a copy of data. It reports false when the packet was dropped.
func (p *LatencySimulator) Send(peer int, data []byte) bool {
	rnd := p.r21
	if peer == 0 {
		rnd = p.r12
	}
	if rnd.Intn(100) < p.lostrate {
		return false
	}
	delay := p.rttmin
	if p.rttmax > p.rttmin {
		delay += p.rdelay.Intn(p.rttmax - p.rttmin)
	}
	pkt := delayPacket{data: append([]byte(nil), data...), ts: p.current + uint32(delay)}
	if peer == 0 {
		p.p12 = insertPacket(p.p12, pkt)
	} else {
		p.p21 = insertPacket(p.p21, pkt)
	}
	return true
}

func insertPacket(q []delayPacket, pkt delayPacket) []delayPacket {
	i := sort.Search(len(q), func(i int) bool { return itimediff(q[i].ts, pkt.ts) > 0 })
	q = append(q, delayPacket{})
	copy(q[i+1:], q[i:])
	q[i] = pkt
	return q
}

// Recv returns the next packet that arrived at peer, or nil.
func (p *LatencySimulator) Recv(peer int) []byte {
	q := &p.p12
	if peer == 0 {
		q = &p.p21
	}
	if len(*q) == 0 || itimediff(p.current, (*q)[0].ts) < 0 {
		return nil
	}
	pkt := (*q)[0]
	*q = (*q)[1:]
	return pkt.data
}
