package ikcp

//---------------------------------------------------------------------
// update state (call it repeatedly, every 10ms-100ms), or you can ask
// Check when to call it again (without Input/Send calling).
// 'current' - current timestamp in millisec.
//---------------------------------------------------------------------
func (kcp *Kcp) Update(current uint32) {
	kcp.current = current
	if !kcp.updated {
		kcp.updated = true
		kcp.tsFlush = kcp.current
	}

	slap := itimediff(kcp.current, kcp.tsFlush)
	if slap >= 10000 || slap < -10000 {
		kcp.tsFlush = kcp.current
		slap = 0
	}
	if slap < 0 {
		return
	}

	kcp.tsFlush += kcp.interval
	if itimediff(kcp.current, kcp.tsFlush) >= 0 {
		kcp.tsFlush = kcp.current + kcp.interval
	}
	change, lost := kcp.scanRetransmits(current)
	kcp.adjustCwnd(change, lost)
	kcp.Flush()
}

// scanRetransmits marks segments due for a timeout or fast retransmission.
func (kcp *Kcp) scanRetransmits(current uint32) (change, lost bool) {
	kcp.sndBuf.Ascend(func(s *segment) bool {
		if s.xmit == 0 || s.pending {
			return true
		}
		if itimediff(current, s.resendts) >= 0 {
			s.xmit++
			kcp.xmit++
			if kcp.nodelay {
				s.rto += s.rto / 2
			} else {
				s.rto += s.rto
			}
			if s.rto > kcp.rtoMax {
				s.rto = kcp.rtoMax
			}
			s.resendts = current + s.rto
			s.pending = true
			lost = true
			kcp.stats.Retransmits++
			kcp.log.Debug().Uint32("sn", s.Sn).Uint32("xmit", s.xmit).Uint32("rto", s.rto).Msg("timeout retransmit")
		} else if kcp.fastresend > 0 && s.fastack > kcp.fastresend && s.xmit <= fastLimit {
			s.xmit++
			s.fastack = 0
			s.resendts = current + s.rto
			s.pending = true
			change = true
			kcp.stats.FastRetx++
			kcp.log.Debug().Uint32("sn", s.Sn).Uint32("xmit", s.xmit).Msg("fast retransmit")
		}
		if s.xmit >= kcp.deadLink && kcp.state != StateDead {
			kcp.state = StateDead
			kcp.log.Debug().Uint32("sn", s.Sn).Uint32("xmit", s.xmit).Msg("dead link")
		}
		return true
	})
	return change, lost
}

// adjustCwnd grows the congestion window for segments acked since the last tick and
// shrinks it after losses.
func (kcp *Kcp) adjustCwnd(change, lost bool) {
	acked := kcp.newAcked
	kcp.newAcked = 0
	if kcp.nocwnd {
		return
	}
	mss := kcp.mss
	for ; acked > 0 && kcp.cwnd < kcp.rmtWnd; acked-- {
		if kcp.cwnd < kcp.ssthresh {
			kcp.cwnd++
			kcp.incr += mss
		} else {
			if kcp.incr < mss {
				kcp.incr = mss
			}
			kcp.incr += (mss*mss)/kcp.incr + (mss / 16)
			if (kcp.cwnd+1)*mss <= kcp.incr {
				kcp.cwnd++
			}
		}
		if kcp.cwnd > kcp.rmtWnd {
			kcp.cwnd = kcp.rmtWnd
			kcp.incr = kcp.rmtWnd * mss
		}
	}

	if change {
		inflight := kcp.sndNxt - kcp.sndUna
		kcp.ssthresh = max32(inflight/2, threshMin)
		kcp.cwnd = kcp.ssthresh + kcp.fastresend
		kcp.incr = kcp.cwnd * mss
	}
	if lost {
		kcp.ssthresh = max32(kcp.cwnd/2, threshMin)
		kcp.cwnd = max32(kcp.cwnd/2, 1)
		kcp.incr = mss
	}
	if kcp.cwnd < 1 {
		kcp.cwnd = 1
		kcp.incr = mss
	}
}

//---------------------------------------------------------------------
// Determine when should you invoke Update:
// returns when you should invoke Update in millisec, if there
// is no Input/Send calling. you can call Update in that
// time, instead of call update repeatly.
// Important to reduce unnacessary Update invoking. use it to
// schedule Update (eg. implementing an epoll-like mechanism,
// or optimize Update when handling massive kcp connections)
//---------------------------------------------------------------------
func (kcp *Kcp) Check(current uint32) uint32 {
	if !kcp.updated {
		return current
	}
	tsFlush := kcp.tsFlush
	if diff := itimediff(current, tsFlush); diff >= 10000 || diff < -10000 {
		tsFlush = current
	}
	if itimediff(current, tsFlush) >= 0 {
		return current
	}

	tmFlush := itimediff(tsFlush, current)
	tmPacket := int32(0x7fffffff)
	due := false
	kcp.sndBuf.Ascend(func(s *segment) bool {
		diff := itimediff(s.resendts, current)
		if diff <= 0 {
			due = true
			return false
		}
		if diff < tmPacket {
			tmPacket = diff
		}
		return true
	})
	if due {
		return current
	}

	minimal := uint32(tmPacket)
	if tmPacket >= tmFlush {
		minimal = uint32(tmFlush)
	}
	if minimal >= kcp.interval {
		minimal = kcp.interval
	}
	return current + minimal
}
