package ikcp

//---------------------------------------------------------------------
// flush
//---------------------------------------------------------------------

// Flush writes pending acks, window probes and due push segments to the output hook,
// batched into MTU sized datagrams. It does nothing before the first Update.
func (kcp *Kcp) Flush() {
	if !kcp.updated {
		return
	}
	current := kcp.current
	buffer := kcp.buffer
	ptr := 0
	mtu := int(kcp.mtu)

	emit := func() {
		if ptr == 0 {
			return
		}
		kcp.log.Trace().Int("size", ptr).Msg("output")
		if kcp.output != nil {
			kcp.output(buffer[:ptr])
		}
		ptr = 0
	}
	reserve := func(need int) {
		if ptr+need > mtu {
			emit()
		}
	}

	seg := Segment{
		Conv: kcp.conv,
		Wnd:  kcp.wndUnused(),
		Una:  kcp.rcvNxt,
	}

	// flush acknowledges
	seg.Cmd = CmdAck
	for _, ack := range kcp.acklist {
		reserve(Overhead)
		seg.Sn, seg.Ts = ack.sn, ack.ts
		ptr += seg.EncodeTo(buffer[ptr:])
		kcp.stats.AcksSent++
	}
	kcp.acklist = kcp.acklist[:0]

	kcp.updateProbe(current)

	// flush window probing commands
	seg.Sn, seg.Ts = 0, 0
	if kcp.probe&askSend != 0 {
		seg.Cmd = CmdWindowAsk
		reserve(Overhead)
		ptr += seg.EncodeTo(buffer[ptr:])
	}
	if kcp.probe&askTell != 0 {
		seg.Cmd = CmdWindowInform
		reserve(Overhead)
		ptr += seg.EncodeTo(buffer[ptr:])
	}
	kcp.probe = 0

	// calculate window size
	cwnd := min32(kcp.sndWnd, kcp.rmtWnd)
	if !kcp.nocwnd {
		cwnd = min32(kcp.cwnd, cwnd)
	}

	// move data from sndQueue to sndBuf
	moved := 0
	for _, newseg := range kcp.sndQueue {
		if kcp.sndNxt-kcp.sndUna >= cwnd {
			break
		}
		newseg.Conv = kcp.conv
		newseg.Cmd = CmdPush
		newseg.Wnd = seg.Wnd
		newseg.Ts = current
		newseg.Sn = kcp.sndNxt
		newseg.Una = kcp.rcvNxt
		newseg.resendts = current
		newseg.rto = kcp.rxRto
		newseg.fastack = 0
		newseg.xmit = 0
		kcp.sndBuf.ReplaceOrInsert(newseg)
		kcp.sndNxt++
		moved++
	}
	if moved > 0 {
		for i := 0; i < moved; i++ {
			kcp.sndQueue[i] = nil
		}
		kcp.sndQueue = kcp.sndQueue[moved:]
	}

	// calculate resent
	rtomin := kcp.rxRto >> 3
	if kcp.nodelay {
		rtomin = 0
	}

	// flush data segments
	kcp.sndBuf.Ascend(func(s *segment) bool {
		needsend := false
		if s.xmit == 0 {
			needsend = true
			s.xmit = 1
			s.rto = kcp.rxRto
			s.resendts = current + s.rto + rtomin
		} else if s.pending {
			needsend = true
		}
		if needsend {
			s.pending = false
			s.Ts = current
			s.Wnd = seg.Wnd
			s.Una = kcp.rcvNxt

			reserve(Overhead + len(s.Data))
			ptr += s.EncodeTo(buffer[ptr:])
			kcp.stats.SegsSent++
		}
		return true
	})

	// flush remain segments
	emit()
}

//---------------------------------------------------------------------
// probe window size (if remote window size equals zero)
//---------------------------------------------------------------------
func (kcp *Kcp) updateProbe(current uint32) {
	if kcp.rmtWnd != 0 {
		kcp.tsProbe = 0
		kcp.probeWait = 0
		return
	}
	if kcp.probeWait == 0 {
		kcp.probeWait = probeInit
		kcp.tsProbe = current + kcp.probeWait
		return
	}
	if itimediff(current, kcp.tsProbe) >= 0 {
		if kcp.probeWait < probeInit {
			kcp.probeWait = probeInit
		}
		kcp.probeWait += kcp.probeWait / 2
		if kcp.probeWait > probeLimit {
			kcp.probeWait = probeLimit
		}
		kcp.tsProbe = current + kcp.probeWait
		kcp.probe |= askSend
	}
}
