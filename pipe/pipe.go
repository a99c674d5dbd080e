// Package pipe runs ikcp sessions over a UDP socket. A Session is a net.Conn carrying a
// reliable ordered byte stream; a Listener demultiplexes many sessions on one socket.
package pipe

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/smallnest/ringbuffer"

	"github.com/liang-haoran/kcp-over-udp/common"
	"github.com/liang-haoran/kcp-over-udp/ikcp"
)

const ReadBufferSize = 65536 // largest datagram the readers accept

// message tags, first byte of every engine message
const (
	Ping byte = 1
	Data byte = 2
)

var ErrClosed = errors.New("pipe: session closed")

type timeoutError struct{}

func (timeoutError) Error() string   { return "pipe: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var errTimeout net.Error = timeoutError{}

func iclock() uint32 {
	return uint32((time.Now().UnixNano() / 1000000) & 0xffffffff)
}

var _ net.Conn = (*Session)(nil)

type Session struct {
	common.Timer
	id     uint32
	key    string
	conn   net.PacketConn
	remote net.Addr

	kcp     *ikcp.Kcp
	codec   *codec
	setting Setting
	maxMsg  int

	listener *Listener
	do       chan func()
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
	final    ikcp.Stats

	ring     *ringbuffer.RingBuffer
	readable chan struct{}

	deadlineMu sync.Mutex
	rd, wd     time.Time

	start time.Time
	log   zerolog.Logger
}

// Info is a snapshot of a session for the admin port.
type Info struct {
	Id     uint32     `json:"id"`
	Conv   uint32     `json:"conv"`
	Remote string     `json:"remote"`
	State  string     `json:"state"`
	Start  int64      `json:"start"`
	Stats  ikcp.Stats `json:"stats"`
}

func newSession(conn net.PacketConn, remote net.Addr, conv uint32, setting Setting, c *codec) (*Session, error) {
	s := &Session{
		conn:     conn,
		remote:   remote,
		codec:    c,
		setting:  setting,
		do:       make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		readable: make(chan struct{}, 1),
		start:    time.Now(),
	}
	kcp, err := ikcp.New(conv, setting.EngineConfig(), s.output)
	if err != nil {
		return nil, err
	}
	s.kcp = kcp
	wnd := kcp.RcvWnd()
	if wnd > 255 {
		wnd = 255
	}
	s.maxMsg = kcp.Mss()*wnd - 1
	size := setting.ReadBuffer
	if size < s.maxMsg {
		size = s.maxMsg
	}
	s.ring = ringbuffer.New(size)
	s.log = log.With().Str("remote", remote.String()).Logger()
	kcp.SetLogger(s.log)
	s.SetCacheTime(int64(setting.IdleTimeout))
	return s, nil
}

// Dial opens a session to addr from a fresh local socket. Both ends must use the same conv.
func Dial(addr string, conv uint32, setting Setting) (*Session, error) {
	if err := setting.Validate(); err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}
	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	c, err := newCodec(setting)
	if err != nil {
		sock.Close()
		return nil, err
	}
	s, err := newSession(sock, udpAddr, conv, setting, c)
	if err != nil {
		sock.Close()
		return nil, err
	}
	go s.readLoop()
	go s.loop()
	return s, nil
}

func (s *Session) output(buf []byte) {
	pkts, err := s.codec.encode(buf)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode fail")
		return
	}
	for _, p := range pkts {
		if _, err := s.conn.WriteTo(p, s.remote); err != nil {
			s.log.Debug().Err(err).Msg("write fail")
		}
	}
}

// readLoop feeds a dialed session from its own socket.
func (s *Session) readLoop() {
	buf := make([]byte, ReadBufferSize)
	remote := s.remote.String()
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.Close()
			return
		}
		if from.String() != remote {
			continue
		}
		pkt := append([]byte(nil), buf[:n]...)
		if !s.DoAction(func() { s.processInput(pkt) }) {
			return
		}
	}
}

func (s *Session) loop() {
	update := time.NewTicker(time.Duration(s.kcp.Interval()) * time.Millisecond)
	ping := time.NewTicker(time.Second)
	defer update.Stop()
	defer ping.Stop()
	for {
		select {
		case f := <-s.do:
			f()
		case <-update.C:
			s.kcp.Update(iclock())
		case <-ping.C:
			s.kcp.Send([]byte{Ping})
			s.codec.sweep()
			if !s.Timer.IsAlive() {
				s.log.Info().Msg("overtime close")
				go s.Close()
			} else if s.kcp.State() == ikcp.StateDead {
				s.log.Info().Msg("dead link close")
				go s.Close()
			}
		case <-s.quit:
			s.final = s.kcp.Stats()
			s.kcp.Release()
			close(s.done)
			return
		}
	}
}

// DoAction runs f on the session loop. It returns false once the session is closed.
func (s *Session) DoAction(f func()) bool {
	select {
	case s.do <- f:
		return true
	case <-s.quit:
		return false
	}
}

// call is DoAction that waits for f to finish.
func (s *Session) call(f func()) bool {
	done := make(chan struct{})
	if !s.DoAction(func() { f(); close(done) }) {
		return false
	}
	<-done
	return true
}

func (s *Session) processInput(pkt []byte) {
	payloads, err := s.codec.decode(pkt)
	if err != nil {
		s.log.Debug().Err(err).Msg("drop packet")
		return
	}
	s.inputPayloads(payloads)
}

func (s *Session) inputPayloads(payloads [][]byte) {
	s.SetCacheTime(-1)
	for _, p := range payloads {
		if err := s.kcp.Input(p); err != nil {
			s.log.Debug().Err(err).Msg("input fail")
		}
	}
	s.processRecv()
}

// processRecv moves complete messages into the read buffer while they fit. What does
// not fit stays in the engine and holds its receive window shut.
func (s *Session) processRecv() {
	for {
		n := s.kcp.PeekSize()
		if n < 0 || n-1 > s.ring.Free() {
			return
		}
		data, err := s.kcp.Recv()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case Data:
			if len(data) > 1 {
				s.ring.Write(data[1:])
				select {
				case s.readable <- struct{}{}:
				default:
				}
			}
		case Ping:
		default:
			s.log.Debug().Uint8("tag", data[0]).Msg("unknown message")
		}
	}
}

func (s *Session) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		var n int
		if !s.call(func() {
			if s.ring.Length() > 0 {
				n, _ = s.ring.Read(p)
				s.processRecv()
			}
		}) {
			return 0, ErrClosed
		}
		if n > 0 {
			return n, nil
		}
		s.deadlineMu.Lock()
		d := s.rd
		s.deadlineMu.Unlock()
		timeout, stop, err := waitUntil(d)
		if err != nil {
			return 0, err
		}
		select {
		case <-s.readable:
			stop()
		case <-s.quit:
			stop()
			return 0, ErrClosed
		case <-timeout:
			return 0, errTimeout
		}
	}
}

// Write sends b as one or more messages, blocking while too much is unacknowledged.
func (s *Session) Write(b []byte) (n int, err error) {
	for len(b) > 0 {
		chunk := b
		if len(chunk) > s.maxMsg {
			chunk = chunk[:s.maxMsg]
		}
		if err := s.send(chunk); err != nil {
			return n, err
		}
		n += len(chunk)
		b = b[len(chunk):]
	}
	return n, nil
}

func (s *Session) send(b []byte) error {
	data := make([]byte, len(b)+1)
	data[0] = Data
	copy(data[1:], b)
	for {
		full := false
		var err error
		if !s.call(func() {
			if s.kcp.WaitSnd() > s.setting.SendLimit {
				full = true
				return
			}
			err = s.kcp.Send(data)
		}) {
			return ErrClosed
		}
		if !full {
			return err
		}
		s.deadlineMu.Lock()
		d := s.wd
		s.deadlineMu.Unlock()
		if !d.IsZero() && !time.Now().Before(d) {
			return errTimeout
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-s.quit:
			return ErrClosed
		}
	}
}

func waitUntil(d time.Time) (<-chan time.Time, func(), error) {
	if d.IsZero() {
		return nil, func() {}, nil
	}
	dur := time.Until(d)
	if dur <= 0 {
		return nil, nil, errTimeout
	}
	t := time.NewTimer(dur)
	return t.C, func() { t.Stop() }, nil
}

// Close stops the session. Unread and unacknowledged data is dropped.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.remove(s)
		} else {
			s.conn.Close()
		}
		s.log.Debug().Msg("session closed")
	})
	return nil
}

func (s *Session) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Session) IsAlive() bool {
	return !s.closed() && s.Timer.IsAlive()
}

func (s *Session) DeInit() {
	s.Close()
}

func (s *Session) Id() uint32 {
	return s.id
}

func (s *Session) Info() Info {
	info := Info{Id: s.id, Conv: s.kcp.Conv(), Remote: s.remote.String(), State: "closed", Start: s.start.Unix()}
	if !s.call(func() {
		info.State = s.kcp.State().String()
		info.Stats = s.kcp.Stats()
	}) {
		<-s.done
		info.Stats = s.final
	}
	return info
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Session) RemoteAddr() net.Addr {
	return s.remote
}

func (s *Session) SetDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	s.rd, s.wd = t, t
	s.deadlineMu.Unlock()
	return nil
}

func (s *Session) SetReadDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	s.rd = t
	s.deadlineMu.Unlock()
	return nil
}

func (s *Session) SetWriteDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	s.wd = t
	s.deadlineMu.Unlock()
	return nil
}
