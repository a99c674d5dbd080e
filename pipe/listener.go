package pipe

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/liang-haoran/kcp-over-udp/common"
	"github.com/liang-haoran/kcp-over-udp/ikcp"
)

var ErrListenerClosed = errors.New("pipe: listener closed")

// Listener accepts sessions on one UDP socket, keyed by remote address. A new address
// becomes a session when its first packet decodes to an engine segment; the session
// takes that segment's conv.
type Listener struct {
	conn     net.PacketConn
	setting  Setting
	sessions *common.Container[string, *Session]
	ids      common.IdPool

	connChan chan *Session
	quit     chan struct{}
	once     sync.Once
}

func Listen(addr string, setting Setting) (*Listener, error) {
	if err := setting.Validate(); err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	l := &Listener{
		conn:     sock,
		setting:  setting,
		sessions: common.NewContainer[string, *Session](),
		connChan: make(chan *Session),
		quit:     make(chan struct{}),
	}
	go l.loop()
	return l, nil
}

func (l *Listener) Accept() (*Session, error) {
	select {
	case s := <-l.connChan:
		return s, nil
	case <-l.quit:
		return nil, ErrListenerClosed
	}
}

func (l *Listener) loop() {
	buf := make([]byte, ReadBufferSize)
	lastSweep := time.Now()
	for {
		if time.Since(lastSweep) >= time.Second {
			l.sessions.Sweep()
			lastSweep = time.Now()
		}
		l.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-l.quit:
			default:
				log.Error().Err(err).Msg("listener read fail")
				l.Close()
			}
			return
		}
		pkt := append([]byte(nil), buf[:n]...)
		key := from.String()
		if s, ok := l.sessions.GetCache(key); ok {
			s.DoAction(func() { s.processInput(pkt) })
			continue
		}
		l.accept(key, from, pkt)
	}
}

func (l *Listener) accept(key string, from net.Addr, pkt []byte) {
	c, err := newCodec(l.setting)
	if err != nil {
		log.Error().Err(err).Msg("codec fail")
		return
	}
	payloads, err := c.decode(pkt)
	if err != nil || len(payloads) == 0 || len(payloads[0]) < ikcp.Overhead {
		log.Debug().Str("remote", key).Msg("drop stray packet")
		return
	}
	conv := binary.LittleEndian.Uint32(payloads[0])
	s, err := newSession(l.conn, from, conv, l.setting, c)
	if err != nil {
		log.Error().Err(err).Msg("new session fail")
		return
	}
	s.listener = l
	s.key = key
	s.id = l.ids.GetId()
	s.log = s.log.With().Uint32("id", s.id).Logger()
	s.kcp.SetLogger(s.log)
	l.sessions.AddCache(key, s, int64(l.setting.IdleTimeout))
	log.Info().Str("remote", key).Uint32("conv", conv).Uint32("id", s.id).Msg("new session")
	go s.loop()
	s.DoAction(func() { s.inputPayloads(payloads) })
	go func() {
		select {
		case l.connChan <- s:
		case <-l.quit:
		}
	}()
}

func (l *Listener) remove(s *Session) {
	l.sessions.DelIf(s.key, s)
	l.ids.RmId(s.id)
}

func (l *Listener) Sessions() []*Session {
	return l.sessions.Values()
}

// Kick closes the session with the given id.
func (l *Listener) Kick(id uint32) bool {
	for _, s := range l.sessions.Values() {
		if s.id == id {
			s.Close()
			return true
		}
	}
	return false
}

func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.quit)
		err = l.conn.Close()
		l.sessions.DelAllCache()
	})
	return err
}
