package ikcp

import (
	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is fixed at construction. Zero fields take the defaults of DefaultConfig.
type Config struct {
	Mtu         int
	SndWnd      int
	RcvWnd      int
	InitialCwnd int

	RtoMin     uint32
	RtoMax     uint32
	RtoDefault uint32
	Interval   uint32 // ms between flushes, clamped to [10, 5000]

	// FastResend > 0 resends a segment once more than FastResend later segments were acked.
	FastResend int
	NoCwnd     bool
	NoDelay    bool
	AckNoDelay bool
	Stream     bool

	SndQueueLimit int // 0 means unlimited
	DeadLink      int
}

func DefaultConfig() Config {
	return Config{
		Mtu:         MtuDef,
		SndWnd:      WndSnd,
		RcvWnd:      WndRcv,
		InitialCwnd: 1,
		RtoMin:      RtoMin,
		RtoMax:      RtoMax,
		RtoDefault:  RtoDef,
		Interval:    Interval,
		DeadLink:    DeadLink,
	}
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.Mtu == 0 {
		c.Mtu = def.Mtu
	}
	if c.SndWnd == 0 {
		c.SndWnd = def.SndWnd
	}
	if c.RcvWnd == 0 {
		c.RcvWnd = def.RcvWnd
	}
	if c.InitialCwnd == 0 {
		c.InitialCwnd = def.InitialCwnd
	}
	if c.RtoMin == 0 {
		if c.NoDelay {
			c.RtoMin = RtoNoDelay
		} else {
			c.RtoMin = def.RtoMin
		}
	}
	if c.RtoMax == 0 {
		c.RtoMax = def.RtoMax
	}
	if c.RtoDefault == 0 {
		c.RtoDefault = def.RtoDefault
	}
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.Interval > 5000 {
		c.Interval = 5000
	} else if c.Interval < 10 {
		c.Interval = 10
	}
	if c.DeadLink == 0 {
		c.DeadLink = def.DeadLink
	}
}

// Validate rejects values the engine cannot run with. Zero fields count as defaults.
func (c Config) Validate() error {
	c.fill()
	switch {
	case c.Mtu < 50 || c.Mtu <= Overhead:
		return errors.Wrapf(ErrInvalidConfig, "mtu %d", c.Mtu)
	case c.SndWnd < 0 || c.RcvWnd < 0:
		return errors.Wrapf(ErrInvalidConfig, "window snd %d rcv %d", c.SndWnd, c.RcvWnd)
	case c.RcvWnd > 0xffff:
		return errors.Wrapf(ErrInvalidConfig, "rcv window %d does not fit the wnd field", c.RcvWnd)
	case c.InitialCwnd < 0:
		return errors.Wrapf(ErrInvalidConfig, "initial cwnd %d", c.InitialCwnd)
	case c.RtoMin > c.RtoMax:
		return errors.Wrapf(ErrInvalidConfig, "rto min %d above max %d", c.RtoMin, c.RtoMax)
	case c.FastResend < 0 || c.SndQueueLimit < 0 || c.DeadLink < 0:
		return errors.Wrap(ErrInvalidConfig, "negative count")
	}
	return nil
}

// New creates a control block for conv. output receives every encoded batch.
func New(conv uint32, cfg Config, output OutputFunc) (*Kcp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.fill()
	kcp := &Kcp{
		conv:          conv,
		mtu:           uint32(cfg.Mtu),
		mss:           uint32(cfg.Mtu - Overhead),
		sndWnd:        uint32(cfg.SndWnd),
		rcvWnd:        uint32(cfg.RcvWnd),
		rmtWnd:        WndRcv,
		cwnd:          uint32(cfg.InitialCwnd),
		ssthresh:      threshInit,
		rxRto:         cfg.RtoDefault,
		rxMinrto:      cfg.RtoMin,
		rtoMax:        cfg.RtoMax,
		interval:      cfg.Interval,
		tsFlush:       cfg.Interval,
		deadLink:      uint32(cfg.DeadLink),
		fastresend:    uint32(cfg.FastResend),
		nodelay:       cfg.NoDelay,
		nocwnd:        cfg.NoCwnd,
		stream:        cfg.Stream,
		ackNodly:      cfg.AckNoDelay,
		sndQueueLimit: cfg.SndQueueLimit,
		sndBuf:        btree.NewG[*segment](8, segLess),
		rcvBuf:        btree.NewG[*segment](8, segLess),
		buffer:        make([]byte, (cfg.Mtu+Overhead)*3),
		output:        output,
		log:           zerolog.Nop(),
	}
	if kcp.rxRto < kcp.rxMinrto {
		kcp.rxRto = kcp.rxMinrto
	}
	return kcp, nil
}
