package pipe

import (
	"github.com/pkg/errors"

	"github.com/liang-haoran/kcp-over-udp/fec"
	"github.com/liang-haoran/kcp-over-udp/ikcp"
)

// Setting holds the per-session knobs. Both sides must agree on Mtu, the FEC shard
// counts and Compress.
type Setting struct {
	NoDelay    bool `yaml:"nodelay"`
	Interval   int  `yaml:"interval"`
	Resend     int  `yaml:"resend"`
	NoCwnd     bool `yaml:"nc"`
	AckNoDelay bool `yaml:"acknodelay"`

	SndWnd int `yaml:"sndwnd"`
	RcvWnd int `yaml:"rcvwnd"`
	Mtu    int `yaml:"mtu"`

	DataShards   int  `yaml:"datashard"`
	ParityShards int  `yaml:"parityshard"`
	Compress     bool `yaml:"compress"`

	IdleTimeout int `yaml:"idle"`       // seconds without input before a session closes
	SendLimit   int `yaml:"sendlimit"`  // Write blocks while more segments wait to be acked
	ReadBuffer  int `yaml:"readbuffer"` // bytes staged for Read
}

func DefaultSetting() Setting {
	return Setting{
		NoDelay:     true,
		Interval:    10,
		Resend:      2,
		NoCwnd:      true,
		SndWnd:      1024,
		RcvWnd:      1024,
		Mtu:         1400,
		IdleTimeout: 30,
		SendLimit:   4000,
		ReadBuffer:  1 << 20,
	}
}

func (s Setting) fecEnabled() bool {
	return s.DataShards > 0 || s.ParityShards > 0
}

// EngineConfig maps the setting onto the engine. The FEC header comes out of the mtu.
func (s Setting) EngineConfig() ikcp.Config {
	mtu := s.Mtu
	if s.fecEnabled() {
		mtu -= fec.HeaderSize
	}
	return ikcp.Config{
		Mtu:        mtu,
		SndWnd:     s.SndWnd,
		RcvWnd:     s.RcvWnd,
		Interval:   uint32(s.Interval),
		FastResend: s.Resend,
		NoCwnd:     s.NoCwnd,
		NoDelay:    s.NoDelay,
		AckNoDelay: s.AckNoDelay,
	}
}

func (s Setting) Validate() error {
	if s.Interval < 0 || s.IdleTimeout <= 0 || s.SendLimit <= 0 || s.ReadBuffer <= 0 {
		return errors.Errorf("pipe: invalid setting %+v", s)
	}
	if s.fecEnabled() && (s.DataShards <= 0 || s.ParityShards <= 0) {
		return errors.Errorf("pipe: fec needs both shard counts, got %d/%d", s.DataShards, s.ParityShards)
	}
	return s.EngineConfig().Validate()
}
