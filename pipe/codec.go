package pipe

import (
	"github.com/cznic/zappy"
	"github.com/pkg/errors"

	"github.com/liang-haoran/kcp-over-udp/fec"
)

// codec sits between the engine and the socket: fec on the inside, compression outside.
type codec struct {
	compress bool
	fecW     *fec.Encoder
	fecR     *fec.Decoder
}

func newCodec(s Setting) (*codec, error) {
	c := &codec{compress: s.Compress}
	if s.fecEnabled() {
		var err error
		if c.fecW, err = fec.NewEncoder(s.DataShards, s.ParityShards); err != nil {
			return nil, err
		}
		if c.fecR, err = fec.NewDecoder(s.DataShards, s.ParityShards); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// encode turns one engine datagram into the packets to write. Without fec or
// compression the result aliases b.
func (c *codec) encode(b []byte) ([][]byte, error) {
	pkts := [][]byte{b}
	if c.fecW != nil {
		var err error
		if pkts, err = c.fecW.Encode(b); err != nil {
			return nil, err
		}
	}
	if c.compress {
		for i, p := range pkts {
			enc, err := zappy.Encode(nil, p)
			if err != nil {
				return nil, errors.Wrap(err, "compress")
			}
			pkts[i] = enc
		}
	}
	return pkts, nil
}

// decode turns one packet off the wire into engine input.
func (c *codec) decode(pkt []byte) ([][]byte, error) {
	if c.compress {
		b, err := zappy.Decode(nil, pkt)
		if err != nil {
			return nil, errors.Wrap(err, "decompress")
		}
		pkt = b
	}
	if c.fecR != nil {
		return c.fecR.Decode(pkt)
	}
	return [][]byte{pkt}, nil
}

func (c *codec) sweep() {
	if c.fecR != nil {
		c.fecR.Sweep()
	}
}
