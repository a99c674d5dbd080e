// Package fec adds Reed-Solomon parity datagrams to a datagram stream so a receiver can
// rebuild lost ones without waiting for a retransmission.
//
// Every datagram on the wire carries a 7 byte header:
//
//	id(4, little endian) seq(1) len(2, little endian)
//
// id numbers the group, seq is the shard index in it (data shards first) and len is the
// payload length of a data shard. The len field is covered by the parity, so a rebuilt
// data shard knows its own length.
package fec

import (
	"encoding/binary"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/liang-haoran/kcp-over-udp/common"
)

const (
	HeaderSize = 7
	// GroupTTL is how long a receiver keeps an incomplete group, in seconds.
	GroupTTL = 15
)

var (
	ErrShortPacket = errors.New("fec: packet shorter than header")
	ErrShardIndex  = errors.New("fec: shard index out of range")
	ErrShards      = errors.New("fec: invalid shard counts")
)

func checkShards(dataShards, parityShards int) error {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > 256 {
		return errors.Wrapf(ErrShards, "data %d parity %d", dataShards, parityShards)
	}
	return nil
}

//---------------------------------------------------------------------
// Encoder
//---------------------------------------------------------------------
type Encoder struct {
	dataShards, parityShards int
	rs                       reedsolomon.Encoder

	id     uint32
	shards [][]byte // shards[i] holds len(2)+payload, without id and seq
	count  int
	maxLen int
}

func NewEncoder(dataShards, parityShards int) (*Encoder, error) {
	if err := checkShards(dataShards, parityShards); err != nil {
		return nil, err
	}
	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, errors.Wrap(err, "fec encoder")
	}
	return &Encoder{
		dataShards:   dataShards,
		parityShards: parityShards,
		rs:           rs,
		shards:       make([][]byte, dataShards+parityShards),
	}, nil
}

// Encode wraps b as the next data shard. It returns the wrapped packet followed by the
// parity packets when b completes a group. The returned packets do not alias b.
func (e *Encoder) Encode(b []byte) ([][]byte, error) {
	if len(b) > 0xffff {
		return nil, errors.Errorf("fec: payload of %d bytes", len(b))
	}
	seq := e.count
	pkt := make([]byte, HeaderSize+len(b))
	binary.LittleEndian.PutUint32(pkt, e.id)
	pkt[4] = byte(seq)
	binary.LittleEndian.PutUint16(pkt[5:], uint16(len(b)))
	copy(pkt[HeaderSize:], b)

	e.shards[seq] = pkt[5:]
	if e.maxLen < len(pkt)-5 {
		e.maxLen = len(pkt) - 5
	}
	e.count++
	out := [][]byte{pkt}
	if e.count < e.dataShards {
		return out, nil
	}

	for i := 0; i < e.dataShards; i++ {
		if len(e.shards[i]) < e.maxLen {
			shard := make([]byte, e.maxLen)
			copy(shard, e.shards[i])
			e.shards[i] = shard
		}
	}
	parity := make([][]byte, e.parityShards)
	for i := range parity {
		parity[i] = make([]byte, 5+e.maxLen)
		binary.LittleEndian.PutUint32(parity[i], e.id)
		parity[i][4] = byte(e.dataShards + i)
		e.shards[e.dataShards+i] = parity[i][5:]
	}
	err := e.rs.Encode(e.shards)
	id := e.id
	e.reset()
	if err != nil {
		return out, errors.Wrapf(err, "fec encode group %d", id)
	}
	return append(out, parity...), nil
}

func (e *Encoder) reset() {
	for i := range e.shards {
		e.shards[i] = nil
	}
	e.count = 0
	e.maxLen = 0
	e.id++
}

//---------------------------------------------------------------------
// Decoder
//---------------------------------------------------------------------
type group struct {
	common.Timer
	shards [][]byte
	count  int
	done   bool
}

func (g *group) DeInit() {
	g.shards = nil
}

type Decoder struct {
	dataShards, parityShards int
	rs                       reedsolomon.Encoder
	groups                   *common.Container[uint32, *group]
	ttl                      int64

	Recovered uint64 // data shards rebuilt from parity
}

func NewDecoder(dataShards, parityShards int) (*Decoder, error) {
	if err := checkShards(dataShards, parityShards); err != nil {
		return nil, err
	}
	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, errors.Wrap(err, "fec decoder")
	}
	return &Decoder{
		dataShards:   dataShards,
		parityShards: parityShards,
		rs:           rs,
		groups:       common.NewContainer[uint32, *group](),
		ttl:          GroupTTL,
	}, nil
}

// Decode takes one packet off the wire and returns the payloads it makes available: the
// packet's own payload for a data shard plus any data shards rebuilt from parity.
func (d *Decoder) Decode(pkt []byte) ([][]byte, error) {
	if len(pkt) < HeaderSize {
		return nil, ErrShortPacket
	}
	id := binary.LittleEndian.Uint32(pkt)
	seq := int(pkt[4])
	if seq >= d.dataShards+d.parityShards {
		return nil, errors.Wrapf(ErrShardIndex, "seq %d", seq)
	}

	var out [][]byte
	if seq < d.dataShards {
		n := int(binary.LittleEndian.Uint16(pkt[5:]))
		if n > len(pkt)-HeaderSize {
			return nil, errors.Errorf("fec: data shard claims %d bytes, has %d", n, len(pkt)-HeaderSize)
		}
		out = append(out, pkt[HeaderSize:HeaderSize+n])
	}

	g, ok := d.groups.GetCache(id)
	if !ok {
		g = &group{shards: make([][]byte, d.dataShards+d.parityShards)}
		d.groups.AddCache(id, g, d.ttl)
	}
	if g.done || g.shards[seq] != nil {
		//dup, drop
		return out, nil
	}
	g.shards[seq] = append([]byte(nil), pkt[5:]...)
	g.count++
	if g.count < d.dataShards {
		return out, nil
	}

	g.done = true
	defer func() { g.shards = nil }()
	missing := false
	maxLen := 0
	for i, v := range g.shards {
		if v == nil && i < d.dataShards {
			missing = true
		}
		if maxLen < len(v) {
			maxLen = len(v)
		}
	}
	if !missing {
		return out, nil
	}
	present := make([]bool, d.dataShards)
	for i, v := range g.shards {
		if v == nil {
			continue
		}
		if i < d.dataShards {
			present[i] = true
		}
		if len(v) < maxLen {
			shard := make([]byte, maxLen)
			copy(shard, v)
			g.shards[i] = shard
		}
	}
	if err := d.rs.ReconstructData(g.shards); err != nil {
		log.Debug().Err(err).Uint32("group", id).Msg("fec reconstruct fail")
		return out, nil
	}
	for i := 0; i < d.dataShards; i++ {
		if present[i] {
			continue
		}
		shard := g.shards[i]
		n := int(binary.LittleEndian.Uint16(shard))
		if n > len(shard)-2 {
			continue
		}
		out = append(out, shard[2:2+n])
		d.Recovered++
	}
	return out, nil
}

// Sweep drops incomplete groups older than GroupTTL.
func (d *Decoder) Sweep() int {
	return d.groups.Sweep()
}

func (d *Decoder) Pending() int {
	return d.groups.Len()
}
