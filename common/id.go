package common

import "sync"

// IdPool hands out small positive ids and reuses released ones.
type IdPool struct {
	mu    sync.Mutex
	curr  uint32
	reuse map[uint32]bool
}

func (p *IdPool) GetId() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.reuse {
		delete(p.reuse, id)
		return id
	}
	p.curr++
	return p.curr
}

func (p *IdPool) RmId(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == 0 || id > p.curr {
		return
	}
	if p.reuse == nil {
		p.reuse = make(map[uint32]bool)
	}
	p.reuse[id] = true
}
