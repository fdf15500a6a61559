// Package idpool hands out small integer identifiers, lowest free first.
package idpool

import (
	"sync"

	"lscon-go/errcode"
)

// Pool allocates identifiers from [0, max). max <= 0 means unbounded.
type Pool struct {
	mu   sync.Mutex
	max  int
	used map[int]struct{}
}

func New(max int) *Pool {
	return &Pool{max: max, used: make(map[int]struct{})}
}

// Get returns the lowest identifier not currently in use.
func (p *Pool) Get() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := 0; p.max <= 0 || id < p.max; id++ {
		if _, taken := p.used[id]; !taken {
			p.used[id] = struct{}{}
			return id, nil
		}
	}
	return -1, errcode.Exhausted
}

// Put returns id to the pool. Unknown ids are ignored.
func (p *Pool) Put(id int) {
	p.mu.Lock()
	delete(p.used, id)
	p.mu.Unlock()
}

// InUse reports whether id is currently allocated.
func (p *Pool) InUse(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.used[id]
	return ok
}

// Len is the number of allocated identifiers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
