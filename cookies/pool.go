package cookies

import "sync"

type entry struct {
	cookies string
	penalty int
	current int // running weight for smooth weighted round-robin
}

// Pool rotates between cookie sets using smooth weighted round-robin. Sets
// that are penalized after failed polls get picked less often. Safe for
// concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries []entry
}

// NewPool creates a pool from the given cookie strings, dropping duplicates
// and empty strings.
func NewPool(sets []string) *Pool {
	seen := make(map[string]struct{}, len(sets))
	p := &Pool{}
	for _, c := range sets {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		p.entries = append(p.entries, entry{cookies: c})
	}
	return p
}

// Select returns the next cookie string, or "" when the pool is empty.
func (p *Pool) Select() string {
	if p == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch len(p.entries) {
	case 0:
		return ""
	case 1:
		return p.entries[0].cookies
	}

	maxPenalty := 0
	for _, e := range p.entries {
		maxPenalty = max(maxPenalty, e.penalty)
	}

	total := 0
	best := 0
	for i := range p.entries {
		w := maxPenalty - p.entries[i].penalty + 1
		p.entries[i].current += w
		total += w
		if p.entries[i].current > p.entries[best].current {
			best = i
		}
	}
	p.entries[best].current -= total
	return p.entries[best].cookies
}

// Penalize deprioritizes the given cookie string. Penalties are re-rooted so
// the smallest is always zero.
func (p *Pool) Penalize(cookies string) {
	if p == nil || cookies == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.entries {
		if p.entries[i].cookies == cookies {
			p.entries[i].penalty++
			break
		}
	}

	if len(p.entries) == 0 {
		return
	}
	lowest := p.entries[0].penalty
	for _, e := range p.entries[1:] {
		lowest = min(lowest, e.penalty)
	}
	for i := range p.entries {
		p.entries[i].penalty -= lowest
	}
}

// Len returns the number of cookie sets in the pool.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
