package pipeline

import (
	"sync"

	"github.com/hupe1980/imgmatch/algorithm"
)

// Entry is one stage of a pipeline.
type Entry struct {
	Algorithm algorithm.Algorithm
	Settings  Settings
}

// Pipeline is an ordered set of stages keyed by algorithm ID. Insertion order
// is execution order. It is safe for concurrent use.
type Pipeline struct {
	mu      sync.RWMutex
	entries []Entry
	pos     map[uint32]int
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{pos: make(map[uint32]int)}
}

// Add appends a stage. If the algorithm is already present its settings are
// replaced and it keeps its position.
func (p *Pipeline) Add(algo algorithm.Algorithm, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if i, ok := p.pos[algo.ID()]; ok {
		p.entries[i] = Entry{Algorithm: algo, Settings: s}
		return nil
	}
	p.pos[algo.ID()] = len(p.entries)
	p.entries = append(p.entries, Entry{Algorithm: algo, Settings: s})
	return nil
}

// Remove deletes the stage for the algorithm with the given ID. It reports
// whether a stage was removed; removing an absent algorithm is a no-op.
func (p *Pipeline) Remove(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.pos[id]
	if !ok {
		return false
	}

	p.entries = append(p.entries[:i], p.entries[i+1:]...)

	delete(p.pos, id)
	for j := i; j < len(p.entries); j++ {
		p.pos[p.entries[j].Algorithm.ID()] = j
	}
	return true
}

// Clear removes every stage.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = nil
	p.pos = make(map[uint32]int)
}

// Get returns the stage for the algorithm with the given ID.
func (p *Pipeline) Get(id uint32) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	i, ok := p.pos[id]
	if !ok {
		return Entry{}, false
	}
	return p.entries[i], true
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Snapshot returns an independent copy of the stages in execution order.
func (p *Pipeline) Snapshot() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}
