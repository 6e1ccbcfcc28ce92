// Package queue holds index and delete operations back while delivery is
// blocked or queued, and drains them to the backend on demand.
package queue

import (
	"sync"

	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Pending is a pair of FIFO queues, one per operation. Producers never
// block each other for longer than an append.
type Pending struct {
	mu      sync.Mutex
	index   []mapping.Model
	deletes []mapping.Model
}

// NewPending returns empty queues.
func NewPending() *Pending {
	return &Pending{}
}

// EnqueueIndex appends m to the index queue.
func (p *Pending) EnqueueIndex(m mapping.Model) {
	p.mu.Lock()
	p.index = append(p.index, m)
	p.mu.Unlock()
}

// EnqueueDelete appends m to the delete queue.
func (p *Pending) EnqueueDelete(m mapping.Model) {
	p.mu.Lock()
	p.deletes = append(p.deletes, m)
	p.mu.Unlock()
}

// Len returns the lengths of the index and delete queues.
func (p *Pending) Len() (index, deletes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.index), len(p.deletes)
}

func (p *Pending) head(q *[]mapping.Model) (mapping.Model, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(*q) == 0 {
		return nil, false
	}
	return (*q)[0], true
}

func (p *Pending) pop(q *[]mapping.Model) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(*q) == 0 {
		return
	}
	(*q)[0] = nil
	*q = (*q)[1:]
	if len(*q) == 0 {
		*q = nil
	}
}
