// Package writemutex implements the engine's single-writer mutex. Unlike
// the teacher's concurrency package, which used sync.Cond.Broadcast to
// wake record-level locks, this mutex must guarantee strict FIFO
// ordering: concurrent writeRecord callers have to commit in the order
// they queued, so their sequence numbers, data-file offsets, and WAL
// positions all agree. sync.Mutex and sync.Cond both allow a goroutine
// that arrives late to barge ahead of one that has been waiting —
// acceptable for record-level locking, not for this. A buffered channel
// of capacity one does not have that problem: goroutines blocked
// receiving on a channel are woken in the order they started waiting.
package writemutex

// WriteMutex is a FIFO mutual-exclusion lock with exactly one ticket.
type WriteMutex struct {
	ticket chan struct{}
}

// New returns an unlocked WriteMutex.
func New() *WriteMutex {
	m := &WriteMutex{ticket: make(chan struct{}, 1)}
	m.ticket <- struct{}{}
	return m
}

// Lock blocks until the caller holds the ticket. Callers that call Lock
// concurrently are granted it in the order their call to Lock began
// blocking.
func (m *WriteMutex) Lock() {
	<-m.ticket
}

// Unlock returns the ticket, waking the longest-waiting blocked Lock
// call, if any. Unlock must only be called by the current holder.
func (m *WriteMutex) Unlock() {
	m.ticket <- struct{}{}
}
