package epochmgr

import (
	"sync"

	"github.com/rony4d/opera-epochmgr/store"
)

// Handle is the shared read-many/write-one wrapper around a Manager.
// Readers call View for queries; the single writer calls Update for
// RecordBlockInfo. A panic inside Update is logged and re-panicked rather
// than swallowed: lock poisoning is fatal, since
// sync.RWMutex itself does not track whether the state it guards survived
// the critical section.
type Handle struct {
	mu sync.RWMutex
	m  *Manager
}

// NewHandle wraps m for concurrent use.
func NewHandle(m *Manager) *Handle {
	return &Handle{m: m}
}

// View runs fn with the read lock held. fn must not call Update or it will
// deadlock; it must not retain m beyond its own return.
func (h *Handle) View(fn func(m *Manager) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.m)
}

// Update runs fn with the write lock held and commits the StoreUpdate fn
// returns, unless fn itself returned an error, in which case nothing is
// committed, so RecordBlockInfo never mutates persistent state on a
// failing path.
func (h *Handle) Update(fn func(m *Manager) (*store.StoreUpdate, error)) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			h.m.Log.WithField("panic", r).Error("epochmgr: writer panicked, lock state is poisoned")
			panic(r)
		}
	}()

	update, fnErr := fn(h.m)
	if fnErr != nil {
		return fnErr
	}
	if update == nil || update.Empty() {
		return nil
	}
	if commitErr := h.m.Store.Commit(update); commitErr != nil {
		return &ErrIO{Op: "commit", Err: commitErr}
	}
	return nil
}
