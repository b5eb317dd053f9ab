package outbound

import "sync"

// pendingIndex is the keyed registry of in-flight queries. Keys are
// unique across the index; insert fails on collision so the caller
// (Dispatcher.Submit) can regenerate the transaction id and retry.
//
// A single mutex guards the map. insert/lookup/remove calls arrive from
// independent socket-reader goroutines and timer goroutines, so the mutex
// is what actually provides the "no two live Pendings share a key" and
// "at-most-once callback" invariants.
type pendingIndex struct {
	mu    sync.Mutex
	items map[pendingKey]*pending
}

func newPendingIndex() *pendingIndex {
	return &pendingIndex{items: make(map[pendingKey]*pending)}
}

// insert adds p under its key, failing with errKeyCollision if the key is
// already occupied by a live Pending.
func (idx *pendingIndex) insert(p *pending) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.items[p.key]; exists {
		return errKeyCollision
	}
	idx.items[p.key] = p
	return nil
}

// lookup returns the Pending registered under key, if any. It does not
// remove the entry — callers that need removal call removeMatching so the
// "found but wrong socket" path can leave the entry live for a legitimate
// reply to match later.
func (idx *pendingIndex) lookup(key pendingKey) (*pending, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.items[key]
	return p, ok
}

// removeMatching deletes the entry at key only if it is still exactly p.
// This is the arbitration point between the reply path, the timeout path,
// and explicit cancellation: whichever of them calls removeMatching first
// wins the right to invoke the completion; the loser observes ok == false
// and must not invoke anything.
func (idx *pendingIndex) removeMatching(key pendingKey, p *pending) (*pending, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur, ok := idx.items[key]
	if !ok || cur != p {
		return nil, false
	}
	delete(idx.items, key)
	return cur, true
}

// drain removes every entry and invokes fn on each, used only during
// Dispatcher shutdown. Order is unspecified; it simply clears the backing
// map after visiting every entry rather than unlinking one at a time.
func (idx *pendingIndex) drain(fn func(*pending)) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, p := range idx.items {
		fn(p)
	}
	idx.items = make(map[pendingKey]*pending)
}

// len reports the number of live entries. Used by tests and diagnostics.
func (idx *pendingIndex) len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.items)
}
