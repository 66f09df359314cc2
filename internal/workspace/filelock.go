package workspace

import "sync"

// keyedLock serializes operations per key with strict FIFO ordering.
// Each acquirer chains onto the previous holder's release token, so callers
// for the same key run in acquisition order while different keys never block
// each other.
type keyedLock struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	refs  map[string]int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{
		tails: make(map[string]chan struct{}),
		refs:  make(map[string]int),
	}
}

// Acquire blocks until every earlier acquirer of key has released, then
// returns the release function. Release is idempotent.
func (l *keyedLock) Acquire(key string) (release func()) {
	l.mu.Lock()
	prev := l.tails[key]
	done := make(chan struct{})
	l.tails[key] = done
	l.refs[key]++
	l.mu.Unlock()

	if prev != nil {
		<-prev
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			l.mu.Lock()
			l.refs[key]--
			if l.refs[key] == 0 {
				delete(l.tails, key)
				delete(l.refs, key)
			}
			l.mu.Unlock()
		})
	}
}
