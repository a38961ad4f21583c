package supervisor

import (
	"strconv"
	"time"
)

// tokenExpiry is how long an unpolled not-done-yet token is kept
const tokenExpiry = time.Hour

// deferred is polled until done. results are set for group operations.
type deferred func() (done bool, results []ProcessResult, err error)

type pendingToken struct {
	poll       deferred
	lastPolled time.Time
}

// deferredRegistry holds not-done-yet tokens handed to control clients.
// It is owned by the reactor goroutine.
type deferredRegistry struct {
	now    func() time.Time
	nextID uint64
	tokens map[string]*pendingToken
}

func newDeferredRegistry(now func() time.Time) *deferredRegistry {
	return &deferredRegistry{now: now, tokens: make(map[string]*pendingToken)}
}

func (r *deferredRegistry) add(poll deferred) string {
	r.expire()
	r.nextID++
	id := strconv.FormatUint(r.nextID, 10)
	r.tokens[id] = &pendingToken{poll: poll, lastPolled: r.now()}
	return id
}

// poll advances token id. ok is false when the token is unknown or expired.
func (r *deferredRegistry) poll(id string) (done bool, results []ProcessResult, ok bool, err error) {
	r.expire()
	token, ok := r.tokens[id]
	if !ok {
		return false, nil, false, nil
	}
	token.lastPolled = r.now()
	done, results, err = token.poll()
	if done || err != nil {
		delete(r.tokens, id)
	}
	return done, results, true, err
}

func (r *deferredRegistry) expire() {
	now := r.now()
	for id, token := range r.tokens {
		if now.Sub(token.lastPolled) > tokenExpiry {
			delete(r.tokens, id)
		}
	}
}

func (r *deferredRegistry) len() int {
	return len(r.tokens)
}

func (r *deferredRegistry) clear() {
	r.tokens = make(map[string]*pendingToken)
}
