package acmecore

import (
	"context"
	"errors"
	"sync"
)

// nonceSlot holds the most recently observed Replay-Nonce for one engine.
//
// Unlike a pool of interchangeable nonces, ACME v2's single-slot model
// means there is exactly one "most recent" nonce at a time: every signed
// request consumes it, and every response (successful or not) supplies its
// replacement. The mutex protects the slot's internal consistency only; it
// does not serialize concurrent requests (see the package's concurrency
// notes), so sharing one Client across goroutines without external
// exclusion can still race two requests onto the same nonce.
type nonceSlot struct {
	mu    sync.Mutex
	value string

	// fetch is called when the slot is empty and a nonce is needed. It is
	// expected to call observe() at least once before returning nil.
	fetch func(ctx context.Context) error
}

// observe records a freshly seen Replay-Nonce, unconditionally replacing
// whatever was previously held.
func (n *nonceSlot) observe(nonce string) {
	n.mu.Lock()
	n.value = nonce
	n.mu.Unlock()
}

// take returns the current nonce, fetching one via HEAD newNonce if the
// slot is empty. It does not clear the slot; the next response's nonce
// (via observe) is what replaces it.
func (n *nonceSlot) take(ctx context.Context) (string, error) {
	n.mu.Lock()
	v := n.value
	n.mu.Unlock()
	if v != "" {
		return v, nil
	}

	if n.fetch == nil {
		return "", errors.New("acme: no nonce source configured")
	}
	if err := n.fetch(ctx); err != nil {
		return "", err
	}

	n.mu.Lock()
	v = n.value
	n.mu.Unlock()
	if v == "" {
		return "", errors.New("acme: server did not supply a Replay-Nonce")
	}
	return v, nil
}
