package auth

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTransportKeyTTL bounds how long a client may take between asking
// for a transport key and sending the sealed secret.
const DefaultTransportKeyTTL = 30 * time.Second

// TransportKeys is the server-side store of per-principal transport keys.
// A key is handed out by Issue and consumed by the first Open, so a sealed
// secret can never be replayed against the same key.
type TransportKeys struct {
	bits int
	ttl  time.Duration
	now  func() time.Time

	mu   sync.Mutex
	keys map[string]transportKey

	stop     chan struct{}
	stopOnce sync.Once
}

var _ TransportKeyProvider = (*TransportKeys)(nil)

type transportKey struct {
	pair      *EphemeralKeyPair
	expiresAt time.Time
}

// NewTransportKeys starts a store generating bits-sized keys that live for
// ttl. Close stops its cleanup goroutine.
func NewTransportKeys(bits int, ttl time.Duration) *TransportKeys {
	if ttl <= 0 {
		ttl = DefaultTransportKeyTTL
	}
	t := &TransportKeys{
		bits: bits,
		ttl:  ttl,
		now:  time.Now,
		keys: make(map[string]transportKey),
		stop: make(chan struct{}),
	}
	go t.cleanupLoop(time.Minute)
	return t
}

// Issue creates a keypair for principal, replacing any previous one, and
// returns its DER public key.
func (t *TransportKeys) Issue(principal string) ([]byte, error) {
	pair, err := GenerateKeyPair(t.bits)
	if err != nil {
		return nil, err
	}
	der, err := pair.ExportPublicKey()
	if err != nil {
		pair.Destroy()
		return nil, err
	}

	t.mu.Lock()
	if old, ok := t.keys[principal]; ok {
		old.pair.Destroy()
	}
	t.keys[principal] = transportKey{pair: pair, expiresAt: t.now().Add(t.ttl)}
	t.mu.Unlock()

	return der, nil
}

// Open removes principal's key and decrypts ciphertext with it.
func (t *TransportKeys) Open(principal string, ciphertext []byte, p Padding) ([]byte, error) {
	t.mu.Lock()
	k, ok := t.keys[principal]
	if ok {
		delete(t.keys, principal)
	}
	t.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransportKeyMissing, principal)
	}
	defer k.pair.Destroy()
	if t.now().After(k.expiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrTransportKeyMissing, principal)
	}
	return k.pair.Decrypt(ciphertext, p)
}

// Pending is the number of keys issued but not yet consumed or expired.
func (t *TransportKeys) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

func (t *TransportKeys) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.mu.Lock()
		for principal, k := range t.keys {
			k.pair.Destroy()
			delete(t.keys, principal)
		}
		t.mu.Unlock()
	})
}

func (t *TransportKeys) expire() {
	now := t.now()
	t.mu.Lock()
	for principal, k := range t.keys {
		if now.After(k.expiresAt) {
			k.pair.Destroy()
			delete(t.keys, principal)
		}
	}
	t.mu.Unlock()
}

func (t *TransportKeys) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.expire()
		case <-t.stop:
			return
		}
	}
}
