package reconcile

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrDuplicateSwap is returned when a transaction hash was already accepted
// within the dedup window.
var ErrDuplicateSwap = errors.New("reconcile: duplicate swap")

// Dedup remembers transaction hashes for a TTL window. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TxKey normalizes a transaction hash. 32-byte hex hashes are canonicalized
// through go-ethereum so "0xABC…" and "0xabc…" collide; anything else is
// compared lower-cased. An empty hash yields "".
func TxKey(txHash string) string {
	h := strings.TrimSpace(txHash)
	if h == "" {
		return ""
	}
	if has0x := strings.HasPrefix(h, "0x") || strings.HasPrefix(h, "0X"); has0x && len(h) == 2+2*common.HashLength {
		return common.HexToHash(h).Hex()
	}
	return strings.ToLower(h)
}

// IsDuplicate records key and reports whether it was already seen within the
// window. The empty key is never a duplicate.
func (d *Dedup) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops key so a later retry of the same swap is accepted.
func (d *Dedup) Forget(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
