// Package signing attests answers with a secp256k1 key and caches signatures
// by payload digest.
package signing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/oracle_layer/internal/app/metrics"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// ErrInvalidSignature covers recovery mismatches and malformed cached values.
var ErrInvalidSignature = errors.New("invalid signature")

// Cache maps hex(keccak256(payload)) to hex(signature). Entries never go
// stale because the key is the content.
type Cache struct {
	signer   Signer
	log      *logger.Logger
	capacity int

	mu         sync.Mutex
	signatures map[string]string
}

// NewCache creates a signature cache over signer.
func NewCache(signer Signer, capacity int, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewDefault("signing")
	}
	if capacity <= 0 {
		capacity = 300
	}
	return &Cache{
		signer:     signer,
		log:        log,
		capacity:   capacity,
		signatures: make(map[string]string),
	}
}

// Address is the address every signature recovers to.
func (c *Cache) Address() string {
	return c.signer.Address()
}

// Sign returns a 65-byte signature (r||s||v, v in {27,28}) over
// keccak256(payload), signing at most once per distinct payload.
func (c *Cache) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	digest := Keccak256(payload)
	key := hex.EncodeToString(digest)

	c.mu.Lock()
	cached, ok := c.signatures[key]
	c.mu.Unlock()
	if ok {
		sig, err := hex.DecodeString(cached)
		if err != nil {
			metrics.RecordSignature("error")
			return nil, fmt.Errorf("%w: cached value: %v", ErrInvalidSignature, err)
		}
		metrics.RecordSignature("hit")
		return sig, nil
	}

	raw, err := c.signer.SignDigest(ctx, digest)
	if err != nil {
		metrics.RecordSignature("error")
		return nil, fmt.Errorf("sign digest: %w", err)
	}

	v, err := recoveryByte(digest, raw, c.signer.Address())
	if err != nil {
		metrics.RecordSignature("error")
		return nil, err
	}
	sig := make([]byte, 0, 65)
	sig = append(sig, raw...)
	sig = append(sig, v)

	c.mu.Lock()
	c.signatures[key] = hex.EncodeToString(sig)
	size := len(c.signatures)
	c.mu.Unlock()

	metrics.RecordSignature("signed")
	metrics.SetSignatureEntries(size)
	c.log.WithField("digest", key).Debug("payload signed")
	return sig, nil
}

func recoveryByte(digest, raw []byte, address string) (byte, error) {
	for bit := byte(0); bit <= 1; bit++ {
		recovered, err := RecoverAddress(digest, raw, bit)
		if err != nil {
			continue
		}
		if strings.EqualFold(recovered, address) {
			return 27 + bit, nil
		}
	}
	return 0, fmt.Errorf("%w: no recovery bit matches %s", ErrInvalidSignature, address)
}

// Clean trims the cache to capacity once it is exceeded, dropping entries in
// ascending order of their signature value.
func (c *Cache) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()

	excess := len(c.signatures) - c.capacity
	if excess <= 0 {
		return
	}

	keys := make([]string, 0, len(c.signatures))
	for k := range c.signatures {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.signatures[keys[i]], c.signatures[keys[j]]
		if a == b {
			return keys[i] < keys[j]
		}
		return a < b
	})
	for _, k := range keys[:excess] {
		delete(c.signatures, k)
	}

	metrics.SetSignatureEntries(len(c.signatures))
	c.log.WithField("removed", excess).Info("signature cache cleaned")
}

// Len returns the number of cached signatures.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.signatures)
}

// State is the serialisable cache content. Address records the signer that
// produced the signatures.
type State struct {
	Address    string            `json:"address"`
	Signatures map[string]string `json:"signatures"`
	Capacity   int               `json:"capacity"`
}

// Export copies the cache content.
func (c *Cache) Export() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Address:    c.signer.Address(),
		Signatures: make(map[string]string, len(c.signatures)),
		Capacity:   c.capacity,
	}
	for k, v := range c.signatures {
		st.Signatures[k] = v
	}
	return st
}

// Restore replaces the cache content with st. Signatures made by a different
// key than the current signer's are discarded, since they would not recover
// to Address().
func (c *Cache) Restore(st State) {
	address := c.signer.Address()
	keep := strings.EqualFold(st.Address, address)
	if !keep && len(st.Signatures) > 0 {
		c.log.WithField("snapshot_address", st.Address).
			WithField("address", address).
			Warn("discarding signatures made by another key")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.signatures = make(map[string]string, len(st.Signatures))
	if keep {
		for k, v := range st.Signatures {
			c.signatures[k] = v
		}
	}
	if st.Capacity > 0 {
		c.capacity = st.Capacity
	}
	metrics.SetSignatureEntries(len(c.signatures))
}
