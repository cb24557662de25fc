// Package keystore derives MeshStatic session keys from an operator-supplied
// master key, rotating the session id once per day (spec.md §3, §4.2).
package keystore

import (
	"fmt"
	"sync"
	"time"

	"github.com/dj3m/meshstatic/internal/mesh"
)

// rotationPeriod is how long a session id stays current before the next
// one is derived (spec.md §3 "Session state").
const rotationPeriod = 24 * time.Hour

// Static implements mesh.KeyStore over a fixed master key, deriving each
// day's session key on first use and caching it.
type Static struct {
	master [mesh.KeySize]byte
	epoch  time.Time

	mu      sync.Mutex
	id      uint32
	key     [mesh.KeySize]byte
	derived bool
}

// New builds a Static key store. epoch anchors session id 0 to a fixed
// instant so every node sharing the same master key and epoch rotates in
// lockstep without any wall-clock exchange on the wire.
func New(master [mesh.KeySize]byte, epoch time.Time) *Static {
	return &Static{master: master, epoch: epoch}
}

// MasterKey implements mesh.KeyStore.
func (s *Static) MasterKey() [mesh.KeySize]byte {
	return s.master
}

// CurrentSession implements mesh.KeyStore, deriving and caching the
// session key for the current rotation period.
func (s *Static) CurrentSession() (id uint32, key [mesh.KeySize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.sessionIDLocked()
	if s.derived && s.id == current {
		return s.id, s.key
	}

	derived, err := mesh.DeriveSessionKey(s.master, current)
	if err != nil {
		// DeriveSessionKey only fails if the AEAD seal itself fails,
		// which never happens for a well-formed key; keep serving the
		// previous session rather than a zero key.
		if s.derived {
			return s.id, s.key
		}
		panic(fmt.Sprintf("keystore: derive session %d: %v", current, err))
	}

	s.id, s.key, s.derived = current, derived, true
	return s.id, s.key
}

func (s *Static) sessionIDLocked() uint32 {
	elapsed := time.Since(s.epoch)
	if elapsed < 0 {
		return 0
	}
	return uint32(elapsed / rotationPeriod)
}
