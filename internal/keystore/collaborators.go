package keystore

import (
	"crypto/rand"
	"fmt"
	"time"
)

// MonotonicClock implements mesh.Clock over the process's monotonic
// clock, anchored at construction.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock anchored to the current instant.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// NowMS implements mesh.Clock.
func (c *MonotonicClock) NowMS() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// CryptoRandom implements mesh.Random over crypto/rand.
type CryptoRandom struct{}

// Fill implements mesh.Random.
func (CryptoRandom) Fill(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("keystore: fill random bytes: %w", err)
	}
	return nil
}
