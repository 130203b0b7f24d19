package ordersync

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"RestoPOS/app/models"
)

const tempIDPrefix = "tmp-"

// IsPersistedID reports whether id is a server-assigned identifier
func IsPersistedID(id string) bool {
	return models.IsPersistedID(id)
}

// IsTempID reports whether id was produced by a TempIDGenerator
func IsTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}

// IDSource produces identifiers for new line items
type IDSource interface {
	Next() string
}

// TempIDGenerator produces placeholder identifiers for items the server has not persisted.
type TempIDGenerator struct {
	counter atomic.Uint64
	random  func([]byte) (int, error)
}

// NewTempIDGenerator creates a generator backed by crypto/rand
func NewTempIDGenerator() *TempIDGenerator {
	return &TempIDGenerator{random: rand.Read}
}

// Next returns a fresh temporary ID. When the random source fails it falls
// back to a timestamp combined with a monotonically increasing counter.
func (g *TempIDGenerator) Next() string {
	buf := make([]byte, 8)
	if g.random != nil {
		if _, err := g.random(buf); err == nil {
			return tempIDPrefix + hex.EncodeToString(buf)
		}
	}
	n := g.counter.Add(1)
	return fmt.Sprintf("%s%d-%d", tempIDPrefix, time.Now().UnixNano(), n)
}
