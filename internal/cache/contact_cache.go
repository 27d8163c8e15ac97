package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"gitlab.com/voxline/api/voxline-call-directory/internal/observer"
)

// ContactNumberCache uses a bloom filter for fast "is this number a saved
// contact" prechecks. A negative answer is definitive; a positive answer may
// be a false positive and must be confirmed against the store.
type ContactNumberCache struct {
	knownFilter    *bloom.BloomFilter // Tracks normalized numbers of saved contacts
	mu             sync.RWMutex
	hits           atomic.Int64
	misses         atomic.Int64
	falsePositives atomic.Int64
	profileID      string
	expectedItems  uint
	fpRate         float64
}

// NewContactNumberCache creates a new bloom filter cache for contact numbers
func NewContactNumberCache(profileID string, expectedItems uint, fpRate float64) *ContactNumberCache {
	return &ContactNumberCache{
		knownFilter:   bloom.NewWithEstimates(expectedItems, fpRate),
		profileID:     profileID,
		expectedItems: expectedItems,
		fpRate:        fpRate,
	}
}

// generateKey creates a cache key from a normalized phone number using FNV-1a hash
func (c *ContactNumberCache) generateKey(phoneNumber string) string {
	h := fnv.New64a()
	h.Write([]byte(phoneNumber))
	return fmt.Sprintf("%x", h.Sum64())
}

// MaybeKnown reports whether the number might belong to a saved contact.
// False means definitely unknown.
func (c *ContactNumberCache) MaybeKnown(phoneNumber string) bool {
	key := c.generateKey(phoneNumber)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.knownFilter.TestString(key) {
		c.hits.Add(1)
		observer.IncCacheCheck(c.profileID, "bloom_contacts", "possible_hit")
		return true
	}

	c.misses.Add(1)
	observer.IncCacheCheck(c.profileID, "bloom_contacts", "miss")
	return false
}

// Add marks a normalized number as belonging to a saved contact
func (c *ContactNumberCache) Add(phoneNumber string) {
	key := c.generateKey(phoneNumber)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.knownFilter.AddString(key)
}

// Rebuild replaces the filter contents with the given set of numbers.
// Bloom filters don't support removal, so deletes and clears go through here.
func (c *ContactNumberCache) Rebuild(phoneNumbers []string) {
	fresh := bloom.NewWithEstimates(c.expectedItems, c.fpRate)
	for _, number := range phoneNumbers {
		h := fnv.New64a()
		h.Write([]byte(number))
		fresh.AddString(fmt.Sprintf("%x", h.Sum64()))
	}

	c.mu.Lock()
	c.knownFilter = fresh
	c.mu.Unlock()
}

// RecordFalsePositive tracks when the filter gave an incorrect positive
func (c *ContactNumberCache) RecordFalsePositive() {
	c.falsePositives.Add(1)
	observer.IncCacheCheck(c.profileID, "bloom_contacts", "false_positive")
}

// GetStats returns cache statistics
func (c *ContactNumberCache) GetStats() ContactCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	fps := c.falsePositives.Load()
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	fpRate := float64(0)
	if total > 0 {
		fpRate = float64(fps) / float64(total)
	}

	c.mu.RLock()
	knownSize := c.knownFilter.ApproximatedSize()
	c.mu.RUnlock()

	return ContactCacheStats{
		Hits:              hits,
		Misses:            misses,
		HitRate:           hitRate,
		FalsePositives:    fps,
		FalsePositiveRate: fpRate,
		KnownSize:         knownSize,
	}
}

type ContactCacheStats struct {
	Hits              int64
	Misses            int64
	HitRate           float64
	FalsePositives    int64
	FalsePositiveRate float64
	KnownSize         uint32
}
