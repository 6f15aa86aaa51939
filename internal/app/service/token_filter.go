package service

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// TokenFilter remembers every issued push token so lookups for tokens that
// were never issued can be rejected without a database round trip. It only
// sees tokens created by this process (plus those loaded at startup), so it
// must not be enabled when several instances share one database.
type TokenFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewTokenFilter sizes the filter for capacity tokens at a 0.1% false positive rate.
func NewTokenFilter(capacity uint) *TokenFilter {
	if capacity < 1024 {
		capacity = 1024
	}
	return &TokenFilter{filter: bloom.NewWithEstimates(capacity, 0.001)}
}

// Add records a token.
func (f *TokenFilter) Add(token string) {
	f.mu.Lock()
	f.filter.AddString(token)
	f.mu.Unlock()
}

// MayContain reports false only for tokens that were definitely never added.
func (f *TokenFilter) MayContain(token string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(token)
}
