package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
	}{
		{"transient", NewTransientProviderError("birdeye", "solana:abc", New("503")), CategoryTransientProvider},
		{"wrapped storage", fmt.Errorf("list picks: %w", NewStorageError("list", New("conn reset"))), CategoryStorage},
		{"plain error", New("boom"), CategorySystem},
		{"lock", NewLockContentionError("prod-processing-lock", "i-2"), CategoryLockContention},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, Categorize(tt.err).Category)
		})
	}

	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientProviderError("p", "t", nil)))
	assert.True(t, IsRetryable(fmt.Errorf("attempt 2: %w", NewTransientProviderError("p", "t", nil))))
	assert.False(t, IsRetryable(NewPermanentDataError("t", "zero market cap")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsPermanent(NewPermanentDataError("t", "bad address")))
	assert.True(t, IsStorage(NewStorageError("upsert pick", New("x"))))
	assert.True(t, IsLockContention(NewLockContentionError("k", "o")))
	assert.False(t, IsStorage(NewCacheError("set", New("x"))))
}

func TestCategorizedError_Unwrap(t *testing.T) {
	cause := New("connection refused")
	err := NewStorageError("upsert token", cause)
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "caused by: connection refused")
}
