package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsErrorTypeUnwrapsChains(t *testing.T) {
	err := NewGraphUnavailable("upsert", fmt.Errorf("dial tcp: refused"))
	wrapped := fmt.Errorf("merge document abc: %w", err)

	assert.True(t, IsErrorType(wrapped, ErrorTypeConnectivity))
	assert.False(t, IsErrorType(wrapped, ErrorTypeNotFound))
	assert.False(t, IsErrorType(nil, ErrorTypeConnectivity))
	assert.False(t, IsErrorType(fmt.Errorf("plain"), ErrorTypeConnectivity))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewGraphUnavailable("query", nil)))
	assert.False(t, IsRetryable(NewDocumentNotFound("abc")))
	assert.False(t, IsRetryable(NewConsistencyViolation("Equipment/Fryer", "dangling edge")))
	assert.False(t, IsRetryable(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewDocumentNotFound("abc")))
	assert.True(t, IsNotFound(NewElementNotFound("Equipment/Fryer")))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", NewDocumentNotFound("abc"))))
	assert.False(t, IsNotFound(NewGraphUnavailable("query", nil)))
}

func TestErrorMessages(t *testing.T) {
	err := NewGraphUnavailable("upsert", fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, "[connectivity] graph store unreachable during upsert: dial tcp: refused", err.Error())

	assert.Equal(t, "[not_found] document not found: abc", NewDocumentNotFound("abc").Error())
}

func TestPartialIngestionCarriesBatchIdentifiers(t *testing.T) {
	err := NewPartialIngestion("abc", []int{1, 3}, fmt.Errorf("timeout"))
	assert.Equal(t, []int{1, 3}, err.FailedBatches)
	assert.True(t, IsErrorType(err, ErrorTypeIngestion))
}
