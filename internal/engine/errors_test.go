package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindTransientNetwork, classifyStatus(http.StatusInternalServerError))
	assert.Equal(t, KindTransientNetwork, classifyStatus(http.StatusBadGateway))
	assert.Equal(t, KindTransientNetwork, classifyStatus(http.StatusTooManyRequests))
	assert.Equal(t, KindPermanentHTTP, classifyStatus(http.StatusNotFound))
	assert.Equal(t, KindPermanentHTTP, classifyStatus(http.StatusForbidden))
	assert.Equal(t, KindUnknown, classifyStatus(http.StatusOK))
}

func TestKindOfUnwrapsChain(t *testing.T) {
	base := NewError(KindVerification, "digest mismatch", nil)
	wrapped := fmt.Errorf("task failed: %w", base)
	assert.Equal(t, KindVerification, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(NewError(KindTransientNetwork, "reset", nil)))
	assert.False(t, IsRetryable(NewError(KindPermanentHTTP, "404", nil)))
	assert.False(t, IsRetryable(NewError(KindVerification, "bad digest", nil)))

	// A transient error stays retryable through wrapping.
	wrapped := fmt.Errorf("segment 3: %w", statusError("http://x", 503))
	assert.True(t, IsRetryable(wrapped))
}

func TestDownloadErrorMessage(t *testing.T) {
	err := NewError(KindFilesystem, "write failed", errors.New("disk full"))
	assert.Contains(t, err.Error(), "filesystem_error")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "disk full", err.Unwrap().Error())
}
