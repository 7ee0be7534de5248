package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithLock_NoRedisRunsFn(t *testing.T) {
	calls := 0
	err := WithLock(context.Background(), "stocktake:test", time.Second, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = WithLock(context.Background(), "stocktake:test", time.Second, func(ctx context.Context) error {
		return boom
	})
	assert.Same(t, boom, err)
}
