package context_test

import (
	"context"
	"testing"

	ct "accounts/pkg/context"

	"github.com/stretchr/testify/assert"
)

func TestCurrent_RoundTripsThroughContext(t *testing.T) {
	current := ct.NewCurrent()
	current.Set(ct.RequestIDKey, "req-1")
	current.Set(ct.AccountIDKey, "acc-1")

	ctx := ct.WithCurrent(context.Background(), current)

	got, ok := ct.FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", got.RequestID())
	assert.Equal(t, "acc-1", got.AccountID())
}

func TestCurrent_MissingFromContext(t *testing.T) {
	_, ok := ct.FromContext(context.Background())
	assert.False(t, ok)

	current := ct.GetCurrent(context.Background())
	assert.NotNil(t, current)
	assert.Empty(t, current.RequestID())
}

func TestCurrent_GetStringWrongType(t *testing.T) {
	current := ct.NewCurrent()
	current.Set("count", 3)

	_, ok := current.GetString("count")
	assert.False(t, ok)

	current.Delete("count")
	assert.Empty(t, current.All())
}
