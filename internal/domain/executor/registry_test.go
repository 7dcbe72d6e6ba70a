package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCancelSignalsExecution(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	release := r.Register("req-1", cancel)
	defer release()

	require.True(t, r.Cancel("req-1"))
	assert.Error(t, ctx.Err())
	assert.Equal(t, 1, r.Active(), "cancel leaves removal to the owning execution")
}

func TestRegistryCancelUnknownID(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Cancel("ghost"))
}

func TestRegistryCancelAllSignalsEveryone(t *testing.T) {
	r := NewRegistry()

	ctxs := make([]context.Context, 3)
	for i, id := range []string{"a", "b", "c"} {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs[i] = ctx
		r.Register(id, cancel)
	}

	assert.Equal(t, 3, r.CancelAll())
	for _, ctx := range ctxs {
		assert.Error(t, ctx.Err())
	}
}

func TestRegistryReleaseRemovesOwnHandle(t *testing.T) {
	r := NewRegistry()
	_, cancel := context.WithCancel(context.Background())
	release := r.Register("req-1", cancel)

	release()
	assert.Zero(t, r.Active())
	release()
	assert.Zero(t, r.Active())
}

func TestRegistryDuplicateIDCancelsStaleExecution(t *testing.T) {
	r := NewRegistry()

	oldCtx, oldCancel := context.WithCancel(context.Background())
	oldRelease := r.Register("req-1", oldCancel)

	newCtx, newCancel := context.WithCancel(context.Background())
	r.Register("req-1", newCancel)

	assert.Error(t, oldCtx.Err(), "the newest execution owns the id")
	assert.NoError(t, newCtx.Err())

	// The stale execution's cleanup must not evict the new handle.
	oldRelease()
	assert.Equal(t, 1, r.Active())
	require.True(t, r.Cancel("req-1"))
	assert.Error(t, newCtx.Err())
}
