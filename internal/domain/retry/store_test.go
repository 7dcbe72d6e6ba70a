package retry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/shared/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pending.db")
	store, err := Open(path, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func chatRecord(id string) Record {
	return FromRequest(types.LogicalRequest{
		ID:      id,
		Kind:    types.KindChat,
		Payload: []byte(`{"id":"` + id + `"}`),
	}, "rate_limited")
}

func TestAppendAndDrainPreservesOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, chatRecord("req-1")))
	require.NoError(t, store.Append(ctx, chatRecord("req-2")))
	require.NoError(t, store.Append(ctx, chatRecord("req-3")))

	records, err := store.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, "req-2", records[1].RequestID)
	assert.Equal(t, "req-3", records[2].RequestID)
}

func TestAppendIsIdempotentPerRequestID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := chatRecord("req-dup")
	require.NoError(t, store.Append(ctx, rec))
	require.NoError(t, store.Append(ctx, rec))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrainAllEmptiesTheStore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, chatRecord("req-1")))

	first, err := store.DrainAll(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := store.DrainAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListIDsInAppendOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, chatRecord("req-b")))
	require.NoError(t, store.Append(ctx, chatRecord("req-a")))

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"req-b", "req-a"}, ids)
}

func TestListIDsEmptyStoreReturnsEmptySlice(t *testing.T) {
	store := openTestStore(t)

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.db")
	ctx := context.Background()

	store, err := Open(path, logging.NewNop())
	require.NoError(t, err)

	rec := FromRequest(types.LogicalRequest{
		ID:        "req-files",
		Kind:      types.KindChat,
		ModelName: "test-model",
		Payload:   []byte(`{"messages":[]}`),
		Files: []types.FileUpload{
			{FileName: "a.png", ContentType: "image/png", Data: "aGVsbG8="},
		},
	}, "challenge_detected")
	require.NoError(t, store.Append(ctx, rec))
	require.NoError(t, store.Close())

	reopened, err := Open(path, logging.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, "req-files", got.RequestID)
	assert.Equal(t, "challenge_detected", got.Reason)
	assert.Equal(t, "test-model", got.ModelName)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "aGVsbG8=", got.Files[0].Data, "file bytes must round-trip intact")
	assert.JSONEq(t, `{"messages":[]}`, string(got.Payload))
}

func TestRecordRequestMarksReplay(t *testing.T) {
	rec := chatRecord("req-replay")
	req := rec.Request()

	assert.Equal(t, "req-replay", req.ID)
	assert.Equal(t, types.KindChat, req.Kind)
	assert.True(t, req.Replayed)
}
