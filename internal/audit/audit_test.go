package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAppends(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)

	err := rec.Record(context.Background(), "alice", ActionCredentialCreate, TargetCredential, "c1", map[string]any{"name": "prod-1"})
	require.NoError(t, err)

	entries, err := rec.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, ActionCredentialCreate, entries[0].Action)
	assert.Equal(t, "c1", entries[0].TargetID)
	assert.NotEmpty(t, entries[0].ID)
	assert.WithinDuration(t, time.Now(), entries[0].CreatedAt, 5*time.Second)
}

func TestQueryFilters(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, "alice", ActionCredentialCreate, TargetCredential, "c1", nil))
	require.NoError(t, rec.Record(ctx, "bob", ActionSessionOpen, TargetSession, "s1", nil))
	require.NoError(t, rec.Record(ctx, "bob", ActionSessionClose, TargetSession, "s1", nil))
	require.NoError(t, rec.Record(ctx, "alice", ActionLifecycleStart, TargetHost, "h1", nil))

	byActor, err := rec.Query(ctx, Filter{Actor: "bob"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	byAction, err := rec.Query(ctx, Filter{Action: ActionSessionClose})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "s1", byAction[0].TargetID)

	byTarget, err := rec.Query(ctx, Filter{TargetType: TargetSession, TargetID: "s1"})
	require.NoError(t, err)
	assert.Len(t, byTarget, 2)

	limited, err := rec.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestQueryTimeRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := Entry{ID: "e1", Actor: "alice", Action: ActionSessionOpen, CreatedAt: time.Now().Add(-2 * time.Hour)}
	fresh := Entry{ID: "e2", Actor: "alice", Action: ActionSessionClose, CreatedAt: time.Now()}
	require.NoError(t, store.Append(ctx, old))
	require.NoError(t, store.Append(ctx, fresh))

	entries, err := store.Query(ctx, Filter{From: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e2", entries[0].ID)

	entries, err = store.Query(ctx, Filter{To: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
}

func TestAppendOrderPreserved(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, "alice", ActionLifecycleDeploy, TargetHost, "h1", nil))
	require.NoError(t, rec.Record(ctx, "alice", ActionLifecycleInstall, TargetHost, "h1", nil))
	require.NoError(t, rec.Record(ctx, "alice", ActionLifecycleStart, TargetHost, "h1", nil))

	entries, err := rec.Query(ctx, Filter{TargetID: "h1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ActionLifecycleDeploy, entries[0].Action)
	assert.Equal(t, ActionLifecycleInstall, entries[1].Action)
	assert.Equal(t, ActionLifecycleStart, entries[2].Action)
}

func TestDecodeMetadata(t *testing.T) {
	e := Entry{ID: "e1"}
	require.NoError(t, decodeMetadata(nil, &e))
	assert.Nil(t, e.Metadata)

	require.NoError(t, decodeMetadata([]byte(`{"operation":"deploy"}`), &e))
	assert.Equal(t, "deploy", e.Metadata["operation"])

	err := decodeMetadata([]byte(`{"operation":`), &e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e1")
}
