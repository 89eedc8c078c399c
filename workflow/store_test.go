package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgstudio/catalog"
	"bgstudio/pipeline"
)

func sampleRecord() Record {
	office := catalog.CategoryOffice
	st := pipeline.NewState()
	st.Stage = pipeline.StageStyleChosen
	st.UploadedImageRef = "https://cdn.test/upload.png"
	st.RemovedBgImageRef = "https://cdn.test/cutout.png"
	st.SelectedStyle = &office
	st.Cost = catalog.MustParseAmount("0.0006")
	st.UpdatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Record{
		ID:        "wf-1",
		UserID:    "user-1",
		State:     st,
		CreatedAt: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}
}

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	_, err := s.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := sampleRecord()
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	require.NoError(t, s.Delete(ctx, "wf-1"))
	_, err = s.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.Save(ctx, sampleRecord()))

	got, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	*got.State.SelectedStyle = catalog.CategoryOutdoor

	again, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.CategoryOffice, *again.State.SelectedStyle)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, sampleRecord()))
	now = now.Add(59 * time.Second)
	_, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = s.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, ttl)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Hour)

	require.NoError(t, s.Ping(ctx))

	_, err := s.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := sampleRecord()
	require.NoError(t, s.Save(ctx, rec))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"wf-1"))
	assert.Equal(t, time.Hour, mr.TTL(DefaultKeyPrefix+"wf-1"))

	got, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.UserID, got.UserID)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, pipeline.StageStyleChosen, got.State.Stage)
	assert.Equal(t, rec.State.RemovedBgImageRef, got.State.RemovedBgImageRef)
	require.NotNil(t, got.State.SelectedStyle)
	assert.Equal(t, catalog.CategoryOffice, *got.State.SelectedStyle)
	assert.Equal(t, rec.State.Cost, got.State.Cost)

	require.NoError(t, s.Delete(ctx, "wf-1"))
	_, err = s.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Minute)

	require.NoError(t, s.Save(ctx, sampleRecord()))
	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 0)

	require.NoError(t, mr.Set(DefaultKeyPrefix+"wf-1", "{not json"))
	_, err := s.Load(ctx, "wf-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 0)
	mr.Close()

	assert.Error(t, s.Ping(ctx))
	assert.Error(t, s.Save(ctx, sampleRecord()))
}
