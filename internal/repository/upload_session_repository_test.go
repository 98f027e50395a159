package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/docvault-api/internal/models"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
)

func newSessionRepo(t *testing.T) (*UploadSessionRepository, *miniredis.Miniredis) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewUploadSessionRepository(client, 200, nil), srv
}

func newSession(id string, chunks int) *models.UploadSession {
	now := time.Now().UTC()
	return &models.UploadSession{
		ID:                  id,
		TeamID:              "team-1",
		OwnerID:             "user-1",
		Filename:            "big.bin",
		DeclaredTotalChunks: chunks,
		DeclaredTotalSize:   int64(chunks) * 10,
		ReceivedChunks:      []int{},
		CreatedAt:           now,
		ExpiresAt:           now.Add(24 * time.Hour),
	}
}

func TestUploadSessionRepositoryCreateGetDelete(t *testing.T) {
	repo, srv := newSessionRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("s1", 3)))
	assert.ErrorIs(t, repo.Create(ctx, newSession("s1", 3)), ErrDuplicate)
	assert.True(t, srv.TTL("upload_session:s1") > 24*time.Hour)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.DeclaredTotalChunks)

	existed, err := repo.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, appErrors.ErrSessionNotFound)
}

func TestUploadSessionRepositoryUpdateKeepsTTL(t *testing.T) {
	repo, srv := newSessionRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newSession("s1", 3)))
	before := srv.TTL("upload_session:s1")

	updated, err := repo.Update(ctx, "s1", func(s *models.UploadSession) error {
		s.AddChunk(1, 10)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, updated.ReceivedChunks)
	assert.Equal(t, before, srv.TTL("upload_session:s1"))

	unchanged, err := repo.Update(ctx, "s1", func(*models.UploadSession) error { return ErrUnchanged })
	require.NoError(t, err)
	assert.Equal(t, []int{1}, unchanged.ReceivedChunks)

	_, err = repo.Update(ctx, "missing", func(*models.UploadSession) error { return nil })
	assert.ErrorIs(t, err, appErrors.ErrSessionNotFound)
}

func TestUploadSessionRepositoryConcurrentUpdatesKeepEveryIndex(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()
	const n = 24
	require.NoError(t, repo.Create(ctx, newSession("s1", n)))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, err := repo.Update(ctx, "s1", func(s *models.UploadSession) error {
				s.AddChunk(index, 10)
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, n, got.ReceivedCount())
	assert.True(t, got.IsComplete())
}
