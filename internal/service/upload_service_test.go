package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/internal/repository"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/storage"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*models.UploadSession)}
}

func cloneSession(s *models.UploadSession) *models.UploadSession {
	copy := *s
	copy.ReceivedChunks = append([]int(nil), s.ReceivedChunks...)
	copy.ChunkSizes = make(map[int]int64, len(s.ChunkSizes))
	for k, v := range s.ChunkSizes {
		copy.ChunkSizes[k] = v
	}
	return &copy
}

func (m *memSessionStore) Create(ctx context.Context, session *models.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return repository.ErrDuplicate
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *memSessionStore) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, appErrors.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *memSessionStore) Update(ctx context.Context, id string, mutate func(*models.UploadSession) error) (*models.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, appErrors.ErrSessionNotFound
	}
	working := cloneSession(session)
	if err := mutate(working); err != nil {
		if errors.Is(err, repository.ErrUnchanged) {
			return cloneSession(session), nil
		}
		return nil, err
	}
	m.sessions[id] = working
	return cloneSession(working), nil
}

func (m *memSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok, nil
}

// hookStore lets tests intercept Compose.
type hookStore struct {
	storage.ObjectStore
	beforeCompose func() error
	afterCompose  func()
}

func (h *hookStore) Compose(ctx context.Context, dst string, srcs []string) (int64, error) {
	if h.beforeCompose != nil {
		if err := h.beforeCompose(); err != nil {
			return 0, err
		}
	}
	n, err := h.ObjectStore.Compose(ctx, dst, srcs)
	if err == nil && h.afterCompose != nil {
		h.afterCompose()
	}
	return n, err
}

type uploadFixture struct {
	sessions *UploadSessionService
	chunks   *ChunkUploadService
	store    *hookStore
	local    *storage.LocalStorage
	now      time.Time
}

var uploader = models.Actor{UserID: "user-1", TeamID: "team-1", Role: models.RoleEditor}

func newUploadFixture(t *testing.T, sessionStore uploadSessionStore) *uploadFixture {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	if sessionStore == nil {
		sessionStore = newMemSessionStore()
	}
	f := &uploadFixture{
		store: &hookStore{ObjectStore: local},
		local: local,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sessions = NewUploadSessionService(sessionStore, nil, UploadSessionConfig{
		ChunkSize:   4,
		MaxFileSize: 1024,
		MaxChunks:   64,
		TTL:         24 * time.Hour,
	}, nil)
	f.sessions.now = func() time.Time { return f.now }
	f.chunks = NewChunkUploadService(f.sessions, f.store, NewMetricsService(), time.Minute, nil)
	return f
}

func (f *uploadFixture) initiate(t *testing.T, chunks int, size int64) *models.UploadSession {
	t.Helper()
	session, err := f.sessions.Initiate(context.Background(), uploader, dto.InitiateUploadRequest{
		Filename:    "report.bin",
		TotalChunks: chunks,
		TotalSize:   size,
		TeamID:      uploader.TeamID,
	})
	require.NoError(t, err)
	return session
}

func (f *uploadFixture) upload(t *testing.T, id string, index int, body string) *models.UploadSession {
	t.Helper()
	session, err := f.chunks.UploadChunk(context.Background(), uploader, id, index, strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return session
}

func (f *uploadFixture) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := f.local.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestCompleteConcatenatesChunksInIndexOrder(t *testing.T) {
	ctx := context.Background()
	contents := []string{"AAA", "BBB", "CCC"}
	for _, order := range [][]int{{0, 1, 2}, {2, 0, 1}} {
		f := newUploadFixture(t, nil)
		session := f.initiate(t, 3, 9)
		for _, idx := range order {
			f.upload(t, session.ID, idx, contents[idx])
		}

		result, err := f.chunks.Complete(ctx, uploader, session.ID, "")
		require.NoError(t, err, "order %v", order)
		assert.EqualValues(t, 9, result.Size)
		assert.Equal(t, StagingKey(uploader.TeamID, uploader.UserID, session.ID, "report.bin"), result.StorageKey)

		rc, err := f.local.Get(ctx, result.StorageKey)
		require.NoError(t, err)
		data := make([]byte, 16)
		n, _ := rc.Read(data)
		_ = rc.Close()
		assert.Equal(t, "AAABBBCCC", string(data[:n]), "order %v", order)

		for i := range contents {
			assert.False(t, f.exists(t, chunkKey(session.ID, i)))
		}
		_, err = f.sessions.Status(ctx, session.ID)
		assert.ErrorIs(t, err, appErrors.ErrSessionNotFound)
	}
}

func TestCompleteConfinesRequestedKeyToOwnerStaging(t *testing.T) {
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 1, 2)
	f.upload(t, session.ID, 0, "hi")

	result, err := f.chunks.Complete(context.Background(), uploader, session.ID, "/inbox/../../hi.txt")
	require.NoError(t, err)
	assert.Equal(t, "uploads/assembled/team-1/user-1/hi.txt", result.StorageKey)
	assert.True(t, f.exists(t, result.StorageKey))
}

func TestCompleteIncompleteReportsCounts(t *testing.T) {
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 3, 9)
	f.upload(t, session.ID, 0, "AAA")

	_, err := f.chunks.Complete(context.Background(), uploader, session.ID, "")
	require.ErrorIs(t, err, appErrors.ErrIncompleteUpload)
	appErr := appErrors.FromError(err)
	assert.Equal(t, 1, appErr.Details["uploaded"])
	assert.Equal(t, 3, appErr.Details["expected"])
	assert.True(t, appErrors.Retryable(err))

	status, err := f.sessions.Status(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.UploadedChunks)
	assert.True(t, f.exists(t, chunkKey(session.ID, 0)))
}

func TestCompleteFailureKeepsChunksAndSession(t *testing.T) {
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 2, 6)
	f.upload(t, session.ID, 0, "AAA")
	f.upload(t, session.ID, 1, "BBB")

	f.store.beforeCompose = func() error { return fmt.Errorf("%w: disk full", storage.ErrUnavailable) }
	_, err := f.chunks.Complete(context.Background(), uploader, session.ID, "")
	require.ErrorIs(t, err, appErrors.ErrAssemblyFailed)
	assert.True(t, f.exists(t, chunkKey(session.ID, 0)))
	assert.True(t, f.exists(t, chunkKey(session.ID, 1)))

	f.store.beforeCompose = nil
	result, err := f.chunks.Complete(context.Background(), uploader, session.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 6, result.Size)
}

func TestCompleteLosesRaceToCancel(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 1, 3)
	f.upload(t, session.ID, 0, "AAA")

	var cancelled bool
	f.store.afterCompose = func() {
		var err error
		cancelled, err = f.chunks.Cancel(ctx, uploader, session.ID)
		require.NoError(t, err)
	}
	_, err := f.chunks.Complete(ctx, uploader, session.ID, "")
	require.ErrorIs(t, err, appErrors.ErrSessionNotFound)
	assert.True(t, cancelled)
	assert.False(t, f.exists(t, StagingKey(uploader.TeamID, uploader.UserID, session.ID, "report.bin")))
	assert.False(t, f.exists(t, chunkKey(session.ID, 0)))
}

func TestCancelRemovesChunksAndSession(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 3, 9)
	f.upload(t, session.ID, 0, "AAA")
	f.upload(t, session.ID, 1, "BBB")

	existed, err := f.chunks.Cancel(ctx, uploader, session.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = f.sessions.Status(ctx, session.ID)
	assert.ErrorIs(t, err, appErrors.ErrSessionNotFound)
	assert.False(t, f.exists(t, chunkKey(session.ID, 0)))
	assert.False(t, f.exists(t, chunkKey(session.ID, 1)))

	existed, err = f.chunks.Cancel(ctx, uploader, session.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestCancelByAnotherUserIsForbidden(t *testing.T) {
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 1, 3)

	other := models.Actor{UserID: "user-2", TeamID: "team-1", Role: models.RoleEditor}
	_, err := f.chunks.Cancel(context.Background(), other, session.ID)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.sessions.Status(context.Background(), session.ID)
	require.NoError(t, err)
}

func TestCancelNeverTouchesStagedUploads(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 1, 3)
	f.upload(t, session.ID, 0, "AAA")
	result, err := f.chunks.Complete(ctx, uploader, session.ID, "")
	require.NoError(t, err)
	require.True(t, f.exists(t, result.StorageKey))

	outsider := models.Actor{UserID: "mallory", TeamID: "team-9", Role: models.RoleEditor}
	for _, id := range []string{
		"assembled",
		"assembled/team-1",
		"../assembled",
		"",
		strings.ToUpper(session.ID),
		"5f0c3a52-8d1e-4b7a-9c1f-2e6d4b8a7c90",
		session.ID,
	} {
		existed, err := f.chunks.Cancel(ctx, outsider, id)
		require.NoError(t, err, id)
		assert.False(t, existed, id)
	}
	assert.True(t, f.exists(t, result.StorageKey))
	assert.Equal(t, "AAA", readObject(t, f.local, result.StorageKey))
}

func TestCancelLeavesOrphanChunksToSweeper(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 2, 6)
	f.upload(t, session.ID, 0, "AAA")
	_, err := f.sessions.Forget(ctx, session.ID)
	require.NoError(t, err)

	existed, err := f.chunks.Cancel(ctx, uploader, session.ID)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.True(t, f.exists(t, chunkKey(session.ID, 0)))
}

func TestMalformedUploadIDsAreNotFound(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)

	for _, id := range []string{"assembled", "../x", "not-a-uuid"} {
		_, err := f.chunks.UploadChunk(ctx, uploader, id, 0, strings.NewReader("AAA"), 3)
		assert.ErrorIs(t, err, appErrors.ErrSessionNotFound, id)
		_, err = f.chunks.Status(ctx, uploader, id)
		assert.ErrorIs(t, err, appErrors.ErrSessionNotFound, id)
		_, err = f.chunks.Complete(ctx, uploader, id, "")
		assert.ErrorIs(t, err, appErrors.ErrSessionNotFound, id)
	}
	written, err := f.local.List(ctx, "uploads/")
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestStatusOfExpiredSessionIsNotFound(t *testing.T) {
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 2, 6)
	f.upload(t, session.ID, 0, "AAA")
	f.now = session.ExpiresAt.Add(time.Second)

	_, err := f.chunks.Status(context.Background(), uploader, session.ID)
	require.ErrorIs(t, err, appErrors.ErrSessionNotFound)
	assert.False(t, errors.Is(err, appErrors.ErrSessionExpired))
}

func TestTeammatesCannotOverwriteEachOthersStaging(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	teammate := models.Actor{UserID: "user-2", TeamID: "team-1", Role: models.RoleEditor}

	mine := f.initiate(t, 1, 3)
	f.upload(t, mine.ID, 0, "AAA")
	first, err := f.chunks.Complete(ctx, uploader, mine.ID, "shared/report.bin")
	require.NoError(t, err)

	theirs, err := f.sessions.Initiate(ctx, teammate, dto.InitiateUploadRequest{Filename: "report.bin", TotalChunks: 1, TotalSize: 3, TeamID: "team-1"})
	require.NoError(t, err)
	_, err = f.chunks.UploadChunk(ctx, teammate, theirs.ID, 0, strings.NewReader("ZZZ"), 3)
	require.NoError(t, err)
	second, err := f.chunks.Complete(ctx, teammate, theirs.ID, "../user-1/shared/report.bin")
	require.NoError(t, err)

	assert.Equal(t, "uploads/assembled/team-1/user-1/shared/report.bin", first.StorageKey)
	assert.Equal(t, "uploads/assembled/team-1/user-2/user-1/shared/report.bin", second.StorageKey)
	assert.Equal(t, "ZZZ", readObject(t, f.local, second.StorageKey))
	assert.Equal(t, "AAA", readObject(t, f.local, first.StorageKey))
}

func TestRecordChunkIsIdempotent(t *testing.T) {
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 3, 9)

	first := f.upload(t, session.ID, 1, "BBB")
	second := f.upload(t, session.ID, 1, "BBB")
	assert.Equal(t, 1, first.ReceivedCount())
	assert.Equal(t, 1, second.ReceivedCount())
	assert.Equal(t, []int{1}, second.ReceivedChunks)
}

func TestRecordChunkValidatesSession(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 2, 6)

	_, err := f.sessions.RecordChunk(ctx, session.ID, 2, 3)
	assert.ErrorIs(t, err, appErrors.ErrIndexOutOfRange)

	_, err = f.sessions.RecordChunk(ctx, session.ID, -1, 3)
	assert.ErrorIs(t, err, appErrors.ErrIndexOutOfRange)

	_, err = f.sessions.RecordChunk(ctx, "missing", 0, 3)
	assert.ErrorIs(t, err, appErrors.ErrSessionNotFound)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.sessions.RecordChunk(ctx, session.ID, 0, 3)
	assert.ErrorIs(t, err, appErrors.ErrSessionExpired)
}

func TestRecordChunkConcurrentNeverLosesIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newUploadFixture(t, repository.NewUploadSessionRepository(client, 64, nil))
	f.now = time.Now().UTC()
	const n = 32
	session := f.initiate(t, n, n*3)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if _, err := f.sessions.RecordChunk(context.Background(), session.ID, idx, 3); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	status, err := f.sessions.Status(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, n, status.UploadedChunks)
	assert.True(t, status.Complete)
	assert.InDelta(t, 100, status.ProgressPercent, 0.001)
}

func TestInitiateValidatesLimits(t *testing.T) {
	f := newUploadFixture(t, nil)
	cases := []dto.InitiateUploadRequest{
		{Filename: "a", TotalChunks: 0, TotalSize: 1, TeamID: "t"},
		{Filename: "a", TotalChunks: 1, TotalSize: 0, TeamID: "t"},
		{Filename: "a", TotalChunks: 65, TotalSize: 65, TeamID: "t"},
		{Filename: "a", TotalChunks: 1, TotalSize: 2048, TeamID: "t"},
		{Filename: "a", TotalChunks: 1, TotalSize: 5, TeamID: "t"},
		{Filename: " ", TotalChunks: 1, TotalSize: 1, TeamID: "t"},
	}
	for _, req := range cases {
		_, err := f.sessions.Initiate(context.Background(), uploader, req)
		assert.ErrorIs(t, err, appErrors.ErrValidation, "%+v", req)
	}

	session := f.initiate(t, 2, 5)
	assert.Equal(t, f.now.Add(24*time.Hour), session.ExpiresAt)
	assert.Equal(t, uploader.UserID, session.OwnerID)
}

func TestUploadChunkRejections(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 2, 6)

	_, err := f.chunks.UploadChunk(ctx, uploader, session.ID, 0, strings.NewReader("TOOBIG"), 6)
	assert.ErrorIs(t, err, appErrors.ErrChunkTooLarge)

	_, err = f.chunks.UploadChunk(ctx, uploader, session.ID, 5, strings.NewReader("AAA"), 3)
	assert.ErrorIs(t, err, appErrors.ErrIndexOutOfRange)
	assert.False(t, f.exists(t, chunkKey(session.ID, 5)))

	other := models.Actor{UserID: "intruder", Role: models.RoleAdmin}
	_, err = f.chunks.UploadChunk(ctx, other, session.ID, 0, strings.NewReader("AAA"), 3)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.False(t, f.exists(t, chunkKey(session.ID, 0)))
}

func TestSweepExpiredReclaimsAbandonedUploads(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	abandoned := f.initiate(t, 3, 9)
	f.upload(t, abandoned.ID, 0, "AAA")
	f.upload(t, abandoned.ID, 2, "CCC")

	f.now = f.now.Add(12 * time.Hour)
	live := f.initiate(t, 2, 6)
	f.upload(t, live.ID, 0, "AAA")

	report, err := f.chunks.SweepExpired(ctx, f.now.Add(13*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{abandoned.ID}, report.ExpiredSessions)
	assert.Equal(t, 4, report.ObjectsDeleted)
	assert.Equal(t, 2, report.MarkersScanned)

	assert.False(t, f.exists(t, chunkKey(abandoned.ID, 0)))
	assert.False(t, f.exists(t, chunkKey(abandoned.ID, 2)))
	assert.True(t, f.exists(t, chunkKey(live.ID, 0)))

	_, err = f.sessions.load(ctx, abandoned.ID)
	assert.ErrorIs(t, err, appErrors.ErrSessionNotFound)
	assert.EqualValues(t, 1, f.chunks.metrics.Snapshot().SessionsSwept)
}

func TestSweepExpiredRemovesStaleAssembledUploads(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, nil)
	chunks := NewChunkUploadService(f.sessions, f.local, NewMetricsService(), time.Minute, nil)

	staleKey := StagingKey("team-1", "user-1", "old-upload", "a.txt")
	freshKey := StagingKey("team-1", "user-1", "new-upload", "b.txt")
	require.NoError(t, f.local.Put(ctx, staleKey, strings.NewReader("old"), 3))
	require.NoError(t, f.local.Put(ctx, freshKey, strings.NewReader("new"), 3))
	now := time.Now().UTC()
	past := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(f.local.Path(staleKey), past, past))

	report, err := chunks.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{staleKey}, report.StagedDeleted)
	assert.Empty(t, report.ExpiredSessions)
	assert.False(t, f.exists(t, staleKey))
	assert.True(t, f.exists(t, freshKey))
}

func TestCompleteExpiredSessionIsNotFound(t *testing.T) {
	f := newUploadFixture(t, nil)
	session := f.initiate(t, 1, 3)
	f.upload(t, session.ID, 0, "AAA")
	f.now = f.now.Add(48 * time.Hour)

	_, err := f.chunks.Complete(context.Background(), uploader, session.ID, "")
	require.ErrorIs(t, err, appErrors.ErrSessionNotFound)
}
