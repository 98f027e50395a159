package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/internal/repository"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/jobs"
)

type memTagStore struct {
	mu        sync.Mutex
	tags      map[string]models.RetentionTag
	listCalls int
	getCalls  int
}

func (m *memTagStore) Create(_ context.Context, tag *models.RetentionTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tags {
		if existing.TeamID == tag.TeamID && existing.Name == tag.Name {
			return repository.ErrDuplicate
		}
	}
	tag.ID = "tag-" + tag.Name
	tag.CreatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.tags[tag.ID] = *tag
	return nil
}

func (m *memTagStore) GetByID(_ context.Context, id string) (*models.RetentionTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	tag, ok := m.tags[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &tag, nil
}

func (m *memTagStore) ListByTeam(_ context.Context, teamID string) ([]models.RetentionTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []models.RetentionTag
	for _, tag := range m.tags {
		if tag.TeamID == teamID {
			out = append(out, tag)
		}
	}
	return out, nil
}

type memAuditLog struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (m *memAuditLog) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func newTagService(t *testing.T) (*RetentionTagService, *memTagStore, *memAuditLog) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &memTagStore{tags: map[string]models.RetentionTag{}}
	logs := &memAuditLog{}
	// The audit queue is never started so records are written inline.
	audit := NewAuditService(logs, jobs.QueueConfig{}, zap.NewNop())
	cache := NewCacheService(repository.NewCacheRepository(client, "test:"), NewMetricsService(), time.Minute, zap.NewNop())
	return NewRetentionTagService(store, NewRolePolicy(), audit, cache, nil, zap.NewNop()), store, logs
}

func TestRetentionTagCreateRequiresTeamAdmin(t *testing.T) {
	svc, _, logs := newTagService(t)
	req := dto.CreateRetentionTagRequest{TeamID: "team-1", Name: "contracts", RetentionPeriodDays: 30}

	_, err := svc.Create(context.Background(), editor, req)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = svc.Create(context.Background(), otherAdmin, req)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	tag, err := svc.Create(context.Background(), teamAdmin, req)
	require.NoError(t, err)
	assert.Equal(t, "tag-contracts", tag.ID)
	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.AuditActionRetentionTagCreate, logs.entries[0].Action)
}

func TestRetentionTagDuplicateName(t *testing.T) {
	svc, _, _ := newTagService(t)
	req := dto.CreateRetentionTagRequest{TeamID: "team-1", Name: " contracts ", RetentionPeriodDays: 30}

	_, err := svc.Create(context.Background(), teamAdmin, req)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), teamAdmin, req)
	assert.ErrorIs(t, err, appErrors.ErrDuplicateName)
}

func TestRetentionTagListIsCachedUntilCreate(t *testing.T) {
	svc, store, _ := newTagService(t)
	ctx := context.Background()

	tags, err := svc.List(ctx, viewer, "")
	require.NoError(t, err)
	assert.Empty(t, tags)
	_, err = svc.List(ctx, viewer, "team-1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)

	_, err = svc.Create(ctx, teamAdmin, dto.CreateRetentionTagRequest{TeamID: "team-1", Name: "invoices", RetentionPeriodDays: 365})
	require.NoError(t, err)

	tags, err = svc.List(ctx, viewer, "team-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "invoices", tags[0].Name)
	assert.Equal(t, 2, store.listCalls)
}

func TestRetentionTagListOtherTeamForbidden(t *testing.T) {
	svc, _, _ := newTagService(t)
	_, err := svc.List(context.Background(), viewer, "team-2")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRetentionTagLookup(t *testing.T) {
	svc, store, _ := newTagService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, teamAdmin, dto.CreateRetentionTagRequest{TeamID: "team-1", Name: "legal", RetentionPeriodDays: 90})
	require.NoError(t, err)

	tag, err := svc.Lookup(ctx, "team-1", "tag-legal")
	require.NoError(t, err)
	assert.Equal(t, 90, tag.RetentionPeriodDays)
	_, err = svc.Lookup(ctx, "team-1", "tag-legal")
	require.NoError(t, err)
	assert.Equal(t, 1, store.getCalls)

	_, err = svc.Lookup(ctx, "team-2", "tag-legal")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.Lookup(ctx, "team-1", "tag-missing")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCacheServiceDisabledCallsLoader(t *testing.T) {
	cache := NewCacheService(nil, nil, 0, nil)
	assert.False(t, cache.Enabled())

	calls := 0
	var out []string
	for i := 0; i < 2; i++ {
		require.NoError(t, cache.Remember(context.Background(), "k", &out, func() error {
			calls++
			out = []string{"v"}
			return nil
		}))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"v"}, out)
	cache.Invalidate(context.Background(), "k")
}
