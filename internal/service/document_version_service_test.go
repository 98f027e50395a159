package service

import (
	"context"
	"database/sql"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/internal/repository"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/storage"
)

// memLedger stores documents and versions in memory and serves as both the
// document and the version store.
type memLedger struct {
	mu         sync.Mutex
	docs       map[string]models.Document
	versions   map[string][]models.DocumentVersion
	failUpdate error
	// racy widens the window between reading max(version) and inserting so
	// concurrent writers collide on numbers.
	racy bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		docs:     make(map[string]models.Document),
		versions: make(map[string][]models.DocumentVersion),
	}
}

func (m *memLedger) snapshot() (map[string]models.Document, map[string][]models.DocumentVersion) {
	docs := make(map[string]models.Document, len(m.docs))
	for k, v := range m.docs {
		docs[k] = v
	}
	versions := make(map[string][]models.DocumentVersion, len(m.versions))
	for k, v := range m.versions {
		versions[k] = append([]models.DocumentVersion(nil), v...)
	}
	return docs, versions
}

func (m *memLedger) Create(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return repository.ErrDuplicate
	}
	m.docs[doc.ID] = *doc
	return nil
}

func (m *memLedger) GetByID(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &doc, nil
}

func (m *memLedger) GetForUpdate(ctx context.Context, id string) (*models.Document, error) {
	return m.GetByID(ctx, id)
}

func (m *memLedger) Update(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}
	if _, ok := m.docs[doc.ID]; !ok {
		return sql.ErrNoRows
	}
	doc.UpdatedAt = time.Now().UTC()
	m.docs[doc.ID] = *doc
	return nil
}

func (m *memLedger) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, doc := range m.docs {
		if doc.TeamID != filter.TeamID || doc.State == models.DocumentStateCreating {
			continue
		}
		if doc.State == models.DocumentStateSoftDeleted && !filter.IncludeDeleted {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(doc.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (m *memLedger) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.docs, id)
	delete(m.versions, id)
	return nil
}

func (m *memLedger) maxNumber(documentID string) int {
	max := 0
	for _, v := range m.versions[documentID] {
		if v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max
}

func (m *memLedger) CreateNext(ctx context.Context, v *models.DocumentVersion) error {
	m.mu.Lock()
	next := m.maxNumber(v.DocumentID) + 1
	if m.racy {
		m.mu.Unlock()
		runtime.Gosched()
		time.Sleep(time.Millisecond)
		m.mu.Lock()
	}
	defer m.mu.Unlock()
	for _, existing := range m.versions[v.DocumentID] {
		if existing.VersionNumber == next {
			return repository.ErrVersionConflict
		}
	}
	v.ID = uuid.NewString()
	v.VersionNumber = next
	v.CreatedAt = time.Now().UTC()
	m.versions[v.DocumentID] = append(m.versions[v.DocumentID], *v)
	return nil
}

func (m *memLedger) ListByDocument(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.DocumentVersion(nil), m.versions[documentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *memLedger) GetByNumber(ctx context.Context, documentID string, number int) (*models.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[documentID] {
		if v.VersionNumber == number {
			found := v
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memLedger) ExistsByStorageKey(ctx context.Context, documentID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[documentID] {
		if v.StorageKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) MaxNumber(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxNumber(documentID), nil
}

type memTxKey struct{}

// memTx serialises units of work and restores the ledger when one fails.
type memTx struct {
	mu sync.Mutex
	db *memLedger
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.db.mu.Lock()
	docs, versions := t.db.snapshot()
	t.db.mu.Unlock()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		t.db.mu.Lock()
		t.db.docs, t.db.versions = docs, versions
		t.db.mu.Unlock()
		return err
	}
	return nil
}

// passTx runs work without isolation.
type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestLedger(t *testing.T, db *memLedger, tx transactor) (*DocumentVersionService, *storage.LocalStorage) {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	disks := storage.NewDisks(storage.DiskLocal)
	disks.Register(storage.DiskLocal, local)
	paths, err := storage.NewPathGenerator("")
	require.NoError(t, err)
	return NewDocumentVersionService(db, db, tx, disks, paths, NewMetricsService(), nil), local
}

func seedDocument(db *memLedger, id string) {
	db.docs[id] = models.Document{
		ID:          id,
		TeamID:      "team-1",
		Name:        "Seed",
		Filename:    "seed.txt",
		StorageDisk: storage.DiskLocal,
		StorageKey:  "documents/team-1/2026/03/" + id + "/seed.txt",
		State:       models.DocumentStateActive,
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateVersionConcurrentWritersGetDistinctNumbers(t *testing.T) {
	db := newMemLedger()
	db.racy = true
	seedDocument(db, "doc-1")
	ledger, _ := newTestLedger(t, db, passTx{})
	ledger.retries = 25

	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.CreateVersion(context.Background(), CreateVersionInput{
				DocumentID: "doc-1",
				StorageKey: uuid.NewString(),
				SizeBytes:  1,
				CreatedBy:  "user-1",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := ledger.ListVersions(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, versions, writers)
	for i, v := range versions {
		assert.Equal(t, writers-i, v.VersionNumber)
	}
}

func TestCreateVersionReportsConflictWhenRetriesExhausted(t *testing.T) {
	db := newMemLedger()
	seedDocument(db, "doc-1")
	ledger, _ := newTestLedger(t, db, passTx{})
	ledger.retries = 2
	ledger.versions = conflictingVersions{db}

	_, err := ledger.CreateVersion(context.Background(), CreateVersionInput{DocumentID: "doc-1", StorageKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

type conflictingVersions struct {
	*memLedger
}

func (conflictingVersions) CreateNext(context.Context, *models.DocumentVersion) error {
	return repository.ErrVersionConflict
}

func TestCreateVersionMissingDocument(t *testing.T) {
	db := newMemLedger()
	ledger, _ := newTestLedger(t, db, &memTx{db: db})

	_, err := ledger.CreateVersion(context.Background(), CreateVersionInput{DocumentID: "missing", StorageKey: "k"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRestoreAppendsCopyAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	db := newMemLedger()
	seedDocument(db, "doc-1")
	ledger, local := newTestLedger(t, db, &memTx{db: db})

	doc := db.docs["doc-1"]
	require.NoError(t, local.Put(ctx, doc.StorageKey, strings.NewReader("first"), 5))

	restoredDoc, restored, err := ledger.Restore(ctx, "user-2", "doc-1", 1)
	assert.Nil(t, restoredDoc)
	assert.Nil(t, restored)
	assert.ErrorIs(t, err, appErrors.ErrVersionNotFound)

	// An unversioned document is snapshotted first, so restoring v1 yields v2.
	_, err = ledger.CreateVersion(ctx, CreateVersionInput{DocumentID: "doc-1", StorageKey: doc.StorageKey, SizeBytes: 5, Filename: "seed.txt"})
	require.NoError(t, err)
	require.NoError(t, local.Put(ctx, "documents/team-1/2026/03/doc-1/seed_v2.txt", strings.NewReader("second"), 6))
	_, err = ledger.CreateVersion(ctx, CreateVersionInput{DocumentID: "doc-1", StorageKey: "documents/team-1/2026/03/doc-1/seed_v2.txt", SizeBytes: 6, Filename: "seed.txt"})
	require.NoError(t, err)
	doc.StorageKey = "documents/team-1/2026/03/doc-1/seed_v2.txt"
	db.docs["doc-1"] = doc

	restoredDoc, restored, err = ledger.Restore(ctx, "user-2", "doc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)
	require.NotNil(t, restored.ChangeSummary)
	assert.Equal(t, "restored from version 1", *restored.ChangeSummary)
	assert.Equal(t, 3, restoredDoc.CurrentVersionNumber)
	assert.Equal(t, "documents/team-1/2026/03/doc-1/seed_v3.txt", restoredDoc.StorageKey)
	assert.Equal(t, "first", readObject(t, local, restoredDoc.StorageKey))

	versions, err := ledger.ListVersions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{versions[0].VersionNumber, versions[1].VersionNumber, versions[2].VersionNumber})
}

func TestSnapshotIfMissingRecordsCurrentContentOnce(t *testing.T) {
	ctx := context.Background()
	db := newMemLedger()
	seedDocument(db, "doc-1")
	ledger, local := newTestLedger(t, db, &memTx{db: db})
	doc := db.docs["doc-1"]
	require.NoError(t, local.Put(ctx, doc.StorageKey, strings.NewReader("legacy"), 6))

	first, err := ledger.SnapshotIfMissing(ctx, &doc, "user-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.VersionNumber)
	assert.Equal(t, 1, doc.CurrentVersionNumber)
	assert.Equal(t, checksumOf("legacy"), first.Checksum)

	again, err := ledger.SnapshotIfMissing(ctx, &doc, "user-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}
