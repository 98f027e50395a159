package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/pkg/jobs"
)

func TestAuditServiceQueuedRecordsSurviveStop(t *testing.T) {
	logs := &memAuditLog{}
	svc := NewAuditService(logs, jobs.QueueConfig{Workers: 2, RetryDelay: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	doc := &models.Document{ID: "doc-1", TeamID: "team-1"}
	reqCtx := WithRequestMeta(context.Background(), RequestMeta{IPAddress: "10.0.0.7", UserAgent: "curl/8"})
	for i := 0; i < 10; i++ {
		svc.LogAction(reqCtx, doc, editor, models.AuditActionDocumentUpdate, map[string]interface{}{"version": i + 1})
	}
	cancel()
	svc.Stop()

	logs.mu.Lock()
	defer logs.mu.Unlock()
	require.Len(t, logs.entries, 10)
	entry := logs.entries[0]
	assert.Equal(t, models.AuditResourceDocument, entry.Resource)
	assert.Equal(t, "doc-1", *entry.ResourceID)
	assert.Equal(t, "team-1", *entry.TeamID)
	assert.Equal(t, "user-1", *entry.UserID)
	assert.Equal(t, "10.0.0.7", entry.IPAddress)
	assert.Equal(t, "curl/8", entry.UserAgent)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.Metadata, &meta))
	assert.Contains(t, meta, "version")
}

func TestAuditServiceWritesInlineWhenQueueIdle(t *testing.T) {
	logs := &memAuditLog{}
	svc := NewAuditService(logs, jobs.QueueConfig{}, nil)

	svc.LogRetentionTag(context.Background(), &models.RetentionTag{ID: "tag-1", TeamID: "team-1", Name: "legal"}, teamAdmin, models.AuditActionRetentionTagCreate)
	svc.LogAction(context.Background(), nil, teamAdmin, models.AuditActionDocumentCreate, nil)

	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.AuditResourceRetentionTag, logs.entries[0].Resource)
	assert.Empty(t, logs.entries[0].IPAddress)
}
