package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/docvault-api/internal/models"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
)

// ErrUnchanged may be returned by an Update mutation to skip the write.
var ErrUnchanged = errors.New("upload session unchanged")

// sessionGrace keeps expired sessions readable until the sweeper reclaims
// their chunks, so callers see SessionExpired rather than SessionNotFound.
const sessionGrace = time.Hour

// UploadSessionRepository stores one JSON record per upload session in Redis.
type UploadSessionRepository struct {
	client     *redis.Client
	maxRetries int
	logger     *zap.Logger
}

// NewUploadSessionRepository constructs the repository. maxRetries bounds the
// optimistic update loop.
func NewUploadSessionRepository(client *redis.Client, maxRetries int, logger *zap.Logger) *UploadSessionRepository {
	if maxRetries <= 0 {
		maxRetries = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadSessionRepository{client: client, maxRetries: maxRetries, logger: logger}
}

func sessionKey(id string) string {
	return "upload_session:" + id
}

func sessionTTL(s *models.UploadSession) time.Duration {
	ttl := time.Until(s.ExpiresAt) + sessionGrace
	if ttl <= 0 {
		ttl = sessionGrace
	}
	return ttl
}

// Create stores a new session. It fails when the id is already taken.
func (r *UploadSessionRepository) Create(ctx context.Context, session *models.UploadSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal upload session %s: %w", session.ID, err)
	}
	ok, err := r.client.SetNX(ctx, sessionKey(session.ID), payload, sessionTTL(session)).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", session.ID, err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// Get loads a session.
func (r *UploadSessionRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	return decodeSession(raw)
}

// Update applies mutate to the stored session inside WATCH/MULTI/EXEC and
// retries with jittered backoff when another writer got there first.
func (r *UploadSessionRepository) Update(ctx context.Context, id string, mutate func(*models.UploadSession) error) (*models.UploadSession, error) {
	key := sessionKey(id)
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		var result *models.UploadSession
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return appErrors.ErrSessionNotFound
				}
				return err
			}
			session, err := decodeSession(raw)
			if err != nil {
				return err
			}
			if err := mutate(session); err != nil {
				if errors.Is(err, ErrUnchanged) {
					result = session
					return nil
				}
				return err
			}
			payload, err := json.Marshal(session)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				return nil
			})
			if err == nil {
				result = session
			}
			return err
		}, key)

		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		r.logger.Debug("upload session update conflict", zap.String("upload_id", id), zap.Int("attempt", attempt+1))
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "upload session is being modified concurrently")
}

// Delete removes a session and reports whether it existed. DEL is atomic, so
// of several concurrent deletes exactly one observes true.
func (r *UploadSessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", id, err)
	}
	return n == 1, nil
}

func decodeSession(raw []byte) (*models.UploadSession, error) {
	var session models.UploadSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal upload session: %w", err)
	}
	return &session, nil
}

func backoff(attempt int) time.Duration {
	base := time.Millisecond << min(attempt, 6)
	return base + time.Duration(rand.Int63n(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
