package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/reservation-admin/internal/model"
)

// ErrHandleGone is returned by Swap when the old handle vanished (expired,
// logged out or rotated by a concurrent request) before the swap ran.
var ErrHandleGone = errors.New("session handle no longer present")

// HandleCache is the fast-access projection of durable sessions.
type HandleCache interface {
	Get(ctx context.Context, handle string) (model.CacheRecord, bool, error)
	Put(ctx context.Context, handle string, rec model.CacheRecord, ttl time.Duration) error
	Remove(ctx context.Context, handle, userID string) error
	Swap(ctx context.Context, oldHandle, newHandle string, rec model.CacheRecord, ttl time.Duration) error
	PurgeSessions(ctx context.Context, userID string, sessionIDs []string) error
	PurgeUser(ctx context.Context, userID string) error
}

// RedisCache keeps session:{handle} -> JSON record with a TTL and the set
// userSessions:{userId} of the user's handles.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb} }

func handleKey(handle string) string { return "session:" + handle }
func userKey(userID string) string   { return "userSessions:" + userID }

func (c *RedisCache) Get(ctx context.Context, handle string) (model.CacheRecord, bool, error) {
	raw, err := c.rdb.Get(ctx, handleKey(handle)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CacheRecord{}, false, nil
	}
	if err != nil {
		return model.CacheRecord{}, false, err
	}
	var rec model.CacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.CacheRecord{}, false, fmt.Errorf("decode session record: %w", err)
	}
	return rec, true, nil
}

func (c *RedisCache) Put(ctx context.Context, handle string, rec model.CacheRecord, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, handleKey(handle), b, ttl)
		p.SAdd(ctx, userKey(rec.UserID), handle)
		return nil
	})
	return err
}

func (c *RedisCache) Remove(ctx context.Context, handle, userID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, handleKey(handle))
		p.SRem(ctx, userKey(userID), handle)
		return nil
	})
	return err
}

// Swap replaces oldHandle by newHandle in one MULTI/EXEC, guarded by WATCH
// on the old key: once it returns nil the old handle no longer resolves.
func (c *RedisCache) Swap(ctx context.Context, oldHandle, newHandle string, rec model.CacheRecord, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	oldKey := handleKey(oldHandle)
	return c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, oldKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrHandleGone
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, oldKey)
			p.SRem(ctx, userKey(rec.UserID), oldHandle)
			p.Set(ctx, handleKey(newHandle), b, ttl)
			p.SAdd(ctx, userKey(rec.UserID), newHandle)
			return nil
		})
		return err
	}, oldKey)
}

// PurgeSessions drops every handle of userID that points at one of
// sessionIDs, plus index entries whose record already expired.
func (c *RedisCache) PurgeSessions(ctx context.Context, userID string, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	handles, err := c.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		drop[id] = true
	}

	stale := make([]bool, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			rec, ok, err := c.Get(gctx, h)
			if err != nil {
				return err
			}
			stale[i] = !ok || drop[rec.DBSessionID]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, h := range handles {
			if !stale[i] {
				continue
			}
			p.Del(ctx, handleKey(h))
			p.SRem(ctx, userKey(userID), h)
		}
		return nil
	})
	return err
}

// PurgeUser drops every handle of userID and the index itself.
func (c *RedisCache) PurgeUser(ctx context.Context, userID string) error {
	handles, err := c.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(handles)+1)
	for _, h := range handles {
		keys = append(keys, handleKey(h))
	}
	keys = append(keys, userKey(userID))
	return c.rdb.Del(ctx, keys...).Err()
}
