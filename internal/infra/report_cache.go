package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ReportCache keeps rendered reconciliation reports in Redis. Entries are
// namespaced by a per-manager version counter: invalidating a manager bumps
// the counter, which orphans every cached range at once and lets TTL reap them.
//
//	recon:ver:{managerID}                 -> version (INCR)
//	recon:{managerID}:v{version}:{range}  -> report JSON
type ReportCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReportCache returns a cache whose entries live for ttl. A non-positive
// ttl disables caching.
func NewReportCache(rdb *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached report together with the version it was looked up
// under. The version must be handed back to Set so a report computed before
// an invalidation is stored under the old, orphaned version. A negative
// version means the cache is unusable for this call.
func (c *ReportCache) Get(ctx context.Context, managerID uuid.UUID, key string) ([]byte, int64, bool) {
	if c.ttl <= 0 {
		return nil, -1, false
	}
	ver, err := c.version(ctx, managerID)
	if err != nil {
		return nil, -1, false
	}
	data, err := c.rdb.Get(ctx, dataKey(managerID, ver, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("manager_id", managerID.String()).Msg("report cache: get failed")
		}
		return nil, ver, false
	}
	return data, ver, true
}

func (c *ReportCache) Set(ctx context.Context, managerID uuid.UUID, ver int64, key string, data []byte) {
	if c.ttl <= 0 || ver < 0 {
		return
	}
	if err := c.rdb.Set(ctx, dataKey(managerID, ver, key), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("manager_id", managerID.String()).Msg("report cache: set failed")
	}
}

// Invalidate drops every cached report of the manager.
func (c *ReportCache) Invalidate(ctx context.Context, managerID uuid.UUID) error {
	return c.rdb.Incr(ctx, versionKey(managerID)).Err()
}

func (c *ReportCache) version(ctx context.Context, managerID uuid.UUID) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(managerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("manager_id", managerID.String()).Msg("report cache: version lookup failed")
	}
	return v, err
}

func versionKey(managerID uuid.UUID) string { return "recon:ver:" + managerID.String() }

func dataKey(managerID uuid.UUID, ver int64, key string) string {
	return fmt.Sprintf("recon:%s:v%d:%s", managerID, ver, key)
}
