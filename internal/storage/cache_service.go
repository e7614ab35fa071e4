package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
)

// CacheService stores derived projections in Redis as JSON. Entries are disposable;
// Postgres remains the source of truth.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyLeaderboard is for ranked snapshots
	CacheKeyLeaderboard CacheKeyType = "leaderboard"
	// CacheKeyProfile is for per-user statistics
	CacheKeyProfile CacheKeyType = "profile"
	// CacheKeyGroup is for per-group statistics and pick boards
	CacheKeyGroup CacheKeyType = "group"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	parts = append(parts, params...)
	return strings.Join(parts, ":")
}

// LeaderboardKey returns leaderboard:<timeframe>:<metric>
func (c *CacheService) LeaderboardKey(tf types.Timeframe, metric types.Metric) string {
	return c.GenerateCacheKey(CacheKeyLeaderboard, string(tf), string(metric))
}

// ProfileStatsKey returns profile:stats:<user>
func (c *CacheService) ProfileStatsKey(userID string) string {
	return c.GenerateCacheKey(CacheKeyProfile, "stats", userID)
}

// GroupStatsKey returns group:stats:<group>
func (c *CacheService) GroupStatsKey(groupID int64) string {
	return c.GenerateCacheKey(CacheKeyGroup, "stats", strconv.FormatInt(groupID, 10))
}

// GroupBoardKey returns group:leaderboard:<group>:<timeframe>
func (c *CacheService) GroupBoardKey(groupID int64, tf types.Timeframe) string {
	return c.GenerateCacheKey(CacheKeyGroup, "leaderboard", strconv.FormatInt(groupID, 10), string(tf))
}

// TTL returns the configured projection TTL
func (c *CacheService) TTL() time.Duration {
	return c.ttl
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL. A single SET replaces the
// previous value, so readers see either the old or the new projection.
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.redis.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}

	return nil
}

// Get retrieves a value from cache and unmarshals it into dest.
// Returns ErrCacheMiss when the key does not exist.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		return fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return nil
}

// Delete removes a value from cache
func (c *CacheService) Delete(ctx context.Context, key string) error {
	return c.redis.Del(ctx, key)
}

// PutLeaderboard stores a ranked snapshot, replacing the previous one for its pair
func (c *CacheService) PutLeaderboard(ctx context.Context, snap *models.LeaderboardSnapshot) error {
	return c.Set(ctx, c.LeaderboardKey(snap.Timeframe, snap.Metric), snap)
}

// GetLeaderboard returns the cached snapshot for a pair
func (c *CacheService) GetLeaderboard(ctx context.Context, tf types.Timeframe, metric types.Metric) (*models.LeaderboardSnapshot, error) {
	var snap models.LeaderboardSnapshot
	if err := c.Get(ctx, c.LeaderboardKey(tf, metric), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutProfileStats stores a user's windowed statistics
func (c *CacheService) PutProfileStats(ctx context.Context, stats *models.SubjectStats) error {
	return c.Set(ctx, c.ProfileStatsKey(stats.SubjectID), stats)
}

// GetProfileStats returns a user's cached statistics
func (c *CacheService) GetProfileStats(ctx context.Context, userID string) (*models.SubjectStats, error) {
	var stats models.SubjectStats
	if err := c.Get(ctx, c.ProfileStatsKey(userID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PutGroupStats stores a group's windowed statistics
func (c *CacheService) PutGroupStats(ctx context.Context, groupID int64, stats *models.SubjectStats) error {
	return c.Set(ctx, c.GroupStatsKey(groupID), stats)
}

// PutGroupBoard stores a group's pick board for one timeframe
func (c *CacheService) PutGroupBoard(ctx context.Context, board *models.GroupPickBoard) error {
	return c.Set(ctx, c.GroupBoardKey(board.GroupID, board.Timeframe), board)
}

// GetGroupBoard returns a group's cached pick board
func (c *CacheService) GetGroupBoard(ctx context.Context, groupID int64, tf types.Timeframe) (*models.GroupPickBoard, error) {
	var board models.GroupPickBoard
	if err := c.Get(ctx, c.GroupBoardKey(groupID, tf), &board); err != nil {
		return nil, err
	}
	return &board, nil
}
