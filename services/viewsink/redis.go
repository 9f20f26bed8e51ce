// Package viewsink holds the external read stores the view cache mirrors
// entries into.
package viewsink

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/big"
	"strconv"

	"github.com/redis/go-redis/v9"

	"intentlend/crypto"
	"intentlend/native/viewcache"
)

// RedisConfig holds connection parameters for the Redis view.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	TLSEnabled bool   `yaml:"tls"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// writeScript stores the entry hash unless a strictly newer version is present.
var writeScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'collateral', ARGV[2], 'debt', ARGV[3], 'updatedAt', ARGV[4])
return 1
`)

// orderScript is writeScript for order lifecycle hashes.
var orderScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'borrower', ARGV[2], 'status', ARGV[3], 'repaid', ARGV[4], 'totalDue', ARGV[5], 'closed', ARGV[6], 'updatedAt', ARGV[7])
return 1
`)

// RedisView mirrors entries into one Redis hash per (user, asset).
type RedisView struct {
	rdb    redis.UniversalClient
	prefix string
}

// DialRedis creates a client, pings it to verify connectivity and wraps it.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisView, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("viewsink: redis ping: %w", err)
	}
	return NewRedisView(rdb, cfg.KeyPrefix), nil
}

// NewRedisView wraps an existing client.
func NewRedisView(rdb redis.UniversalClient, prefix string) *RedisView {
	if prefix == "" {
		prefix = "intentlend:view"
	}
	return &RedisView{rdb: rdb, prefix: prefix}
}

func (v *RedisView) Name() string { return "redis" }

// Key returns the hash key holding the entry for (user, asset).
func (v *RedisView) Key(user, asset crypto.Address) string {
	return v.prefix + ":" + userKey(user) + ":" + asset.Hex()
}

// OrderKey returns the hash key holding the lifecycle entry of order id.
func (v *RedisView) OrderKey(id uint64) string {
	return v.prefix + ":order:" + strconv.FormatUint(id, 10)
}

func (v *RedisView) WriteOrder(ctx context.Context, entry viewcache.OrderEntry) error {
	err := orderScript.Run(ctx, v.rdb, []string{v.OrderKey(entry.OrderID)},
		strconv.FormatUint(entry.Version, 10),
		entry.Borrower.Hex(),
		entry.Status,
		amount(entry.Repaid),
		amount(entry.TotalDue),
		strconv.FormatBool(entry.Closed),
		strconv.FormatUint(entry.UpdatedAt, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("viewsink: redis order write: %w", err)
	}
	return nil
}

func (v *RedisView) Write(ctx context.Context, entry viewcache.Entry) error {
	err := writeScript.Run(ctx, v.rdb, []string{v.Key(entry.User, entry.Asset)},
		strconv.FormatUint(entry.Version, 10),
		amount(entry.Collateral),
		amount(entry.Debt),
		strconv.FormatUint(entry.UpdatedAt, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("viewsink: redis write: %w", err)
	}
	return nil
}

// Get reads the mirrored entry back. A missing key yields nil.
func (v *RedisView) Get(ctx context.Context, user, asset crypto.Address) (*viewcache.Entry, error) {
	fields, err := v.rdb.HGetAll(ctx, v.Key(user, asset)).Result()
	if err != nil {
		return nil, fmt.Errorf("viewsink: redis read: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	entry := &viewcache.Entry{User: user, Asset: asset}
	if entry.Version, err = strconv.ParseUint(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("viewsink: version: %w", err)
	}
	if entry.UpdatedAt, err = strconv.ParseUint(fields["updatedAt"], 10, 64); err != nil {
		return nil, fmt.Errorf("viewsink: updatedAt: %w", err)
	}
	var ok bool
	if entry.Collateral, ok = new(big.Int).SetString(fields["collateral"], 10); !ok {
		return nil, fmt.Errorf("viewsink: collateral %q", fields["collateral"])
	}
	if entry.Debt, ok = new(big.Int).SetString(fields["debt"], 10); !ok {
		return nil, fmt.Errorf("viewsink: debt %q", fields["debt"])
	}
	return entry, nil
}

func (v *RedisView) Close() error {
	return v.rdb.Close()
}
