package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storefront/internal/models"
	"storefront/internal/storage"
)

const (
	entitlementsKey = "entitlements:lookup"
	maxTxRetries    = 10
)

var consumeScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used >= tonumber(ARGV[1]) then
	return {used, 0}
end
used = redis.call('INCR', KEYS[1])
return {used, 1}
`)

var refundScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`)

// Store implements storage.Storage on Redis. Transactions are JSON values; per-key
// read-modify-write uses WATCH/MULTI with optimistic retries.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps an existing client. ttl of zero stores transactions without expiry.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Connect opens a client and pings it
func Connect(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return New(client, ttl, logger), nil
}

func txKey(trackingID string) string {
	return fmt.Sprintf("tx:%s", trackingID)
}

func usageKey(requesterID int64) string {
	return fmt.Sprintf("usage:%d", requesterID)
}

func (s *Store) Put(ctx context.Context, tx models.PendingTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	if err := s.client.Set(ctx, txKey(tx.TrackingID), data, s.ttl).Err(); err != nil {
		s.logger.Error("failed to store transaction in redis",
			zap.Error(err),
			zap.String("tracking_id", tx.TrackingID),
		)
		return fmt.Errorf("failed to store transaction: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, trackingID string) (models.PendingTransaction, error) {
	data, err := s.client.Get(ctx, txKey(trackingID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.PendingTransaction{}, storage.ErrNotFound
		}
		return models.PendingTransaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return decode(data)
}

func (s *Store) Delete(ctx context.Context, trackingID string) error {
	if err := s.client.Del(ctx, txKey(trackingID)).Err(); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, trackingID string, fn storage.UpdateFunc) (models.PendingTransaction, error) {
	key := txKey(trackingID)
	var result models.PendingTransaction

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return storage.ErrNotFound
			}
			return err
		}
		current, err := decode(data)
		if err != nil {
			return err
		}

		result = current
		updated := current
		if err := fn(&updated); err != nil {
			return err
		}
		encoded, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode transaction: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, redis.KeepTTL)
			return nil
		})
		if err == nil {
			result = updated
		}
		return err
	}

	err := s.watch(ctx, key, txf)
	return result, err
}

func (s *Store) DeleteIf(ctx context.Context, trackingID string, status models.Status) (bool, error) {
	key := txKey(trackingID)
	removed := false

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return storage.ErrNotFound
			}
			return err
		}
		current, err := decode(data)
		if err != nil {
			return err
		}
		if current.Status != status {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		removed = err == nil
		return err
	})
	return removed, err
}

// watch runs fn under WATCH key, retrying when another client modified the key
func (s *Store) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("redis optimistic lock conflict, retrying", zap.String("key", key), zap.Int("attempt", i+1))
			continue
		}
		return err
	}
	return fmt.Errorf("redis update of %s: too many conflicts", key)
}

func (s *Store) Grant(ctx context.Context, requesterID int64) error {
	if err := s.client.SAdd(ctx, entitlementsKey, requesterID).Err(); err != nil {
		return fmt.Errorf("failed to grant entitlement: %w", err)
	}
	return nil
}

func (s *Store) HasEntitlement(ctx context.Context, requesterID int64) (bool, error) {
	ok, err := s.client.SIsMember(ctx, entitlementsKey, requesterID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check entitlement: %w", err)
	}
	return ok, nil
}

func (s *Store) Consume(ctx context.Context, requesterID int64, limit int) (int, bool, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{usageKey(requesterID)}, limit).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume lookup: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected consume result %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

func (s *Store) Refund(ctx context.Context, requesterID int64) error {
	if err := refundScript.Run(ctx, s.client, []string{usageKey(requesterID)}).Err(); err != nil {
		return fmt.Errorf("failed to refund lookup: %w", err)
	}
	return nil
}

func (s *Store) Usage(ctx context.Context, requesterID int64) (int, error) {
	v, err := s.client.Get(ctx, usageKey(requesterID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("corrupt usage counter %q: %w", v, err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decode(data []byte) (models.PendingTransaction, error) {
	var tx models.PendingTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return tx, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

var _ storage.Storage = (*Store)(nil)
