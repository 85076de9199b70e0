// Package store wraps the shared Redis namespace used by the key registry,
// saves, stats, hosting records, and room snapshots. All access goes through
// a circuit breaker so a Redis outage degrades rather than cascades.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// ErrConflict is returned when an optimistic update lost its race and
// exhausted its retries.
var ErrConflict = errors.New("store: optimistic update conflict")

const casRetries = 10

// Store handles all interaction with the Redis cluster.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// New creates a robust Redis connection with a circuit breaker.
func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(ctx, "Connected to Redis")
	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// NewFromClient wraps an existing Redis client. Used by tests with miniredis.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "redis"}),
	}
}

// execute routes an operation through the circuit breaker with metrics.
func (s *Store) execute(op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	res, err := s.cb.Execute(fn)
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			status = "rejected"
		}
	}
	metrics.RedisOperationsTotal.WithLabelValues(op, status).Inc()
	return res, err
}

// GetRaw fetches the raw bytes stored at key, or ErrNotFound. A miss is a
// normal outcome and does not count against the circuit breaker.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var missing bool
	res, err := s.execute("get", func() (any, error) {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			missing = true
			return []byte(nil), nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	if missing {
		return nil, ErrNotFound
	}
	return res.([]byte), nil
}

// SetRaw stores raw bytes at key with no expiry.
func (s *Store) SetRaw(ctx context.Context, key string, value []byte) error {
	return s.SetRawTTL(ctx, key, value, 0)
}

// SetRawTTL stores raw bytes at key with the given expiry (0 = none).
func (s *Store) SetRawTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.execute("set", func() (any, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// GetJSON unmarshals the value at key into dest, or returns ErrNotFound.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it at key with no expiry.
func (s *Store) SetJSON(ctx context.Context, key string, value any) error {
	return s.SetJSONTTL(ctx, key, value, 0)
}

// SetJSONTTL marshals value and stores it at key with the given expiry.
func (s *Store) SetJSONTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	return s.SetRawTTL(ctx, key, data, ttl)
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	_, err := s.execute("del", func() (any, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("del %v: %w", keys, err)
	}
	return nil
}

// Exists reports whether the key holds a value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.execute("exists", func() (any, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", key, err)
	}
	return res.(int64) > 0, nil
}

// ScanKeys returns every key beginning with prefix. Saves listing is the only
// caller; per-player save sets are small, so a cursor walk is fine here.
func (s *Store) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	res, err := s.execute("scan", func() (any, error) {
		var keys []string
		var cursor uint64
		for {
			batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				return nil, err
			}
			keys = append(keys, batch...)
			cursor = next
			if cursor == 0 {
				return keys, nil
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	return res.([]string), nil
}

// SetAdd adds a member to a set and refreshes the set's expiry (0 = none).
// Returns true if the member was newly added.
func (s *Store) SetAdd(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	res, err := s.execute("sadd", func() (any, error) {
		added, err := s.client.SAdd(ctx, key, member).Result()
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
				return nil, err
			}
		}
		return added, nil
	})
	if err != nil {
		return false, fmt.Errorf("sadd %q: %w", key, err)
	}
	return res.(int64) > 0, nil
}

// SetCard returns the cardinality of a set (0 for an absent key).
func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	res, err := s.execute("scard", func() (any, error) {
		return s.client.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("scard %q: %w", key, err)
	}
	return res.(int64), nil
}

// SetIsMember reports whether member is in the set at key.
func (s *Store) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	res, err := s.execute("sismember", func() (any, error) {
		return s.client.SIsMember(ctx, key, member).Result()
	})
	if err != nil {
		return false, fmt.Errorf("sismember %q: %w", key, err)
	}
	return res.(bool), nil
}

// UpdateJSON performs an optimistic read-modify-write of the JSON value at
// key. The update callback receives the raw stored bytes (nil when absent)
// and returns the replacement value. Lost races are retried a bounded number
// of times before ErrConflict.
func (s *Store) UpdateJSON(ctx context.Context, key string, update func(current []byte) (any, error)) error {
	_, err := s.execute("cas", func() (any, error) {
		for i := 0; i < casRetries; i++ {
			err := s.client.Watch(ctx, func(tx *redis.Tx) error {
				current, err := tx.Get(ctx, key).Bytes()
				if err == redis.Nil {
					current = nil
				} else if err != nil {
					return err
				}

				next, err := update(current)
				if err != nil {
					return err
				}

				data, err := json.Marshal(next)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, data, 0)
					return nil
				})
				return err
			}, key)

			if err == redis.TxFailedErr {
				time.Sleep(time.Duration(i+1) * time.Millisecond)
				continue
			}
			return nil, err
		}
		return nil, ErrConflict
	})
	if err != nil {
		return fmt.Errorf("cas %q: %w", key, err)
	}
	return nil
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("store: not configured")
	}
	_, err := s.execute("ping", func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close gracefully shuts down the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
