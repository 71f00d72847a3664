package natsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// KVEntry is a KV value with its revision
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	Timeout      time.Duration // per-operation timeout
	MaxValueSize int           // reject larger values; 0 disables the check
}

// DefaultKVOptions returns the defaults used for retained-message storage
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout:      5 * time.Second,
		MaxValueSize: 64 * 1024,
	}
}

// KVStore wraps a bucket with timeouts and error normalization
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  Logger
}

// NewKVStore creates a KV store over bucket
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger,
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put stores value under key (last writer wins)
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return 0, fmt.Errorf("kv put %s: value size %d exceeds maximum %d", key, len(value), kv.options.MaxValueSize)
	}

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}

	kv.logger.Debugf("KV Put: key=%s, revision=%d", key, rev)
	return rev, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil && !IsKVNotFoundError(err) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}

	kv.logger.Debugf("KV Delete: key=%s", key)
	return nil
}

// Watch creates a long-lived watcher for keys matching pattern
func (kv *KVStore) Watch(ctx context.Context, pattern string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern, opts...)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return watcher, nil
}

// Snapshot calls fn for the current value of every key matching pattern and
// returns once the initial values have been delivered. Deleted keys are skipped.
func (kv *KVStore) Snapshot(ctx context.Context, pattern string, fn func(KVEntry)) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	watcher, err := kv.Watch(ctx, pattern, jetstream.IgnoreDeletes())
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("kv snapshot %s: %w", pattern, ctx.Err())
		case entry, ok := <-watcher.Updates():
			if !ok {
				return nil
			}
			// A nil entry marks the end of the initial values.
			if entry == nil {
				return nil
			}
			fn(KVEntry{Key: entry.Key(), Value: entry.Value(), Revision: entry.Revision()})
		}
	}
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") ||
		strings.Contains(errMsg, "10037")
}

// Well-known KV errors
var (
	ErrKVKeyNotFound = errors.New("kv: key not found")
)
