package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// NatsKV implements core.KeyValueStore on a JetStream key-value bucket.
type NatsKV struct {
	bucket string
	kv     nats.KeyValue
}

// NewNatsKV creates the bucket if needed and binds to it.
func NewNatsKV(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsKV, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:       bucketName,
		Description:  fmt.Sprintf("Learner state for the %s bucket.", bucketName),
		MaxValueSize: 0,
		History:      1,
		TTL:          0,
		MaxBytes:     0,
		Storage:      nats.FileStorage,
		Replicas:     1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create key-value bucket '%s': %w", bucketName, err)
		}

		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing key-value bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsKV{bucket: bucketName, kv: kv}, nil
}

// Get returns the latest value for key.
func (n *NatsKV) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("key '%s' in bucket '%s': %w", key, n.bucket, core.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to get key '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return entry.Value(), nil
}

// Put stores value under key.
func (n *NatsKV) Put(_ context.Context, key string, value []byte) error {
	_, err := n.kv.Put(key, value)
	if err != nil {
		return fmt.Errorf("failed to put key '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (n *NatsKV) Delete(_ context.Context, key string) error {
	err := n.kv.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Keys lists live keys that start with prefix.
func (n *NatsKV) Keys(_ context.Context, prefix string) ([]string, error) {
	keys, err := n.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list keys in bucket '%s': %w", n.bucket, err)
	}

	matched := make([]string, 0, len(keys))

	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}

	return matched, nil
}
