// Package objectstore provides a NATS-based implementation of the BlobStore interface.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// NatsObjectStore implements the core.BlobStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates and initializes a new NatsObjectStore.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
			}
		} else {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, n.wrapGetError(key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	return n.UploadWithMetadata(ctx, key, data, nil)
}

// UploadWithMetadata saves an object together with its string metadata.
// An existing object with the same key is replaced.
func (n *NatsObjectStore) UploadWithMetadata(
	_ context.Context,
	key string,
	data []byte,
	metadata map[string]string,
) error {
	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    metadata,
		Opts:        nil,
	}, reader)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Stat returns the size and metadata of an object without reading its payload.
func (n *NatsObjectStore) Stat(_ context.Context, key string) (core.ObjectInfo, error) {
	info, err := n.store.GetInfo(key)
	if err != nil {
		return core.ObjectInfo{}, n.wrapGetError(key, err)
	}

	return toObjectInfo(info), nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// List returns every live object in the bucket.
func (n *NatsObjectStore) List(_ context.Context) ([]core.ObjectInfo, error) {
	infos, err := n.store.List()
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return []core.ObjectInfo{}, nil
		}

		return nil, fmt.Errorf("failed to list objects in bucket '%s': %w", n.bucket, err)
	}

	objects := make([]core.ObjectInfo, 0, len(infos))

	for _, info := range infos {
		if info.Deleted {
			continue
		}

		objects = append(objects, toObjectInfo(info))
	}

	return objects, nil
}

func (n *NatsObjectStore) wrapGetError(key string, err error) error {
	if errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("object '%s' in bucket '%s': %w", key, n.bucket, core.ErrNotFound)
	}

	return fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
}

func toObjectInfo(info *nats.ObjectInfo) core.ObjectInfo {
	metadata := make(map[string]string, len(info.Metadata))
	for k, v := range info.Metadata {
		metadata[k] = v
	}

	return core.ObjectInfo{
		Key:      info.Name,
		Size:     int64(info.Size),
		Metadata: metadata,
	}
}
