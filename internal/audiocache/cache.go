// Package audiocache provides a persistent, content-addressed cache of
// synthesized speech keyed by the text and the voice that spoke it.
package audiocache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/klauspost/compress/zstd"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// DefaultRetention is how long an entry stays live after it was stored.
const DefaultRetention = 7 * 24 * time.Hour

// Object metadata fields.
const (
	MetaText        = "text"
	MetaVoiceID     = "voice-id"
	MetaStoredAt    = "stored-at"
	MetaEncoding    = "encoding"
	MetaPayloadSize = "payload-size"

	encodingIdentity = "identity"
	encodingZstd     = "zstd"
)

var (
	// ErrUnknownEncoding indicates an entry written with an encoding this cache cannot read.
	ErrUnknownEncoding = errors.New("unknown audio entry encoding")
	// ErrCorruptEntry indicates an entry whose metadata cannot be interpreted.
	ErrCorruptEntry = errors.New("corrupt audio cache entry")
)

// Options tunes the cache. Zero values take the defaults.
type Options struct {
	Retention time.Duration
	// Compress stores payloads zstd-compressed at CompressionLevel.
	Compress         bool
	CompressionLevel int
	Now              func() time.Time
}

// Stats summarizes every stored entry, live or expired.
type Stats struct {
	Count int `json:"count"`
	// TotalBytes is the sum of the original payload sizes.
	TotalBytes int64 `json:"totalBytes"`
	// StoredBytes is what the entries occupy in the store.
	StoredBytes int64 `json:"storedBytes"`
}

// Cache stores audio payloads in a core.BlobStore.
type Cache struct {
	store     core.BlobStore
	retention time.Duration
	now       func() time.Time
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	log       *logger.Logger
}

// ComputeKey returns the hex SHA-256 digest of text + "-" + voiceID.
func ComputeKey(text, voiceID string) string {
	sum := sha256.Sum256([]byte(text + "-" + voiceID))

	return hex.EncodeToString(sum[:])
}

// New creates a cache over store.
func New(store core.BlobStore, opts Options, log *logger.Logger) (*Cache, error) {
	cache := &Cache{
		store:     store,
		retention: opts.Retention,
		now:       opts.Now,
		encoder:   nil,
		decoder:   nil,
		log:       log,
	}

	if cache.retention <= 0 {
		cache.retention = DefaultRetention
	}

	if cache.now == nil {
		cache.now = time.Now
	}

	// Entries written compressed by an earlier configuration stay readable.
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	cache.decoder = decoder

	if opts.Compress {
		level := opts.CompressionLevel
		if level <= 0 {
			level = 3
		}

		encoder, encErr := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if encErr != nil {
			decoder.Close()

			return nil, fmt.Errorf("failed to create zstd encoder: %w", encErr)
		}

		cache.encoder = encoder
	}

	return cache, nil
}

// Close releases the codec resources.
func (c *Cache) Close() {
	c.decoder.Close()

	if c.encoder != nil {
		_ = c.encoder.Close()
	}
}

// Get returns the payload for text and voiceID. Expired entries are deleted
// and reported as absent.
func (c *Cache) Get(ctx context.Context, text, voiceID string) ([]byte, bool, error) {
	key := ComputeKey(text, voiceID)

	info, err := c.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("%w: stat audio entry %s: %w", core.ErrStorage, key, err)
	}

	storedAt, err := parseStoredAt(info.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("%w: entry %s: %w", core.ErrStorage, key, err)
	}

	if c.now().Sub(storedAt) > c.retention {
		deleteErr := c.store.Delete(ctx, key)
		if deleteErr != nil {
			c.log.Warn("Failed to evict expired audio entry %s: %v", key, deleteErr)
		}

		return nil, false, nil
	}

	stored, err := c.store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("%w: download audio entry %s: %w", core.ErrStorage, key, err)
	}

	payload, err := c.decode(info.Metadata[MetaEncoding], stored)
	if err != nil {
		return nil, false, fmt.Errorf("%w: entry %s: %w", core.ErrStorage, key, err)
	}

	return payload, true, nil
}

// Set stores payload for text and voiceID, replacing any previous entry.
func (c *Cache) Set(ctx context.Context, text, voiceID string, payload []byte) error {
	key := ComputeKey(text, voiceID)
	encoding := encodingIdentity
	stored := payload

	if c.encoder != nil {
		encoding = encodingZstd
		stored = c.encoder.EncodeAll(payload, nil)
	}

	metadata := map[string]string{
		MetaText:        text,
		MetaVoiceID:     voiceID,
		MetaStoredAt:    strconv.FormatInt(c.now().UnixMilli(), 10),
		MetaEncoding:    encoding,
		MetaPayloadSize: strconv.Itoa(len(payload)),
	}

	err := c.store.UploadWithMetadata(ctx, key, stored, metadata)
	if err != nil {
		return fmt.Errorf("%w: store audio entry %s: %w", core.ErrStorage, key, err)
	}

	return nil
}

// Clear removes every entry. Clearing an empty cache succeeds.
func (c *Cache) Clear(ctx context.Context) error {
	infos, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list audio entries: %w", core.ErrStorage, err)
	}

	for _, info := range infos {
		deleteErr := c.store.Delete(ctx, info.Key)
		if deleteErr != nil {
			return fmt.Errorf("%w: delete audio entry %s: %w", core.ErrStorage, info.Key, deleteErr)
		}
	}

	c.log.Info("Cleared %d audio cache entries", len(infos))

	return nil
}

// Stats reports the count and size of all stored entries without applying expiry.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	infos, err := c.store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: list audio entries: %w", core.ErrStorage, err)
	}

	stats := Stats{Count: len(infos), TotalBytes: 0, StoredBytes: 0}

	for _, info := range infos {
		stats.StoredBytes += info.Size

		size, parseErr := strconv.ParseInt(info.Metadata[MetaPayloadSize], 10, 64)
		if parseErr != nil {
			size = info.Size
		}

		stats.TotalBytes += size
	}

	return stats, nil
}

func (c *Cache) decode(encoding string, stored []byte) ([]byte, error) {
	switch encoding {
	case "", encodingIdentity:
		return stored, nil
	case encodingZstd:
		payload, err := c.decoder.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress: %w", err)
		}

		return payload, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}

func parseStoredAt(metadata map[string]string) (time.Time, error) {
	raw, ok := metadata[MetaStoredAt]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing %s", ErrCorruptEntry, MetaStoredAt)
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s=%q", ErrCorruptEntry, MetaStoredAt, raw)
	}

	return time.UnixMilli(millis), nil
}
