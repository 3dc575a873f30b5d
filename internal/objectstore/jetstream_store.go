// Package objectstore keeps job payloads (page text, recordings, rendered
// audio) in a NATS JetStream object store bucket shared by the service and
// its clients.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrEmptyKey is returned for an operation without an object key.
var ErrEmptyKey = errors.New("object key cannot be empty")

// JetStreamStore implements core.ObjectStore on a JetStream object store.
type JetStreamStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*JetStreamStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Voice service payloads for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &JetStreamStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object.
func (s *JetStreamStore) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	obj, err := s.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
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

// DownloadToFile streams an object into a new temp file in dir named after
// pattern (as for os.CreateTemp) and returns its path. The caller owns the
// file. Nothing is left behind on failure.
func (s *JetStreamStore) DownloadToFile(ctx context.Context, key, dir, pattern string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	obj, err := s.store.Get(key, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}
	defer obj.Close()

	file, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for '%s': %w", key, err)
	}

	_, copyErr := io.Copy(file, obj)
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(file.Name())

		return "", fmt.Errorf("failed to write object '%s' to disk: %w", key, errors.Join(copyErr, closeErr))
	}

	return file.Name(), nil
}

// Upload saves an object, replacing any previous object with the same key.
func (s *JetStreamStore) Upload(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes an object.
func (s *JetStreamStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	err := s.store.Delete(key)
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
