package sink

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// SinkError reports a failed snapshot write. Objects written earlier in the
// run are left in place; keys are timestamp-unique so there is nothing to
// clean up.
type SinkError struct {
	Key string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("failed to write snapshot %s: %v", e.Key, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Store writes tabular snapshots to a blob bucket. The bucket URL decides
// the backend: gs://, s3:// or file://.
type Store struct {
	Bucket *blob.Bucket
	Logger *slog.Logger

	ownsBucket bool
}

func NewStore(ctx context.Context, bucketURL string, logger *slog.Logger) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}

	return &Store{Bucket: bucket, Logger: logger, ownsBucket: true}, nil
}

// NewStoreWithBucket wraps an already-open bucket. The caller keeps
// ownership of the bucket; used by tests with memblob.
func NewStoreWithBucket(bucket *blob.Bucket, logger *slog.Logger) *Store {
	return &Store{Bucket: bucket, Logger: logger}
}

func (s *Store) Close() error {
	if !s.ownsBucket {
		return nil
	}
	return s.Bucket.Close()
}

// Write stores data under key and returns the key on success.
func (s *Store) Write(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	opts := &blob.WriterOptions{ContentType: contentType}

	w, err := s.Bucket.NewWriter(ctx, key, opts)
	if err != nil {
		return "", &SinkError{Key: key, Err: err}
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", &SinkError{Key: key, Err: err}
	}

	if err := w.Close(); err != nil {
		return "", &SinkError{Key: key, Err: err}
	}

	s.Logger.Debug("wrote snapshot", "key", key, "bytes", len(data))

	return key, nil
}

// ObjectKey builds the storage key for one snapshot object:
// prefix/pipeline/2006-01-02T15-04-05_runid/filename. Keys sort
// chronologically within a pipeline, and the run ID keeps two runs started
// in the same second apart.
func ObjectKey(prefix, pipeline string, startedAt time.Time, runID, filename string) string {
	stamp := startedAt.UTC().Format("2006-01-02T15-04-05")
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return path.Join(prefix, pipeline, fmt.Sprintf("%s_%s", stamp, runID), filename)
}
