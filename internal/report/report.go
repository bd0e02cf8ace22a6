// Package report publishes migrate run reports to object storage.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/filestore"
	"github.com/denwal/poolgate/internal/logger"
)

// Sink writes JSON run reports into a bucket, one object per run.
type Sink struct {
	store  filestore.Store
	bucket string
	prefix string
	log    *logger.Logger
}

// NewSink builds a Sink publishing into bucket under prefix.
func NewSink(store filestore.Store, bucket, prefix string, log *logger.Logger) *Sink {
	return &Sink{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		log:    log.Component("report"),
	}
}

// Publish uploads v as an indented JSON document keyed by run date and
// ID, and returns a link to it. When the backend cannot presign, the
// plain object URI is returned instead.
func (s *Sink) Publish(ctx context.Context, runID string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, "failed to encode report", err)
	}

	if err := s.store.EnsureBucket(ctx, s.bucket); err != nil {
		return "", err
	}

	key := s.key(runID)
	info, err := s.store.Put(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), "application/json")
	if err != nil {
		return "", err
	}
	s.log.With().
		Str("key", key).
		Int64("bytes", info.Size).
		Logger().
		Info("run report published")

	url, err := s.store.PresignGet(ctx, s.bucket, key, 24*time.Hour)
	if err != nil {
		s.log.WarnWith("could not presign report URL", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
	}
	return url, nil
}

func (s *Sink) key(runID string) string {
	day := time.Now().UTC().Format("2006-01-02")
	return path.Join(s.prefix, day, runID+".json")
}
