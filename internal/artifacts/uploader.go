package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Vincamine/PipelineRunner-sub000/internal/storage/objectstore"
)

// Uploader ships a collection to object storage as one bundle per job.
type Uploader struct {
	store  objectstore.Store
	bucket string
}

func NewUploader(store objectstore.Store, bucket string) (*Uploader, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Uploader{store: store, bucket: bucket}, nil
}

func BundleKey(jobExecutionID string) string {
	return fmt.Sprintf("jobs/%s/artifacts.tar.zst", jobExecutionID)
}

// Upload returns the object key, or "" when the collection is empty.
func (u *Uploader) Upload(ctx context.Context, jobExecutionID string, c Collection) (string, error) {
	if u == nil || u.store == nil {
		return "", errors.New("artifact uploader not initialized")
	}
	if len(c.Files) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if err := WriteBundle(&buf, c.Dir, c.Files); err != nil {
		return "", err
	}
	key := BundleKey(jobExecutionID)
	size := int64(buf.Len())
	if err := u.store.Put(ctx, u.bucket, key, &buf, size, BundleContentType); err != nil {
		return "", fmt.Errorf("upload artifacts: %w", err)
	}
	return key, nil
}
