package export

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// ObjectStore writes JSON objects. storage.AWSStorage implements it.
type ObjectStore interface {
	SaveToS3(ctx context.Context, key string, data interface{}) error
}

// S3Archive keeps a copy of every batch under
// {prefix}/{account}/{yyyy}/{mm}/{dd}/{hhmmss}-{id}.json.
type S3Archive struct {
	store  ObjectStore
	prefix string
	now    func() time.Time
}

// NewS3Archive creates an archive writing under prefix.
func NewS3Archive(store ObjectStore, prefix string) *S3Archive {
	if prefix == "" {
		prefix = "export-batches"
	}
	return &S3Archive{store: store, prefix: prefix, now: time.Now}
}

func (a *S3Archive) key(accountID string) string {
	t := a.now().UTC()
	return path.Join(a.prefix, accountID, t.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.json", t.Format("150405"), uuid.NewString()))
}

// Archive implements Archiver.
func (a *S3Archive) Archive(ctx context.Context, b Batch) error {
	key := a.key(b.AccountID)
	if err := a.store.SaveToS3(ctx, key, b); err != nil {
		return fmt.Errorf("archive batch %s: %w", key, err)
	}
	return nil
}
