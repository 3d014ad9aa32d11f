// Package storage provides the object stores that partitions are uploaded to
// and remote ride files are fetched from.
package storage

import (
	"context"
	"fmt"
	"strings"

	tserrors "github.com/arkilian/taxistream/internal/errors"
)

// ErrObjectNotFound is matched with errors.Is by every store.
var ErrObjectNotFound = tserrors.New(tserrors.ErrCategoryStorage, tserrors.CodeObjectNotFound, "object not found")

// ObjectStorage abstracts object storage operations. Object paths use
// forward slashes.
type ObjectStorage interface {
	// Upload copies the local file to objectPath, replacing any existing object.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath, creating parent directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Type selects an ObjectStorage implementation.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// Config describes the object store partitions are uploaded to.
type Config struct {
	Type Type     `json:"type" yaml:"type" env:"TYPE"`
	Path string   `json:"path" yaml:"path" env:"PATH"`
	S3   S3Config `json:"s3" yaml:"s3" envPrefix:"S3_"`
}

// Open builds the store described by cfg.
func Open(ctx context.Context, cfg Config) (ObjectStorage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		return NewLocalStorage(cfg.Path)
	case TypeS3:
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, tserrors.NewConfigurationError(fmt.Sprintf("unknown storage type %q", cfg.Type))
	}
}

// ParseS3URI splits s3://bucket/key. ok is false for anything else.
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func uploadError(objectPath string, cause error) error {
	return tserrors.NewStorageError(tserrors.CodeUploadFailed, "upload "+objectPath, cause)
}

func downloadError(objectPath string, cause error) error {
	return tserrors.NewStorageError(tserrors.CodeDownloadFailed, "download "+objectPath, cause)
}
