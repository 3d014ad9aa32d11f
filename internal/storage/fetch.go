package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetcher downloads objects of one bucket into a local cache directory.
// Objects already present in the cache are not downloaded again.
type Fetcher struct {
	storage     ObjectStorage
	cacheDir    string
	bucket      string
	concurrency int64
}

// FetchResult reports where each object landed.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewFetcher creates a fetcher for the objects of bucket, which may be empty
// for storage without buckets. concurrency bounds parallel downloads.
func NewFetcher(storage ObjectStorage, cacheDir, bucket string, concurrency int) *Fetcher {
	return &Fetcher{
		storage:     storage,
		cacheDir:    cacheDir,
		bucket:      bucket,
		concurrency: int64(max(1, concurrency)),
	}
}

// Fetch downloads a single object and returns its local path.
func (f *Fetcher) Fetch(ctx context.Context, objectPath string) (string, error) {
	res, err := f.FetchAll(ctx, []string{objectPath})
	if err != nil {
		return "", err
	}
	if err := res.Errors[objectPath]; err != nil {
		return "", err
	}
	return res.LocalPaths[objectPath], nil
}

// FetchAll downloads objectPaths in parallel. Per-object failures are
// reported in the result; the error is only set when ctx ends.
func (f *Fetcher) FetchAll(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	res := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create cache dir: %w", err)
	}

	sem := semaphore.NewWeighted(f.concurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, objectPath := range objectPaths {
		local := f.LocalPath(objectPath)
		if _, err := os.Stat(local); err == nil {
			res.LocalPaths[objectPath] = local
			res.CacheHits++
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			err := f.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors[objectPath] = err
				return
			}
			res.LocalPaths[objectPath] = local
			res.Downloads++
		}()
	}
	wg.Wait()
	return res, nil
}

// LocalPath maps an object path to its cache file under
// cacheDir/bucket/key. The key keeps its directory structure and is cleaned
// so it cannot escape the bucket directory.
func (f *Fetcher) LocalPath(objectPath string) string {
	key := strings.TrimPrefix(path.Clean("/"+objectPath), "/")
	return filepath.Join(f.cacheDir, filepath.FromSlash(path.Clean("/"+f.bucket)), filepath.FromSlash(key))
}
