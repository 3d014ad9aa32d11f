package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	tserrors "github.com/arkilian/taxistream/internal/errors"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "rides.db", "hello world")

	objectPath := "partitions/2013010100/rides.db"
	if err := store.Upload(ctx, src, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := store.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dst := filepath.Join(t.TempDir(), "nested", "out.db")
	if err := store.Download(ctx, objectPath, dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("content mismatch: got %q", got)
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	if err := store.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = store.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected object to be deleted")
	}
	if err := store.Delete(ctx, objectPath); err != nil {
		t.Errorf("deleting a missing object should succeed, got %v", err)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	err = store.Download(context.Background(), "missing.db", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if tserrors.GetCode(err) != tserrors.CodeObjectNotFound {
		t.Errorf("unexpected code %q", tserrors.GetCode(err))
	}
}

func TestLocalStorage_UploadMissingSource(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	err = store.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "a/b")
	if tserrors.GetCode(err) != tserrors.CodeUploadFailed {
		t.Fatalf("expected upload failure, got %v", err)
	}
	if !tserrors.IsRetryable(err) {
		t.Error("upload failures should be retryable")
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "f", "x")
	for _, p := range []string{"a/1.db", "a/1.meta.json", "b/2.db"} {
		if err := store.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s failed: %v", p, err)
		}
	}

	got, err := store.ListObjects(ctx, "a/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a/1.db" || got[1] != "a/1.meta.json" {
		t.Errorf("unexpected listing %v", got)
	}

	all, err := store.ListObjects(ctx, "")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 objects, got %v", all)
	}
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Upload(ctx, writeTemp(t, "f", "x"), "o"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewLocalStorage_EmptyPath(t *testing.T) {
	if _, err := NewLocalStorage(""); err == nil {
		t.Fatal("expected error for empty base path")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(ctx, Config{Type: TypeLocal, Path: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := store.(*LocalStorage); !ok {
		t.Errorf("expected *LocalStorage, got %T", store)
	}

	if _, err := Open(ctx, Config{Type: "ftp"}); !tserrors.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := Open(ctx, Config{Type: TypeS3}); !tserrors.IsConfigurationError(err) {
		t.Errorf("expected configuration error for missing bucket, got %v", err)
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		key    string
		ok     bool
	}{
		{"s3://rides/2013/trips.gz", "rides", "2013/trips.gz", true},
		{"s3://rides/", "", "", false},
		{"s3:///key", "", "", false},
		{"/local/trips.gz", "", "", false},
		{"s3://bucket-only", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := ParseS3URI(tt.uri)
		if bucket != tt.bucket || key != tt.key || ok != tt.ok {
			t.Errorf("ParseS3URI(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.uri, bucket, key, ok, tt.bucket, tt.key, tt.ok)
		}
	}
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := retryWithBackoff(ctx, 3, 0, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = retryWithBackoff(ctx, 3, 0, func() error {
		calls++
		return ErrObjectNotFound
	})
	if !errors.Is(err, ErrObjectNotFound) || calls != 1 {
		t.Errorf("missing objects should not be retried, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = retryWithBackoff(ctx, 2, 0, func() error {
		calls++
		return errors.New("permanent")
	})
	if err == nil || calls != 3 {
		t.Errorf("expected 3 attempts and an error, got err=%v calls=%d", err, calls)
	}
}
