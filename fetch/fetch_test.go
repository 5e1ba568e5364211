package fetch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.rpmhub.dev/build"
)

// countingSource wraps a stub source and counts how many times fetch
// actually ran its download logic, for the single-flight collapse test.
type countingSource struct {
	mu       sync.Mutex
	calls    int32
	fn       func(ctx context.Context, candidateName, destDir string) (string, error)
}

func (s *countingSource) name() string { return "stub" }

func (s *countingSource) fetch(ctx context.Context, candidateName, destDir string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fn(ctx, candidateName, destDir)
}

func TestFetchSucceedsOnFirstCandidate(t *testing.T) {
	dir := t.TempDir()
	stub := &countingSource{fn: func(_ context.Context, candidateName, destDir string) (string, error) {
		path := filepath.Join(destDir, candidateName+"-1.0.src.rpm")
		return path, os.WriteFile(path, nil, 0644)
	}}
	f := &Fetcher{cacheDir: dir, inflight: make(map[string]*inflightFetch), sources: []Source{stub}}

	path, err := f.Fetch(context.Background(), "openssl")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Base(path) != "openssl-1.0.src.rpm" {
		t.Errorf("path = %q, want openssl-1.0.src.rpm", path)
	}
}

func TestFetchReturnsCachedArchiveWithoutCallingSource(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "openssl-1.1.1.src.rpm")
	if err := os.WriteFile(existing, nil, 0644); err != nil {
		t.Fatal(err)
	}
	stub := &countingSource{fn: func(context.Context, string, string) (string, error) {
		t.Fatal("source.fetch called despite a cache hit")
		return "", nil
	}}
	f := &Fetcher{cacheDir: dir, inflight: make(map[string]*inflightFetch), sources: []Source{stub}}

	path, err := f.Fetch(context.Background(), "openssl")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if path != existing {
		t.Errorf("path = %q, want %q", path, existing)
	}
}

func TestFetchExhaustsAllSourcesThenFails(t *testing.T) {
	dir := t.TempDir()
	failing := &countingSource{fn: func(context.Context, string, string) (string, error) {
		return "", os.ErrNotExist
	}}
	f := &Fetcher{cacheDir: dir, inflight: make(map[string]*inflightFetch), sources: []Source{failing}}

	_, err := f.Fetch(context.Background(), "nonexistent-package")
	notFound, ok := err.(*rpmhub.ArchiveNotFoundError)
	if !ok {
		t.Fatalf("err = %v (%T), want *rpmhub.ArchiveNotFoundError", err, err)
	}
	if notFound.PackageName != "nonexistent-package" {
		t.Errorf("PackageName = %q, want nonexistent-package", notFound.PackageName)
	}
	if len(notFound.Attempted) == 0 {
		t.Error("Attempted is empty, want at least one candidate@source entry")
	}
}

func TestConcurrentFetchCollapsesToOneDownload(t *testing.T) {
	dir := t.TempDir()
	start := make(chan struct{})
	stub := &countingSource{fn: func(_ context.Context, candidateName, destDir string) (string, error) {
		<-start
		path := filepath.Join(destDir, candidateName+"-2.0.src.rpm")
		return path, os.WriteFile(path, nil, 0644)
	}}
	f := &Fetcher{cacheDir: dir, inflight: make(map[string]*inflightFetch), sources: []Source{stub}}

	const n = 8
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background(), "libfoo")
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Fetch[%d]: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Errorf("result[%d] = %q, want %q (same as result[0])", i, results[i], results[0])
		}
	}
	if got := atomic.LoadInt32(&stub.calls); got != 1 {
		t.Errorf("source.fetch called %d times, want exactly 1", got)
	}
}
