package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ObjectCache downloads objects into a local directory and reuses them on
// later calls. Published objects are immutable (their paths embed the build
// id), so a cached copy never goes stale.
type ObjectCache struct {
	storage     ObjectStorage
	cacheDir    string
	concurrency int

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
	hits     int
	fetches  int
}

// NewObjectCache creates a cache rooted at cacheDir.
func NewObjectCache(storage ObjectStorage, cacheDir string, concurrency int) *ObjectCache {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &ObjectCache{
		storage:     storage,
		cacheDir:    cacheDir,
		concurrency: concurrency,
		inflight:    make(map[string]*sync.Mutex),
	}
}

// Get returns the local path of objectPath, downloading it if needed.
func (c *ObjectCache) Get(ctx context.Context, objectPath string) (string, error) {
	local := c.LocalPath(objectPath)

	lock := c.lockFor(objectPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(local); err == nil {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return local, nil
	}

	tmp := local + ".part"
	if err := c.storage.Download(ctx, objectPath, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	c.mu.Lock()
	c.fetches++
	c.mu.Unlock()
	return local, nil
}

// GetAll fetches several objects in parallel and returns objectPath -> local
// path. The first failure cancels the remaining downloads.
func (c *ObjectCache) GetAll(ctx context.Context, objectPaths []string) (map[string]string, error) {
	result := make(map[string]string, len(objectPaths))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, p := range objectPaths {
		p := p
		g.Go(func() error {
			local, err := c.Get(gCtx, p)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", p, err)
			}
			mu.Lock()
			result[p] = local
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats returns the cache hits and downloads so far.
func (c *ObjectCache) Stats() (hits, fetches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.fetches
}

// Retain deletes the cached copies of every object not named in keep and
// returns how many files were removed. In-progress downloads are left alone.
func (c *ObjectCache) Retain(keep []string) (int, error) {
	want := make(map[string]bool, len(keep))
	for _, p := range keep {
		want[filepath.Base(c.LocalPath(p))] = true
	}

	entries, err := os.ReadDir(c.cacheDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: failed to list cache dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || want[name] || strings.HasSuffix(name, ".part") {
			continue
		}
		if err := os.Remove(filepath.Join(c.cacheDir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("storage: failed to evict %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// LocalPath maps an object path to its cache file. The full path is kept so
// that artifacts of different builds never collide.
func (c *ObjectCache) LocalPath(objectPath string) string {
	flat := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "__")
	return filepath.Join(c.cacheDir, flat)
}

func (c *ObjectCache) lockFor(objectPath string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.inflight[objectPath]
	if !ok {
		l = &sync.Mutex{}
		c.inflight[objectPath] = l
	}
	return l
}
