package dispatch

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/sprite-ai/fixrev/internal/workspace"
	"golang.org/x/sync/singleflight"
)

// fileCache reads each workspace file at most once per run, even when
// several workers ask for it at the same time.
type fileCache struct {
	root workspace.Root

	group singleflight.Group
	mu    sync.RWMutex
	data  map[string]string
}

func newFileCache(root workspace.Root) *fileCache {
	return &fileCache{root: root, data: make(map[string]string)}
}

func (c *fileCache) get(path string) (string, error) {
	c.mu.RLock()
	s, ok := c.data[path]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		b, err := c.root.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("reading %s: not UTF-8 text", path)
		}
		s := string(b)
		c.mu.Lock()
		c.data[path] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
