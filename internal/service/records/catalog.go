package records

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"meeting-insight-service/internal/observability/logging"
)

// Entry describes one stored record file.
type Entry struct {
	Name       string    `json:"name"`
	JobID      string    `json:"jobId"`
	SizeBytes  int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Catalog caches the listing of the record directory. While Watch runs the
// cache is refreshed on file system events, otherwise List rescans.
type Catalog struct {
	dir      string
	mu       sync.RWMutex
	entries  []Entry
	watching bool
	logger   zerolog.Logger
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{
		dir:    dir,
		logger: logging.WithComponent("catalog"),
	}
}

// Refresh rescans the directory.
func (c *Catalog) Refresh() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("list analysis records: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !ValidName(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:       de.Name(),
			JobID:      jobIdFromName(de.Name()),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModifiedAt.Equal(entries[j].ModifiedAt) {
			return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
		}
		return entries[i].Name > entries[j].Name
	})

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// List returns the records newest first.
func (c *Catalog) List() ([]Entry, error) {
	c.mu.RLock()
	watching := c.watching
	c.mu.RUnlock()

	if !watching {
		if err := c.Refresh(); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out, nil
}

// Watch keeps the cache current until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}
	if err := c.Refresh(); err != nil {
		return err
	}

	c.mu.Lock()
	c.watching = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.watching = false
		c.mu.Unlock()
	}()

	c.logger.Info().Str("dir", c.dir).Msg("Watching analysis records")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
				if err := c.Refresh(); err != nil {
					c.logger.Warn().Err(err).Msg("Catalog refresh failed")
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}
