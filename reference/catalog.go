package reference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/seqid"
	"go.uber.org/zap"
)

// Catalog caches the metadata tables of every reference set and serializes
// updates to them, within the process and through a lock file across
// processes sharing the resources directory. Cached tables are dropped when
// their files change on disk, so appends made by another process become
// visible.
type Catalog struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	cache map[Name]*tables
	// gen counts invalidations per set. A load only fills the cache when no
	// invalidation happened while it read the files.
	gen map[Name]uint64
	// loaded, when set, runs between reading the files and caching them.
	loaded func(Name)

	writeMu map[Name]*sync.Mutex
}

type tables struct {
	project *metadata.Table
	ncbi    *metadata.Table
}

// NewCatalog creates a catalog over the resources directory.
func NewCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		dir:     dir,
		logger:  logger,
		cache:   make(map[Name]*tables),
		gen:     make(map[Name]uint64),
		writeMu: make(map[Name]*sync.Mutex),
	}
	for _, n := range All() {
		c.writeMu[n] = &sync.Mutex{}
	}
	return c, nil
}

// Dir returns the resources directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Set returns the file layout of name.
func (c *Catalog) Set(name Name) *Set {
	return NewSet(name, c.dir)
}

// Tables returns the project table and the reference database of name.
// The returned tables are shared and must not be modified.
func (c *Catalog) Tables(name Name) (project, ncbi *metadata.Table, err error) {
	c.mu.Lock()
	cached, ok := c.cache[name]
	gen := c.gen[name]
	c.mu.Unlock()
	if ok {
		return cached.project, cached.ncbi, nil
	}

	set := c.Set(name)
	if project, err = set.LoadMetadata(); err != nil {
		return nil, nil, err
	}
	if ncbi, err = set.LoadNCBI(); err != nil {
		return nil, nil, err
	}
	if c.loaded != nil {
		c.loaded(name)
	}

	c.mu.Lock()
	if c.gen[name] == gen {
		c.cache[name] = &tables{project: project, ncbi: ncbi}
	}
	c.mu.Unlock()
	return project, ncbi, nil
}

// lock takes the write lock of name, first within the process and then on
// the set's lock file. The returned function releases both.
func (c *Catalog) lock(name Name) (func(), error) {
	mu, ok := c.writeMu[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReference, name)
	}
	mu.Lock()

	fl := flock.New(c.Set(name).Lock)
	if err := fl.Lock(); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("locking %s metadata: %w", name, err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			c.logger.Warn("releasing metadata lock", zap.String("reference", string(name)), zap.Error(err))
		}
		mu.Unlock()
	}, nil
}

// Update loads the project table of name from disk, passes it to fn and
// saves it when fn succeeds. Updates of the same set never overlap, even
// when they come from different processes.
func (c *Catalog) Update(name Name, fn func(project, ncbi *metadata.Table) error) error {
	unlock, err := c.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	set := c.Set(name)
	project, err := set.LoadMetadata()
	if err != nil {
		return err
	}
	ncbi, err := set.LoadNCBI()
	if err != nil {
		return err
	}

	if err := fn(project, ncbi); err != nil {
		return err
	}
	if err := project.Save(set.Metadata); err != nil {
		return fmt.Errorf("saving %s metadata: %w", name, err)
	}

	c.Invalidate(name)
	c.logger.Info("metadata table updated",
		zap.String("reference", string(name)),
		zap.Int("records", project.Len()))
	return nil
}

// Invalidate drops the cached tables of name.
func (c *Catalog) Invalidate(name Name) {
	c.mu.Lock()
	delete(c.cache, name)
	c.gen[name]++
	c.mu.Unlock()
}

// Watch invalidates cached tables when their files change, until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("watching %s: %w", c.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if name, ok := tableOwner(ev.Name); ok {
				c.logger.Debug("metadata file changed",
					zap.String("file", ev.Name),
					zap.String("op", ev.Op.String()))
				c.Invalidate(name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// tableOwner maps a metadata file path to its reference set.
func tableOwner(path string) (Name, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, "_metadata.tsv") {
		return "", false
	}
	prefix, _, _ := strings.Cut(base, "_")
	name, err := Parse(prefix)
	if err != nil || string(name) != prefix {
		return "", false
	}
	return name, true
}

// ReplaceNCBI saves records as the reference database of name. Names are
// made unique against the project table as it is on disk when the database
// is written, and against each other; a clash gets a ".N" suffix. Project
// names are left alone.
func (c *Catalog) ReplaceNCBI(name Name, records []metadata.Record) error {
	unlock, err := c.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	set := c.Set(name)
	project, err := set.LoadMetadata()
	if err != nil {
		return err
	}
	ids := seqid.NewAllocator(project.Names())
	unique := make([]metadata.Record, len(records))
	renamed := 0
	for i, r := range records {
		if id := ids.Assign(r.Name); id != r.Name {
			renamed++
			r.Name = id
		}
		unique[i] = r
	}
	table := metadata.NewTable(unique...)
	if err := table.Save(set.NCBI); err != nil {
		return fmt.Errorf("saving %s reference database: %w", name, err)
	}

	c.Invalidate(name)
	c.logger.Info("reference database replaced",
		zap.String("reference", string(name)),
		zap.Int("records", table.Len()),
		zap.Int("renamed", renamed))
	return nil
}
