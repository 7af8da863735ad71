// Package workspace manages the per-job work directories.
//
// Every assembly or nextstrain job gets its own directory under the work
// root, so concurrent jobs never share intermediate files. Job outputs are
// listed and served from these directories.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidPath is returned for names that would escape a job directory.
var ErrInvalidPath = errors.New("invalid workspace path")

// Workspace is a root directory holding one subdirectory per job.
type Workspace struct {
	Root string
}

// New creates the root directory when needed.
func New(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	return &Workspace{Root: root}, nil
}

// ObjectMeta describes a file in a job directory.
type ObjectMeta struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Folder  bool      `json:"folder,omitempty"`
}

// IsFolder returns true if this object is a directory.
func (m *ObjectMeta) IsFolder() bool {
	return m.Folder
}

// FullPath returns the path of the object on disk.
func (m *ObjectMeta) FullPath() string {
	return filepath.Join(m.Path, m.Name)
}

// Dir is the work directory of one job.
type Dir struct {
	ID   string
	Path string
}

// Create makes a fresh directory for the job id. Leftovers of an earlier
// run with the same id are removed.
func (w *Workspace) Create(id string) (*Dir, error) {
	p, err := w.jobPath(id)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(p); err != nil {
		return nil, fmt.Errorf("cleaning %s: %w", p, err)
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", p, err)
	}
	return &Dir{ID: id, Path: p}, nil
}

// Open returns the existing directory of the job id.
func (w *Workspace) Open(id string) (*Dir, error) {
	p, err := w.jobPath(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("opening job directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", p)
	}
	return &Dir{ID: id, Path: p}, nil
}

// Remove deletes the directory of the job id.
func (w *Workspace) Remove(id string) error {
	p, err := w.jobPath(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}

func (w *Workspace) jobPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: job id %q", ErrInvalidPath, id)
	}
	return filepath.Join(w.Root, id), nil
}

// File returns the path of name inside the directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.Path, name)
}

// Resolve validates a relative path requested from outside and returns its
// location inside the directory.
func (d *Dir) Resolve(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(d.Path, clean), nil
}

// Exists reports whether name is present in the directory.
func (d *Dir) Exists(name string) bool {
	_, err := os.Stat(d.File(name))
	return err == nil
}

// List returns the regular files of the directory tree, sorted by path.
func (d *Dir) List() ([]*ObjectMeta, error) {
	var objects []*ObjectMeta
	err := filepath.WalkDir(d.Path, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == d.Path {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.Path, path)
		if err != nil {
			return err
		}
		objects = append(objects, &ObjectMeta{
			Name:    filepath.ToSlash(rel),
			Path:    d.Path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Folder:  e.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", d.Path, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}
