package runspace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileFormat is the layout of a runspaces file:
//
//	runspaces:
//	  - id: forge
//	    cwd: /workspace/forge
//	    env:
//	      NODE_ENV: development
type fileFormat struct {
	Runspaces []Runspace `yaml:"runspaces"`
}

// FileResolver serves runspaces declared in a YAML file.
type FileResolver struct {
	path string

	mu   sync.RWMutex
	byID map[string]Runspace
}

// LoadFile reads and validates the runspaces file at path.
func LoadFile(path string) (*FileResolver, error) {
	f := &FileResolver{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file the resolver reads.
func (f *FileResolver) Path() string {
	return f.path
}

// Reload re-reads the file. On error the previously loaded runspaces stay
// in effect.
func (f *FileResolver) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read runspaces file: %w", err)
	}
	byID, err := parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.byID = byID
	f.mu.Unlock()
	return nil
}

func parse(data []byte) (map[string]Runspace, error) {
	var doc fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	byID := make(map[string]Runspace, len(doc.Runspaces))
	for i, rs := range doc.Runspaces {
		switch {
		case rs.ID == "" || rs.Cwd == "":
			return nil, fmt.Errorf("entry %d: %w", i, ErrMissingFields)
		case !ValidID(rs.ID):
			return nil, fmt.Errorf("entry %d: %w: %q", i, ErrInvalidID, rs.ID)
		case !filepath.IsAbs(rs.Cwd):
			return nil, fmt.Errorf("runspace %s: %w", rs.ID, ErrRelativeCwd)
		}
		if _, dup := byID[rs.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, rs.ID)
		}
		rs.Cwd = filepath.Clean(rs.Cwd)
		byID[rs.ID] = rs
	}
	return byID, nil
}

func (f *FileResolver) Resolve(id string) (Runspace, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rs, ok := f.byID[id]
	return rs, ok
}

func (f *FileResolver) List() []Runspace {
	f.mu.RLock()
	list := make([]Runspace, 0, len(f.byID))
	for _, rs := range f.byID {
		list = append(list, rs)
	}
	f.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
