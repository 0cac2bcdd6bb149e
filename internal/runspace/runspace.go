// Package runspace resolves the logical workspaces terminals are opened in.
package runspace

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
)

const maxIDLength = 128

var (
	ErrInvalidID     = errors.New("invalid runspace id")
	ErrUnknown       = errors.New("unknown runspace")
	ErrDuplicateID   = errors.New("duplicate runspace id")
	ErrRelativeCwd   = errors.New("runspace cwd must be absolute")
	ErrMissingFields = errors.New("runspace needs an id and a cwd")
)

// Runspace is a named working directory with its environment.
type Runspace struct {
	ID    string            `yaml:"id" json:"id"`
	Cwd   string            `yaml:"cwd" json:"cwd"`
	Env   map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Shell string            `yaml:"shell,omitempty" json:"shell,omitempty"`
}

// Environ returns Env as KEY=VALUE pairs, sorted by key.
func (r Runspace) Environ() []string {
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+r.Env[k])
	}
	return env
}

// Resolver looks runspaces up by id.
type Resolver interface {
	Resolve(id string) (Runspace, bool)
	List() []Runspace
}

// ValidID reports whether id is safe to use as a single path element.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > maxIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// DirResolver maps runspace <id> to the existing directory <Base>/<id>.
type DirResolver struct {
	Base string
}

func (d DirResolver) Resolve(id string) (Runspace, bool) {
	if d.Base == "" || !ValidID(id) {
		return Runspace{}, false
	}
	path := filepath.Join(d.Base, id)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return Runspace{}, false
	}
	return Runspace{ID: id, Cwd: path}, true
}

func (d DirResolver) List() []Runspace {
	if d.Base == "" {
		return nil
	}
	entries, err := os.ReadDir(d.Base)
	if err != nil {
		return nil
	}
	var list []Runspace
	for _, e := range entries {
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		list = append(list, Runspace{ID: e.Name(), Cwd: filepath.Join(d.Base, e.Name())})
	}
	return list
}

// Chain tries each resolver in order.
type Chain []Resolver

func (c Chain) Resolve(id string) (Runspace, bool) {
	for _, r := range c {
		if rs, ok := r.Resolve(id); ok {
			return rs, true
		}
	}
	return Runspace{}, false
}

// List merges the resolvers' runspaces; earlier resolvers win on id clashes.
func (c Chain) List() []Runspace {
	seen := make(map[string]bool)
	var list []Runspace
	for _, r := range c {
		for _, rs := range r.List() {
			if seen[rs.ID] {
				continue
			}
			seen[rs.ID] = true
			list = append(list, rs)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
