// Package vfs is the in-memory file store a project's agents operate on.
// There are no directory entries: directories are inferred from path
// prefixes such as "spec/" and "code/".
package vfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidVFS = errors.New("invalid vfs data")

type VFS struct {
	FilesContents map[string]string `json:"filesContents"`
}

func New() *VFS {
	return &VFS{FilesContents: make(map[string]string)}
}

// FromTemplate copies template so later writes never touch the caller's map.
func FromTemplate(template map[string]string) *VFS {
	v := New()
	for p, c := range template {
		v.FilesContents[p] = c
	}
	return v
}

func (v *VFS) Clone() *VFS {
	return FromTemplate(v.FilesContents)
}

func (v *VFS) Read(path string) (string, bool) {
	c, ok := v.FilesContents[path]
	return c, ok
}

// Write creates or overwrites path.
func (v *VFS) Write(path, content string) {
	if v.FilesContents == nil {
		v.FilesContents = make(map[string]string)
	}
	v.FilesContents[path] = content
}

func (v *VFS) Delete(path string) {
	delete(v.FilesContents, path)
}

// List returns every path in lexical order.
func (v *VFS) List() []string {
	out := make([]string, 0, len(v.FilesContents))
	for p := range v.FilesContents {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (v *VFS) ListUnder(dir string) []string {
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	out := make([]string, 0)
	for _, p := range v.List() {
		if strings.HasPrefix(p, dir) {
			out = append(out, p)
		}
	}
	return out
}

func (v *VFS) Exists(path string) bool {
	_, ok := v.FilesContents[path]
	return ok
}

// Rename moves oldPath to newPath. It reports false and changes nothing
// when oldPath is absent.
func (v *VFS) Rename(oldPath, newPath string) bool {
	c, ok := v.FilesContents[oldPath]
	if !ok {
		return false
	}
	delete(v.FilesContents, oldPath)
	v.FilesContents[newPath] = c
	return true
}

func (v *VFS) Copy(src, dst string) bool {
	c, ok := v.FilesContents[src]
	if !ok {
		return false
	}
	v.FilesContents[dst] = c
	return true
}

func (v *VFS) validate() error {
	if v == nil || v.FilesContents == nil {
		return fmt.Errorf("%w: filesContents is missing", ErrInvalidVFS)
	}
	for p := range v.FilesContents {
		if p == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidVFS)
		}
	}
	return nil
}

func (v *VFS) Serialize() (string, error) {
	if err := v.validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Deserialize parses a blob produced by Serialize. A nil VFS and an error
// are returned for malformed JSON or a schema mismatch; callers must not
// substitute an empty VFS.
func Deserialize(data string) (*VFS, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVFS, err)
	}
	files, ok := raw["filesContents"]
	if !ok || bytes.Equal(bytes.TrimSpace(files), []byte("null")) {
		return nil, fmt.Errorf("%w: filesContents is missing", ErrInvalidVFS)
	}
	v := &VFS{}
	if err := json.Unmarshal(files, &v.FilesContents); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVFS, err)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}
