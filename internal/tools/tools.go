package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

const (
	ReadFile  = "readFile"
	WriteFile = "writeFile"
	ListFiles = "listFiles"
)

// Registry executes file tools against a VFS. With no prefixes every path
// is allowed; otherwise a path must start with one of them.
type Registry struct {
	fs       *vfs.VFS
	prefixes []string
}

func New(fs *vfs.VFS, allowedPrefixes ...string) *Registry {
	return &Registry{fs: fs, prefixes: allowedPrefixes}
}

func (r *Registry) Allowed(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return false
		}
	}
	if len(r.prefixes) == 0 {
		return true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// FilterAllowed keeps the paths the policy permits, preserving order.
func (r *Registry) FilterAllowed(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if r.Allowed(p) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Definitions() []ai.ToolDef {
	return []ai.ToolDef{
		{
			Name:        ReadFile,
			Description: "Read the contents of a file",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"The file path to read"}},"required":["path"]}`),
		},
		{
			Name:        WriteFile,
			Description: "Write or update a file",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"The file path to write"},"content":{"type":"string","description":"The content to write to the file"}},"required":["path","content"]}`),
		},
		{
			Name:        ListFiles,
			Description: "List all files in the project",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}
}

type readArgs struct {
	Path *string `json:"path"`
}

type writeArgs struct {
	Path    *string `json:"path"`
	Content *string `json:"content"`
}

// Execute runs one tool call. Failures are reported in the returned text so
// the model can see them; it never returns an error.
func (r *Registry) Execute(name string, args json.RawMessage) string {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	case ReadFile:
		var a readArgs
		if err := json.Unmarshal(args, &a); err != nil || a.Path == nil {
			return invalidArgs(name, err, "path is required")
		}
		if !r.Allowed(*a.Path) {
			return "Access denied: " + *a.Path
		}
		content, ok := r.fs.Read(*a.Path)
		if !ok {
			return "File not found: " + *a.Path
		}
		return content
	case WriteFile:
		var a writeArgs
		if err := json.Unmarshal(args, &a); err != nil || a.Path == nil || a.Content == nil {
			return invalidArgs(name, err, "path and content are required")
		}
		if !r.Allowed(*a.Path) {
			return "Access denied: " + *a.Path
		}
		r.fs.Write(*a.Path, *a.Content)
		return "File written: " + *a.Path
	case ListFiles:
		files := r.FilterAllowed(r.fs.List())
		if len(files) == 0 {
			return "No files found."
		}
		return strings.Join(files, "\n")
	default:
		return "Unknown tool: " + name
	}
}

func invalidArgs(name string, err error, missing string) string {
	if err != nil {
		return fmt.Sprintf("Invalid arguments for %s: %v", name, err)
	}
	return fmt.Sprintf("Invalid arguments for %s: %s", name, missing)
}
