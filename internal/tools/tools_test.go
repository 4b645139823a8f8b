package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

func newFS() *vfs.VFS {
	return vfs.FromTemplate(map[string]string{
		"spec/index.md":    "# Todo",
		"spec/pages/a.md":  "page a",
		"code/src/App.tsx": "export default App",
	})
}

func TestExecute_SpecOnlyPolicy(t *testing.T) {
	fs := newFS()
	r := New(fs, "spec/")

	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{"read allowed", ReadFile, `{"path":"spec/index.md"}`, "# Todo"},
		{"read denied", ReadFile, `{"path":"code/src/App.tsx"}`, "Access denied: code/src/App.tsx"},
		{"read missing", ReadFile, `{"path":"spec/nope.md"}`, "File not found: spec/nope.md"},
		{"write denied", WriteFile, `{"path":"code/x.ts","content":"x"}`, "Access denied: code/x.ts"},
		{"traversal denied", WriteFile, `{"path":"spec/../code/x.ts","content":"x"}`, "Access denied: spec/../code/x.ts"},
		{"write allowed", WriteFile, `{"path":"spec/new.md","content":"new"}`, "File written: spec/new.md"},
		{"list filtered", ListFiles, `{}`, "spec/index.md\nspec/new.md\nspec/pages/a.md"},
		{"unknown", "deleteFile", `{}`, "Unknown tool: deleteFile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Execute(tt.tool, json.RawMessage(tt.args)))
		})
	}

	// Denied writes must not touch the VFS.
	assert.False(t, fs.Exists("code/x.ts"))
	content, ok := fs.Read("spec/new.md")
	require.True(t, ok)
	assert.Equal(t, "new", content)
}

func TestExecute_Unrestricted(t *testing.T) {
	fs := newFS()
	r := New(fs)

	assert.Equal(t, "File written: code/src/main.tsx", r.Execute(WriteFile, json.RawMessage(`{"path":"code/src/main.tsx","content":""}`)))
	out := r.Execute(ListFiles, nil)
	assert.Equal(t, 4, len(strings.Split(out, "\n")))
}

func TestExecute_InvalidArguments(t *testing.T) {
	r := New(newFS())
	assert.True(t, strings.HasPrefix(r.Execute(ReadFile, json.RawMessage(`{}`)), "Invalid arguments for readFile"))
	assert.True(t, strings.HasPrefix(r.Execute(WriteFile, json.RawMessage(`{"path":"a"}`)), "Invalid arguments for writeFile"))
	assert.True(t, strings.HasPrefix(r.Execute(ReadFile, json.RawMessage(`[1]`)), "Invalid arguments for readFile"))
}

func TestExecute_NoFiles(t *testing.T) {
	r := New(vfs.New(), "spec/")
	assert.Equal(t, "No files found.", r.Execute(ListFiles, nil))
}

func TestDefinitions_AreValidSchemas(t *testing.T) {
	defs := New(vfs.New()).Definitions()
	require.Len(t, defs, 3)
	for _, d := range defs {
		var schema map[string]any
		require.NoError(t, json.Unmarshal(d.InputSchema, &schema), d.Name)
		assert.Equal(t, "object", schema["type"])
	}
}
