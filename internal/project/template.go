package project

import (
	"embed"
	"io/fs"
	"strings"

	"github.com/suPer8Hu/specforge/internal/vfs"
)

//go:embed all:template
var templateFS embed.FS

// TemplateVFS returns a fresh VFS seeded with the starter spec and code.
func TemplateVFS() *vfs.VFS {
	files := make(map[string]string)
	err := fs.WalkDir(templateFS, "template", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		files[strings.TrimPrefix(p, "template/")] = string(b)
		return nil
	})
	if err != nil {
		// embedded at build time; a failure here is a broken binary
		panic(err)
	}
	return vfs.FromTemplate(files)
}
