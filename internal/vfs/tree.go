package vfs

import (
	"archive/zip"
	"io"
	"strings"
)

type NodeType string

const (
	NodeFile   NodeType = "file"
	NodeFolder NodeType = "folder"
)

type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     NodeType    `json:"type"`
	Children []*TreeNode `json:"children,omitempty"`
}

// Tree groups the flat path list into folders. Paths are visited in
// sorted order so parents are always created before their children.
func (v *VFS) Tree() []*TreeNode {
	root := make([]*TreeNode, 0)
	nodes := make(map[string]*TreeNode)

	for _, p := range v.List() {
		parts := strings.Split(p, "/")
		current := ""
		siblings := &root
		for i, part := range parts {
			if part == "" {
				continue
			}
			if current == "" {
				current = part
			} else {
				current = current + "/" + part
			}
			isFile := i == len(parts)-1

			node, ok := nodes[current]
			if !ok {
				node = &TreeNode{Name: part, Path: current, Type: NodeFolder}
				if isFile {
					node.Type = NodeFile
				}
				nodes[current] = node
				*siblings = append(*siblings, node)
			}
			if !isFile {
				siblings = &node.Children
			}
		}
	}
	return root
}

// WriteZip streams every file into a zip archive.
func (v *VFS) WriteZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, p := range v.List() {
		f, err := zw.Create(p)
		if err != nil {
			_ = zw.Close()
			return err
		}
		if _, err := io.WriteString(f, v.FilesContents[p]); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}
