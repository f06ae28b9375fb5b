// Package dirtree builds a case-insensitive directory tree over a decoded
// manifest for lookup by path, so a download session can resolve "does
// this path exist, and what are its chunks" without scanning the
// manifest's flat file list. The same tree is what a read-only mount
// adapter would sit on top of.
package dirtree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/project-rman/rman/internal/manifest"
)

// Node is one path component: a directory if file is nil, a file entry
// otherwise. Children are kept sorted by lowercase name for bisect lookup.
type Node struct {
	name     string
	children []*Node
	file     *manifest.File
	chunks   *ChunksHolder
}

// Name returns this node's path component, as it was cased in the
// manifest that created it (lookups are case-insensitive; storage is not).
func (n *Node) Name() string { return n.name }

// File returns the manifest entry at this node, or nil for a directory.
func (n *Node) File() *manifest.File { return n.file }

// Chunks returns this node's chunk holder, or nil for a directory.
func (n *Node) Chunks() *ChunksHolder { return n.chunks }

// Children returns this node's children in sorted (case-insensitive) order.
// The returned slice must not be mutated.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) find(name string) (*Node, bool) {
	lname := strings.ToLower(name)
	idx := sort.Search(len(n.children), func(i int) bool {
		return strings.ToLower(n.children[i].name) >= lname
	})
	if idx < len(n.children) && strings.ToLower(n.children[idx].name) == lname {
		return n.children[idx], true
	}
	return nil, false
}

func (n *Node) childOrCreate(name string) *Node {
	if c, ok := n.find(name); ok {
		return c
	}
	lname := strings.ToLower(name)
	idx := sort.Search(len(n.children), func(i int) bool {
		return strings.ToLower(n.children[i].name) >= lname
	})
	n.children = append(n.children, nil)
	copy(n.children[idx+1:], n.children[idx:])
	n.children[idx] = &Node{name: name}
	return n.children[idx]
}

// Tree is a built directory overlay over one manifest.
type Tree struct {
	root *Node
}

// Root returns the tree's synthetic root directory node.
func (t *Tree) Root() *Node { return t.root }

// Build inserts every file in m by splitting its path on "/", collapsing
// case-insensitive name collisions into a single node. loader resolves
// the chunk list of any file whose Chunks field is nil (addressed by
// fileId via a sidecar index); it may be nil if every file in m already
// carries its chunk list.
func Build(m manifest.Manifest, loader ChunkLoader) (*Tree, error) {
	root := &Node{}
	fused := make(map[string]*ChunksHolder)
	for i := range m.Files {
		if err := insert(root, &m.Files[i], loader, fused); err != nil {
			return nil, fmt.Errorf("dirtree: insert %q: %w", m.Files[i].Path, err)
		}
	}
	return &Tree{root: root}, nil
}

func insert(root *Node, f *manifest.File, loader ChunkLoader, fused map[string]*ChunksHolder) error {
	n := root
	for _, comp := range strings.Split(f.Path, "/") {
		if comp == "" {
			continue
		}
		n = n.childOrCreate(comp)
	}
	n.file = f

	switch {
	case f.Chunks != nil:
		key := fingerprint(f.Chunks)
		h, ok := fused[key]
		if !ok {
			h = NewEagerHolder(f.FileID, f.Chunks)
			fused[key] = h
		}
		n.chunks = h
	case loader != nil:
		n.chunks = NewLazyHolder(f.FileID, loader)
	}
	return nil
}

// fingerprint identifies a chunk list by its chunk IDs and destination
// offsets, so two files that decompose into byte-identical chunk streams
// share one ChunksHolder instead of duplicating it.
func fingerprint(chunks []manifest.ChunkDst) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "%016x:%x;", uint64(c.ChunkID), c.UncompressedOffset)
	}
	return b.String()
}

// Lookup resolves a "/"-separated path case-insensitively, returning the
// file and its chunk holder. ok is false if the path doesn't resolve to a
// file (missing, or a directory).
func (t *Tree) Lookup(path string) (f *manifest.File, chunks *ChunksHolder, ok bool) {
	n := t.root
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		var found bool
		n, found = n.find(comp)
		if !found {
			return nil, nil, false
		}
	}
	if n.file == nil {
		return nil, nil, false
	}
	return n.file, n.chunks, true
}
