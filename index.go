package tarbgz

import (
	"cmp"
	"io/fs"
	"iter"
	"maps"
	"slices"

	digest "github.com/opencontainers/go-digest"
)

// node is one position in the index tree. A node with an entry is an
// archive member; a node without one is a directory implied by the paths
// below it.
type node struct {
	children map[string]*node
	entry    *Entry
}

func (n *node) child(name string) *node {
	if n.children == nil {
		return nil
	}
	return n.children[name]
}

// Index maps archive paths to entries.
//
// An Index is built by [Build] or decoded by [Unmarshal]. Once built it is
// only read, and is safe for concurrent use by multiple goroutines; Insert
// must not be called concurrently with any other method.
type Index struct {
	root          *node
	count         int
	archiveSize   int64
	archiveDigest digest.Digest
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{root: &node{}}
}

// Insert records entry at path, creating intermediate directory nodes as
// needed. An existing entry at path is replaced. A path with no components
// (such as "" or "./") sets the entry of the root.
func (idx *Index) Insert(path string, entry Entry) {
	n := idx.root
	for _, name := range SplitPath(path) {
		next := n.child(name)
		if next == nil {
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			next = &node{}
			n.children[name] = next
		}
		n = next
	}
	if n.entry == nil {
		idx.count++
	}
	n.entry = &entry
}

// lookup returns the node at path, or nil if any component is missing.
func (idx *Index) lookup(path string) *node {
	n := idx.root
	for _, name := range SplitPath(path) {
		n = n.child(name)
		if n == nil {
			return nil
		}
	}
	return n
}

// Get returns the entry recorded at path. ok is false when the path does not
// exist or names an implied directory without its own member.
func (idx *Index) Get(path string) (Entry, bool) {
	n := idx.lookup(path)
	if n == nil || n.entry == nil {
		return Entry{}, false
	}
	return *n.entry, true
}

// Children returns the names of the immediate children of path, sorted.
// It returns an *fs.PathError wrapping fs.ErrNotExist when path does not
// exist. A member without children yields an empty list.
func (idx *Index) Children(path string) ([]string, error) {
	n := idx.lookup(path)
	if n == nil {
		return nil, &fs.PathError{Op: "children", Path: path, Err: fs.ErrNotExist}
	}
	names := slices.AppendSeq(make([]string, 0, len(n.children)), maps.Keys(n.children))
	slices.Sort(names)
	return names, nil
}

// Child describes one entry of a directory listing.
type Child struct {
	// Name is the final path component.
	Name string

	// Path is the full archive path.
	Path string

	entry *Entry
}

// Entry returns the child's own entry. ok is false for implied directories.
func (c Child) Entry() (Entry, bool) {
	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}

// Size returns the child's payload size. ok is false for implied directories.
func (c Child) Size() (uint64, bool) {
	if c.entry == nil {
		return 0, false
	}
	return c.entry.Size, true
}

// IsDir reports whether the child is a directory, either implied or recorded.
func (c Child) IsDir() bool {
	return c.entry == nil || c.entry.IsDir()
}

// ListDirectory returns the children of path sorted by name.
func (idx *Index) ListDirectory(path string) ([]Child, error) {
	n := idx.lookup(path)
	if n == nil {
		return nil, &fs.PathError{Op: "list", Path: path, Err: fs.ErrNotExist}
	}
	parent := SplitPath(path)
	out := make([]Child, 0, len(n.children))
	for _, name := range slices.Sorted(maps.Keys(n.children)) {
		out = append(out, Child{
			Name:  name,
			Path:  JoinPath(append(slices.Clip(parent), name)),
			entry: n.children[name].entry,
		})
	}
	return out, nil
}

// Entries returns an iterator over all (path, entry) pairs in archive order.
func (idx *Index) Entries() iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		for _, pe := range idx.sorted() {
			if !yield(pe.path, *pe.entry) {
				return
			}
		}
	}
}

// EntriesWithPrefix returns an iterator over the entries at or below the
// directory prefix, in archive order.
func (idx *Index) EntriesWithPrefix(prefix string) iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		n := idx.lookup(prefix)
		if n == nil {
			return
		}
		for _, pe := range sortedEntries(n, SplitPath(prefix)) {
			if !yield(pe.path, *pe.entry) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return idx.count
}

// ArchiveSize returns the compressed archive size recorded at build time.
// ok is false when no size was recorded.
func (idx *Index) ArchiveSize() (int64, bool) {
	return idx.archiveSize, idx.archiveSize > 0
}

// ArchiveDigest returns the archive digest recorded at build time.
// ok is false when the index was built without BuildWithDigest.
func (idx *Index) ArchiveDigest() (digest.Digest, bool) {
	return idx.archiveDigest, idx.archiveDigest != ""
}

type pathEntry struct {
	path  string
	entry *Entry
}

func (idx *Index) sorted() []pathEntry {
	return sortedEntries(idx.root, nil)
}

// sortedEntries collects the entries below n and orders them by position in
// the archive.
func sortedEntries(n *node, prefix []string) []pathEntry {
	var out []pathEntry
	var walk func(n *node, comps []string)
	walk = func(n *node, comps []string) {
		if n.entry != nil {
			out = append(out, pathEntry{path: JoinPath(comps), entry: n.entry})
		}
		for name, child := range n.children {
			walk(child, append(slices.Clip(comps), name))
		}
	}
	walk(n, slices.Clip(prefix))
	slices.SortFunc(out, func(a, b pathEntry) int {
		return cmp.Or(
			cmp.Compare(a.entry.Offset, b.entry.Offset),
			cmp.Compare(a.path, b.path),
		)
	})
	return out
}
