package batch

import (
	"io"
	"io/fs"
	"time"
)

// Item is one archive member to materialize.
type Item struct {
	// Path is the slash-separated destination path, relative to the sink root.
	Path string

	// Dir is true for directories. Directories carry no content.
	Dir bool

	Mode    fs.FileMode
	ModTime time.Time
	Size    uint64
}

// Sink receives extracted content.
//
// Implementations decide where content goes and which items to skip.
type Sink interface {
	// ShouldProcess returns false if this item should be skipped.
	ShouldProcess(item *Item) bool

	// Mkdir creates a directory item.
	Mkdir(item *Item) error

	// Writer returns a Committer for a file item. The caller writes the
	// content, then calls Commit on success or Discard on any error.
	Writer(item *Item) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content visible.
	Commit() error

	// Discard aborts the write and removes any staged content.
	Discard() error
}
