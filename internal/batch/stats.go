package batch

// Stats summarizes a Process call.
type Stats struct {
	// Files is the number of files written to the sink.
	Files int

	// Dirs is the number of directories created.
	Dirs int

	// Skipped is the number of items the sink declined.
	Skipped int

	// Bytes is the total content size of written files.
	Bytes uint64
}

func (s *Stats) add(other Stats) {
	s.Files += other.Files
	s.Dirs += other.Dirs
	s.Skipped += other.Skipped
	s.Bytes += other.Bytes
}
