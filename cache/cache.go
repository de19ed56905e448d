// Package cache adds block-level caching to a random-access archive source.
//
// A tar.bgz member is usually a few BGZF blocks. Remote sources pay a round
// trip per block, and neighboring members share blocks, so caching fixed-size
// aligned ranges of the compressed archive avoids most refetches when many
// members are extracted. Keys are SHA-256 digests of the source identity and
// the block position; they never collide across archives.
package cache

import (
	digest "github.com/opencontainers/go-digest"
)

// Store holds cached blocks.
//
// Implementations handle their own size limits and eviction, and must be
// safe for concurrent use.
type Store interface {
	// Get returns the block stored under key.
	Get(key digest.Digest) ([]byte, bool)

	// Put stores data under key. Storing a key twice keeps either value;
	// the data for a key never changes.
	Put(key digest.Digest, data []byte) error
}
