// Package storage defines the byte-storage interface used by the cache core
// to persist the artifacts of an external resource: the body, the properties
// record and any side artifacts such as header logs.
package storage

import "io"

type (
	// Backend hands out artifact handles keyed by cache directory and
	// artifact name. The cache directory is the resource's cache key and may
	// contain characters that are illegal in file paths; backends that map
	// directories onto a filesystem must substitute those deterministically.
	//
	// Implementations must be safe for concurrent use across distinct
	// artifacts. A single artifact handle is not goroutine-safe.
	Backend interface {
		Artifact(dir, name string) Artifact
	}

	// Artifact is one locally stored byte sequence belonging to an external
	// resource.
	Artifact interface {
		Exists() bool
		Size() int64
		// OpenRead returns the stored bytes. The caller closes the stream.
		OpenRead() (io.ReadCloser, error)
		// OpenWrite replaces any previous content, creating parent structure
		// on first write. Content is not required to be visible to readers
		// before Close returns.
		OpenWrite() (io.WriteCloser, error)
	}
)
