package storage

import "io"

// Storage defines the blob operations the portal needs. Locators returned by
// Put and Stage are opaque to callers and are only handed back to Read,
// Open and Delete.
type Storage interface {
	// Put writes a package revision and returns its locator. It never
	// overwrites an existing blob.
	Put(appSlug string, version string, revisionNo int, filename string, data []byte) (string, error)
	// Stage writes bytes to the temporary area under a random name
	Stage(data []byte) (string, error)
	// Read returns the full contents of a blob
	Read(locator string) ([]byte, error)
	// Open returns a seekable reader over a blob and its size
	Open(locator string) (io.ReadSeekCloser, int64, error)
	// Delete removes a blob
	Delete(locator string) error
}
