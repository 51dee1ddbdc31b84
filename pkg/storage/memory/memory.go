// Package memory implements a storage.Backend keeping all artifacts in
// process memory. Intended for tests and throwaway caches.
package memory

import (
	"bytes"
	"io"
	"sync"

	"github.com/magictractor/webcache/pkg/storage"
)

type Backend struct {
	mutex *sync.RWMutex
	db    map[string][]byte
}

func New() *Backend {
	return &Backend{
		mutex: &sync.RWMutex{},
		db:    make(map[string][]byte),
	}
}

func (b *Backend) Artifact(dir, name string) storage.Artifact {
	return artifact{backend: b, key: dir + "\x00" + name}
}

type artifact struct {
	backend *Backend
	key     string
}

func (a artifact) Exists() bool {
	a.backend.mutex.RLock()
	defer a.backend.mutex.RUnlock()
	_, ok := a.backend.db[a.key]
	return ok
}

func (a artifact) Size() int64 {
	a.backend.mutex.RLock()
	defer a.backend.mutex.RUnlock()
	return int64(len(a.backend.db[a.key]))
}

func (a artifact) OpenRead() (io.ReadCloser, error) {
	a.backend.mutex.RLock()
	defer a.backend.mutex.RUnlock()
	content := make([]byte, len(a.backend.db[a.key]))
	copy(content, a.backend.db[a.key])
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (a artifact) OpenWrite() (io.WriteCloser, error) {
	return &writer{artifact: a}, nil
}

// writer buffers written bytes and commits them on Close.
type writer struct {
	artifact artifact
	buf      bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	w.artifact.backend.mutex.Lock()
	defer w.artifact.backend.mutex.Unlock()
	w.artifact.backend.db[w.artifact.key] = w.buf.Bytes()
	return nil
}
