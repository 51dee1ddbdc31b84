// Package sqlite implements a storage.Backend keeping all artifacts of all
// resources in a single SQLite database file. Useful when a scattering of
// small cache files is unwanted.
package sqlite

import (
	"bytes"
	"database/sql"
	"io"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"

	"github.com/magictractor/webcache/pkg/storage"
)

type Backend struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// New opens (creating if needed) the artifact database with the given
// filename. If the filename is empty, an in-memory db is opened.
func New(filename string) Backend {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS artifacts (dir TEXT, name TEXT, bytes BLOB, PRIMARY KEY (dir, name))")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return Backend{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (b Backend) Artifact(dir, name string) storage.Artifact {
	return artifact{backend: b, dir: dir, name: name}
}

type artifact struct {
	backend Backend
	dir     string
	name    string
}

func (a artifact) Exists() bool {
	var one int
	err := a.backend.db.QueryRow(
		"SELECT 1 FROM artifacts WHERE dir = ? AND name = ?", a.dir, a.name).Scan(&one)
	return err == nil
}

func (a artifact) Size() int64 {
	var size int64
	err := a.backend.db.QueryRow(
		"SELECT length(bytes) FROM artifacts WHERE dir = ? AND name = ?", a.dir, a.name).Scan(&size)
	if err != nil {
		return 0
	}
	return size
}

func (a artifact) OpenRead() (io.ReadCloser, error) {
	var content []byte
	err := a.backend.db.QueryRow(
		"SELECT bytes FROM artifacts WHERE dir = ? AND name = ?", a.dir, a.name).Scan(&content)
	if err != nil {
		return nil, errors.Wrap(err, "reading artifact row")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (a artifact) OpenWrite() (io.WriteCloser, error) {
	return &writer{artifact: a}, nil
}

// writer buffers written bytes and commits the row on Close.
type writer struct {
	artifact artifact
	buf      bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	w.artifact.backend.writeMutex.Lock()
	defer w.artifact.backend.writeMutex.Unlock()
	_, err := w.artifact.backend.db.Exec(
		"INSERT OR REPLACE INTO artifacts (dir, name, bytes) VALUES (?, ?, ?)",
		w.artifact.dir, w.artifact.name, w.buf.Bytes())
	return errors.Wrap(err, "writing artifact row")
}
