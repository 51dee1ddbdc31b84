// Package local implements a storage.Backend on the local filesystem. Each
// cache directory becomes a subdirectory of the base path, with characters
// that cannot appear in file names substituted.
package local

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/magictractor/webcache/pkg/storage"
)

const dirPermission = 0o700

type Backend struct {
	basePath string
}

func New(basePath string) Backend { return Backend{basePath} }

func (b Backend) Artifact(dir, name string) storage.Artifact {
	return artifact{path: filepath.Join(b.basePath, tidyDir(dir), name)}
}

// tidyDir substitutes characters that cannot appear in local file names.
// Cache keys keep the raw '?' and ':' so that keys stay comparable across
// backends; the substitution happens only at this layer.
func tidyDir(dir string) string {
	dir = strings.ReplaceAll(dir, "?", "__")
	dir = strings.ReplaceAll(dir, ":", "")
	return dir
}

type artifact struct {
	path string
}

func (a artifact) Exists() bool {
	_, err := os.Stat(a.path)
	return err == nil
}

func (a artifact) Size() int64 {
	info, err := os.Stat(a.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (a artifact) OpenRead() (io.ReadCloser, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, errors.Wrap(err, "opening cache file")
	}
	return f, nil
}

func (a artifact) OpenWrite() (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(a.path), dirPermission); err != nil {
		return nil, errors.Wrap(err, "creating cache dir")
	}
	f, err := os.Create(a.path)
	if err != nil {
		return nil, errors.Wrap(err, "creating cache file")
	}
	return f, nil
}
