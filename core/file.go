package core

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/magictractor/webcache/pkg/errs"
	"github.com/magictractor/webcache/pkg/storage"
)

// NewFileResource creates a cached resource backed by a file outside the
// cache. Freshness is decided by the file's modification time rather than by
// the listener chain.
func NewFileResource(path string, backend storage.Backend) (*Resource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Usagef("file does not exist: %s", path)
	}
	return newResource(&fileOrigin{path: path}, backend), nil
}

type fileOrigin struct {
	path string
}

func (o *fileOrigin) Name() string {
	return o.path
}

func (o *fileOrigin) CacheKey() string {
	return filepath.Base(o.path)
}

// Expired compares the recorded timestamp to the external file's current
// modification time. Sub-second precision is not preserved in the persisted
// properties, so both sides are truncated to whole seconds.
func (o *fileOrigin) Expired(r *Resource, _ time.Time) (bool, bool) {
	props, err := r.Properties()
	if err != nil {
		log.Warn().Err(err).Str("resource", o.path).Msg("Cannot read properties, assuming expiry")
		return true, true
	}
	info, err := os.Stat(o.path)
	if err != nil {
		log.Warn().Err(err).Str("resource", o.path).Msg("Cannot stat external file, assuming expiry")
		return true, true
	}

	previous := props.Timestamp().Unix()
	current := info.ModTime().Unix()
	switch {
	case previous < current:
		log.Info().Str("resource", o.path).Msg("External file has changed")
		return true, true
	case previous == current:
		log.Debug().Str("resource", o.path).Msg("External file is unchanged")
		return false, true
	}
	log.Warn().Str("resource", o.path).Msg("External file has unexpected timestamp (earlier than before), treating as changed")
	return true, true
}

// Fetch always yields modified content; local files have no analogue of a
// 304. The metadata timestamp is stamped from the file's modification time
// and the body extension inferred from the file name suffix.
func (o *fileOrigin) Fetch(r *Resource) (FetchResult, error) {
	props, err := r.Properties()
	if err != nil {
		return FetchResult{}, err
	}
	info, err := os.Stat(o.path)
	if err != nil {
		return FetchResult{}, errors.Wrap(err, "stat external file")
	}
	props.SetTimestamp(info.ModTime())

	name := info.Name()
	if dot := strings.LastIndex(name, "."); dot > 0 {
		if err := props.SetBodyExtension(name[dot:]); err != nil {
			return FetchResult{}, err
		}
	}

	f, err := os.Open(o.path)
	if err != nil {
		return FetchResult{}, errors.Wrap(err, "opening external file")
	}
	return Modified(f), nil
}
