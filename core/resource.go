// Package core implements the fetch-and-cache decision engine: it decides
// whether a cached copy of an external resource may be reused, performs a
// conditional fetch when required, persists freshness metadata and hands the
// caller a readable stream of the cached body. The physical storage of bytes
// is delegated to a storage.Backend.
package core

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/magictractor/webcache/pkg/storage"
)

// Artifact holding the persisted Properties record of a resource.
const propertiesFile = "properties.json"

// ExternalResource is a network- or file-sourced origin cached locally.
// Implementations keep one properties record and any number of named
// artifacts (body, headers, pretty-printed copies) in the storage backend.
type ExternalResource interface {
	// Name is a simple identifier for logging, such as the URL or file path.
	Name() string
	Properties() (*Properties, error)
	// Artifact returns the handle for a named cached artifact of this
	// resource. Handles are memoized per resource instance.
	Artifact(name string) storage.Artifact
	BodyArtifact() (storage.Artifact, error)
	AddListener(l Listener) ExternalResource
	Listeners() []Listener
	// Open returns a reader over the cached body, fetching from the origin
	// first if the cached copy is absent or expired. The caller closes the
	// reader.
	Open() (io.ReadCloser, error)
}

// origin supplies the behavior that differs between the resource variants:
// identity, cache key derivation and the conditional fetch itself. Fetch may
// mutate the resource's properties (validators, timestamp, content type) and
// write side artifacts. Expired returns ok=false to delegate the expiry
// decision to the resource's listener chain.
type origin interface {
	Name() string
	CacheKey() string
	Fetch(r *Resource) (FetchResult, error)
	Expired(r *Resource, now time.Time) (expired, ok bool)
}

// Resource is the shared fetch orchestration for all resource variants.
//
// Concurrent reads of the same Resource from independent goroutines are not
// guarded; the fetching flag is a re-entrancy guard for hooks, not a lock.
type Resource struct {
	origin    origin
	backend   storage.Backend
	listeners []Listener
	props     *Properties
	fetching  bool
	now       func() time.Time

	// artifact handles are memoized for the lifetime of the instance,
	// populated lazily under the mutex.
	mu        sync.Mutex
	artifacts map[string]storage.Artifact
}

func newResource(o origin, backend storage.Backend) *Resource {
	return &Resource{
		origin:    o,
		backend:   backend,
		now:       time.Now,
		artifacts: make(map[string]storage.Artifact),
	}
}

// FixedClock returns a clock that always reports t. Sharing one fixed clock
// across resources keeps a batch of expiry evaluations consistent when the
// wall clock crosses a policy boundary mid-batch.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// WithClock replaces the clock used for expiry evaluation and fetch
// timestamps. It returns the resource for chaining.
func (r *Resource) WithClock(now func() time.Time) *Resource {
	r.now = now
	return r
}

func (r *Resource) Name() string {
	return r.origin.Name()
}

func (r *Resource) AddListener(l Listener) ExternalResource {
	r.listeners = append(r.listeners, l)
	return r
}

func (r *Resource) AddListeners(ls ...Listener) ExternalResource {
	r.listeners = append(r.listeners, ls...)
	return r
}

func (r *Resource) Listeners() []Listener {
	return r.listeners
}

func (r *Resource) Artifact(name string) storage.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[name]
	if !ok {
		a = r.backend.Artifact(r.origin.CacheKey(), name)
		r.artifacts[name] = a
	}
	return a
}

// Properties returns the resource's metadata record, loading the persisted
// copy on first use or creating defaults when none exists.
func (r *Resource) Properties() (*Properties, error) {
	if r.props != nil {
		return r.props, nil
	}
	a := r.Artifact(propertiesFile)
	if a.Exists() {
		in, err := a.OpenRead()
		if err != nil {
			return nil, errors.Wrap(err, "opening properties artifact")
		}
		defer in.Close()
		props := &Properties{}
		if err := props.Read(in); err != nil {
			return nil, err
		}
		r.props = props
		log.Debug().Str("resource", r.Name()).Msg("Read properties")
	} else {
		r.props = NewProperties()
		log.Debug().Str("resource", r.Name()).Msg("Created properties with defaults")
	}
	return r.props, nil
}

func (r *Resource) BodyArtifact() (storage.Artifact, error) {
	props, err := r.Properties()
	if err != nil {
		return nil, err
	}
	return r.Artifact(props.BodyName("")), nil
}

// Open returns a reader over the cached body, fetching first when required.
func (r *Resource) Open() (io.ReadCloser, error) {
	required, err := r.fetchRequired()
	if err != nil {
		return nil, err
	}
	if required {
		if err := r.refresh(); err != nil {
			return nil, err
		}
	}
	body, err := r.BodyArtifact()
	if err != nil {
		return nil, err
	}
	in, err := body.OpenRead()
	return in, errors.Wrap(err, "opening cached body")
}

// fetchRequired evaluates the fetch guards in order: an in-progress fetch
// short-circuits, missing metadata or a missing body forces a fetch, and
// otherwise the expiry determination decides.
func (r *Resource) fetchRequired() (bool, error) {
	if r.fetching {
		// Happens when a post-save hook reads the resource it was fired for.
		log.Trace().Str("resource", r.Name()).Msg("Fetch not required, fetch is in progress (likely caused by a post-save hook)")
		return false, nil
	}

	if !r.Artifact(propertiesFile).Exists() {
		log.Info().Str("resource", r.Name()).Msg("Fetch required due to no existing properties")
		return true, nil
	}

	props, err := r.Properties()
	if err != nil {
		return false, err
	}
	if !r.Artifact(props.BodyName("")).Exists() {
		// Unusual: there's a properties record but no local copy of the
		// body, most likely deleted by hand to force a download. The stored
		// validators must not be sent, the origin could answer not-modified
		// against content that is no longer locally present.
		log.Info().Str("resource", r.Name()).Msg("Fetch required due to missing (deleted?) body file")
		props.SetLastModified("")
		props.SetETag("")
		return true, nil
	}

	return r.expired(), nil
}

// expired asks the origin first (file resources compare modification times
// directly); when the origin abstains the listener chain decides, first
// definite answer winning.
func (r *Resource) expired() bool {
	now := r.now()
	if expired, ok := r.origin.Expired(r, now); ok {
		return expired
	}
	for _, l := range r.listeners {
		if expired, ok := l.Expired(r, now); ok {
			return expired
		}
	}
	// If this is intended, the message can be silenced by adding a listener
	// that never expires.
	log.Warn().Str("resource", r.Name()).Msg("Resource will never expire because no listener has an opinion on expiry")
	return false
}

// refresh performs the conditional fetch and persists its outcome. The
// properties record is written even when content was not modified, because
// the timestamp advances on every fetch attempt.
func (r *Resource) refresh() error {
	r.fetching = true
	defer func() { r.fetching = false }()

	result, err := r.origin.Fetch(r)
	if err != nil {
		return errors.Wrapf(err, "fetching %s", r.Name())
	}
	defer result.Close()

	if result.IsModified() {
		if err := r.inferProperties(); err != nil {
			return err
		}
		if err := r.preSaveBody(); err != nil {
			return err
		}

		body, err := r.BodyArtifact()
		if err != nil {
			return err
		}
		out, err := body.OpenWrite()
		if err != nil {
			return errors.Wrap(err, "opening body artifact for write")
		}
		written, err := io.Copy(out, result.Body())
		if err != nil {
			out.Close()
			return errors.Wrap(err, "writing body artifact")
		}
		if err := out.Close(); err != nil {
			return errors.Wrap(err, "closing body artifact")
		}

		// Hooks may modify properties and trigger nested reads of this
		// resource; the fetching flag guards the recursion.
		if err := r.postSaveBody(); err != nil {
			return err
		}

		log.Info().Str("resource", r.Name()).Int64("bytes", written).Msg("Fetched body from origin")
	} else {
		log.Info().Str("resource", r.Name()).Msg("Confirmed that existing local cache already matches origin")
	}

	return r.writeProperties()
}

// inferProperties fills in metadata the fetch did not establish: the
// extension from the content type, and the content type from the extension
// with a fixed default.
func (r *Resource) inferProperties() error {
	props, err := r.Properties()
	if err != nil {
		return err
	}
	if props.BodyExtension() == "" {
		if contentType := props.ContentType(); contentType != "" {
			slash := strings.Index(contentType, "/")
			if err := props.SetBodyExtension("." + contentType[slash+1:]); err != nil {
				return err
			}
		}
	}
	if props.ContentType() == "" {
		if props.BodyExtension() == ".json" {
			props.SetContentType("application/json")
		} else {
			props.SetContentType("application/octet-stream")
		}
	}
	return nil
}

func (r *Resource) preSaveBody() error {
	for _, l := range r.listeners {
		if err := l.PreSaveBody(r); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resource) postSaveBody() error {
	for _, l := range r.listeners {
		if err := l.PostSaveBody(r); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resource) writeProperties() error {
	props, err := r.Properties()
	if err != nil {
		return err
	}
	out, err := r.Artifact(propertiesFile).OpenWrite()
	if err != nil {
		return errors.Wrap(err, "opening properties artifact for write")
	}
	if err := props.Write(out); err != nil {
		out.Close()
		return errors.Wrap(err, "writing properties artifact")
	}
	return errors.Wrap(out.Close(), "closing properties artifact")
}
