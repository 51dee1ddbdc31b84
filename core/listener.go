package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Listener is an extension point registered against a resource. The pre- and
// post-save hooks run around body persistence; Expired lets a listener decide
// the expiry question, returning ok=false to abstain. Listeners run in
// registration order and the first definite expiry answer wins.
type Listener interface {
	PreSaveBody(res ExternalResource) error
	PostSaveBody(res ExternalResource) error
	Expired(res ExternalResource, now time.Time) (expired, ok bool)
}

// ListenerFuncs adapts plain functions to the Listener interface. Nil fields
// no-op (hooks) or abstain (expiry).
type ListenerFuncs struct {
	PreSave   func(res ExternalResource) error
	PostSave  func(res ExternalResource) error
	IsExpired func(res ExternalResource, now time.Time) (bool, bool)
}

func (l ListenerFuncs) PreSaveBody(res ExternalResource) error {
	if l.PreSave == nil {
		return nil
	}
	return l.PreSave(res)
}

func (l ListenerFuncs) PostSaveBody(res ExternalResource) error {
	if l.PostSave == nil {
		return nil
	}
	return l.PostSave(res)
}

func (l ListenerFuncs) Expired(res ExternalResource, now time.Time) (bool, bool) {
	if l.IsExpired == nil {
		return false, false
	}
	return l.IsExpired(res, now)
}

// SwappableListener is an indirection cell for replacing a listener
// implementation at runtime without re-registering it on the resource. The
// owner swaps explicitly; there is no global mutation.
type SwappableListener struct {
	impl Listener
}

func NewSwappableListener(impl Listener) *SwappableListener {
	return &SwappableListener{impl: impl}
}

func (s *SwappableListener) Swap(impl Listener) {
	s.impl = impl
}

func (s *SwappableListener) PreSaveBody(res ExternalResource) error {
	return s.impl.PreSaveBody(res)
}

func (s *SwappableListener) PostSaveBody(res ExternalResource) error {
	return s.impl.PostSaveBody(res)
}

func (s *SwappableListener) Expired(res ExternalResource, now time.Time) (bool, bool) {
	return s.impl.Expired(res, now)
}

// ExpiryPolicy is the slice of pkg/expiry.Policy the listener bridge needs:
// the expiry instant for a last-checked time, with ok=false meaning the policy
// expires unconditionally.
type ExpiryPolicy interface {
	Next(last time.Time) (time.Time, bool)
	String() string
}

// PolicyListener bridges an expiry policy into the listener chain. A missing
// last-checked timestamp is treated as expired: a first fetch should always
// have established one, so its absence indicates an inconsistent cache state
// and must not silently pass as fresh.
func PolicyListener(policy ExpiryPolicy) Listener {
	return policyListener{policy: policy}
}

type policyListener struct {
	policy ExpiryPolicy
}

func (policyListener) PreSaveBody(ExternalResource) error { return nil }

func (policyListener) PostSaveBody(ExternalResource) error { return nil }

func (l policyListener) Expired(res ExternalResource, now time.Time) (bool, bool) {
	props, err := res.Properties()
	if err != nil {
		log.Warn().Err(err).Str("resource", res.Name()).Msg("Cannot read properties, assuming expiry")
		return true, true
	}

	last := props.Timestamp()
	if last.IsZero() {
		// Shouldn't happen: a fetch should already have been triggered
		// because there was no local cache.
		log.Warn().Str("resource", res.Name()).Msg("Missing timestamp, so assuming expiry")
		return true, true
	}

	next, ok := l.policy.Next(last)
	if !ok {
		log.Info().Str("resource", res.Name()).Str("policy", l.policy.String()).Msg("Expiry forced")
		return true, true
	}

	expired := next.Before(now)
	if expired {
		log.Info().Str("resource", res.Name()).Time("expiry", next).Msg("Expiry has passed")
	} else {
		log.Info().
			Str("resource", res.Name()).
			Time("expiry", next).
			Str("remaining", durationDescription(next.Sub(now))).
			Msg("Expiry has not passed")
	}
	return expired, true
}

// durationDescription renders a duration the way a person reads a log line:
// seconds below a minute, then rounded-up minutes, hours and minutes below
// half a day, whole hours beyond.
func durationDescription(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds == 1 {
		return "1 second"
	}
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", seconds)
	}

	minutes := (seconds + 59) / 60
	if minutes == 1 {
		return "1 minute"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", minutes)
	}

	if minutes < 12*60 {
		hours := minutes / 60
		minutes -= hours * 60
		return fmt.Sprintf("%s and %s", plural(hours, "hour"), plural(minutes, "minute"))
	}

	hours := (minutes + 59) / 60
	return fmt.Sprintf("%d hours", hours)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// PrettyPrintJSON returns a post-save listener that writes an indented copy
// of a JSON body beside the cached body, named with a "pretty" suffix. The
// nested read of the resource is safe: the fetch-in-progress guard prevents
// recursion.
func PrettyPrintJSON() Listener {
	return ListenerFuncs{PostSave: prettyPrintJSON}
}

func prettyPrintJSON(res ExternalResource) error {
	in, err := res.Open()
	if err != nil {
		return err
	}
	defer in.Close()
	raw, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrap(err, "reading body for pretty printing")
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return errors.Wrap(err, "pretty printing body")
	}

	props, err := res.Properties()
	if err != nil {
		return err
	}
	out, err := res.Artifact(props.BodyName("pretty")).OpenWrite()
	if err != nil {
		return errors.Wrap(err, "opening pretty copy for write")
	}
	if _, err := out.Write(pretty.Bytes()); err != nil {
		out.Close()
		return errors.Wrap(err, "writing pretty copy")
	}
	return errors.Wrap(out.Close(), "closing pretty copy")
}
