package core

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/magictractor/webcache/pkg/errs"
	"github.com/magictractor/webcache/pkg/storage"
)

// Artifact holding the raw response headers of the last fetch, one
// "name: value" line per header, for diagnostics.
const headersFile = "headers.txt"

// NewWebResource creates a cached resource backed by an HTTP or HTTPS URL.
// Fetches are conditional: stored Last-Modified and ETag validators are sent
// so the origin may answer 304 Not Modified.
func NewWebResource(rawURL string, backend storage.Backend) (*Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.Usagef("invalid URL %q: %v", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.Usagef("web resources are only suitable for http and https, not %q", rawURL)
	}
	o := &webOrigin{url: u, client: http.DefaultClient}
	return newResource(o, backend), nil
}

type webOrigin struct {
	url    *url.URL
	client *http.Client
}

func (o *webOrigin) Name() string {
	return o.url.String()
}

// CacheKey keeps the raw '?' of the query; substituting characters that are
// illegal in file paths is the storage backend's concern.
func (o *webOrigin) CacheKey() string {
	key := o.url.Host + o.url.Path
	if o.url.RawQuery != "" {
		key += "?" + o.url.RawQuery
	}
	return key
}

// Expired abstains: web resources delegate the expiry decision to the
// listener chain.
func (o *webOrigin) Expired(*Resource, time.Time) (bool, bool) {
	return false, false
}

func (o *webOrigin) Fetch(r *Resource) (FetchResult, error) {
	props, err := r.Properties()
	if err != nil {
		return FetchResult{}, err
	}

	req, err := http.NewRequest(http.MethodGet, o.url.String(), nil)
	if err != nil {
		return FetchResult{}, errors.Wrap(err, "creating request")
	}
	if lastModified := props.LastModified(); lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	if etag := props.ETag(); etag != "" {
		// Weak validation ("W/" prefix) is fine, it indicates that we only
		// care about the content.
		req.Header.Set("If-None-Match", "W/"+etag)
	}

	res, err := o.client.Do(req)
	if err != nil {
		return FetchResult{}, errors.Wrapf(err, "fetching %s", o.url)
	}

	if err := o.saveHeaders(r, res); err != nil {
		res.Body.Close()
		return FetchResult{}, err
	}
	if err := updateProperties(props, res.Header); err != nil {
		res.Body.Close()
		return FetchResult{}, err
	}
	props.SetTimestamp(r.now())

	switch res.StatusCode {
	case http.StatusOK:
		return Modified(res.Body), nil
	case http.StatusNotModified:
		res.Body.Close()
		return NotModified(), nil
	}

	res.Body.Close()
	return FetchResult{}, &errs.ProtocolError{StatusCode: res.StatusCode, Status: res.Status}
}

// saveHeaders writes the status line and every response header to the
// headers artifact.
func (o *webOrigin) saveHeaders(r *Resource, res *http.Response) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", res.Proto, res.Status)

	names := make([]string, 0, len(res.Header))
	for name := range res.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range res.Header[name] {
			fmt.Fprintf(&sb, "%s: %s\n", name, value)
		}
	}

	out, err := r.Artifact(headersFile).OpenWrite()
	if err != nil {
		return errors.Wrap(err, "opening headers artifact for write")
	}
	if _, err := strings.NewReader(sb.String()).WriteTo(out); err != nil {
		out.Close()
		return errors.Wrap(err, "writing headers artifact")
	}
	return errors.Wrap(out.Close(), "closing headers artifact")
}

// updateProperties extracts the headers the cache cares about. Content-Type
// is split on its first ';', like "text/html;charset=UTF-8"; Last-Modified
// and ETag are stored verbatim for use as validators.
func updateProperties(props *Properties, header http.Header) error {
	if contentType := header.Get("Content-Type"); contentType != "" {
		if split := strings.Index(contentType, ";"); split != -1 {
			param := contentType[split+1:]
			equals := strings.Index(param, "=")
			if equals == -1 || strings.TrimSpace(param[:equals]) != "charset" {
				return errs.Parsef("unexpected Content-Type parameter in %q", contentType)
			}
			if err := props.SetCharsetName(strings.TrimSpace(param[equals+1:])); err != nil {
				return err
			}
			contentType = strings.TrimSpace(contentType[:split])
		}
		props.SetContentType(contentType)
	}
	if lastModified := header.Get("Last-Modified"); lastModified != "" {
		props.SetLastModified(lastModified)
	}
	if etag := header.Get("ETag"); etag != "" {
		props.SetETag(etag)
	}
	return nil
}
