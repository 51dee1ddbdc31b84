package core

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/magictractor/webcache/pkg/errs"
	"github.com/magictractor/webcache/pkg/storage/memory"
)

// alwaysExpired forces a fetch attempt on every Open, so tests can exercise
// the conditional request path.
var alwaysExpired = ListenerFuncs{
	IsExpired: func(ExternalResource, time.Time) (bool, bool) { return true, true },
}

func TestWebFetchStoresValidatorsAndBody(t *testing.T) {
	requests := 0
	r := chi.NewRouter()
	r.Get("/data.json", func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Last-Modified", "Fri, 25 Jul 2025 07:03:11 GMT")
		w.Header().Set("ETag", `"261d93-63abb88f029c0"`)
		w.Write([]byte(`{"count":3}`))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	res, err := NewWebResource(server.URL+"/data.json", memory.New())
	if err != nil {
		t.Fatalf("NewWebResource failed: %v", err)
	}

	if got := readAll(t, res); got != `{"count":3}` {
		t.Fatalf("Body is %q", got)
	}
	if requests != 1 {
		t.Fatalf("Request count is %d", requests)
	}

	props, err := res.Properties()
	if err != nil {
		t.Fatalf("Properties failed: %v", err)
	}
	if props.ContentType() != "application/json" {
		t.Fatalf("Content type is %q", props.ContentType())
	}
	if props.BodyExtension() != ".json" {
		t.Fatalf("Extension is %q", props.BodyExtension())
	}
	if props.LastModified() != "Fri, 25 Jul 2025 07:03:11 GMT" {
		t.Fatalf("Last modified is %q", props.LastModified())
	}
	if props.ETag() != `"261d93-63abb88f029c0"` {
		t.Fatalf("ETag is %q", props.ETag())
	}
	if !res.Artifact(headersFile).Exists() {
		t.Fatal("Headers artifact not saved")
	}
}

func TestWebFetchSendsValidatorsAndHandlesNotModified(t *testing.T) {
	requests := 0
	r := chi.NewRouter()
	r.Get("/data.json", func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Last-Modified", "Fri, 25 Jul 2025 07:03:11 GMT")
			w.Header().Set("ETag", `"261d93"`)
			w.Write([]byte(`{"count":3}`))
			return
		}

		if got := r.Header.Get("If-Modified-Since"); got != "Fri, 25 Jul 2025 07:03:11 GMT" {
			t.Errorf("If-Modified-Since is %q", got)
		}
		if got := r.Header.Get("If-None-Match"); got != `W/"261d93"` {
			t.Errorf("If-None-Match is %q", got)
		}
		w.WriteHeader(http.StatusNotModified)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	res, err := NewWebResource(server.URL+"/data.json", memory.New())
	if err != nil {
		t.Fatalf("NewWebResource failed: %v", err)
	}
	res.AddListener(alwaysExpired)

	earlier := time.Date(2025, time.July, 26, 10, 0, 0, 0, time.UTC)
	res.WithClock(FixedClock(earlier))
	readAll(t, res)

	later := earlier.Add(time.Hour)
	res.WithClock(FixedClock(later))
	if got := readAll(t, res); got != `{"count":3}` {
		t.Fatalf("Body is %q after 304", got)
	}

	if requests != 2 {
		t.Fatalf("Request count is %d", requests)
	}
	props, _ := res.Properties()
	if !props.Timestamp().Equal(later) {
		t.Fatalf("Timestamp is %s, should have advanced on the 304", props.Timestamp())
	}
}

func TestWebFetchContentTypeCharset(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		w.Write([]byte("<html></html>"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	res, err := NewWebResource(server.URL+"/page", memory.New())
	if err != nil {
		t.Fatalf("NewWebResource failed: %v", err)
	}
	readAll(t, res)

	props, _ := res.Properties()
	if props.ContentType() != "text/html" {
		t.Fatalf("Content type is %q", props.ContentType())
	}
	if props.CharsetName() != "UTF-8" {
		t.Fatalf("Charset is %q", props.CharsetName())
	}
	if props.Charset() == nil {
		t.Fatal("Charset decoder not resolved")
	}
}

func TestWebFetchRejectsUnexpectedContentTypeParameter(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/form-data; boundary=something")
		w.Write([]byte("ignored"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	res, err := NewWebResource(server.URL+"/page", memory.New())
	if err != nil {
		t.Fatalf("NewWebResource failed: %v", err)
	}

	_, err = res.Open()
	var parseErr *errs.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Error is %v, want ParseError", err)
	}
}

func TestWebFetchUnexpectedStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	res, err := NewWebResource(server.URL+"/broken", memory.New())
	if err != nil {
		t.Fatalf("NewWebResource failed: %v", err)
	}

	_, err = res.Open()
	var protocolErr *errs.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("Error is %v, want ProtocolError", err)
	}
	if protocolErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Status code is %d", protocolErr.StatusCode)
	}
}

func TestWebCacheKeyKeepsQuery(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/Spoilers/?d=troops", "example.com/Spoilers/?d=troops"},
		{"https://example.com/api/v2/troops", "example.com/api/v2/troops"},
		{"http://example.com", "example.com"},
	}
	for _, tt := range tests {
		res, err := NewWebResource(tt.url, memory.New())
		if err != nil {
			t.Fatalf("NewWebResource(%q) failed: %v", tt.url, err)
		}
		if got := res.origin.CacheKey(); got != tt.want {
			t.Fatalf("Cache key for %q is %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestNewWebResourceRejectsScheme(t *testing.T) {
	for _, rawURL := range []string{"ftp://example.com/file", "example.com/no/scheme"} {
		_, err := NewWebResource(rawURL, memory.New())
		var usageErr *errs.UsageError
		if !errors.As(err, &usageErr) {
			t.Fatalf("Error for %q is %v, want UsageError", rawURL, err)
		}
	}
}

func TestWebHeadersArtifactContents(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte("content"))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	res, err := NewWebResource(server.URL+"/data", memory.New())
	if err != nil {
		t.Fatalf("NewWebResource failed: %v", err)
	}
	readAll(t, res)

	in, err := res.Artifact(headersFile).OpenRead()
	if err != nil {
		t.Fatalf("Reading headers artifact failed: %v", err)
	}
	defer in.Close()
	headers, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("Reading headers artifact failed: %v", err)
	}

	lines := string(headers)
	if !strings.Contains(lines, "HTTP/1.1 200 OK\n") {
		t.Fatalf("Headers artifact missing status line:\n%s", lines)
	}
	if !strings.Contains(lines, `Etag: "abc"`) {
		t.Fatalf("Headers artifact missing ETag line:\n%s", lines)
	}
}
