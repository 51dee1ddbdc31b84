package core

import (
	"bufio"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/magictractor/webcache/pkg/errs"
)

// Timestamps are persisted in HTTP-date style with a numeric zone offset,
// like "Sat, 26 Jul 2025 10:04:40 -0500".
const timestampFormat = time.RFC1123Z

const (
	bodyBaseKey = "Body-Base"

	// Extension appended to cached body files to associate an application
	// for reading the file. Expected to start with a dot, like ".json".
	bodyExtensionKey = "Body-Extension"

	contentTypeKey = "Content-Type"

	charsetKey = "Charset"

	// The last modification time of a web resource, found in the HTTP
	// response header. Included verbatim in subsequent requests so that the
	// server may answer 304 Not Modified.
	lastModifiedKey = "Last-Modified"

	etagKey = "ETag"

	// The timestamp of the last completed fetch attempt. Used to determine
	// when external files have changed and as the anchor for expiry rules.
	timestampKey = "Timestamp"
)

// Properties is the freshness and identity metadata persisted per resource.
// One record is shared across all cached artifacts of the resource.
type Properties struct {
	bodyBase      string
	bodyExtension string
	contentType   string
	charset       string
	lastModified  string
	etag          string
	timestamp     time.Time
}

// NewProperties returns a record with defaults for a resource that has never
// been fetched.
func NewProperties() *Properties {
	return &Properties{bodyBase: "body"}
}

func (p *Properties) BodyBase() string { return p.bodyBase }

func (p *Properties) SetBodyBase(base string) { p.bodyBase = base }

func (p *Properties) BodyExtension() string { return p.bodyExtension }

func (p *Properties) SetBodyExtension(extension string) error {
	if extension != "" && !strings.HasPrefix(extension, ".") {
		return errs.Usagef("extension %q should start with a dot", extension)
	}
	p.bodyExtension = extension
	return nil
}

// BodyName composes the cached body's file name from the base, an optional
// suffix and the extension, like "body_pretty.json".
func (p *Properties) BodyName(suffix string) string {
	var name strings.Builder
	name.WriteString(p.bodyBase)
	if suffix != "" {
		name.WriteByte('_')
		name.WriteString(suffix)
	}
	name.WriteString(p.bodyExtension)
	return name.String()
}

func (p *Properties) ContentType() string { return p.contentType }

func (p *Properties) SetContentType(contentType string) { p.contentType = contentType }

// CharsetName returns the stored charset name, or "" when no charset is
// known. Consumers must not assume a charset when it is unset.
func (p *Properties) CharsetName() string { return p.charset }

// SetCharsetName stores a charset by name. The name must be recognized, but
// is stored verbatim so the record round-trips exactly.
func (p *Properties) SetCharsetName(name string) error {
	if name != "" {
		if _, err := htmlindex.Get(name); err != nil {
			return errs.Usagef("unknown charset %q", name)
		}
	}
	p.charset = name
	return nil
}

// Charset returns the decoder for the stored charset name, or nil when no
// charset is known.
func (p *Properties) Charset() encoding.Encoding {
	if p.charset == "" {
		return nil
	}
	enc, err := htmlindex.Get(p.charset)
	if err != nil {
		// SetCharsetName validated the name.
		return nil
	}
	return enc
}

func (p *Properties) LastModified() string { return p.lastModified }

func (p *Properties) SetLastModified(lastModified string) { p.lastModified = lastModified }

func (p *Properties) ETag() string { return p.etag }

func (p *Properties) SetETag(etag string) { p.etag = etag }

func (p *Properties) Timestamp() time.Time { return p.timestamp }

func (p *Properties) SetTimestamp(timestamp time.Time) { p.timestamp = timestamp }

func (p *Properties) set(key, value string) error {
	switch key {
	case bodyBaseKey:
		p.SetBodyBase(value)
	case bodyExtensionKey:
		return p.SetBodyExtension(value)
	case contentTypeKey:
		p.SetContentType(value)
	case charsetKey:
		return p.SetCharsetName(value)
	case lastModifiedKey:
		p.SetLastModified(value)
	case etagKey:
		p.SetETag(value)
	case timestampKey:
		timestamp, err := time.Parse(timestampFormat, value)
		if err != nil {
			return errs.Parsef("malformed timestamp %q: %v", value, err)
		}
		p.SetTimestamp(timestamp)
	default:
		// Unknown keys are fatal rather than ignored, to catch format drift
		// early.
		return errs.Parsef("unknown properties key %q", key)
	}
	return nil
}

// Read parses a persisted record. Keys are accepted in any order; any
// structural violation or unknown key is a ParseError.
func (p *Properties) Read(r io.Reader) error {
	t := tokenizer{r: bufio.NewReader(r)}

	if err := t.expect('{'); err != nil {
		return err
	}
	for {
		key, err := t.quoted()
		if err != nil {
			return err
		}
		if err := t.expect(':'); err != nil {
			return err
		}
		value, err := t.quoted()
		if err != nil {
			return err
		}
		if err := p.set(key, value); err != nil {
			return err
		}

		c, err := t.next()
		if err != nil {
			return err
		}
		if c == '}' {
			break
		}
		if c != ',' {
			return errs.Parsef("expected ',' or '}', but was %q", c)
		}
	}
	return t.expectEOF()
}

// Write serializes the record with keys in a fixed canonical order, omitting
// keys whose value is absent. Only the ETag value may contain embedded
// quotes; those are escaped.
func (p *Properties) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("{\n")

	isFirst := true
	write := func(key, value string) {
		if value == "" {
			return
		}
		if !isFirst {
			bw.WriteString(",\n")
		}
		isFirst = false
		bw.WriteString("  \"")
		bw.WriteString(key)
		bw.WriteString("\": \"")
		if key == etagKey {
			value = strings.ReplaceAll(value, `"`, `\"`)
		}
		bw.WriteString(value)
		bw.WriteString("\"")
	}

	write(bodyBaseKey, p.bodyBase)
	write(bodyExtensionKey, p.bodyExtension)
	write(contentTypeKey, p.contentType)
	write(charsetKey, p.charset)
	write(lastModifiedKey, p.lastModified)
	write(etagKey, p.etag)
	if !p.timestamp.IsZero() {
		write(timestampKey, p.timestamp.Format(timestampFormat))
	}

	bw.WriteString("\n}\n")
	return bw.Flush()
}

// tokenizer reads the brace-delimited, comma-separated key/value format in
// which every value is a quoted string.
type tokenizer struct {
	r *bufio.Reader
}

// next returns the next non-whitespace byte.
func (t *tokenizer) next() (byte, error) {
	for {
		c, err := t.r.ReadByte()
		if err == io.EOF {
			return 0, errs.Parsef("unexpected end of properties")
		}
		if err != nil {
			return 0, err
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c, nil
	}
}

func (t *tokenizer) expect(want byte) error {
	c, err := t.next()
	if err != nil {
		return err
	}
	if c != want {
		return errs.Parsef("expected %q, but was %q", want, c)
	}
	return nil
}

// quoted reads a quoted string, unescaping embedded \" and \\ sequences.
func (t *tokenizer) quoted() (string, error) {
	if err := t.expect('"'); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			return "", errs.Parsef("unterminated quoted string")
		}
		switch c {
		case '"':
			return sb.String(), nil
		case '\\':
			escaped, err := t.r.ReadByte()
			if err != nil {
				return "", errs.Parsef("unterminated quoted string")
			}
			sb.WriteByte(escaped)
		default:
			sb.WriteByte(c)
		}
	}
}

func (t *tokenizer) expectEOF() error {
	for {
		c, err := t.r.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return errs.Parsef("expected end of properties, but was %q", c)
	}
}
