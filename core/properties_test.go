package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magictractor/webcache/pkg/errs"
)

const propertiesWithEtagOnly = `{
  "Body-Base": "body",
  "Body-Extension": ".json",
  "Content-Type": "application/json",
  "Charset": "UTF-8",
  "ETag": "W/\"424a25-Ie0CoPkr9tV7mpas7QYK1BcjBrs\"",
  "Timestamp": "Tue, 22 Jul 2025 14:36:37 +0100"
}
`

const propertiesWithLastModified = `{
  "Body-Base": "body",
  "Body-Extension": ".json",
  "Content-Type": "application/json",
  "Last-Modified": "Fri, 25 Jul 2025 07:03:11 GMT",
  "ETag": "\"261d93-63abb88f029c0\"",
  "Timestamp": "Sat, 26 Jul 2025 10:04:40 +0100"
}
`

func TestPropertiesRead_etagOnly(t *testing.T) {
	props := &Properties{}
	require.NoError(t, props.Read(strings.NewReader(propertiesWithEtagOnly)))

	assert.Equal(t, "body", props.BodyBase())
	assert.Equal(t, ".json", props.BodyExtension())
	assert.Equal(t, "application/json", props.ContentType())
	assert.Equal(t, "UTF-8", props.CharsetName())
	assert.Equal(t, `W/"424a25-Ie0CoPkr9tV7mpas7QYK1BcjBrs"`, props.ETag())
	assert.Empty(t, props.LastModified())
	expected := time.Date(2025, time.July, 22, 14, 36, 37, 0, time.FixedZone("", 3600))
	assert.True(t, props.Timestamp().Equal(expected), "timestamp was %s", props.Timestamp())
}

func TestPropertiesRead_lastModified(t *testing.T) {
	props := &Properties{}
	require.NoError(t, props.Read(strings.NewReader(propertiesWithLastModified)))

	assert.Equal(t, "body", props.BodyBase())
	assert.Empty(t, props.CharsetName())
	assert.Equal(t, `"261d93-63abb88f029c0"`, props.ETag())
	assert.Equal(t, "Fri, 25 Jul 2025 07:03:11 GMT", props.LastModified())
}

func TestPropertiesWrite(t *testing.T) {
	props := &Properties{}
	props.SetBodyBase("body")
	require.NoError(t, props.SetBodyExtension(".xml"))
	require.NoError(t, props.SetCharsetName("ISO-8859-1"))
	props.SetContentType("application/xml")
	props.SetLastModified("Fri, 25 Jul 2025 07:03:11 GMT")
	props.SetETag(`W/"424a25-Ie0CoPkr9tV7mpas7QYK1BcjBrs"`)
	props.SetTimestamp(time.Date(2025, time.July, 26, 10, 4, 40, 0, time.FixedZone("", -5*3600)))

	var sb strings.Builder
	require.NoError(t, props.Write(&sb))

	lines := strings.Split(sb.String(), "\n")
	assert.Equal(t, "{", lines[0])
	assert.Equal(t, `  "Body-Base": "body",`, lines[1])
	assert.Equal(t, `  "Body-Extension": ".xml",`, lines[2])
	assert.Equal(t, `  "Content-Type": "application/xml",`, lines[3])
	assert.Equal(t, `  "Charset": "ISO-8859-1",`, lines[4])
	assert.Equal(t, `  "Last-Modified": "Fri, 25 Jul 2025 07:03:11 GMT",`, lines[5])
	assert.Equal(t, `  "ETag": "W/\"424a25-Ie0CoPkr9tV7mpas7QYK1BcjBrs\"",`, lines[6])
	assert.Equal(t, `  "Timestamp": "Sat, 26 Jul 2025 10:04:40 -0500"`, lines[7])
	assert.Equal(t, "}", lines[8])
	assert.Equal(t, "", lines[9])
}

func TestPropertiesRoundTrip_maximal(t *testing.T) {
	original := &Properties{}
	original.SetBodyBase("body")
	require.NoError(t, original.SetBodyExtension(".json"))
	require.NoError(t, original.SetCharsetName("UTF-8"))
	original.SetContentType("application/json")
	original.SetLastModified("Fri, 25 Jul 2025 07:03:11 GMT")
	original.SetETag(`W/"424a25-Ie0CoPkr9tV7mpas7QYK1BcjBrs"`)
	original.SetTimestamp(time.Date(2025, time.July, 26, 10, 4, 40, 0, time.FixedZone("", -5*3600)))

	var sb strings.Builder
	require.NoError(t, original.Write(&sb))

	parsed := &Properties{}
	require.NoError(t, parsed.Read(strings.NewReader(sb.String())))

	assert.Equal(t, original.BodyBase(), parsed.BodyBase())
	assert.Equal(t, original.BodyExtension(), parsed.BodyExtension())
	assert.Equal(t, original.ContentType(), parsed.ContentType())
	assert.Equal(t, original.CharsetName(), parsed.CharsetName())
	assert.Equal(t, original.LastModified(), parsed.LastModified())
	assert.Equal(t, original.ETag(), parsed.ETag())
	assert.True(t, original.Timestamp().Equal(parsed.Timestamp()))
}

func TestPropertiesRoundTrip_minimal(t *testing.T) {
	original := NewProperties()

	var sb strings.Builder
	require.NoError(t, original.Write(&sb))

	parsed := &Properties{}
	require.NoError(t, parsed.Read(strings.NewReader(sb.String())))

	assert.Equal(t, "body", parsed.BodyBase())
	assert.Empty(t, parsed.BodyExtension())
	assert.Empty(t, parsed.ContentType())
	assert.Empty(t, parsed.CharsetName())
	assert.Empty(t, parsed.LastModified())
	assert.Empty(t, parsed.ETag())
	assert.True(t, parsed.Timestamp().IsZero())
}

func TestPropertiesRead_unknownKeyIsFatal(t *testing.T) {
	props := &Properties{}
	err := props.Read(strings.NewReader(`{
  "Body-Base": "body",
  "Surprise": "value"
}
`))

	var parseErr *errs.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Message, "Surprise")
}

func TestPropertiesRead_structuralViolations(t *testing.T) {
	for name, malformed := range map[string]string{
		"missing opening brace": `"Body-Base": "body"}`,
		"missing colon":         `{"Body-Base" "body"}`,
		"unquoted value":        `{"Body-Base": body}`,
		"missing closing brace": `{"Body-Base": "body"`,
		"trailing garbage":      "{\"Body-Base\": \"body\"}\nextra",
	} {
		t.Run(name, func(t *testing.T) {
			props := &Properties{}
			err := props.Read(strings.NewReader(malformed))

			var parseErr *errs.ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestPropertiesBodyName(t *testing.T) {
	props := NewProperties()
	assert.Equal(t, "body", props.BodyName(""))

	require.NoError(t, props.SetBodyExtension(".json"))
	assert.Equal(t, "body.json", props.BodyName(""))
	assert.Equal(t, "body_pretty.json", props.BodyName("pretty"))
}

func TestPropertiesSetBodyExtension_requiresDot(t *testing.T) {
	props := NewProperties()
	err := props.SetBodyExtension("json")

	var usageErr *errs.UsageError
	require.ErrorAs(t, err, &usageErr)
}

func TestPropertiesSetCharsetName_unknownName(t *testing.T) {
	props := NewProperties()
	err := props.SetCharsetName("KLINGON-1")

	var usageErr *errs.UsageError
	require.ErrorAs(t, err, &usageErr)
}
