package core

import "io"

// FetchResult is the outcome of a conditional fetch. It either carries new
// content or confirms that the locally cached content is unchanged (a 304
// status for web resources). The caller owns the body until closed.
type FetchResult struct {
	body io.ReadCloser
}

// Modified wraps the byte source of freshly fetched content.
func Modified(body io.ReadCloser) FetchResult {
	return FetchResult{body: body}
}

// NotModified confirms that the existing local copy matches the origin.
func NotModified() FetchResult {
	return FetchResult{}
}

func (r FetchResult) IsModified() bool { return r.body != nil }

func (r FetchResult) Body() io.ReadCloser { return r.body }

func (r FetchResult) Close() error {
	if r.body == nil {
		return nil
	}
	return r.body.Close()
}
