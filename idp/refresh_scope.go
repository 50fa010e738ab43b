package idp

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// oauth2's refresher posts only grant_type, refresh_token and client_id.
// scopeTransport adds scope to those requests.
type scopeTransport struct {
	base  http.RoundTripper
	scope string
}

func withRefreshScope(h *http.Client, scope string) *http.Client {
	if scope == "" {
		return h
	}
	clone := *h
	base := h.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	clone.Transport = &scopeTransport{base: base, scope: scope}
	return &clone
}

func (t *scopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}

	form, err := url.ParseQuery(string(body))
	if err == nil && form.Get("grant_type") == "refresh_token" && form.Get("scope") == "" {
		form.Set("scope", t.scope)
		body = []byte(form.Encode())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return t.base.RoundTrip(out)
}
