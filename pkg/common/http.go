package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// UserAgent is the value sent on every request to the portal.
func UserAgent() string {
	return "KyoceraSolarCLI/" + strings.TrimSpace(version) + " (+https://github.com/kyosol/kyosol)"
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set and
// the given cookie jar attached. The timeout applies to each request issued
// through the client, not to any retry loop wrapped around it.
func HTTPClient(timeout time.Duration, jar http.CookieJar) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Jar:     jar,
		Timeout: timeout,
	}
}
