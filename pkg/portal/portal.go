// Package portal implements the session lifecycle against the Kyocera Solar
// portal: cookie-cached login, signage priming for a fresh CSRF token, and a
// realtime status fetch that transparently re-authenticates once when the
// cached session has silently expired.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/kyosol/kyosol/pkg/log"
	"github.com/kyosol/kyosol/pkg/loginform"
	"github.com/kyosol/kyosol/pkg/sessioncache"
	"github.com/kyosol/kyosol/pkg/transport"
	"github.com/kyosol/kyosol/pkg/types"
)

var (
	// ErrAuthRequired signals that the portal wants a (re-)login. GetStatus
	// consumes the first occurrence itself; only a failure of the retried
	// fetch surfaces it to the caller.
	ErrAuthRequired = errors.New("authentication required")

	// ErrLoginFailed means the portal rejected the submitted credentials.
	ErrLoginFailed = errors.New("portal reported invalid credentials")
)

// ProtocolError reports a response that violated the portal's JSON contract
// while the session itself appeared valid.
type ProtocolError struct {
	Reason string
	// Body carries the raw envelope for diagnostics when present.
	Body string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Body)
	}
	return e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// sessionState holds the mutable per-process session values. Keeping them on
// one value makes the login/prime/fetch transitions explicit: the CSRF token
// only ever moves forward to a fresher token, and priming is reset solely by
// a fresh login.
type sessionState struct {
	csrfToken     string
	signagePrimed bool
}

// Options configure a Client beyond the site config and credentials.
type Options struct {
	// CachePath is where the session cache file lives.
	CachePath string
	// DisableCache skips both restoring and persisting the session, forcing
	// a fresh login.
	DisableCache bool
}

// Client mirrors the browser flow for one organization/site. It is not safe
// for concurrent use; the jar and session state are unsynchronized by
// design, matching the one-invocation-at-a-time CLI model.
type Client struct {
	cfg          types.SiteConfig
	creds        types.Credentials
	tr           *transport.Transport
	store        *sessioncache.Store
	state        sessionState
	disableCache bool
}

// New builds a Client whose transport is bound to a fresh cookie jar shared
// with the session store.
func New(cfg types.SiteConfig, creds types.Credentials, opts Options) *Client {
	jar := sessioncache.NewJar()
	return &Client{
		cfg:          cfg,
		creds:        creds,
		tr:           transport.New(jar),
		store:        sessioncache.NewStore(jar, opts.CachePath),
		disableCache: opts.DisableCache,
	}
}

// RestoreSession loads cached cookies into the jar, best-effort. Call once
// at startup before the first GetStatus.
func (c *Client) RestoreSession(ctx context.Context) {
	if c.disableCache {
		return
	}
	c.store.Restore(ctx)
}

func (c *Client) persist(ctx context.Context) {
	if c.disableCache {
		return
	}
	if err := c.store.Persist(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist session", slog.Any("error", err))
	}
}

func (c *Client) resolve(ref string) string {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return c.cfg.BaseURL + ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return c.cfg.BaseURL + ref
	}
	return base.ResolveReference(refURL).String()
}

func (c *Client) loginURL() string {
	return c.resolve("/login")
}

func (c *Client) signageURL() string {
	return c.resolve(fmt.Sprintf("/organizations/%s/sites/%s/signage", c.cfg.OrganizationID, c.cfg.SiteID))
}

func (c *Client) realtimeURL() string {
	return c.resolve(fmt.Sprintf("/organizations/%s/sites/%s/realtime", c.cfg.OrganizationID, c.cfg.SiteID))
}

func htmlAccept() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html")
	return h
}

// isAuthStatus reports whether err is an HTTP 401/403 response.
func isAuthStatus(err error) bool {
	var he *transport.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden
	}
	return false
}

// Login fetches the login page, submits the discovered form with the
// configured credentials, and persists the refreshed session. A fresh login
// invalidates any prior signage priming.
func (c *Client) Login(ctx context.Context) error {
	log.Ctx(ctx).InfoContext(ctx, "logging into portal", slog.String("email", c.creds.Email))

	page, err := c.tr.Do(ctx, transport.Request{
		Method: "GET",
		URL:    c.loginURL(),
		Header: htmlAccept(),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch login page: %w", err)
	}

	form, token, err := loginform.Parse(page)
	if err != nil {
		return err
	}
	if token != "" {
		c.state.csrfToken = token
	}

	header := http.Header{}
	header.Set("Referer", c.loginURL())
	if c.state.csrfToken != "" {
		header.Set("X-CSRF-Token", c.state.csrfToken)
	}

	body, err := c.tr.Do(ctx, transport.Request{
		Method: "POST",
		URL:    c.resolve(form.Action),
		Form:   loginform.BuildPayload(form, c.creds.Email, c.creds.Password),
		Header: header,
	})
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}

	// Failure detection is a substring scan over the response body; it can
	// false-positive on unrelated content carrying these markers.
	if strings.Contains(body, "Invalid") || strings.Contains(body, "error_explanation") {
		return ErrLoginFailed
	}

	if token := loginform.FindCsrfToken(body); token != "" {
		c.state.csrfToken = token
	}
	c.state.signagePrimed = false
	c.persist(ctx)

	log.Ctx(ctx).DebugContext(ctx, "login succeeded", slog.Bool("csrfToken", c.state.csrfToken != ""))
	return nil
}

// ensurePrimed visits the signage page once per login to pick up the cookies
// and CSRF token its client-side script would normally set. Priming cannot
// recover from an expired session; that is the caller's job.
func (c *Client) ensurePrimed(ctx context.Context) error {
	if c.state.signagePrimed {
		return nil
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching signage page to prime session")

	page, err := c.tr.Do(ctx, transport.Request{
		Method: "GET",
		URL:    c.signageURL(),
		Header: htmlAccept(),
	})
	if err != nil {
		if isAuthStatus(err) {
			return fmt.Errorf("session expired or unauthorized: %w", ErrAuthRequired)
		}
		return err
	}

	if token := loginform.FindCsrfToken(page); token != "" {
		c.state.csrfToken = token
	}
	c.state.signagePrimed = true
	return nil
}

type realtimeEnvelope struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
}

// fetchRealtime primes the session and requests the realtime snapshot. The
// returned payload is the envelope's data member, passed through unparsed.
func (c *Client) fetchRealtime(ctx context.Context) (json.RawMessage, error) {
	if err := c.ensurePrimed(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("realtime", "true")
	query.Set("signage", "true")

	header := http.Header{}
	header.Set("Referer", c.signageURL())
	header.Set("X-Requested-With", "XMLHttpRequest")
	if c.state.csrfToken != "" {
		header.Set("X-CSRF-Token", c.state.csrfToken)
	}

	body, err := c.tr.Do(ctx, transport.Request{
		Method: "GET",
		URL:    c.realtimeURL(),
		Query:  query,
		Header: header,
	})
	if err != nil {
		if isAuthStatus(err) {
			return nil, fmt.Errorf("session expired or unauthorized: %w", ErrAuthRequired)
		}
		return nil, err
	}

	// An HTML body here is the login page: the session silently expired and
	// the portal answered 200 with a redirect target instead of JSON.
	if strings.HasPrefix(strings.TrimLeftFunc(body, unicode.IsSpace), "<") {
		return nil, fmt.Errorf("received HTML instead of JSON, probably logged out: %w", ErrAuthRequired)
	}

	var env realtimeEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, &ProtocolError{Reason: "failed to parse realtime payload", Err: err}
	}
	if env.Result != "ok" {
		return nil, &ProtocolError{Reason: "unexpected API result", Body: body}
	}
	return env.Data, nil
}

// GetStatus returns the current realtime snapshot, re-authenticating and
// retrying exactly once when the session turns out to be invalid. A second
// auth failure propagates unmodified; there is no further recovery.
func (c *Client) GetStatus(ctx context.Context) (json.RawMessage, error) {
	data, err := c.fetchRealtime(ctx)
	if errors.Is(err, ErrAuthRequired) {
		log.Ctx(ctx).InfoContext(ctx, "cached session invalid, re-authenticating")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		data, err = c.fetchRealtime(ctx)
	}
	if err != nil {
		return nil, err
	}
	c.persist(ctx)
	return data, nil
}
