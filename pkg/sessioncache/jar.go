// Package sessioncache persists the portal session (cookie jar plus
// timestamp) across CLI invocations so a fresh process can skip logging in.
package sessioncache

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cookie is the serialized form of one jar entry. The schema must stay
// stable for backward compatibility with previously cached sessions. A
// leading dot on Domain records that the server set the domain explicitly,
// which widens matching to subdomains. Discard marks session-only cookies;
// they round-trip through the cache anyway, matching the recorded browser
// flow rather than strict cookie semantics.
type Cookie struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Domain  string `json:"domain"`
	Path    string `json:"path"`
	Secure  bool   `json:"secure"`
	Expires *int64 `json:"expires"`
	Discard bool   `json:"discard"`
}

func (c Cookie) expired(now time.Time) bool {
	return c.Expires != nil && *c.Expires <= now.Unix()
}

// Jar is an http.CookieJar whose entries can be enumerated for
// serialization, unlike net/http/cookiejar. Matching covers exactly what the
// portal needs: host/domain match, path prefix match, and the secure flag.
type Jar struct {
	mu      sync.Mutex
	entries map[string]Cookie
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	return &Jar{entries: make(map[string]Cookie)}
}

func key(c Cookie) string {
	return c.Domain + ";" + c.Path + ";" + c.Name
}

// SetCookies implements http.CookieJar. Cookies with a server-set Domain
// attribute are stored with a leading dot; cookies without one only match
// the exact request host.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	host := u.Hostname()
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}

		domain := host
		if c.Domain != "" {
			domain = "." + strings.TrimPrefix(c.Domain, ".")
		}
		path := c.Path
		if path == "" {
			path = "/"
		}

		var expires *int64
		switch {
		case c.MaxAge > 0:
			e := now.Add(time.Duration(c.MaxAge) * time.Second).Unix()
			expires = &e
		case c.MaxAge < 0:
			delete(j.entries, key(Cookie{Domain: domain, Path: path, Name: c.Name}))
			continue
		case !c.Expires.IsZero():
			e := c.Expires.Unix()
			expires = &e
		}

		entry := Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  domain,
			Path:    path,
			Secure:  c.Secure,
			Expires: expires,
			Discard: expires == nil,
		}
		if entry.expired(now) {
			delete(j.entries, key(entry))
			continue
		}
		j.entries[key(entry)] = entry
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	host := u.Hostname()
	path := u.Path
	if path == "" {
		path = "/"
	}
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	var matched []Cookie
	for k, c := range j.entries {
		if c.expired(now) {
			delete(j.entries, k)
			continue
		}
		if !domainMatch(host, c.Domain) || !pathMatch(path, c.Path) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		matched = append(matched, c)
	}

	// longest path first, like a browser would send them
	sort.Slice(matched, func(i, k int) bool {
		if len(matched[i].Path) != len(matched[k].Path) {
			return len(matched[i].Path) > len(matched[k].Path)
		}
		return matched[i].Name < matched[k].Name
	})

	out := make([]*http.Cookie, len(matched))
	for i, c := range matched {
		out[i] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}

func domainMatch(host, domain string) bool {
	if strings.HasPrefix(domain, ".") {
		return host == strings.TrimPrefix(domain, ".") || strings.HasSuffix(host, domain)
	}
	return host == domain
}

func pathMatch(requestPath, cookiePath string) bool {
	if cookiePath == "/" || requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

// Entries returns a deterministic snapshot of the jar for serialization.
func (j *Jar) Entries() []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Cookie, 0, len(j.entries))
	for _, c := range j.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool { return key(out[i]) < key(out[k]) })
	return out
}

// restore injects a cached entry directly, preserving its serialized fields.
func (j *Jar) restore(c Cookie) {
	if c.Name == "" {
		return
	}
	if c.Path == "" {
		c.Path = "/"
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[key(c)] = c
}
