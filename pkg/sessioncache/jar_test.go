package sessioncache

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func cookieNames(cookies []*http.Cookie) []string {
	names := make([]string, len(cookies))
	for i, c := range cookies {
		names[i] = c.Name
	}
	return names
}

func TestJarMatching(t *testing.T) {
	t.Run("HostOnly", func(t *testing.T) {
		j := NewJar()
		j.SetCookies(mustURL(t, "https://portal.example.com/login"), []*http.Cookie{
			{Name: "_session_id", Value: "abc", Path: "/"},
		})

		assert.Len(t, j.Cookies(mustURL(t, "https://portal.example.com/realtime")), 1)
		assert.Empty(t, j.Cookies(mustURL(t, "https://sub.portal.example.com/")), "host-only cookie must not match subdomains")
		assert.Empty(t, j.Cookies(mustURL(t, "https://other.example.com/")))
	})

	t.Run("DomainCookie", func(t *testing.T) {
		j := NewJar()
		j.SetCookies(mustURL(t, "https://portal.example.com/"), []*http.Cookie{
			{Name: "tracker", Value: "1", Domain: "example.com", Path: "/"},
		})

		assert.Len(t, j.Cookies(mustURL(t, "https://portal.example.com/")), 1)
		assert.Len(t, j.Cookies(mustURL(t, "https://example.com/")), 1)
	})

	t.Run("Path", func(t *testing.T) {
		j := NewJar()
		j.SetCookies(mustURL(t, "https://x/"), []*http.Cookie{
			{Name: "scoped", Value: "1", Path: "/organizations"},
			{Name: "wide", Value: "1", Path: "/"},
		})

		assert.ElementsMatch(t, []string{"wide"}, cookieNames(j.Cookies(mustURL(t, "https://x/login"))))
		assert.ElementsMatch(t, []string{"scoped", "wide"}, cookieNames(j.Cookies(mustURL(t, "https://x/organizations/42"))))
		assert.ElementsMatch(t, []string{"wide"}, cookieNames(j.Cookies(mustURL(t, "https://x/organizationsfoo"))))
	})

	t.Run("Secure", func(t *testing.T) {
		j := NewJar()
		j.SetCookies(mustURL(t, "https://x/"), []*http.Cookie{
			{Name: "sec", Value: "1", Path: "/", Secure: true},
		})

		assert.Len(t, j.Cookies(mustURL(t, "https://x/")), 1)
		assert.Empty(t, j.Cookies(mustURL(t, "http://x/")), "secure cookie must not be sent over http")
	})

	t.Run("Expiry", func(t *testing.T) {
		j := NewJar()
		j.SetCookies(mustURL(t, "https://x/"), []*http.Cookie{
			{Name: "gone", Value: "1", Path: "/", Expires: time.Now().Add(-time.Hour)},
			{Name: "alive", Value: "1", Path: "/", Expires: time.Now().Add(time.Hour)},
		})

		assert.ElementsMatch(t, []string{"alive"}, cookieNames(j.Cookies(mustURL(t, "https://x/"))))
	})

	t.Run("MaxAgeDelete", func(t *testing.T) {
		j := NewJar()
		u := mustURL(t, "https://x/")
		j.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1", Path: "/"}})
		require.Len(t, j.Cookies(u), 1)

		j.SetCookies(u, []*http.Cookie{{Name: "a", Path: "/", MaxAge: -1}})
		assert.Empty(t, j.Cookies(u))
	})
}

func TestJarEntries(t *testing.T) {
	j := NewJar()
	j.SetCookies(mustURL(t, "https://x/"), []*http.Cookie{
		{Name: "a", Value: "1", Path: "/"},
		{Name: "b", Value: "2", Path: "/", Expires: time.Now().Add(time.Hour), Secure: true},
	})

	entries := j.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.True(t, entries[0].Discard, "cookie without expiry is session-only")
	assert.Nil(t, entries[0].Expires)
	assert.Equal(t, "b", entries[1].Name)
	assert.False(t, entries[1].Discard)
	require.NotNil(t, entries[1].Expires)
	assert.True(t, entries[1].Secure)
}
