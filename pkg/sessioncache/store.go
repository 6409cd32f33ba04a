package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kyosol/kyosol/pkg/log"
)

// MaxSessionAge is how old a cached session may be before it is treated as
// absent. Stale cookies are never injected into a live jar.
const MaxSessionAge = 30 * time.Minute

// CachedSession is the on-disk cache record. Timestamp is float epoch
// seconds for compatibility with previously written cache files.
type CachedSession struct {
	Timestamp float64  `json:"timestamp"`
	Cookies   []Cookie `json:"cookies"`
}

// Store reads and writes the session cache file for a single jar.
type Store struct {
	jar    *Jar
	path   string
	maxAge time.Duration
}

// NewStore binds a store to the jar it populates and the cache file path.
func NewStore(jar *Jar, path string) *Store {
	return &Store{
		jar:    jar,
		path:   path,
		maxAge: MaxSessionAge,
	}
}

// Load reads the cache file and returns the cached session, or nil when
// there is no usable one: a missing file and an expired cache both return
// (nil, nil), while unreadable or malformed files return the reason. Load
// never touches the jar.
func (s *Store) Load() (*CachedSession, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sess CachedSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("malformed session cache: %w", err)
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	if now-sess.Timestamp > s.maxAge.Seconds() {
		return nil, nil
	}
	return &sess, nil
}

// Restore loads the cached session into the jar. It fails open: any missing,
// expired, or malformed cache leaves the jar empty and the caller proceeds
// as an unauthenticated session.
func (s *Store) Restore(ctx context.Context) {
	sess, err := s.Load()
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "failed to load cached session", slog.Any("error", err))
		return
	}
	if sess == nil {
		log.Ctx(ctx).DebugContext(ctx, "no usable cached session", slog.String("path", s.path))
		return
	}
	for _, c := range sess.Cookies {
		s.jar.restore(c)
	}
	log.Ctx(ctx).DebugContext(ctx, "loaded cookies from cache", slog.Int("count", len(sess.Cookies)))
}

// Persist writes the jar snapshot plus the current timestamp, creating
// parent directories as needed. Single-writer semantics are assumed; the CLI
// process model does not race on the cache file.
func (s *Store) Persist(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	sess := CachedSession{
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Cookies:   s.jar.Entries(),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session cache: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "persisted session cache",
		slog.String("path", s.path),
		slog.Int("cookies", len(sess.Cookies)),
	)
	return nil
}
