package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/kyosol/kyosol/pkg/config"
	"github.com/kyosol/kyosol/pkg/log"
	"github.com/kyosol/kyosol/pkg/portal"
	"github.com/kyosol/kyosol/pkg/render"
	"github.com/kyosol/kyosol/pkg/transport"
	"github.com/kyosol/kyosol/pkg/types"
)

func main() {
	configPath := lflag.String("config", "kyocera.conf", "Path to the INI configuration file")
	jsonOut := lflag.Bool("json", false, "Dump raw JSON instead of a human summary")
	forceLogin := lflag.Bool("force-login", false, "Ignore cached cookies and force re-authentication")
	watch := lflag.Bool("watch", false, "Auto-refresh mode: continuously update the display")
	interval := lflag.Int("interval", 30, "Refresh interval in seconds for watch mode")
	cachePath := lflag.String("cache", "", "Session cache file (default: <user cache dir>/kyocera-solar/session.json)")

	lflag.Configure()

	// lflag wires llog's level flag; mirror it onto slog
	var level slog.Level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, creds, err := config.Load(*configPath)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	path := *cachePath
	if path == "" {
		path = defaultCachePath()
	}

	client := portal.New(cfg, creds, portal.Options{
		CachePath:    path,
		DisableCache: *forceLogin,
	})
	client.RestoreSession(ctx)

	if *watch {
		if *jsonOut {
			log.Ctx(ctx).ErrorContext(ctx, "watch mode is not compatible with --json output")
			os.Exit(1)
		}
		watchLoop(ctx, client, cfg, time.Duration(*interval)*time.Second)
		return
	}

	data, err := client.GetStatus(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch status", slog.Any("error", err))
		os.Exit(1)
	}

	if *jsonOut {
		var pretty json.RawMessage = data
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to encode payload", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}
	fmt.Println(render.Status(data, cfg))
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "kyocera-session.json"
		}
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, "kyocera-solar", "session.json")
}

// watchLoop re-renders the status every interval until the context is
// canceled. Failures are reported and counted for display; the loop itself
// never gives up.
func watchLoop(ctx context.Context, client *portal.Client, cfg types.SiteConfig, interval time.Duration) {
	failures := 0
	for {
		fmt.Print("\033[2J\033[H")

		data, err := client.GetStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			fmt.Printf("\n\033[1m\033[96m⚡ Kyocera Solar\033[0m\033[90m · Connection issue\033[0m\n\n")
			fmt.Printf("\033[91m✗ %s\033[0m\n", friendlyError(err))
			fmt.Printf("\033[90m⟳ Retrying in %s (attempt %d) · Press Ctrl+C to stop\033[0m\n", interval, failures)
		} else {
			failures = 0
			fmt.Println(render.Status(data, cfg))
			fmt.Printf("\033[90m⟳ Refreshing every %s · Press Ctrl+C to stop\033[0m\n", interval)
		}

		select {
		case <-ctx.Done():
			fmt.Println("\n\033[90mStopped.\033[0m")
			return
		case <-time.After(interval):
		}
	}
}

func friendlyError(err error) string {
	var ne *transport.NetworkError
	if errors.As(err, &ne) {
		// retryablehttp wraps the final *url.Error, so unwrap to find
		// the timeout flag
		var nerr net.Error
		if errors.As(ne.Err, &nerr) && nerr.Timeout() {
			return "Connection timed out"
		}
		return "Network connection failed"
	}
	return err.Error()
}
