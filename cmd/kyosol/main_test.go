package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kyosol/kyosol/pkg/transport"
)

func TestFriendlyError(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		// shaped like retryablehttp's final error: a wrapper around the
		// last attempt's *url.Error
		inner := fmt.Errorf("GET https://example.com giving up after 3 attempt(s): %w",
			&url.Error{Op: "Get", URL: "https://example.com", Err: context.DeadlineExceeded})
		err := &transport.NetworkError{Attempts: 3, Err: inner}
		assert.Equal(t, "Connection timed out", friendlyError(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		inner := fmt.Errorf("GET https://example.com giving up after 3 attempt(s): %w",
			&url.Error{Op: "Get", URL: "https://example.com", Err: errors.New("connection refused")})
		err := &transport.NetworkError{Attempts: 3, Err: inner}
		assert.Equal(t, "Network connection failed", friendlyError(err))
	})

	t.Run("other errors pass through", func(t *testing.T) {
		assert.Equal(t, "login failed", friendlyError(errors.New("login failed")))
	})
}
