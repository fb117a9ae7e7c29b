package auth

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync-io/flowsync/pkg/config"
)

func TestProviderHeaders(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		p, err := NewProvider(ctx, config.AuthConfig{Type: "none"})
		require.NoError(t, err)
		headers, err := p.Headers(ctx)
		require.NoError(t, err)
		assert.Empty(t, headers)
	})

	t.Run("api_key", func(t *testing.T) {
		p, err := NewProvider(ctx, config.AuthConfig{
			Type:         "api_key",
			APIKey:       "k-123",
			APIKeyHeader: "X-Api-Key",
		})
		require.NoError(t, err)
		headers, err := p.Headers(ctx)
		require.NoError(t, err)
		assert.Equal(t, "k-123", headers["X-Api-Key"])
	})

	t.Run("bearer", func(t *testing.T) {
		p, err := NewProvider(ctx, config.AuthConfig{Type: "bearer", Token: "tok"})
		require.NoError(t, err)
		headers, err := p.Headers(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok", headers["Authorization"])
	})

	t.Run("basic", func(t *testing.T) {
		p, err := NewProvider(ctx, config.AuthConfig{Type: "basic", Username: "u", Password: "p"})
		require.NoError(t, err)
		headers, err := p.Headers(ctx)
		require.NoError(t, err)
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
		assert.Equal(t, want, headers["Authorization"])
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewProvider(ctx, config.AuthConfig{Type: "kerberos"})
		assert.Error(t, err)
	})
}

func TestProviderMode(t *testing.T) {
	p, err := NewProvider(context.Background(), config.AuthConfig{Type: "bearer", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", p.Mode())
}
