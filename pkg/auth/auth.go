// Package auth resolves source API credentials into request headers.
// The executor pulls headers per attempt through the HeaderProvider
// contract, so token refresh stays transparent to the sync loop.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
)

// Provider resolves authentication headers for source requests
type Provider struct {
	mode        string
	static      map[string]string
	tokenSource oauth2.TokenSource
}

// NewProvider builds a provider from validated auth configuration
func NewProvider(ctx context.Context, cfg config.AuthConfig) (*Provider, error) {
	switch cfg.Type {
	case "none", "":
		return &Provider{mode: "none"}, nil
	case "api_key":
		return &Provider{
			mode:   cfg.Type,
			static: map[string]string{cfg.APIKeyHeader: cfg.APIKey},
		}, nil
	case "bearer":
		return &Provider{
			mode:   cfg.Type,
			static: map[string]string{"Authorization": "Bearer " + cfg.Token},
		}, nil
	case "basic":
		cred := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		return &Provider{
			mode:   cfg.Type,
			static: map[string]string{"Authorization": "Basic " + cred},
		}, nil
	case "oauth2":
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// TokenSource caches and refreshes the token across pages
		return &Provider{
			mode:        cfg.Type,
			tokenSource: cc.TokenSource(ctx),
		}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown auth type %q", cfg.Type)
	}
}

// Headers implements httpx.HeaderProvider
func (p *Provider) Headers(ctx context.Context) (map[string]string, error) {
	if p.tokenSource == nil {
		return p.static, nil
	}

	token, err := p.tokenSource.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain OAuth2 token")
	}

	return map[string]string{
		"Authorization": fmt.Sprintf("%s %s", token.Type(), token.AccessToken),
	}, nil
}

// Mode returns the configured auth mode, for logging
func (p *Provider) Mode() string {
	return p.mode
}
