package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/google"
)

// ErrInvalidGrant means the provider rejected the refresh token for good.
var ErrInvalidGrant = errors.New("invalid grant")

// Refresher exchanges a refresh token for a new token.
type Refresher interface {
	Refresh(ctx context.Context, kind providers.Kind, refreshToken string) (*oauth2.Token, error)
}

// OAuth2Refresher refreshes through the standard OAuth2 token endpoint of
// each provider.
type OAuth2Refresher struct {
	configs map[providers.Kind]*oauth2.Config
	client  *http.Client
}

func NewOAuth2Refresher(configs map[providers.Kind]*oauth2.Config, client *http.Client) *OAuth2Refresher {
	return &OAuth2Refresher{configs: configs, client: client}
}

// GoogleConfig is the OAuth2 config for Drive with the drive.file scope:
// the engine only sees files it created.
func GoogleConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
	}
}

func DropboxConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.Dropbox,
	}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, kind providers.Kind, refreshToken string) (*oauth2.Token, error) {
	cfg, ok := r.configs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no oauth client for %s", common.ErrInvalidArgument, kind)
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err == nil {
		return tok, nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorDescription)
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case status == http.StatusTooManyRequests:
			return nil, &common.RateLimitError{Provider: string(kind)}
		case status >= 500:
			return nil, common.NewProviderError(string(kind), "refresh", common.ErrProviderUnavailable, status, nil)
		}
		return nil, common.NewProviderError(string(kind), "refresh", common.ErrorInternal, status, nil)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, common.NewProviderError(string(kind), "refresh", common.ErrProviderUnavailable, 0, err)
}
