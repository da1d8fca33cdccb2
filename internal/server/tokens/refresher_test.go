package tokens

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func refresherFor(srv *httptest.Server) *OAuth2Refresher {
	return NewOAuth2Refresher(map[providers.Kind]*oauth2.Config{
		providers.Dropbox: {
			ClientID:     "id",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
		},
	}, srv.Client())
}

func TestOAuth2Refresher_Success(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"new","token_type":"bearer","expires_in":14400}`)

	tok, err := refresherFor(srv).Refresh(context.Background(), providers.Dropbox, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken, "refresh token is kept when not rotated")
	assert.False(t, tok.Expiry.IsZero())
}

func TestOAuth2Refresher_InvalidGrant(t *testing.T) {
	srv := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"refresh token is invalid or revoked"}`)

	_, err := refresherFor(srv).Refresh(context.Background(), providers.Dropbox, "rt-1")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestOAuth2Refresher_ServerErrorIsTransient(t *testing.T) {
	srv := newTokenServer(t, http.StatusServiceUnavailable, `{"error":"temporarily_unavailable"}`)

	_, err := refresherFor(srv).Refresh(context.Background(), providers.Dropbox, "rt-1")
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidGrant)
}

func TestOAuth2Refresher_UnknownProvider(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{}`)
	_, err := refresherFor(srv).Refresh(context.Background(), providers.GoogleDrive, "rt-1")
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestProviderConfigs(t *testing.T) {
	g := GoogleConfig("id", "secret")
	assert.Contains(t, g.Scopes, "https://www.googleapis.com/auth/drive.file")
	assert.NotEmpty(t, g.Endpoint.TokenURL)
	assert.NotEmpty(t, DropboxConfig("id", "secret").Endpoint.TokenURL)
}
