// Package dropbox adapts the Dropbox v2 HTTP API to providers.Provider.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"golang.org/x/oauth2"
)

const (
	defaultAPIURL     = "https://api.dropboxapi.com/2"
	defaultContentURL = "https://content.dropboxapi.com/2"
)

type Config struct {
	// APIURL and ContentURL override the Dropbox hosts in tests.
	APIURL     string
	ContentURL string
	Options    providers.Options
	HTTPClient *http.Client
}

type Adapter struct {
	http       *http.Client
	apiURL     string
	contentURL string
	opts       providers.Options
}

var _ providers.Provider = (*Adapter)(nil)

func Factory(cfg Config) providers.Factory {
	return func(ctx context.Context, accessToken string) (providers.Provider, error) {
		return New(ctx, cfg, accessToken), nil
	}
}

func New(ctx context.Context, cfg Config, accessToken string) *Adapter {
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	a := &Adapter{
		http:       oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})),
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		contentURL: strings.TrimSuffix(cfg.ContentURL, "/"),
		opts:       cfg.Options.WithDefaults(),
	}
	if a.apiURL == "" {
		a.apiURL = defaultAPIURL
	}
	if a.contentURL == "" {
		a.contentURL = defaultContentURL
	}
	return a
}

func (a *Adapter) Kind() providers.Kind { return providers.Dropbox }

// apiError is the body of a Dropbox 409 endpoint error.
type apiError struct {
	Summary string `json:"error_summary"`
	Detail  struct {
		Tag           string `json:".tag"`
		CorrectOffset int64  `json:"correct_offset"`
	} `json:"error"`
}

// endpointError keeps the decoded body next to the classified error.
type endpointError struct {
	apiError
	err error
}

func (e *endpointError) Error() string { return e.err.Error() }
func (e *endpointError) Unwrap() error { return e.err }

func (e *endpointError) has(s string) bool { return strings.Contains(e.Summary, s) }

func classify(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusConflict {
		return providers.StatusError(providers.Dropbox, op, resp.StatusCode, resp.Header, nil)
	}

	var ae apiError
	_ = json.Unmarshal(body, &ae)
	cause := errors.New(ae.Summary)
	var kind error
	switch {
	case strings.Contains(ae.Summary, "not_found"):
		kind = common.ErrorNotFound
	case strings.HasPrefix(ae.Summary, "reset"):
		kind = common.ErrStaleCursor
	case strings.Contains(ae.Summary, "conflict"), strings.Contains(ae.Summary, "incorrect_offset"):
		kind = common.ErrConflict
	case strings.Contains(ae.Summary, "too_many_write_operations"):
		return &common.RateLimitError{Provider: string(providers.Dropbox), RetryAfter: time.Second}
	default:
		kind = common.ErrorInternal
	}
	return &endpointError{apiError: ae, err: common.NewProviderError("dropbox", op, kind, resp.StatusCode, cause)}
}

// rpc calls an RPC-style endpoint: JSON in, JSON out.
func (a *Adapter) rpc(ctx context.Context, op, endpoint string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(op, req, out)
}

// content calls a content-upload endpoint: arguments in the Dropbox-API-Arg
// header, raw bytes in the body.
func (a *Adapter) content(ctx context.Context, op, endpoint string, arg any, body io.Reader, size int64, out any) error {
	header, err := headerJSON(arg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.contentURL+endpoint, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", header)
	return a.do(op, req, out)
}

// headerJSON encodes v for the Dropbox-API-Arg header, which must be ASCII:
// every other rune is written as a \uXXXX escape, surrogate pairs above the
// BMP.
func headerJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, r := range string(b) {
		switch {
		case r < utf8.RuneSelf && r != 0x7f:
			sb.WriteRune(r)
		case r > 0xffff:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&sb, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(&sb, `\u%04x`, r)
		}
	}
	return sb.String(), nil
}

func (a *Adapter) do(op string, req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return providers.TransportError(providers.Dropbox, op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return classify(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return common.NewProviderError("dropbox", op, common.ErrProviderUnavailable, resp.StatusCode,
			fmt.Errorf("decode response: %w", err))
	}
	return nil
}
