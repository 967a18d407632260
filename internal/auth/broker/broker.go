// Package broker owns the OAuth token lifecycle for one account:
// acquisition, refresh-before-expiry, rotation persistence, and
// authenticated request execution.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/util"
	"golang.org/x/oauth2"
)

const (
	// RefreshBuffer is how early a token refreshes before expiration.
	RefreshBuffer = 60 * time.Second

	defaultHTTPTimeout   = 30 * time.Second
	defaultRetryAttempts = 2
	defaultRetryBase     = 500 * time.Millisecond
)

// ProviderSpec describes how one connector type talks to its OAuth
// provider. A single generic broker is parameterized by this — there is
// no per-provider broker type.
type ProviderSpec struct {
	// TokenURL is the static token endpoint. Ignored when
	// TokenURLResolver is set.
	TokenURL string

	// TokenURLResolver derives a per-account endpoint, e.g. a
	// tenant-specific subdomain.
	TokenURLResolver func(cfg *accounts.Config) string

	// AuthStyle selects how client credentials travel: in the form body
	// (oauth2.AuthStyleInParams) or as an HTTP Basic header
	// (oauth2.AuthStyleInHeader).
	AuthStyle oauth2.AuthStyle

	// ExtraRefreshParams are provider-specific additions to the refresh
	// form, e.g. a mandatory scope field.
	ExtraRefreshParams url.Values
}

// Broker produces valid bearer tokens and executes authenticated HTTP
// calls for one account. Access tokens live only in memory.
//
// Refresh is not mutually exclusive: two callers that both observe an
// expired token may both hit the token endpoint. Provider refresh is
// idempotent, so the second response simply wins.
type Broker struct {
	accountID string
	store     *accounts.Store
	spec      ProviderSpec

	httpClient    *http.Client
	retryAttempts int
	retryBase     time.Duration
	now           func() time.Time

	mu    sync.RWMutex
	token *oauth2.Token
}

// New creates a broker for one account. A spec without an explicit
// AuthStyle sends client credentials in the form body.
func New(accountID string, store *accounts.Store, spec ProviderSpec) *Broker {
	if spec.AuthStyle == oauth2.AuthStyleAutoDetect {
		spec.AuthStyle = oauth2.AuthStyleInParams
	}
	return &Broker{
		accountID:     accountID,
		store:         store,
		spec:          spec,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		retryAttempts: defaultRetryAttempts,
		retryBase:     defaultRetryBase,
		now:           time.Now,
	}
}

// AccessToken returns a bearer token valid for at least RefreshBuffer,
// refreshing first when the cached one is missing or expiring.
func (b *Broker) AccessToken(ctx context.Context) (string, error) {
	b.mu.RLock()
	token := b.token
	b.mu.RUnlock()

	if token != nil && b.now().Before(token.Expiry.Add(-RefreshBuffer)) {
		return token.AccessToken, nil
	}

	token, err := b.refresh(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// tokenResponse is the provider token endpoint reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// refresh exchanges the stored refresh token for a fresh access token,
// persisting a rotated refresh token when the provider issues one.
// Transient network failures are retried with backoff; the cached token
// state is untouched on failure.
func (b *Broker) refresh(ctx context.Context) (*oauth2.Token, error) {
	// Re-read the account each time so a rotation persisted by a
	// concurrent refresh is picked up, not overwritten.
	account, err := b.store.Get(b.accountID)
	if err != nil {
		return nil, err
	}
	cfg, err := b.store.DecodeConfig(account)
	if err != nil {
		return nil, err
	}

	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("account %s has no refresh token: %w", b.accountID, ErrAuthorizationRequired)
	}

	tokenURL := b.spec.TokenURL
	if b.spec.TokenURLResolver != nil {
		tokenURL = b.spec.TokenURLResolver(cfg)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cfg.RefreshToken)
	for key, vals := range b.spec.ExtraRefreshParams {
		for _, v := range vals {
			form.Add(key, v)
		}
	}
	if b.spec.AuthStyle == oauth2.AuthStyleInParams {
		form.Set("client_id", cfg.ClientID)
		form.Set("client_secret", cfg.ClientSecret)
	}

	var resp tokenResponse
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		if b.spec.AuthStyle == oauth2.AuthStyleInHeader {
			req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
		}

		httpResp, err := b.httpClient.Do(req)
		if err != nil {
			return &TransientNetworkError{Err: err}
		}
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)

		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			if isPermanentRefreshError(string(body)) {
				return fmt.Errorf("refresh rejected (%d) %s: %w",
					httpResp.StatusCode, util.TruncateBytes(body), ErrAuthorizationRequired)
			}
			return &ProviderError{Status: httpResp.StatusCode, Body: string(body)}
		}

		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("parsing token response: %w, body: %s", err, util.TruncateBytes(body))
		}
		return nil
	}

	if err := b.withRetry(ctx, attempt); err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		Expiry:      b.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	b.mu.Lock()
	b.token = token
	b.mu.Unlock()

	// Persist rotated refresh token if provided (RFC 6749 compliance)
	if resp.RefreshToken != "" && resp.RefreshToken != cfg.RefreshToken {
		if err := b.store.PatchRefreshToken(b.accountID, resp.RefreshToken); err != nil {
			log.Printf("⚠️ Failed to persist rotated refresh token for %s: %v", b.accountID, err)
		}
	}

	log.Printf("✅ Refreshed token for account %s (expires: %s)",
		b.accountID, token.Expiry.Format(time.RFC3339))
	return token, nil
}

// withRetry runs fn, retrying transient network failures with
// exponential backoff. Anything else fails immediately.
func (b *Broker) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= b.retryAttempts; i++ {
		if i > 0 {
			delay := b.retryBase << (i - 1)
			log.Printf("⏳ Transient failure for account %s, retrying in %s", b.accountID, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		var transient *TransientNetworkError
		if err == nil || !errors.As(err, &transient) {
			return err
		}
	}
	return err
}

// Execute injects the bearer header and performs the call. Non-2xx
// responses become *ProviderError; transport failures become
// *TransientNetworkError. The caller owns the response body on success.
func (b *Broker) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	accessToken, err := b.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
