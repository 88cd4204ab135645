package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// refreshMargin refreshes a token this long before it expires.
	refreshMargin = time.Minute
	retryDelay    = 5 * time.Second
	defaultTTL    = 10 * time.Minute
)

// ErrNoToken is returned when the token endpoint replies without an access token.
var ErrNoToken = errors.New("token endpoint returned no access token")

// Credentials configures an OAuth client-credentials grant.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Provider keeps a system bearer token fresh in the background.
// Token returns "" until the first fetch succeeds.
type Provider struct {
	creds  Credentials
	client *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewProvider creates a provider. Call Start to begin fetching.
func NewProvider(creds Credentials) *Provider {
	return &Provider{
		creds:  creds,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Token returns the current bearer token, or "" if none is available or it has expired.
func (p *Provider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" || !p.now().Before(p.expiresAt) {
		return ""
	}
	return p.token
}

// Start refreshes the token until ctx is cancelled.
func (p *Provider) Start(ctx context.Context) {
	go func() {
		for {
			wait := retryDelay
			if err := p.Refresh(ctx); err != nil {
				slog.Warn("[Auth] Token refresh failed", "token_url", p.creds.TokenURL, "error", err)
			} else {
				wait = p.untilRefresh()
			}

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
}

func (p *Provider) untilRefresh() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d := p.expiresAt.Sub(p.now()) - refreshMargin
	if d < retryDelay {
		return retryDelay
	}
	return d
}

// Refresh fetches a new token from the token endpoint.
func (p *Provider) Refresh(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(p.creds.Scopes) > 0 {
		form.Set("scope", strings.Join(p.creds.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.creds.ClientID, p.creds.ClientSecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return ErrNoToken
	}

	expiresAt := p.expiry(body)

	p.mu.Lock()
	p.token = body.AccessToken
	p.expiresAt = expiresAt
	p.mu.Unlock()

	slog.Info("[Auth] Token refreshed", "expires_at", expiresAt)
	return nil
}

// expiry prefers expires_in, then the JWT exp claim, then a default lifetime.
func (p *Provider) expiry(body tokenResponse) time.Time {
	now := p.now()
	if body.ExpiresIn > 0 {
		return now.Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(body.AccessToken); ok {
		return exp
	}
	return now.Add(defaultTTL)
}

// jwtExpiry reads the exp claim without verifying the signature; the token is
// only forwarded, never trusted locally.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
