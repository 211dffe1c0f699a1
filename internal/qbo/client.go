// Package qbo is the client for the QuickBooks Online v3 REST API: bearer
// authentication with lazy token refresh, the SQL-like query endpoint used for
// duplicate lookups, and the batch endpoint used by the importer.
package qbo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL targets the Intuit sandbox; production swaps the host
	// via config.
	DefaultBaseURL = "https://sandbox-quickbooks.api.intuit.com/v3/company"

	// DefaultTokenURL is Intuit's OAuth2 token endpoint.
	DefaultTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"

	// DefaultMinorVersion is sent on every call; QBO gates response fields
	// behind it.
	DefaultMinorVersion = "75"

	// refreshWindow is how close to expiry a token may get before it is
	// refreshed ahead of the next call.
	refreshWindow = 5 * time.Minute
)

// Config carries the app credentials and endpoint settings shared by all
// per-user clients.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	MinorVersion string
	Timeout      time.Duration
	// RequestsPerSecond throttles outbound calls; QBO enforces its own
	// limits and responds 429 past them.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.MinorVersion == "" {
		c.MinorVersion = DefaultMinorVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	return c
}

// Credentials is one user's QBO connection state.
type Credentials struct {
	UserID       uuid.UUID
	RealmID      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenStore persists refreshed tokens so a restart does not lose them.
type TokenStore interface {
	SaveTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
}

// Client talks to QBO on behalf of one user. Token refresh is guarded by a
// mutex so two concurrent batches for the same user cannot race a refresh and
// invalidate each other's token pair.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  TokenStore
	limiter *rate.Limiter

	mu    sync.Mutex
	creds Credentials
}

// NewClient builds a client for one user's credentials.
func NewClient(cfg Config, creds Credentials, tokens TokenStore) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		creds:   creds,
	}
}

// RealmID returns the company realm this client addresses.
func (c *Client) RealmID() string {
	return c.creds.RealmID
}

// accessToken returns a valid bearer token, refreshing it first when it is
// missing or expires within the refresh window. Serialized per client.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.creds.AccessToken != "" && time.Until(c.creds.Expiry) > refreshWindow {
		return c.creds.AccessToken, nil
	}
	if c.creds.RefreshToken == "" {
		return "", fmt.Errorf("qbo: user %s has no refresh token", c.creds.UserID)
	}

	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.creds.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("qbo: refresh token: %w", err)
	}

	c.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.creds.RefreshToken = tok.RefreshToken
	}
	c.creds.Expiry = tok.Expiry

	if err := c.tokens.SaveTokens(ctx, c.creds.UserID, c.creds.AccessToken, c.creds.RefreshToken, c.creds.Expiry); err != nil {
		return "", fmt.Errorf("qbo: persist tokens: %w", err)
	}

	slog.Debug("qbo token refreshed", "user_id", c.creds.UserID, "expiry", c.creds.Expiry)
	return c.creds.AccessToken, nil
}

// do issues one authenticated request against the user's realm. The path is
// relative to the realm root; the minorversion parameter is appended always.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("qbo: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	url := fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.creds.RealmID, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("qbo: build request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	q.Set("minorversion", c.cfg.MinorVersion)
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qbo: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("qbo: read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// CompanyInfo is the subset of the companyinfo entity used by the connection
// test endpoint.
type CompanyInfo struct {
	CompanyName string `json:"CompanyName"`
	Country     string `json:"Country"`
}

// GetCompanyInfo fetches the connected company, verifying the credentials
// work end to end.
func (c *Client) GetCompanyInfo(ctx context.Context) (*CompanyInfo, error) {
	status, body, err := c.do(ctx, http.MethodGet, "companyinfo/"+c.creds.RealmID, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("qbo: companyinfo returned %d: %s", status, truncate(string(body), 200))
	}

	var wrapper struct {
		CompanyInfo CompanyInfo `json:"CompanyInfo"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("qbo: decode companyinfo: %w", err)
	}
	return &wrapper.CompanyInfo, nil
}

// truncate caps provider response text before it ends up in row errors or
// logs.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
