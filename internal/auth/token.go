// Package auth supplies the credential and endpoint of the real-time service.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"rtscribe/internal/ports"
)

const (
	DefaultTokenTTL     = time.Hour
	DefaultRefreshAhead = 30 * time.Second
)

var (
	ErrNoCredential = errors.New("no credential configured")
	ErrNoEndpoint   = errors.New("no service endpoint configured")
)

// StaticToken is a credential that never changes.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// StaticEndpoint is a fixed service base URL.
type StaticEndpoint string

func (s StaticEndpoint) Endpoint(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoEndpoint
	}
	return string(s), nil
}

type SupplierConfig struct {
	URL          string
	APIKey       string
	TTL          time.Duration
	RefreshAhead time.Duration
	HTTPClient   *http.Client
}

// TokenSupplier exchanges a long-lived API key for short-lived session
// tokens and caches them until shortly before they expire.
type TokenSupplier struct {
	cfg    SupplierConfig
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSupplier(cfg SupplierConfig, clk clock.Clock, logger zerolog.Logger) *TokenSupplier {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.RefreshAhead <= 0 {
		cfg.RefreshAhead = DefaultRefreshAhead
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TokenSupplier{cfg: cfg, clock: clk, logger: logger}
}

// NewSupplier picks the credential flow for the configured values: a fixed
// token, an API key exchanged at tokenURL, or the API key itself.
func NewSupplier(token string, apiKey string, tokenURL string, ttl time.Duration, clk clock.Clock, logger zerolog.Logger) ports.CredentialSupplier {
	switch {
	case token != "":
		return StaticToken(token)
	case apiKey != "" && tokenURL != "":
		return NewTokenSupplier(SupplierConfig{URL: tokenURL, APIKey: apiKey, TTL: ttl}, clk, logger)
	default:
		return StaticToken(apiKey)
	}
}

func (s *TokenSupplier) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.token != "" && now.Before(s.expires.Add(-s.cfg.RefreshAhead)) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = expiryOf(token, now.Add(s.cfg.TTL))
	s.logger.Debug().Time("expires", s.expires).Msg("obtained session token")
	return token, nil
}

type tokenRequest struct {
	TTL int `json:"ttl"`
}

type tokenResponse struct {
	KeyValue string `json:"key_value"`
}

func (s *TokenSupplier) fetch(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{TTL: int(s.cfg.TTL / time.Second)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if decoded.KeyValue == "" {
		return "", errors.New("token response has no key_value")
	}
	return decoded.KeyValue, nil
}

// expiryOf reads the exp claim without verifying the signature; the service
// verifies it. Opaque tokens fall back to the requested lifetime.
func expiryOf(token string, fallback time.Time) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fallback
	}
	if claims.ExpiresAt == nil {
		return fallback
	}
	return claims.ExpiresAt.Time
}
