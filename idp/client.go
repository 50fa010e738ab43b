// Package idp exchanges user credentials for tokens at the identity provider's
// OAuth2 token endpoint (resource owner password and refresh grants).
package idp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Grant is a token pair returned by the provider.
type Grant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int // seconds, as reported by the provider
}

// UpstreamError carries the provider's own explanation for a failed exchange.
type UpstreamError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *UpstreamError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Code != "" {
		return e.Code
	}
	return "identity provider authentication failed"
}

func (e *UpstreamError) Unwrap() error {
	return errors.ErrUpstreamAuth
}

type Client struct {
	tokenURL   string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the client used for token requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(tokenURL string, opts ...Option) *Client {
	c := &Client{
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover resolves the token endpoint from an OIDC issuer's discovery document.
func Discover(ctx context.Context, issuer string) (string, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", fmt.Errorf("issuer %s advertises no token endpoint", issuer)
	}
	return tokenURL, nil
}

func (c *Client) TokenURL() string {
	return c.tokenURL
}

// PasswordGrant exchanges a username and password for a token pair.
// Usernames without a domain get the application's login suffix.
func (c *Client) PasswordGrant(ctx context.Context, app config.Application, username, password string) (Grant, error) {
	fullUsername := QualifyUsername(username, app.LoginSuffix)
	c.logger.Debug().Str("username", fullUsername).Str("client_id", app.ClientID).Msg("password grant")

	tok, err := c.oauthConfig(app).PasswordCredentialsToken(c.context(ctx), fullUsername, password)
	if err != nil {
		return Grant{}, upstreamError(err)
	}
	return grantFromToken(tok)
}

// RefreshGrant redeems a refresh token, resending the application's scope.
func (c *Client) RefreshGrant(ctx context.Context, app config.Application, refreshToken string) (Grant, error) {
	if refreshToken == "" {
		return Grant{}, &UpstreamError{Code: "invalid_request", Description: "refresh token is required"}
	}

	refreshCtx := context.WithValue(ctx, oauth2.HTTPClient, withRefreshScope(c.httpClient, app.Scope))
	src := c.oauthConfig(app).TokenSource(refreshCtx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Grant{}, upstreamError(err)
	}
	return grantFromToken(tok)
}

// ValidateCredentials checks a username and password without keeping the tokens.
// A rejection by the provider is ErrInvalidCredentials; anything else is an upstream failure.
func (c *Client) ValidateCredentials(ctx context.Context, app config.Application, username, password string) error {
	_, err := c.PasswordGrant(ctx, app, username, password)
	if err == nil {
		return nil
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode >= 400 && upstream.StatusCode < 500 {
		return fmt.Errorf("%w: %s", errors.ErrInvalidCredentials, upstream.Error())
	}
	return err
}

func (c *Client) oauthConfig(app config.Application) *oauth2.Config {
	var scopes []string
	if app.Scope != "" {
		scopes = strings.Fields(app.Scope)
	}
	return &oauth2.Config{
		ClientID: app.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: scopes,
	}
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// QualifyUsername appends suffix to usernames that carry no domain.
func QualifyUsername(username, suffix string) string {
	if strings.Contains(username, "@") || suffix == "" {
		return username
	}
	return username + suffix
}

func grantFromToken(tok *oauth2.Token) (Grant, error) {
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return Grant{}, &UpstreamError{Description: "identity provider response is missing tokens"}
	}
	return Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn(tok),
	}, nil
}

// expiresIn prefers the raw expires_in field over the derived Expiry.
func expiresIn(tok *oauth2.Token) int {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	case interface{ Int64() (int64, error) }:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	if tok.ExpiresIn > 0 {
		return int(tok.ExpiresIn)
	}
	if !tok.Expiry.IsZero() {
		return int(time.Until(tok.Expiry).Seconds())
	}
	return 0
}

func upstreamError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ue := &UpstreamError{
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
		}
		if re.Response != nil {
			ue.StatusCode = re.Response.StatusCode
		}
		return ue
	}
	return fmt.Errorf("%w: %v", errors.ErrUpstreamAuth, err)
}
