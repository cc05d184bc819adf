// Package idp talks to the external OpenID Connect identity provider.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the total request timeout used when none is configured.
	DefaultTimeout = 5 * time.Second
	// maxResponseSize caps how much of a provider response is read.
	maxResponseSize = 1 << 20
	// defaultErrorMessage is reported when the provider gives no description.
	defaultErrorMessage = "Authentication failed"
)

// ErrMissingCredentials is returned when email or password is empty.
var ErrMissingCredentials = errors.New("email and password are required")

// Error is a failed login. Message is safe to show to the caller.
type Error struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	return e.Message()
}

// Message returns the provider's error_description, else its error code,
// else a generic failure message.
func (e *Error) Message() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	default:
		return defaultErrorMessage
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Endpoints are the provider URLs this service calls.
type Endpoints struct {
	TokenURL string
	JWKSURL  string
}

// KeycloakEndpoints derives the token and certs endpoints from a Keycloak realm issuer URL.
func KeycloakEndpoints(issuer string) Endpoints {
	issuer = strings.TrimRight(issuer, "/")
	return Endpoints{
		TokenURL: issuer + "/protocol/openid-connect/token",
		JWKSURL:  issuer + "/protocol/openid-connect/certs",
	}
}

// NewHTTPClient creates an HTTP client for provider calls.
// Every phase of the request is bounded by timeout; redirects are not followed.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Config configures a Client.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// Client performs resource-owner password logins against the provider's token endpoint.
type Client struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates a new Client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}
}

// TokenURL returns the token endpoint the client posts to.
func (c *Client) TokenURL() string {
	return c.tokenURL
}

// Login exchanges email and password for tokens using the password grant.
// On success the provider's JSON response is returned unmodified.
// Failures are reported as *Error.
func (c *Client) Login(ctx context.Context, email, password string) (json.RawMessage, error) {
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	form.Set("username", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("token request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, body)
	}

	if !json.Valid(body) {
		return nil, &Error{StatusCode: resp.StatusCode, Err: errors.New("token response is not valid JSON")}
	}

	return json.RawMessage(body), nil
}

func parseError(status int, body []byte) *Error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	e := &Error{
		StatusCode: status,
		Err:        fmt.Errorf("token endpoint returned status %d", status),
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Code = payload.Error
		e.Description = payload.ErrorDescription
	}
	return e
}
