package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// errNotFound is returned by lookups that match nothing.
var errNotFound = errors.New("not found")

// adminClient calls the Keycloak admin REST API with an admin-cli token.
type adminClient struct {
	baseURL string
	http    *http.Client
}

// realmRepresentation, clientRepresentation and userRepresentation carry the
// subset of Keycloak's admin API fields this tool sets.
type realmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

type clientRepresentation struct {
	ID                        string `json:"id,omitempty"`
	ClientID                  string `json:"clientId"`
	Enabled                   bool   `json:"enabled"`
	PublicClient              bool   `json:"publicClient"`
	DirectAccessGrantsEnabled bool   `json:"directAccessGrantsEnabled"`
	ServiceAccountsEnabled    bool   `json:"serviceAccountsEnabled"`
	StandardFlowEnabled       bool   `json:"standardFlowEnabled"`
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	ID          string                     `json:"id,omitempty"`
	Username    string                     `json:"username"`
	Enabled     bool                       `json:"enabled"`
	Email       string                     `json:"email,omitempty"`
	FirstName   string                     `json:"firstName,omitempty"`
	LastName    string                     `json:"lastName,omitempty"`
	Credentials []credentialRepresentation `json:"credentials,omitempty"`
}

// loginAdmin exchanges admin credentials on master/admin-cli and returns a
// client whose requests carry the resulting bearer token.
func loginAdmin(ctx context.Context, baseURL, username, password string, httpClient *http.Client) (*adminClient, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	conf := &oauth2.Config{
		ClientID: "admin-cli",
		Endpoint: oauth2.Endpoint{
			TokenURL:  baseURL + "/realms/master/protocol/openid-connect/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := conf.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}

	return &adminClient{
		baseURL: baseURL,
		http:    conf.Client(ctx, token),
	}, nil
}

// waitReady polls url until it answers 2xx or attempts run out.
func waitReady(ctx context.Context, httpClient *http.Client, url string, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("keycloak not ready after %d attempts: %w", attempts, lastErr)
}

// ensureRealm creates the realm. An existing realm is not an error.
func (a *adminClient) ensureRealm(ctx context.Context, realm string) (created bool, err error) {
	status, body, err := a.do(ctx, http.MethodPost, "/admin/realms", realmRepresentation{Realm: realm, Enabled: true})
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusConflict:
		return false, nil
	case status >= 300:
		return false, fmt.Errorf("create realm: status %d: %s", status, body)
	}
	return true, nil
}

// ensureClient returns the confidential client, creating it when missing.
func (a *adminClient) ensureClient(ctx context.Context, realm, clientID string) (*clientRepresentation, error) {
	client, err := a.findClient(ctx, realm, clientID)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, errNotFound) {
		return nil, err
	}

	status, body, err := a.do(ctx, http.MethodPost, "/admin/realms/"+url.PathEscape(realm)+"/clients", clientRepresentation{
		ClientID:                  clientID,
		Enabled:                   true,
		PublicClient:              false,
		DirectAccessGrantsEnabled: true,
		ServiceAccountsEnabled:    true,
		StandardFlowEnabled:       true,
	})
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("create client: status %d: %s", status, body)
	}

	return a.findClient(ctx, realm, clientID)
}

func (a *adminClient) findClient(ctx context.Context, realm, clientID string) (*clientRepresentation, error) {
	var clients []clientRepresentation
	path := "/admin/realms/" + url.PathEscape(realm) + "/clients?clientId=" + url.QueryEscape(clientID)
	if err := a.getJSON(ctx, path, &clients); err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	if len(clients) == 0 {
		return nil, errNotFound
	}
	return &clients[0], nil
}

// clientSecret reads the client's current secret.
func (a *adminClient) clientSecret(ctx context.Context, realm, id string) (string, error) {
	var secret struct {
		Value string `json:"value"`
	}
	path := "/admin/realms/" + url.PathEscape(realm) + "/clients/" + url.PathEscape(id) + "/client-secret"
	if err := a.getJSON(ctx, path, &secret); err != nil {
		return "", fmt.Errorf("get client secret: %w", err)
	}
	if secret.Value == "" {
		return "", errors.New("get client secret: empty secret")
	}
	return secret.Value, nil
}

// ensureUser creates the user with a permanent password unless the username exists.
func (a *adminClient) ensureUser(ctx context.Context, realm string, user userRepresentation) (created bool, err error) {
	var existing []userRepresentation
	path := "/admin/realms/" + url.PathEscape(realm) + "/users?exact=true&username=" + url.QueryEscape(user.Username)
	if err := a.getJSON(ctx, path, &existing); err != nil {
		return false, fmt.Errorf("find user: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	status, body, err := a.do(ctx, http.MethodPost, "/admin/realms/"+url.PathEscape(realm)+"/users", user)
	if err != nil {
		return false, err
	}
	if status >= 300 {
		return false, fmt.Errorf("create user: status %d: %s", status, body)
	}
	return true, nil
}

func (a *adminClient) getJSON(ctx context.Context, path string, dst any) error {
	status, body, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("status %d: %s", status, body)
	}
	return json.Unmarshal(body, dst)
}

func (a *adminClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, body, nil
}
