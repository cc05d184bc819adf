package idp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestKeycloakEndpoints(t *testing.T) {
	got := KeycloakEndpoints("http://localhost:8080/realms/murasaki-poc/")
	if got.TokenURL != "http://localhost:8080/realms/murasaki-poc/protocol/openid-connect/token" {
		t.Errorf("unexpected TokenURL %q", got.TokenURL)
	}
	if got.JWKSURL != "http://localhost:8080/realms/murasaki-poc/protocol/openid-connect/certs" {
		t.Errorf("unexpected JWKSURL %q", got.JWKSURL)
	}
}

func TestLogin_Success(t *testing.T) {
	const providerBody = `{"access_token":"eyJ.abc.def","expires_in":300,"refresh_token":"r","token_type":"Bearer","not-before-policy":0}`

	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		want := map[string]string{
			"grant_type":    "password",
			"client_id":     "elysia-backend",
			"client_secret": "s3cret",
			"username":      "testuser@example.com",
			"password":      "password",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(providerBody))
	})

	c := NewClient(Config{
		TokenURL:     srv.URL,
		ClientID:     "elysia-backend",
		ClientSecret: "s3cret",
		HTTPClient:   NewHTTPClient(time.Second),
	})

	raw, err := c.Login(context.Background(), "testuser@example.com", "password")
	if err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
	if string(raw) != providerBody {
		t.Errorf("expected provider body verbatim, got %s", raw)
	}
}

func TestLogin_OmitsEmptyClientSecret(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if _, ok := r.PostForm["client_secret"]; ok {
			t.Error("client_secret should not be sent when unset")
		}
		_, _ = w.Write([]byte(`{"access_token":"x"}`))
	})

	c := NewClient(Config{TokenURL: srv.URL, ClientID: "public"})
	if _, err := c.Login(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	c := NewClient(Config{TokenURL: "http://127.0.0.1:0", ClientID: "x"})

	for _, tc := range []struct{ email, password string }{
		{"", "password"},
		{"testuser@example.com", ""},
	} {
		if _, err := c.Login(context.Background(), tc.email, tc.password); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("Login(%q, %q): expected ErrMissingCredentials, got %v", tc.email, tc.password, err)
		}
	}
}

func TestLogin_ProviderErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{
			name:        "description preferred",
			status:      http.StatusUnauthorized,
			body:        `{"error":"invalid_grant","error_description":"Invalid user credentials"}`,
			wantMessage: "Invalid user credentials",
		},
		{
			name:        "error code fallback",
			status:      http.StatusBadRequest,
			body:        `{"error":"unauthorized_client"}`,
			wantMessage: "unauthorized_client",
		},
		{
			name:        "non json body",
			status:      http.StatusBadGateway,
			body:        `<html>bad gateway</html>`,
			wantMessage: "Authentication failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			c := NewClient(Config{TokenURL: srv.URL, ClientID: "elysia-backend"})
			_, err := c.Login(context.Background(), "testuser@example.com", "wrong")

			var idpErr *Error
			if !errors.As(err, &idpErr) {
				t.Fatalf("expected *Error, got %T %v", err, err)
			}
			if idpErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", idpErr.StatusCode, tt.status)
			}
			if idpErr.Message() != tt.wantMessage {
				t.Errorf("Message() = %q, want %q", idpErr.Message(), tt.wantMessage)
			}
		})
	}
}

func TestLogin_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{TokenURL: url, ClientID: "elysia-backend", HTTPClient: NewHTTPClient(time.Second)})
	_, err := c.Login(context.Background(), "testuser@example.com", "password")

	var idpErr *Error
	if !errors.As(err, &idpErr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if idpErr.Message() != "Authentication failed" {
		t.Errorf("unexpected message %q", idpErr.Message())
	}
	if errors.Unwrap(idpErr) == nil {
		t.Error("expected wrapped network cause")
	}
}

func TestLogin_Timeout(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	c := NewClient(Config{TokenURL: srv.URL, ClientID: "elysia-backend", HTTPClient: NewHTTPClient(100 * time.Millisecond)})

	start := time.Now()
	_, err := c.Login(context.Background(), "testuser@example.com", "password")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("login took %s, expected the client timeout to bound it", elapsed)
	}
}

func TestLogin_InvalidSuccessBody(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	c := NewClient(Config{TokenURL: srv.URL, ClientID: "elysia-backend"})
	_, err := c.Login(context.Background(), "testuser@example.com", "password")

	var idpErr *Error
	if !errors.As(err, &idpErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestDiscover(t *testing.T) {
	var issuer string
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/auth",
			"token_endpoint":         issuer + "/token",
			"jwks_uri":               issuer + "/certs",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	issuer = srv.URL

	got, err := Discover(context.Background(), issuer, srv.Client())
	if err != nil {
		t.Fatalf("expected discovery to succeed, got %v", err)
	}
	if got.TokenURL != issuer+"/token" || got.JWKSURL != issuer+"/certs" {
		t.Errorf("unexpected endpoints %+v", got)
	}

	if _, err := Discover(context.Background(), issuer+"/other", srv.Client()); err == nil {
		t.Error("expected error for unknown issuer")
	}
}

func TestResolveEndpoints_Convention(t *testing.T) {
	got, err := ResolveEndpoints(context.Background(), "http://kc/realms/r", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != KeycloakEndpoints("http://kc/realms/r") {
		t.Errorf("unexpected endpoints %+v", got)
	}
}
