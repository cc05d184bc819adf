// Command verify-flow runs the login, create-post and unauthorized-access
// smoke checks against a running API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		apiURL   = flag.String("api-url", envOr("API_URL", "http://localhost:5556"), "Base URL of the API server")
		email    = flag.String("email", "testuser@example.com", "Login email")
		password = flag.String("password", "password", "Login password")
		timeout  = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	f := &flow{
		baseURL: strings.TrimRight(*apiURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		out:     os.Stdout,
	}
	if err := f.run(ctx, *email, *password); err != nil {
		fmt.Fprintln(os.Stderr, "verification failed:", err)
		os.Exit(1)
	}
}

type flow struct {
	baseURL string
	http    *http.Client
	out     io.Writer
}

// run executes the three checks in order and stops at the first failure.
func (f *flow) run(ctx context.Context, email, password string) error {
	fmt.Fprintln(f.out, "1. Testing login...")
	token, err := f.login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintln(f.out, "Login successful. Access token received.")

	fmt.Fprintln(f.out, "\n2. Testing create post (protected)...")
	post, err := f.createPost(ctx, token)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	fmt.Fprintf(f.out, "Post created successfully: %s\n", post)

	fmt.Fprintln(f.out, "\n3. Testing unauthorized access...")
	if err := f.unauthorized(ctx); err != nil {
		return fmt.Errorf("unauthorized access: %w", err)
	}
	fmt.Fprintln(f.out, "Unauthorized access correctly blocked (401).")

	fmt.Fprintln(f.out, "\nVerification passed!")
	return nil
}

func (f *flow) login(ctx context.Context, email, password string) (string, error) {
	status, body, err := f.post(ctx, "/auth/login", "", map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", status, body)
	}

	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return "", errors.New("response has no access_token")
	}
	return tokens.AccessToken, nil
}

func (f *flow) createPost(ctx context.Context, token string) ([]byte, error) {
	status, body, err := f.post(ctx, "/posts", token, map[string]string{
		"title":   "Hello World from Verification Script",
		"content": "This post was created via automated testing.",
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", status, body)
	}
	return body, nil
}

func (f *flow) unauthorized(ctx context.Context) error {
	status, _, err := f.post(ctx, "/posts", "", map[string]string{"title": "Should fail"})
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return fmt.Errorf("expected 401, got %d", status)
	}
	return nil
}

func (f *flow) post(ctx context.Context, path, token string, payload any) (int, []byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
