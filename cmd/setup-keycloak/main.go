// Command setup-keycloak provisions the realm, confidential client and test
// user the API expects in a local Keycloak.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/keypost/keypost/internal/idp"
)

func main() {
	var (
		keycloakURL   = flag.String("keycloak-url", envOr("KEYCLOAK_URL", "http://localhost:8080"), "Keycloak base URL")
		adminUser     = flag.String("admin-user", envOr("KEYCLOAK_ADMIN", "admin"), "Keycloak admin username")
		adminPassword = flag.String("admin-password", envOr("KEYCLOAK_ADMIN_PASSWORD", "admin"), "Keycloak admin password")
		realm         = flag.String("realm", envOr("KEYCLOAK_REALM", "murasaki-poc"), "Realm to create")
		clientID      = flag.String("client-id", envOr("KEYCLOAK_CLIENT_ID", "elysia-backend"), "Confidential client to create")
		testUser      = flag.String("test-user", "testuser", "Test username")
		testPassword  = flag.String("test-password", "password", "Test user password")
		waitAttempts  = flag.Int("wait-attempts", 60, "Readiness polls before giving up")
		waitInterval  = flag.Duration("wait-interval", 2*time.Second, "Delay between readiness polls")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	secret, err := setup(ctx, logger, setupOptions{
		KeycloakURL:   *keycloakURL,
		AdminUser:     *adminUser,
		AdminPassword: *adminPassword,
		Realm:         *realm,
		ClientID:      *clientID,
		TestUser:      *testUser,
		TestPassword:  *testPassword,
		WaitAttempts:  *waitAttempts,
		WaitInterval:  *waitInterval,
	})
	if err != nil {
		logger.Error("keycloak setup failed", "error", err)
		os.Exit(1)
	}

	// stdout carries only the secret line so it can be appended to .env.
	fmt.Printf("KEYCLOAK_CLIENT_SECRET=%s\n", secret)
	logger.Info("keycloak setup complete")
}

type setupOptions struct {
	KeycloakURL   string
	AdminUser     string
	AdminPassword string
	Realm         string
	ClientID      string
	TestUser      string
	TestPassword  string
	WaitAttempts  int
	WaitInterval  time.Duration
}

// setup is idempotent: existing realm, client and user are reused.
func setup(ctx context.Context, logger *slog.Logger, opts setupOptions) (string, error) {
	httpClient := idp.NewHTTPClient(10 * time.Second)

	logger.Info("waiting for keycloak", "url", opts.KeycloakURL)
	if err := waitReady(ctx, httpClient, opts.KeycloakURL+"/realms/master", opts.WaitAttempts, opts.WaitInterval); err != nil {
		return "", err
	}

	logger.Info("authenticating as admin", "user", opts.AdminUser)
	admin, err := loginAdmin(ctx, opts.KeycloakURL, opts.AdminUser, opts.AdminPassword, httpClient)
	if err != nil {
		return "", err
	}

	created, err := admin.ensureRealm(ctx, opts.Realm)
	if err != nil {
		return "", err
	}
	logger.Info("realm ready", "realm", opts.Realm, "created", created)

	client, err := admin.ensureClient(ctx, opts.Realm, opts.ClientID)
	if err != nil {
		return "", err
	}
	logger.Info("client ready", "client_id", opts.ClientID)

	secret, err := admin.clientSecret(ctx, opts.Realm, client.ID)
	if err != nil {
		return "", err
	}

	created, err = admin.ensureUser(ctx, opts.Realm, userRepresentation{
		Username:  opts.TestUser,
		Enabled:   true,
		Email:     opts.TestUser + "@example.com",
		FirstName: "Test",
		LastName:  "User",
		Credentials: []credentialRepresentation{
			{Type: "password", Value: opts.TestPassword, Temporary: false},
		},
	})
	if err != nil {
		return "", err
	}
	logger.Info("test user ready", "username", opts.TestUser, "created", created)

	return secret, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
