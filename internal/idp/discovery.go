package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover reads the provider's OpenID configuration document and returns
// the token and JWKS endpoints it advertises. The document's issuer must
// equal issuer.
func Discover(ctx context.Context, issuer string, httpClient *http.Client) (Endpoints, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return Endpoints{}, fmt.Errorf("oidc discovery: %w", err)
	}

	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return Endpoints{}, fmt.Errorf("read discovery document: %w", err)
	}

	endpoints := Endpoints{
		TokenURL: provider.Endpoint().TokenURL,
		JWKSURL:  meta.JWKSURI,
	}
	if endpoints.TokenURL == "" || endpoints.JWKSURL == "" {
		return Endpoints{}, errors.New("discovery document missing token_endpoint or jwks_uri")
	}
	return endpoints, nil
}

// ResolveEndpoints returns the provider endpoints, from discovery when
// discover is true and from the Keycloak path convention otherwise.
func ResolveEndpoints(ctx context.Context, issuer string, discover bool, httpClient *http.Client) (Endpoints, error) {
	if !discover {
		return KeycloakEndpoints(issuer), nil
	}
	return Discover(ctx, issuer, httpClient)
}
