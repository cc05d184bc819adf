package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors. Every one of them means "unauthorized" to the caller;
// they are distinguished only so the cause can be logged.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrMissingKeyID     = errors.New("token header missing kid")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrMissingClaim     = errors.New("required claim missing")
	ErrMissingSubject   = errors.New("token has no subject")
	ErrInvalidSubject   = errors.New("token subject has surrounding whitespace")
)

// signingMethods are the asymmetric algorithms accepted from the identity provider.
var signingMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}

// TokenVerifier validates a raw bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Claims, error)
}

// Verifier validates tokens signed by keys from a KeySet and issued by a single trusted issuer.
type Verifier struct {
	issuer string
	keys   KeySet
	parser *jwt.Parser
}

// VerifierOption configures a Verifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	leeway time.Duration
	now    func() time.Time
}

// WithLeeway allows for clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(o *verifierOptions) {
		o.leeway = d
	}
}

// WithClock overrides the time source used for exp and nbf checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) {
		o.now = now
	}
}

// NewVerifier creates a Verifier that trusts tokens whose iss claim equals issuer exactly.
func NewVerifier(issuer string, keys KeySet, opts ...VerifierOption) *Verifier {
	o := verifierOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(o.leeway),
		jwt.WithTimeFunc(o.now),
	)

	return &Verifier{
		issuer: issuer,
		keys:   keys,
		parser: parser,
	}
}

// Issuer returns the trusted issuer.
func (v *Verifier) Issuer() string {
	return v.issuer
}

// Verify checks the token's structure, signature, issuer and validity window.
// The returned error wraps one of the package's verification errors.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return nil, ErrMalformedToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKeyID
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, classify(err)
	}

	// The subject keys the local user row, so it is used exactly as issued.
	switch {
	case strings.TrimSpace(claims.Subject) == "":
		return nil, ErrMissingSubject
	case strings.TrimSpace(claims.Subject) != claims.Subject:
		return nil, ErrInvalidSubject
	}

	return claims, nil
}

// classify maps parser errors onto the package's verification errors.
// Signature problems are reported before claim problems.
func classify(err error) error {
	var cause error
	switch {
	case errors.Is(err, ErrMissingKeyID):
		cause = ErrMissingKeyID
	case errors.Is(err, ErrUnknownKey):
		cause = ErrUnknownKey
	case errors.Is(err, ErrKeySetUnavailable):
		cause = ErrKeySetUnavailable
	case errors.Is(err, jwt.ErrTokenMalformed):
		cause = ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		cause = ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		cause = ErrInvalidIssuer
	case errors.Is(err, jwt.ErrTokenExpired):
		cause = ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		cause = ErrTokenNotYetValid
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		cause = ErrMissingClaim
	default:
		cause = ErrMalformedToken
	}
	return fmt.Errorf("%w: %v", cause, err)
}

// Reason returns a stable, log-friendly label for a verification error.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingKeyID):
		return "missing_kid"
	case errors.Is(err, ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, ErrKeySetUnavailable):
		return "key_set_unavailable"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidIssuer):
		return "invalid_issuer"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenNotYetValid):
		return "token_not_yet_valid"
	case errors.Is(err, ErrMissingClaim):
		return "missing_claim"
	case errors.Is(err, ErrMissingSubject):
		return "missing_subject"
	case errors.Is(err, ErrInvalidSubject):
		return "invalid_subject"
	default:
		return "invalid_token"
	}
}
