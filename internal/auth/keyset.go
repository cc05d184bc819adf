package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
)

// Key-set errors.
var (
	ErrUnknownKey        = errors.New("signing key not found in key set")
	ErrKeySetUnavailable = errors.New("key set unavailable")
)

const (
	// defaultKeySetTimeout bounds a single JWKS fetch when no timeout is configured.
	defaultKeySetTimeout = 5 * time.Second
	// DefaultRefreshCooldown is the minimum interval between forced refreshes.
	DefaultRefreshCooldown = 30 * time.Second
)

// errRefreshCoolingDown reports a forced refresh skipped because the last one
// was too recent.
var errRefreshCoolingDown = errors.New("key set refresh cooling down")

// KeySet resolves the public key that verifies tokens signed with the given key ID.
type KeySet interface {
	Key(ctx context.Context, kid string) (any, error)
}

// RefreshObserver is notified after every forced key-set refresh.
// status is "success" or "error".
type RefreshObserver func(status string)

// StaticKeySet is a fixed, in-memory KeySet.
type StaticKeySet struct {
	keys map[string]any
}

// NewStaticKeySet returns a KeySet serving exactly the given keys.
func NewStaticKeySet(keys map[string]any) *StaticKeySet {
	copied := make(map[string]any, len(keys))
	for kid, key := range keys {
		copied[kid] = key
	}
	return &StaticKeySet{keys: copied}
}

// Key implements KeySet.
func (s *StaticKeySet) Key(_ context.Context, kid string) (any, error) {
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return key, nil
}

// RemoteKeySet fetches the identity provider's JWKS document and caches it.
// A lookup for an unknown key ID forces one refresh before giving up, which
// picks up provider key rotation without waiting for the periodic refresh.
// Forced refreshes are at least the cooldown apart; a miss inside the
// cooldown is answered from the current set.
type RemoteKeySet struct {
	url       string
	cache     *jwk.Cache
	timeout   time.Duration
	cooldown  time.Duration
	onRefresh RefreshObserver
	now       func() time.Time

	refreshGroup singleflight.Group

	mu          sync.Mutex
	registered  bool
	lastRefresh time.Time
}

// RemoteKeySetOption configures a RemoteKeySet.
type RemoteKeySetOption func(*RemoteKeySet)

// WithFetchTimeout bounds each JWKS fetch.
func WithFetchTimeout(d time.Duration) RemoteKeySetOption {
	return func(s *RemoteKeySet) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRefreshCooldown sets the minimum interval between forced refreshes.
// Zero disables the cooldown.
func WithRefreshCooldown(d time.Duration) RemoteKeySetOption {
	return func(s *RemoteKeySet) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithRefreshObserver registers a callback invoked after each forced refresh.
func WithRefreshObserver(fn RefreshObserver) RemoteKeySetOption {
	return func(s *RemoteKeySet) {
		s.onRefresh = fn
	}
}

// NewRemoteKeySet creates a key set backed by the JWKS endpoint at jwksURL.
// The endpoint is not contacted until the first lookup.
func NewRemoteKeySet(ctx context.Context, jwksURL string, httpClient *http.Client, opts ...RemoteKeySetOption) (*RemoteKeySet, error) {
	if jwksURL == "" {
		return nil, errors.New("missing JWKS URL")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	s := &RemoteKeySet{
		url:      jwksURL,
		cache:    cache,
		timeout:  defaultKeySetTimeout,
		cooldown: DefaultRefreshCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// URL returns the JWKS endpoint this key set reads from.
func (s *RemoteKeySet) URL() string {
	return s.url
}

// Key implements KeySet.
func (s *RemoteKeySet) Key(ctx context.Context, kid string) (any, error) {
	if err := s.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	if key, ok := s.cached(ctx, kid); ok {
		return exportKey(key)
	}

	set, err := s.refresh(ctx)
	if errors.Is(err, errRefreshCoolingDown) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	if err != nil {
		return nil, err
	}

	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return exportKey(key)
}

// cached looks kid up in the current cached set without forcing a fetch.
func (s *RemoteKeySet) cached(ctx context.Context, kid string) (jwk.Key, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	set, err := s.cache.Lookup(lookupCtx, s.url)
	if err != nil {
		return nil, false
	}
	return set.LookupKeyID(kid)
}

// refresh re-fetches the JWKS document. Concurrent callers share one fetch.
// It returns errRefreshCoolingDown without fetching inside the cooldown.
func (s *RemoteKeySet) refresh(ctx context.Context) (jwk.Set, error) {
	v, err, _ := s.refreshGroup.Do(s.url, func() (any, error) {
		if !s.beginRefresh() {
			return nil, errRefreshCoolingDown
		}
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.cache.Refresh(refreshCtx, s.url)
	})
	if errors.Is(err, errRefreshCoolingDown) {
		return nil, err
	}
	if err != nil {
		s.notify("error")
		return nil, fmt.Errorf("%w: refresh %s: %v", ErrKeySetUnavailable, s.url, err)
	}
	s.notify("success")
	return v.(jwk.Set), nil
}

// beginRefresh records a forced refresh attempt, failed or not, and reports
// whether the cooldown allows it.
func (s *RemoteKeySet) beginRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cooldown > 0 && !s.lastRefresh.IsZero() && now.Sub(s.lastRefresh) < s.cooldown {
		return false
	}
	s.lastRefresh = now
	return true
}

// ensureRegistered registers the JWKS URL with the cache on first use.
// A failed first fetch is retried on the next lookup.
func (s *RemoteKeySet) ensureRegistered(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}

	registerCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.cache.Register(registerCtx, s.url); err != nil {
		// The resource can stay registered even though its first fetch failed;
		// later lookups then go through Refresh.
		if s.cache.IsRegistered(ctx, s.url) {
			s.registered = true
		}
		return fmt.Errorf("%w: register %s: %v", ErrKeySetUnavailable, s.url, err)
	}

	s.registered = true
	return nil
}

func (s *RemoteKeySet) notify(status string) {
	if s.onRefresh != nil {
		s.onRefresh(status)
	}
}

func exportKey(key jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return raw, nil
}
