// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keypost/keypost/internal/auth"
	"github.com/keypost/keypost/internal/metrics"
	"github.com/keypost/keypost/internal/model"
	"github.com/keypost/keypost/internal/repository"
)

// ErrNoClaims is returned when Mirror is called without verified claims.
var ErrNoClaims = errors.New("verified claims are required")

// UserStore persists mirrored identities.
type UserStore interface {
	UpsertUserBySubject(ctx context.Context, profile repository.UserProfile) (*model.User, error)
}

// UserService keeps the local users table in step with the identity provider.
type UserService struct {
	store   UserStore
	metrics metrics.Recorder
}

// NewUserService creates a new UserService.
func NewUserService(store UserStore, recorder metrics.Recorder) *UserService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &UserService{
		store:   store,
		metrics: recorder,
	}
}

// Mirror upserts the local user for the token's subject and returns it.
//
// The provider is the source of truth for email and name: whatever the token
// carries replaces the stored values, and an absent claim clears the column.
func (s *UserService) Mirror(ctx context.Context, claims *auth.Claims) (*model.User, error) {
	if claims == nil || claims.Subject == "" {
		return nil, ErrNoClaims
	}

	user, err := s.store.UpsertUserBySubject(ctx, ProfileFromClaims(claims))
	if err != nil {
		s.metrics.IncUserMirrored(metrics.StatusError)
		return nil, fmt.Errorf("failed to mirror user: %w", err)
	}

	s.metrics.IncUserMirrored(metrics.StatusSuccess)
	return user, nil
}

// ProfileFromClaims maps verified claims to the stored profile.
// Missing or blank optional claims become nil.
func ProfileFromClaims(claims *auth.Claims) repository.UserProfile {
	return repository.UserProfile{
		Subject:   claims.Subject,
		Email:     nonBlank(claims.Email),
		FirstName: nonBlank(claims.GivenName),
		LastName:  nonBlank(claims.FamilyName),
	}
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}
