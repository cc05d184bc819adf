package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/keypost/keypost/internal/metrics"
	"github.com/keypost/keypost/internal/model"
	"github.com/oklog/ulid/v2"
)

// Post validation errors.
var (
	ErrTitleRequired  = errors.New("title is required")
	ErrTitleTooLong   = errors.New("title too long")
	ErrContentTooLong = errors.New("content too long")
	ErrAuthorRequired = errors.New("author is required")
)

const (
	maxTitleLength   = 255
	maxContentLength = 10000
)

// PostStore persists posts.
type PostStore interface {
	CreatePost(ctx context.Context, post *model.Post) error
	ListPostsByAuthor(ctx context.Context, authorID string, limit int) ([]*model.Post, error)
}

// PostService handles post business logic.
type PostService struct {
	store   PostStore
	metrics metrics.Recorder
	now     func() time.Time
}

// NewPostService creates a new PostService.
func NewPostService(store PostStore, recorder metrics.Recorder) *PostService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &PostService{
		store:   store,
		metrics: recorder,
		now:     time.Now,
	}
}

// CreatePostInput defines input for creating a post.
type CreatePostInput struct {
	Title    string
	Content  *string
	AuthorID string
}

// CreatePost validates input and stores a new post owned by input.AuthorID.
func (s *PostService) CreatePost(ctx context.Context, input CreatePostInput) (*model.Post, error) {
	if err := validatePostInput(input); err != nil {
		return nil, err
	}

	post := &model.Post{
		ID:        ulid.Make().String(),
		Title:     strings.TrimSpace(input.Title),
		Content:   input.Content,
		AuthorID:  input.AuthorID,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	s.metrics.IncPostCreated()

	return post, nil
}

// ListPosts returns the author's posts, newest first.
func (s *PostService) ListPosts(ctx context.Context, authorID string, limit int) ([]*model.Post, error) {
	if authorID == "" {
		return nil, ErrAuthorRequired
	}

	posts, err := s.store.ListPostsByAuthor(ctx, authorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	if posts == nil {
		posts = []*model.Post{}
	}
	return posts, nil
}

func validatePostInput(input CreatePostInput) error {
	if input.AuthorID == "" {
		return ErrAuthorRequired
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return ErrTitleRequired
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return ErrTitleTooLong
	}
	if input.Content != nil && utf8.RuneCountInString(*input.Content) > maxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// IsValidationError reports whether err is caused by bad client input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTitleRequired) ||
		errors.Is(err, ErrTitleTooLong) ||
		errors.Is(err, ErrContentTooLong)
}
