// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/keypost/keypost/internal/model"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreatePostRequest is the body of POST /posts.
type CreatePostRequest struct {
	Title   string  `json:"title"`
	Content *string `json:"content,omitempty"`
}

// PostResponse represents a post in API responses.
type PostResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   *string   `json:"content"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostListResponse wraps the caller's posts.
type PostListResponse struct {
	Data []PostResponse `json:"data"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ToPostResponse converts a model.Post to its API form.
func ToPostResponse(post *model.Post) PostResponse {
	return PostResponse{
		ID:        post.ID,
		Title:     post.Title,
		Content:   post.Content,
		AuthorID:  post.AuthorID,
		CreatedAt: post.CreatedAt,
	}
}

// ToPostListResponse converts posts to a list response. Data is never null.
func ToPostListResponse(posts []*model.Post) PostListResponse {
	data := make([]PostResponse, 0, len(posts))
	for _, p := range posts {
		data = append(data, ToPostResponse(p))
	}
	return PostListResponse{Data: data}
}
