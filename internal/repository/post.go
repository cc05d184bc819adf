package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/keypost/keypost/internal/model"
)

// ErrUnknownAuthor is returned when a post references a user that does not exist.
var ErrUnknownAuthor = errors.New("post author does not exist")

// DefaultPostListLimit caps ListPostsByAuthor when no limit is given.
const DefaultPostListLimit = 100

// CreatePost inserts a new post. ID and CreatedAt must already be set.
func (r *Repository) CreatePost(ctx context.Context, post *model.Post) error {
	query := `
		INSERT INTO posts (id, title, content, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		post.ID,
		post.Title,
		post.Content,
		post.AuthorID,
		post.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrUnknownAuthor
		}
		return fmt.Errorf("failed to create post: %w", err)
	}

	return nil
}

// ListPostsByAuthor returns the author's posts, newest first.
func (r *Repository) ListPostsByAuthor(ctx context.Context, authorID string, limit int) ([]*model.Post, error) {
	if limit <= 0 || limit > DefaultPostListLimit {
		limit = DefaultPostListLimit
	}

	query := `
		SELECT id, title, content, author_id, created_at
		FROM posts
		WHERE author_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, authorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Post, error) {
		var p model.Post
		err := row.Scan(&p.ID, &p.Title, &p.Content, &p.AuthorID, &p.CreatedAt)
		return &p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan posts: %w", err)
	}

	return posts, nil
}
