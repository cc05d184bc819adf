package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/keypost/keypost/internal/auth"
	"github.com/keypost/keypost/internal/handler/dto"
	"github.com/keypost/keypost/internal/model"
	"github.com/keypost/keypost/internal/middleware"
	"github.com/keypost/keypost/internal/repository"
	"github.com/keypost/keypost/internal/service"
)

// PostUseCases are the post operations the handler depends on.
type PostUseCases interface {
	CreatePost(ctx context.Context, input service.CreatePostInput) (*model.Post, error)
	ListPosts(ctx context.Context, authorID string, limit int) ([]*model.Post, error)
}

// PostHandler handles HTTP requests for post operations.
// Both routes sit behind middleware.Authenticate.
type PostHandler struct {
	svc    PostUseCases
	logger *slog.Logger
}

// NewPostHandler creates a new PostHandler.
func NewPostHandler(svc PostUseCases, logger *slog.Logger) *PostHandler {
	return &PostHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /posts.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		// Only reachable if the route is mounted without the auth gate.
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req dto.CreatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	post, err := h.svc.CreatePost(r.Context(), service.CreatePostInput{
		Title:    req.Title,
		Content:  req.Content,
		AuthorID: user.ID,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("post_created",
		slog.String("post_id", post.ID),
		slog.String("user_id", user.ID),
		slog.Bool("has_content", post.Content != nil),
	)

	writeJSON(w, http.StatusCreated, dto.ToPostResponse(post))
}

// List handles GET /posts. It returns only the caller's posts.
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	posts, err := h.svc.ListPosts(r.Context(), user.ID, repository.DefaultPostListLimit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToPostListResponse(posts))
}

// handleServiceError maps service errors to HTTP responses. Anything that is
// not a validation error is a persistence failure and stays opaque.
func (h *PostHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case service.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("post operation failed",
			slog.String("error", err.Error()),
			slog.String("user_id", auth.UserIDFromContext(r.Context())),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, msgInternalError)
	}
}
