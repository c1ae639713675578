package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"passing.thoughts/internal/models"
	"passing.thoughts/internal/store"
	"passing.thoughts/internal/thoughts"
	"passing.thoughts/web"
)

// Board is what the handlers need from thoughts.Board.
type Board interface {
	Submit(ctx context.Context, text string) (models.Thought, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Thought, error)
}

type Handler struct {
	board    Board
	validate *validator.Validate
	log      *zap.Logger
	maxText  int
	now      func() time.Time
}

func NewHandler(b Board, maxText int, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		board:    b,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		maxText:  maxText,
		now:      time.Now,
	}
}

type CreateRequest struct {
	Text string `json:"text"`
}

type ThoughtResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresInMS lets clients count down without trusting their own clock.
	ExpiresInMS int64 `json:"expires_in_ms"`
}

type ListResponse struct {
	Thoughts []ThoughtResponse `json:"thoughts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListThoughts(w http.ResponseWriter, r *http.Request) {
	list, err := h.board.List(r.Context())
	if err != nil {
		h.handleBoardError(w, r, err)
		return
	}

	now := h.now()
	resp := ListResponse{Thoughts: make([]ThoughtResponse, 0, len(list))}
	for _, t := range list {
		resp.Thoughts = append(resp.Thoughts, toResponse(t, now))
	}
	h.json(w, http.StatusOK, resp)
}

func (h *Handler) CreateThought(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text := strings.TrimSpace(req.Text)
	if err := h.validate.Var(text, h.textRule()); err != nil {
		h.error(w, http.StatusBadRequest, textError(err))
		return
	}

	thought, err := h.board.Submit(r.Context(), text)
	if err != nil {
		h.handleBoardError(w, r, err)
		return
	}

	h.json(w, http.StatusCreated, toResponse(thought, h.now()))
}

func (h *Handler) RemoveThought(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.validate.Var(id, "required,max=128,printascii"); err != nil {
		h.error(w, http.StatusBadRequest, "invalid thought id")
		return
	}

	if err := h.board.Remove(r.Context(), id); err != nil {
		h.handleBoardError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "index.html")
}

func (h *Handler) serveFile(w http.ResponseWriter, filename string) {
	content, err := web.GetFile(filename)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	contentType := "text/html; charset=utf-8"
	w.Header().Set("Content-Type", contentType)
	w.Write(content)
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

func (h *Handler) handleBoardError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, thoughts.ErrEmptyText):
		h.error(w, http.StatusBadRequest, "text is required")
	case errors.Is(err, thoughts.ErrTextTooLong):
		h.error(w, http.StatusBadRequest, fmt.Sprintf("text must be at most %d characters", h.maxText))
	case errors.Is(err, thoughts.ErrStopped), errors.Is(err, store.ErrUnavailable):
		h.log.Warn("board unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		h.error(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		h.log.Error("board request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) textRule() string {
	if h.maxText > 0 {
		return fmt.Sprintf("required,max=%d", h.maxText)
	}
	return "required"
}

func textError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
		return fmt.Sprintf("text must be at most %s characters", verrs[0].Param())
	}
	return "text is required"
}

func toResponse(t models.Thought, now time.Time) ThoughtResponse {
	return ThoughtResponse{
		ID:          t.ID,
		Text:        t.Text,
		ExpiresAt:   t.ExpiresAt,
		CreatedAt:   t.CreatedAt,
		ExpiresInMS: max(t.ExpiresAt.Sub(now), 0).Milliseconds(),
	}
}
