package chats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/auth"
)

type contextKey string

const chatContextKey contextKey = "chat"

func SetChatInContext(ctx context.Context, chat *Chat) context.Context {
	return context.WithValue(ctx, chatContextKey, chat)
}

func GetChatFromContext(ctx context.Context) *Chat {
	chat, _ := ctx.Value(chatContextKey).(*Chat)
	return chat
}

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	chat, err := h.svc.Create(r.Context(), userID, &req)
	if err != nil {
		slog.Error("creating chat", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, chat)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := DefaultListParams()
	if p := r.URL.Query().Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}

	chats, totalCount, err := h.svc.ListByUser(r.Context(), userID, params)
	if err != nil {
		slog.Error("listing chats", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, chats, totalCount, params.Page, params.PageSize)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	chat := GetChatFromContext(r.Context())
	if chat == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}
	api.JSON(w, http.StatusOK, chat)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	chat := GetChatFromContext(r.Context())
	if chat == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}

	var req UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	updated, err := h.svc.Update(r.Context(), chat, &req)
	if err != nil {
		slog.Error("updating chat", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, updated)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	chat := GetChatFromContext(r.Context())
	if chat == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}

	if err := h.svc.Delete(r.Context(), chat.ID); err != nil {
		slog.Error("deleting chat", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "chat deleted successfully")
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	chat := GetChatFromContext(r.Context())
	if chat == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}

	msgs, err := h.svc.Messages(r.Context(), chat.ID)
	if err != nil {
		slog.Error("listing messages", "chat_id", chat.ID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	api.JSON(w, http.StatusOK, msgs)
}

// OwnershipMiddleware verifies chat ownership before allowing access.
// Public chats are readable by anyone; everything else requires the owner.
func (h *Handler) OwnershipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.GetUserClaims(r.Context())
		if claims == nil {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}

		chatIDStr := chi.URLParam(r, "chatID")
		chatID, err := uuid.Parse(chatIDStr)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid chat ID"))
			return
		}

		chat, err := h.svc.GetByID(r.Context(), chatID)
		if err != nil {
			slog.Error("fetching chat for ownership check", "error", err)
			api.HandleError(w, api.ErrInternalServer)
			return
		}
		if chat == nil {
			api.HandleError(w, api.NewNotFoundError("chat not found"))
			return
		}

		if chat.UserID.String() != claims.UserID {
			readOnly := r.Method == http.MethodGet
			if !(readOnly && chat.Visibility == VisibilityPublic) {
				slog.Warn("chat access violation attempt",
					"chat_id", chatID,
					"chat_owner", chat.UserID,
					"requester", claims.UserID,
					"path", r.URL.Path,
					"method", r.Method,
				)
				api.HandleError(w, api.ErrForbidden)
				return
			}
		}

		ctx := SetChatInContext(r.Context(), chat)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
