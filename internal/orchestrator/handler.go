package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/chats"
	"github.com/parley-ai/parley/internal/entitlements"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/quota"
	"github.com/parley-ai/parley/internal/stream"
)

type Handler struct {
	orch     *Orchestrator
	validate *validator.Validate
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{
		orch:     orch,
		validate: validator.New(),
	}
}

type MessageRequest struct {
	Model string       `json:"model" validate:"required"`
	Parts []chats.Part `json:"parts" validate:"required,min=1,dive"`
}

// SendMessage accepts one user turn and streams the generation back as
// server-sent events.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	chat := chats.GetChatFromContext(r.Context())
	if claims == nil || chat == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	handle, eventCh, err := h.orch.Generate(r.Context(), &GenerateRequest{
		Chat:    chat,
		UserID:  userID,
		Plan:    entitlements.Plan(claims.Plan),
		ModelID: req.Model,
		Parts:   req.Parts,
	})
	if err != nil {
		h.writeGenerateError(w, err)
		return
	}

	sse, ok := startSSE(w)
	if !ok {
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	sse.send("stream", map[string]any{"stream_id": handle.StreamID})
	forwardEvents(r, sse, eventCh)
}

// ResumeStream rejoins the chat's most recent generation.
func (h *Handler) ResumeStream(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	chat := chats.GetChatFromContext(r.Context())
	if claims == nil || chat == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	res, err := h.orch.Resume(r.Context(), chat.ID, userID)
	if err != nil {
		slog.Error("resuming stream", "chat_id", chat.ID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	sse, ok := startSSE(w)
	if !ok {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	switch res.Kind {
	case stream.ResumeLive:
		forwardEvents(r, sse, res.Events)
	case stream.ResumeReplay:
		sse.send("message", res.Message)
		sse.send("done", nil)
	case stream.ResumeEmpty:
		sse.send("done", nil)
	}
}

// QuotaStatus reports today's usage for the authenticated user.
func (h *Handler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
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

	st, err := h.orch.QuotaStatus(r.Context(), userID, entitlements.Plan(claims.Plan))
	if err != nil {
		slog.Error("reading quota status", "user_id", userID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, st)
}

// Models lists the catalog available to the authenticated user's plan.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	models := h.orch.Models(entitlements.Plan(claims.Plan))
	if models == nil {
		models = []provider.ModelInfo{}
	}
	api.JSON(w, http.StatusOK, models)
}

func (h *Handler) writeGenerateError(w http.ResponseWriter, err error) {
	var exceeded *quota.ExceededError
	var zero *quota.ZeroQuotaError
	switch {
	case errors.As(err, &exceeded):
		writeQuotaDenied(w, &exceeded.RetryAt)
	case errors.As(err, &zero):
		writeQuotaDenied(w, nil)
	case errors.Is(err, provider.ErrUnknownModel):
		api.HandleError(w, api.ErrModelNotFound)
	case errors.Is(err, ErrModelForbidden):
		api.HandleError(w, api.ErrModelForbidden)
	default:
		slog.Error("starting generation", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

type quotaDeniedResponse struct {
	Error   string     `json:"error"`
	RetryAt *time.Time `json:"retry_at,omitempty"`
}

func writeQuotaDenied(w http.ResponseWriter, retryAt *time.Time) {
	w.Header().Set("Content-Type", "application/json")
	if retryAt != nil {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(*retryAt).Seconds())))
	}
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(quotaDeniedResponse{
		Error:   api.ErrQuotaExceeded.Message,
		RetryAt: retryAt,
	})
}

type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func startSSE(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) send(event string, data any) {
	payload := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			slog.Error("marshaling sse payload", "event", event, "error", err)
			return
		}
		payload = b
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload)
	s.f.Flush()
}

// forwardEvents relays transport events to the client until the stream
// ends or the client goes away. The generation itself is detached and
// unaffected by either.
func forwardEvents(r *http.Request, sse *sseWriter, events <-chan stream.Event) {
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			sse.send(string(ev.Type), ev)
		}
	}
}
