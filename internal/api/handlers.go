package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatdouble/chatdouble/internal/auth"
	"github.com/chatdouble/chatdouble/internal/core"
	"github.com/chatdouble/chatdouble/internal/store"
)

type ctxKey int

const usernameKey ctxKey = iota

// UserStore is the slice of the document store the handlers need for
// signup and login.
type UserStore interface {
	CreateUser(username, passwordHash string) (*store.User, error)
	GetUser(username string) (*store.User, error)
}

type APIHandler struct {
	orchestrator *core.Orchestrator
	users        UserStore
	tokens       *auth.TokenIssuer
	logger       *slog.Logger
}

func NewAPIHandler(o *core.Orchestrator, users UserStore, tokens *auth.TokenIssuer, logger *slog.Logger) *APIHandler {
	return &APIHandler{orchestrator: o, users: users, tokens: tokens, logger: logger}
}

func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		username, err := h.tokens.Validate(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.users.GetUser(username)
		if err != nil {
			h.logger.Error("failed to load user during auth", "username", username, "error", err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, user.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) string {
	username, _ := r.Context().Value(usernameKey).(string)
	return username
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", "username", req.Username, "error", err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.users.CreateUser(req.Username, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("failed to create user", "username", req.Username, "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.users.GetUser(req.Username)
	if err != nil {
		h.logger.Error("failed to load user", "username", req.Username, "error", err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.Generate(user.Username)
	if err != nil {
		h.logger.Error("failed to generate token", "username", req.Username, "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// ListBotsHandler returns the user's bots. This is the first call a
// reloading client makes, so any turn left pending by a crash or a
// dropped stream is completed first, across all of the user's bots.
func (h *APIHandler) ListBotsHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)

	if err := h.orchestrator.ResumePending(r.Context(), username); err != nil {
		// Listing still works; the stuck turn gets another chance on
		// the next load.
		h.logger.Warn("failed to resume pending replies", "username", username, "error", err)
	}

	bots, err := h.orchestrator.Bots(username)
	if err != nil {
		h.logger.Error("failed to list bots", "username", username, "error", err)
		http.Error(w, "Failed to list bots", http.StatusInternalServerError)
		return
	}
	if bots == nil {
		bots = []store.BotSummary{}
	}
	json.NewEncoder(w).Encode(bots)
}

type CreateBotRequest struct {
	Name       string `json:"name"`
	ExportText string `json:"export_text"`
}

func (h *APIHandler) CreateBotHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)

	var req CreateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.ExportText == "" {
		http.Error(w, "Bot name and export text are required", http.StatusBadRequest)
		return
	}

	bot, err := h.orchestrator.CreateBot(r.Context(), username, req.Name, req.ExportText)
	if err != nil {
		h.writeBotError(w, username, "create bot", err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bot)
}

type RenameBotRequest struct {
	NewName string `json:"new_name"`
}

func (h *APIHandler) RenameBotHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)
	botName := chi.URLParam(r, "botName")

	var req RenameBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.NewName == "" {
		http.Error(w, "New bot name is required", http.StatusBadRequest)
		return
	}

	if err := h.orchestrator.RenameBot(username, botName, req.NewName); err != nil {
		h.writeBotError(w, username, "rename bot", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *APIHandler) DeleteBotHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)
	botName := chi.URLParam(r, "botName")

	if err := h.orchestrator.DeleteBot(username, botName); err != nil {
		h.writeBotError(w, username, "delete bot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type HistoryResponse struct {
	Turns []store.Turn `json:"turns"`
}

// GetChatHandler returns a bot's turn sequence. A turn left pending by
// a crash or an interrupted stream is completed before responding.
func (h *APIHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)
	botName := chi.URLParam(r, "botName")

	turns, err := h.orchestrator.History(r.Context(), username, botName)
	if err != nil {
		h.writeBotError(w, username, "load chat", err)
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	json.NewEncoder(w).Encode(HistoryResponse{Turns: turns})
}

type PostMessageRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)
	botName := chi.URLParam(r, "botName")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}

	turn, err := h.orchestrator.SendMessage(r.Context(), username, botName, req.Message)
	if err != nil {
		h.writeBotError(w, username, "post message", err)
		return
	}
	json.NewEncoder(w).Encode(turn)
}

// StreamMessageHandler answers a user message over Server-Sent Events:
// one "chunk" event per accumulated partial, then a final "done" event
// carrying the completed turn. Every partial is checkpointed to the
// store before it is sent, so a dropped connection loses at most the
// in-flight chunk.
func (h *APIHandler) StreamMessageHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)
	botName := chi.URLParam(r, "botName")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	onChunk := func(partial string) {
		writeSSE(w, "chunk", map[string]string{"text": partial})
		flusher.Flush()
	}

	turn, err := h.orchestrator.SendMessageStream(r.Context(), username, botName, req.Message, onChunk)
	if err != nil {
		// Headers are already committed; report the error in-band.
		writeSSE(w, "error", map[string]string{"error": userFacingError(err)})
		flusher.Flush()
		return
	}

	writeSSE(w, "done", turn)
	flusher.Flush()
}

func (h *APIHandler) ClearChatHandler(w http.ResponseWriter, r *http.Request) {
	username := requestUser(r)
	botName := chi.URLParam(r, "botName")

	if err := h.orchestrator.ClearHistory(username, botName); err != nil {
		h.writeBotError(w, username, "clear chat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// writeBotError maps the service's sentinel errors onto HTTP statuses;
// anything unexpected is logged and reported as a 500.
func (h *APIHandler) writeBotError(w http.ResponseWriter, username, op string, err error) {
	switch {
	case errors.Is(err, store.ErrBotNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrBotExists), errors.Is(err, store.ErrBotLimit), errors.Is(err, core.ErrReplyPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrEmptyCorpus):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("request failed", "op", op, "username", username, "error", err)
		http.Error(w, "Failed to "+op, http.StatusInternalServerError)
	}
}

func userFacingError(err error) string {
	switch {
	case errors.Is(err, store.ErrBotNotFound),
		errors.Is(err, core.ErrReplyPending),
		errors.Is(err, core.ErrEmptyCorpus):
		return err.Error()
	default:
		return "request failed"
	}
}
