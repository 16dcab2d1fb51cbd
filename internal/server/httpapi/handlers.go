// Package httpapi exposes the REST surface next to the websocket gateway:
// account registration and login, conversation history, message deletion
// and a health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/dmitrijs2005/safechat/internal/server/events"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/gorilla/mux"
)

// Accounts is implemented by services.UserService.
type Accounts interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, error)
}

// Messages is the part of services.ChatService used over HTTP.
type Messages interface {
	History(ctx context.Context, requesterID, peerID string, limit int) ([]*models.Message, error)
	Delete(ctx context.Context, messageID, requesterID string) error
}

// Pinger reports storage liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handlers struct {
	accounts Accounts
	messages Messages
	pinger   Pinger
	log      logging.Logger
}

func NewHandlers(a Accounts, m Messages, p Pinger, log logging.Logger) *Handlers {
	return &Handlers{accounts: a, messages: m, pinger: p, log: log.With("module", "httpapi")}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": u.ID, "username": u.UserName})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// History returns the caller's conversation with {user_id}, newest first.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	peerID := mux.Vars(r)["user_id"]

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := h.messages.History(r.Context(), userID, peerID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]events.NewMessage, 0, len(list))
	for _, m := range list {
		out = append(out, events.MessageView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out, "count": len(out)})
}

func (h *Handlers) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	messageID := mux.Vars(r)["message_id"]

	if err := h.messages.Delete(r.Context(), messageID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.PingContext(r.Context()); err != nil {
		h.log.Warn(r.Context(), "health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		status := http.StatusForbidden
		if r.URL.Path == "/auth/login" {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, common.ErrorInternal.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
