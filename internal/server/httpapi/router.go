package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/gorilla/mux"
)

// NewRouter mounts the REST handlers and the websocket endpoint. The
// websocket handler authenticates on its own.
func NewRouter(h *Handlers, v Verifier, ws http.Handler, log logging.Logger) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/ws", ws).Methods(http.MethodGet)

	api := r.PathPrefix("/messages").Subrouter()
	api.Use(RequireAuth(v, log))
	api.HandleFunc("/{user_id}", h.History).Methods(http.MethodGet)
	api.HandleFunc("/{message_id}", h.DeleteMessage).Methods(http.MethodDelete)

	return r
}
