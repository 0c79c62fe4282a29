package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the routes. Every request passes panic recovery, request
// logging and session loading; /logout also requires a valid CSRF token.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(
		mux.MiddlewareFunc(NewRecoverMiddleware("traduwiki")),
		mux.MiddlewareFunc(NewLoggerMiddleware("http")),
		mux.MiddlewareFunc(NewSessionMiddleware(h.sessions)),
	)

	r.Handle("/health", NewHealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/", h.Home).Methods(http.MethodGet)
	r.HandleFunc("/login", h.Login).Methods(http.MethodGet)
	r.HandleFunc("/auth", h.BeginDefault).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}", h.Begin).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}/callback", h.Callback).Methods(http.MethodGet)
	r.Handle("/logout", h.csrf.Middleware(http.HandlerFunc(h.Logout))).Methods(http.MethodPost)
	r.Handle("/me", RequireSession(h.loginURL)(http.HandlerFunc(h.Me))).Methods(http.MethodGet)

	return r
}
