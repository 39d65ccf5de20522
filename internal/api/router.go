package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/vdavid/yesmail/internal/auth"
)

// RouterDeps holds everything NewRouter wires into routes.
type RouterDeps struct {
	Tokens          auth.TokenValidator
	AuthHandler     *AuthHandler
	MessagesHandler *MessagesHandler
	MailboxHandler  *MailboxHandler
	SendHandler     *SendHandler
	WSHandler       *WebSocketHandler
}

// NewRouter mounts the API under /api/v1.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/refresh", deps.AuthHandler.Refresh)

		// Authenticates itself from the query string.
		r.Get("/ws", deps.WSHandler.Handle)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(deps.Tokens))

			r.Get("/messages/inbox", deps.MessagesHandler.Inbox)
			r.Get("/messages/sent", deps.MessagesHandler.Sent)
			r.Get("/messages/{id}", deps.MessagesHandler.Get)
			r.Post("/messages/{id}/read", deps.MessagesHandler.MarkRead)
			r.Delete("/messages/{id}", deps.MessagesHandler.Delete)
			r.Post("/messages/{id}/attachments", deps.MessagesHandler.Upload)
			r.Get("/attachments/{id}/download", deps.MessagesHandler.Download)

			r.Post("/mailbox/bind", deps.MailboxHandler.Bind)
			r.Delete("/mailbox/bind", deps.MailboxHandler.Unbind)
			r.Get("/mailbox/fetch", deps.MailboxHandler.Fetch)

			r.Post("/send", deps.SendHandler.Send)
			r.Post("/send/bound", deps.SendHandler.SendBound)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
