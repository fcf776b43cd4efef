package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AuthMiddleware)

			r.Get("/bots", apiHandler.ListBotsHandler)
			r.Post("/bots", apiHandler.CreateBotHandler)
			r.Patch("/bots/{botName}", apiHandler.RenameBotHandler)
			r.Delete("/bots/{botName}", apiHandler.DeleteBotHandler)

			r.Get("/bots/{botName}/chat", apiHandler.GetChatHandler)
			r.Post("/bots/{botName}/chat", apiHandler.PostMessageHandler)
			r.Post("/bots/{botName}/chat/stream", apiHandler.StreamMessageHandler)
			r.Delete("/bots/{botName}/chat", apiHandler.ClearChatHandler)
		})
	})

	return r
}
