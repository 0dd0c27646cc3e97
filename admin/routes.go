package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the admin-ajax endpoints using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	mux.Handle("/", NewRouter(handlers))
	log.Info().Msg("Admin endpoints enabled at /admin-ajax.php and /ajax/{action}")
}

// NewRouter builds the chi router serving every admin action
func NewRouter(handlers *AdminHandlers) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Post("/admin-ajax.php", handlers.handleAction)
		r.Post("/ajax/{action}", handlers.handleAction)
		r.Post("/nonce", handlers.handleNonce)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
