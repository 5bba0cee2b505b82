package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/velorapos/backend/internal/repository"
)

// Middleware is an HTTP middleware function
type Middleware = func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router.
// Public: register, login, password reset, email verification completion.
// Protected: everything touching an existing session or profile.
// Admin: account unlock.
func RegisterRoutes(r chi.Router, handler *AuthHandler, authenticate Middleware, requireRole func(...string) Middleware) {
	r.Route("/auth", func(r chi.Router) {
		// Public routes (no authentication required)
		r.Post("/register", handler.Register)
		r.Post("/login", handler.Login)
		r.Post("/password-reset/request", handler.RequestPasswordReset)
		r.Post("/password-reset/complete", handler.CompletePasswordReset)
		r.Post("/verify-email/complete", handler.CompleteEmailVerification)

		// Protected routes (authentication required)
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/logout", handler.Logout)
			r.Post("/refresh", handler.Refresh)
			r.Post("/verify-email/request", handler.RequestEmailVerification)
			r.Get("/me", handler.GetMe)
			r.Get("/sessions", handler.ListSessions)
			r.Delete("/sessions/{sessionID}", handler.RevokeSession)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(requireRole(repository.RoleAdmin))
				r.Post("/users/{userID}/unlock", handler.UnlockUser)
			})
		})
	})
}
