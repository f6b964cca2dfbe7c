package http

import (
	"net/http"

	"wachat/internal/config"

	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	Http           *HttpHandler
	Auth           *AuthHandler
	User           *UserHandler
	Invitation     *InvitationHandler
	AuthMiddleware *AuthMiddleware
	// Websocket is mounted at /ws when real-time messaging is enabled.
	Websocket http.Handler
}

func MapHttpRoutes(r chi.Router, h Handlers, features config.Features) {
	r.Get("/health", h.Http.Health)

	if features.RealTimeMessaging && h.Websocket != nil {
		r.Handle("/ws", h.Websocket)
	}

	// Message feed (public, identity checked when a token is supplied)
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware.Identify)
		r.Post("/sendMessage", h.Http.SendMessage)
		r.Get("/getMessages", h.Http.GetMessages)
	})

	if features.Authentication {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/otp", h.Auth.RequestOTP)
			r.Post("/signup", h.Auth.SignUp)
			r.Post("/verify", h.Auth.VerifyOTP)
		})
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware.Authenticate)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.User.List)
			r.Get("/search", h.User.Search)
			r.Get("/by-phone", h.User.GetByPhone)
			r.Get("/username-available", h.User.UsernameAvailable)
			r.Get("/me", h.User.Me)
			r.Put("/me", h.User.UpdateProfile)
			if features.FileUpload {
				r.Post("/me/photo", h.User.UploadPhoto)
			}
			r.Get("/{id}", h.User.Get)
		})

		r.Route("/invitations", func(r chi.Router) {
			r.Post("/", h.Invitation.Invite)
			r.Get("/pending", h.Invitation.Pending)
			r.Post("/{id}/accept", h.Invitation.Accept)
			r.Post("/{id}/decline", h.Invitation.Decline)
		})

		r.Get("/rooms", h.Invitation.Rooms)
	})
}
