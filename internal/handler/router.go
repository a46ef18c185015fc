package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/trash2treasure/trash2treasure/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса trash2treasure.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/", h.Index)
	r.Get("/register", h.RegisterForm)
	r.Post("/register", h.Register)
	r.Get("/login", h.LoginForm)
	r.Post("/login", h.Login)

	r.Handle("/static/uploads/*", http.StripPrefix("/static/uploads/",
		http.FileServer(http.Dir(h.uploads.Dir()))))

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/logout", h.Logout)
		r.Get("/dashboard", h.Dashboard)

		r.Get("/scan", h.ScanForm)
		r.Post("/scan", h.SubmitWaste)

		r.Get("/schedule-pickup", h.ScheduleForm)
		r.Post("/schedule-pickup", h.SchedulePickup)

		r.Get("/pickup-requests", h.PickupRequests)
		r.Post("/update-pickup-status/{id}", h.UpdatePickupStatus)

		r.Get("/profile", h.Profile)
		r.Post("/update-profile", h.UpdateProfile)

		r.Get("/api/companies", h.Companies)
		r.Get("/api/user-stats", h.UserStats)
		r.Get("/api/rewards", h.Rewards)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
