package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/lesson-credits/internal/middleware"
)

// noContentOptions отвечает 204 на любой OPTIONS-запрос, не дошедший до CORS preflight.
func noContentOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Admin-Token", "X-Admin-Token-Encoded"},
	}))
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(noContentOptions)
	r.Use(custommiddleware.GzipMiddleware)

	r.Group(func(r chi.Router) {
		r.Use(h.student.Middleware)

		r.Get("/status", h.Status)
		r.Post("/register", h.Register)
		r.Post("/cancel", h.Cancel)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.admin.Middleware)

		r.Post("/addStudent", h.AddStudent)
		r.Post("/addPurchase", h.AddPurchase)
		r.Post("/setNextLesson", h.SetNextLesson)
		r.Post("/clearRegistrations", h.ClearRegistrations)
		r.Post("/extendValidity", h.ExtendValidity)
		r.Post("/cancelRegistration", h.AdminCancel)
		r.Post("/exportLedger", h.ExportLedger)
		r.Get("/backupStatus", h.BackupStatus)
		r.Get("/list", h.List)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})

	return r
}
