package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"polyatop/backend/internal/http/middleware"
	"polyatop/backend/internal/models"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the API on a chi router.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	cfg := h.cfg
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/auth/telegram", h.AuthTelegram)
	r.Post("/auth/admin", h.AuthAdmin)
	r.Post("/telegram/webhook", h.TelegramWebhook)
	r.Post("/payments/click/prepare", h.ClickPrepare)
	r.Post("/payments/click/complete", h.ClickComplete)
	r.Get("/venues", h.ListVenues)
	r.Get("/venues/{id}", h.GetVenue)
	r.Get("/venues/{id}/availability", h.Availability)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
		r.Get("/me", h.Me)
		r.Post("/bookings", h.CreateBooking)
		r.Get("/bookings", h.ListMyBookings)
		r.Get("/bookings/{id}", h.GetBooking)
		r.Post("/bookings/{id}/pay", h.PayBooking)
		r.Post("/bookings/{id}/cancel", h.CancelBooking)
		r.Get("/transactions", h.MyTransactions)
		r.Get("/me/favorites", h.ListFavorites)
		r.Post("/me/favorites", h.AddFavorite)
		r.Delete("/me/favorites/{venueId}", h.RemoveFavorite)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(h.repo, cfg.AdminTGIDs, models.RoleOwner, models.RoleSuperadmin))
			r.Post("/owner/venues", h.CreateVenue)
			r.Patch("/owner/venues/{id}", h.PatchVenue)
			r.Delete("/owner/venues/{id}", h.DeleteVenue)
			r.Post("/owner/venues/{id}/images/presign", h.PresignVenueImage)
			r.Delete("/owner/venues/{id}/images", h.RemoveVenueImage)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(h.repo, cfg.AdminTGIDs, models.RoleOwner, models.RoleSupport, models.RoleSuperadmin))
			r.Get("/owner/bookings", h.OwnerBookings)
			r.Get("/owner/stats/finance", h.FinanceStats)
			r.Get("/owner/stats/usage", h.UsageStats)
			r.Get("/owner/stats/customers", h.CustomerStats)
			r.Post("/admin/transactions/{id}/confirm", h.ConfirmTransaction)
			r.Post("/admin/bookings/{id}/cancel", h.AdminCancelBooking)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(h.repo, cfg.AdminTGIDs, models.RoleSuperadmin))
			r.Post("/admin/users/{id}/role", h.SetUserRole)
		})
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
