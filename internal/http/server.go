package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", handler.Health)

	r.Route("/auctions/{auctionId}", func(r chi.Router) {
		r.Get("/", handler.GetAuction)
		r.Get("/bids", handler.ListBids)
		r.Post("/bids", handler.PlaceBid)
		r.Post("/buy-now", handler.BuyNow)
		r.Put("/watch", handler.Watch)
		r.Delete("/watch", handler.Unwatch)
		r.Get("/events", handler.Events)
	})

	r.Post("/vendor/auctions", handler.CreateAuction)

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAdmin(handler.AdminKey))
		r.Post("/auctions/{auctionId}/end", handler.EndAuction)
		r.Post("/auctions/{auctionId}/cancel", handler.CancelAuction)
		r.Get("/auctions/{auctionId}/watchers", handler.ListWatchers)
	})

	r.Route("/settlement", func(r chi.Router) {
		r.Use(requireAdmin(handler.AdminKey))
		r.Put("/vendors/{vendorId}", handler.RegisterVendor)
		r.Post("/orders", handler.FinalizeOrder)
		r.Post("/refunds", handler.RecordRefund)
		r.Get("/order-vendors/{orderVendorId}", handler.GetOrderVendor)
	})

	return &Server{Router: r}
}

// Health reports ready once storage answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Auctions.Store.Ping(ctx); err != nil {
		h.Log.Warn().Err(err).Msg("health check failed")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin rejects requests without the configured X-Admin-Key. With no
// key configured the admin surface stays closed.
func requireAdmin(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusForbidden, "admin key required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id, X-Vendor-Id, X-Admin-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error             string `json:"error"`
	Retryable         bool   `json:"retryable,omitempty"`
	CurrentPriceCents *int64 `json:"currentPriceCents,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
