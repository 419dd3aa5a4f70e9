package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/prodrec/internal/content"
	"github.com/kalambet/prodrec/internal/storage"
)

var validate = validator.New()

type CreateUserRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

type RatingRequest struct {
	UserID    string  `json:"user_id" validate:"required,max=128"`
	ProductID string  `json:"product_id" validate:"required,max=128"`
	Rating    float64 `json:"rating" validate:"required,gte=1,lte=5"`
	Timestamp int64   `json:"timestamp" validate:"gte=0,lte=253402300799"` // unix seconds; 0 means now
}

type ProductRequest struct {
	ProductID   string `json:"product_id" validate:"required,max=128"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type AppDeps struct {
	Store     *storage.Store
	Snapshots SnapshotSource
	Limits    Limits
}

func NewAppHandler(deps AppDeps) http.Handler {
	deps.Limits = deps.Limits.withDefaults()

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", handleStats(deps))

	r.Get("/recommendations/{userID}", handleRecommendations(deps))

	r.Post("/users", handleCreateUser(deps))
	r.Get("/users/{userID}/history", handleHistory(deps))
	r.Get("/users/{userID}/preferences", handlePreferences(deps))

	r.Post("/ratings", handleRate(deps))

	r.Post("/products", handleUpsertProduct(deps))
	r.Get("/products/{productID}", handleGetProduct(deps))
	r.Get("/products/{productID}/similar", handleSimilar(deps))

	r.Post("/snapshot/rebuild", handleRebuild(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := catalogStats(r.Context(), deps.Store, deps.Snapshots)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleRecommendations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		neighbors := parseIntParam(r, "neighbors", deps.Limits.Neighbors, maxResults)
		limit := parseIntParam(r, "limit", deps.Limits.TopN, maxResults)

		res, err := recommendFor(r.Context(), deps.Snapshots, userID, neighbors, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to recommend: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCreateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		created, err := deps.Store.AddUser(r.Context(), req.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create user: %v", err)
			return
		}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		writeJSON(w, code, map[string]any{"user_id": req.UserID, "created": created})
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		res, err := userHistory(r.Context(), deps.Store, userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no history found for user %s", userID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handlePreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		res, err := userPreferences(r.Context(), deps.Store, userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no preferences found for user %s", userID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read preferences: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RatingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		rating := storage.Rating{UserID: req.UserID, ProductID: req.ProductID, Value: req.Rating}
		if req.Timestamp > 0 {
			rating.RatedAt = time.Unix(req.Timestamp, 0).UTC()
		}
		queued, err := recordRating(r.Context(), deps.Store, rating)
		if errors.Is(err, errUnknownProduct) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save rating: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rebuild_queued": queued})
	}
}

type productResponse struct {
	ProductID     string  `json:"product_id"`
	Title         string  `json:"title"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}

func handleGetProduct(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "productID")
		p, err := deps.Store.GetProduct(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "product %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get product: %v", err)
			return
		}
		stats, err := deps.Store.ProductStats(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get product stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, productResponse{
			ProductID:     p.ID,
			Title:         p.Title,
			Category:      p.Category,
			Description:   p.Description,
			AverageRating: stats.Average,
			TotalRatings:  stats.Count,
		})
	}
}

func handleSimilar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "productID")
		limit := parseIntParam(r, "limit", deps.Limits.SimilarN, maxResults)

		res, err := similarTo(r.Context(), deps.Snapshots, id, limit)
		if errors.Is(err, content.ErrUnknownProduct) {
			httpError(w, http.StatusNotFound, "not_found", "product %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to find similar products: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleUpsertProduct(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ProductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		p := storage.Product{ID: req.ProductID, Title: req.Title, Description: req.Description, Category: req.Category}
		if err := deps.Store.UpsertProduct(r.Context(), p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save product: %v", err)
			return
		}
		queued, err := deps.Store.EnqueueJobUnlessPending(storage.JobRebuildSnapshot)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "product saved but rebuild not queued: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product_id": p.ID, "rebuild_queued": queued})
	}
}

func handleRebuild(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Snapshots.Rebuild(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rebuild failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version":  snap.Version,
			"users":    snap.Matrix.NumUsers(),
			"products": snap.Content.Len(),
			"built_at": snap.BuiltAt.Format(time.RFC3339),
		})
	}
}
