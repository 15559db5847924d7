//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/hub"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/tracking"
)

type Tracker interface {
	GetHistory(ctx context.Context, orderID string) (*repository.Order, []tracking.Event, error)
	StartProgression(orderID string)
	CancelProgression(orderID string) bool
}

type Dashboard interface {
	Stats(ctx context.Context) (*repository.StatsOverview, error)
	Sales(ctx context.Context, days int) ([]*repository.SalesPoint, error)
	Users(ctx context.Context) (*repository.UserStats, error)
	Products(ctx context.Context, limit int) ([]*repository.ProductStat, error)
	Activity(ctx context.Context, limit int) ([]*repository.ActivityEntry, error)
	TriggerRefresh()
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
	IssueToken(user *repository.User) (string, error)
}

type OrderGetter interface {
	GetByID(ctx context.Context, id string) (*repository.Order, error)
}

type UserRepo interface {
	ValidateCredentials(ctx context.Context, email, password string) (*repository.User, error)
}

type Server struct {
	tracker       Tracker
	dashboard     Dashboard
	authenticator Authenticator
	orders        OrderGetter
	users         UserRepo
	wsHandler     http.Handler
	logger        *zap.Logger
	server        *http.Server
}

func New(tracker Tracker, dashboard Dashboard, authenticator Authenticator, orders OrderGetter, users UserRepo, wsHandler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		tracker:       tracker,
		dashboard:     dashboard,
		authenticator: authenticator,
		orders:        orders,
		users:         users,
		wsHandler:     wsHandler,
		logger:        logger,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server shutdown completed")
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	if s.wsHandler != nil {
		router.Handle("/ws", s.wsHandler).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/tracking/{orderID}", s.handleGetTracking).Methods(http.MethodGet)
	api.HandleFunc("/tracking/{orderID}/start", s.handleStartTracking).Methods(http.MethodPost)
	api.HandleFunc("/tracking/{orderID}/cancel", s.handleCancelTracking).Methods(http.MethodPost)
	api.HandleFunc("/tracking/{orderID}/join", s.handleJoinTracking).Methods(http.MethodPost)

	admin := api.PathPrefix("/dashboard").Subrouter()
	admin.Use(s.adminOnlyMiddleware)
	admin.HandleFunc("/stats", s.handleDashboardStats).Methods(http.MethodGet)
	admin.HandleFunc("/sales", s.handleDashboardSales).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.handleDashboardUsers).Methods(http.MethodGet)
	admin.HandleFunc("/products", s.handleDashboardProducts).Methods(http.MethodGet)
	admin.HandleFunc("/activity", s.handleDashboardActivity).Methods(http.MethodGet)
	admin.HandleFunc("/refresh", s.handleDashboardRefresh).Methods(http.MethodPost)

	return router
}

type contextKey string

const identityKey contextKey = "identity"

func identityFrom(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*auth.Identity)
	return identity, ok
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		identity, err := s.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			s.logger.Error("authentication failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func (s *Server) adminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFrom(r.Context())
		if !ok || !identity.Privileged {
			respondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// authorizeOrder loads the order and checks that the caller owns it or is
// privileged. Writes the error response itself and returns nil on failure.
func (s *Server) authorizeOrder(w http.ResponseWriter, r *http.Request) *repository.Order {
	identity, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil
	}

	orderID := mux.Vars(r)["orderID"]
	order, err := s.orders.GetByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			respondError(w, http.StatusNotFound, "Order not found")
			return nil
		}
		s.logger.Error("order lookup failed", zap.String("order_id", orderID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal error")
		return nil
	}

	if !identity.Privileged && order.UserID != identity.UserID {
		respondError(w, http.StatusForbidden, "Forbidden")
		return nil
	}
	return order
}

func (s *Server) handleGetTracking(w http.ResponseWriter, r *http.Request) {
	order := s.authorizeOrder(w, r)
	if order == nil {
		return
	}

	order, history, err := s.tracker.GetHistory(r.Context(), order.ID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			respondError(w, http.StatusNotFound, "Order not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order":   order,
		"history": history,
	})
}

func (s *Server) handleStartTracking(w http.ResponseWriter, r *http.Request) {
	order := s.authorizeOrder(w, r)
	if order == nil {
		return
	}

	// Fire-and-forget: the progression runs in the background, detached from
	// this request.
	s.tracker.StartProgression(order.ID)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Tracking simulation started",
		"orderId": order.ID,
	})
}

func (s *Server) handleCancelTracking(w http.ResponseWriter, r *http.Request) {
	order := s.authorizeOrder(w, r)
	if order == nil {
		return
	}

	cancelled := s.tracker.CancelProgression(order.ID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orderId":   order.ID,
		"cancelled": cancelled,
	})
}

func (s *Server) handleJoinTracking(w http.ResponseWriter, r *http.Request) {
	order := s.authorizeOrder(w, r)
	if order == nil {
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": []string{hub.OrderRoom(order.ID), hub.UserRoom(order.UserID)},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&loginRequest); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if loginRequest.Email == "" || loginRequest.Password == "" {
		respondError(w, http.StatusBadRequest, "Missing email or password")
		return
	}

	user, err := s.users.ValidateCredentials(r.Context(), loginRequest.Email, loginRequest.Password)
	if err != nil {
		if errors.Is(err, postgresql.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		s.logger.Error("credential validation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	token, err := s.authenticator.IssueToken(user)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]string{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dashboard.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDashboardSales(w http.ResponseWriter, r *http.Request) {
	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid value for 'days' parameter")
			return
		}
		days = parsed
	}

	points, err := s.dashboard.Sales(r.Context(), days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, points)
}

func (s *Server) handleDashboardUsers(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dashboard.Users(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDashboardProducts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 10)
	stats, err := s.dashboard.Products(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDashboardActivity(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	entries, err := s.dashboard.Activity(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDashboardRefresh(w http.ResponseWriter, r *http.Request) {
	s.dashboard.TriggerRefresh()
	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Refresh notification sent",
	})
}

func parseLimit(r *http.Request, fallback int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return fallback
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
