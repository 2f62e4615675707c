package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type StatsProvider interface {
	Stats() recovery.Stats
}

type StateStore interface {
	Cooldowns(now time.Time) ([]models.Cooldown, error)
	Trades(limit int) ([]models.TradeRecord, error)
}

type Server struct {
	stats     StatsProvider
	state     StateStore
	logger    *logrus.Logger
	port      string
	jwtSecret []byte
	now       func() time.Time
}

// NewServer builds the ops API. An empty jwtSecret disables bearer auth.
func NewServer(stats StatsProvider, state StateStore, logger *logrus.Logger, port, jwtSecret string) *Server {
	return &Server{
		stats:     stats,
		state:     state,
		logger:    logger,
		port:      port,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/api/recovery/stats", s.requireAuth(http.HandlerFunc(s.handleRecoveryStats)))
	mux.Handle("/api/cooldowns", s.requireAuth(http.HandlerFunc(s.handleCooldowns)))
	mux.Handle("/api/trades", s.requireAuth(http.HandlerFunc(s.handleTrades)))
	mux.Handle("/metrics", s.requireAuth(promhttp.Handler()))

	return corsMiddleware(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting API server on port %s", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if len(s.jwtSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			s.logger.WithError(err).Warn("Rejected API token")
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRecoveryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cooldowns, err := s.state.Cooldowns(s.now())
	if err != nil {
		s.logger.WithError(err).Error("Failed to read cooldowns")
		s.writeError(w, http.StatusInternalServerError, "failed to read cooldowns")
		return
	}
	if cooldowns == nil {
		cooldowns = []models.Cooldown{}
	}
	s.writeJSON(w, http.StatusOK, cooldowns)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	trades, err := s.state.Trades(limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read trades")
		s.writeError(w, http.StatusInternalServerError, "failed to read trades")
		return
	}
	if trades == nil {
		trades = []models.TradeRecord{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
