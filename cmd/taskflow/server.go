package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/auth"
	"github.com/darkden-lab/taskflow/internal/broker"
	"github.com/darkden-lab/taskflow/internal/config"
	"github.com/darkden-lab/taskflow/internal/db"
	"github.com/darkden-lab/taskflow/internal/docs"
	"github.com/darkden-lab/taskflow/internal/httputil"
	mw "github.com/darkden-lab/taskflow/internal/middleware"
	"github.com/darkden-lab/taskflow/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// BrokerStater reports the broker connection state. *broker.Client
// satisfies it.
type BrokerStater interface {
	State() broker.State
}

// openDatabase connects to Postgres and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*db.DB, error) {
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, db.Up); err != nil {
		database.Close()
		return nil, err
	}
	logger.Info().Msg("database ready")
	return database, nil
}

// connectBroker starts a client on dialer. It returns at once; the client
// keeps retrying in the background until Close.
func connectBroker(dialer broker.Dialer, cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) *broker.Client {
	client := broker.NewClient(dialer, broker.Options{
		ReconnectDelay: cfg.BrokerReconnectDelay,
		Prefetch:       cfg.BrokerPrefetch,
	}, logger, m)
	client.Connect()
	return client
}

// newRouter builds the routes every service shares and returns the root
// router plus a subrouter whose routes require a valid bearer token.
func newRouter(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, b BrokerStater, jwt *auth.JWTService) (root, protected *mux.Router) {
	r := mux.NewRouter()
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

	r.HandleFunc("/healthz", healthzHandler(b)).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	docs.RegisterRoutes(r)

	protected = r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(jwt))
	return r, protected
}

// healthzHandler answers 200 while the process is serving. A broker that
// is not connected only degrades the status since mutations still succeed.
func healthzHandler(b BrokerStater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := b.State()
		status := "ok"
		if state != broker.StateConnected {
			status = "degraded"
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status": status,
			"broker": state.String(),
		})
	}
}

// corsMiddleware handles preflight before routing, since mux would answer
// OPTIONS with 405.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && origins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           ":" + port,
		Handler:        handler,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
