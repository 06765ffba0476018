package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/auth"
	"github.com/darkden-lab/taskflow/internal/broker"
	"github.com/darkden-lab/taskflow/internal/cache"
	"github.com/darkden-lab/taskflow/internal/config"
	"github.com/darkden-lab/taskflow/internal/email"
	"github.com/darkden-lab/taskflow/internal/events"
	"github.com/darkden-lab/taskflow/internal/logging"
	"github.com/darkden-lab/taskflow/internal/metrics"
	"github.com/darkden-lab/taskflow/internal/notifications"
	"github.com/darkden-lab/taskflow/internal/tasks"
	"github.com/darkden-lab/taskflow/internal/users"
	"github.com/darkden-lab/taskflow/internal/ws"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// runTasks serves the task API until ctx is cancelled. Every mutation
// invalidates the owner's cached lists and publishes an event through a
// broker client dialled with dialer.
func runTasks(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, dialer broker.Dialer) error {
	logger = logging.Service(logger, "tasks")
	m := metrics.New()

	store, err := cache.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if rs, ok := store.(*cache.RedisStore); ok {
		if err := rs.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr()).Msg("cache unreachable, lists will be read from the database")
		}
	}

	client := connectBroker(dialer, cfg, logger, m)
	defer client.Close()

	handler := tasksHandler(cfg, logger, m, pool, store, client)
	return serve(ctx, newHTTPServer(cfg.Port, handler), logger)
}

func tasksHandler(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, pool *pgxpool.Pool, store cache.Store, client *broker.Client) http.Handler {
	listCache := cache.NewService(store, cfg.CacheTTL, logger, m)
	svc := tasks.NewService(tasks.NewPGStore(pool), listCache, events.NewPublisher(client), logger)

	root, protected := newRouter(cfg, logger, m, client, auth.NewJWTService(cfg.JWTSecret))
	tasks.NewHandlers(svc).RegisterRoutes(protected)
	return corsMiddleware(cfg.OriginList())(root)
}

// runNotifications consumes task events into notifications and serves the
// notification API and stream until ctx is cancelled.
func runNotifications(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, dialer broker.Dialer) error {
	logger = logging.Service(logger, "notifications")
	m := metrics.New()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	mailer := email.NewMailer(email.Config{
		Provider:    cfg.EmailProvider,
		SMTPHost:    cfg.SMTPHost,
		SMTPPort:    cfg.SMTPPort,
		SMTPUser:    cfg.SMTPUser,
		SMTPPass:    cfg.SMTPPass,
		SMTPFrom:    cfg.SMTPFrom,
		SendGridKey: cfg.SendGridKey,
		FromName:    cfg.NotificationFrom,
	}, logger, m)

	repo := notifications.NewPGStore(pool)
	consumer := notifications.NewConsumer(repo, logger, m,
		notifications.NewPushHook(hub),
		notifications.NewEmailHook(users.NewStore(pool), mailer, repo, cfg.EmailTrackStatus, logger),
	)

	client := connectBroker(dialer, cfg, logger, m)
	defer client.Close()
	consumer.Register(client)

	jwt := auth.NewJWTService(cfg.JWTSecret)
	root, protected := newRouter(cfg, logger, m, client, jwt)
	ws.NewHandler(hub, jwt, cfg.OriginList()).RegisterRoutes(root)
	notifications.NewHandlers(notifications.NewService(repo, logger)).RegisterRoutes(protected)

	return serve(ctx, newHTTPServer(cfg.NotificationsPort, corsMiddleware(cfg.OriginList())(root)), logger)
}
